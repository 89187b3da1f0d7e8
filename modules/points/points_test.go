package points

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/rules"
	"github.com/GoCodeAlone/gamify/storage"
)

// Pinned instants: a Monday and a Saturday, both UTC.
var (
	monday   = time.Date(2025, 1, 6, 12, 0, 0, 0, time.UTC)
	saturday = time.Date(2025, 1, 4, 12, 0, 0, 0, time.UTC)
)

func newTestModule(t *testing.T, cfg Config) *Module {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStore(storage.MemoryConfig{})
	require.NoError(t, store.Connect(ctx))
	bus := eventbus.New(eventbus.Config{})

	m := New(cfg)
	m.SetContext(&gamify.ModuleContext{
		Storage: store,
		Bus:     bus,
		Rules:   rules.New(rules.Config{}),
		Logger:  gamify.NewSlogLogger(nil),
	})
	m.now = func() time.Time { return monday }
	require.NoError(t, m.Initialize(ctx))

	t.Cleanup(func() {
		_ = m.Shutdown(ctx)
		bus.Close()
		_ = store.Disconnect(ctx)
	})
	return m
}

// capture buffers one event name off the module's bus.
func capture(t *testing.T, m *Module, name string) <-chan eventbus.Event {
	t.Helper()
	ch := make(chan eventbus.Event, 8)
	_, err := m.mc.Bus.Subscribe(name, func(_ context.Context, event eventbus.Event) error {
		ch <- event
		return nil
	})
	require.NoError(t, err)
	return ch
}

func TestAwardBasic(t *testing.T) {
	m := newTestModule(t, Config{})
	awarded := capture(t, m, EventAwarded)
	ctx := context.Background()

	result, err := m.Award(ctx, "u1", 100, "signup")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(100), result.Points)
	assert.Equal(t, int64(100), result.Total)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, "award", result.Transaction.Type)

	total, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	select {
	case event := <-awarded:
		assert.Equal(t, "u1", event.Data["userId"])
		assert.Equal(t, int64(100), event.Data["points"])
		assert.Equal(t, "signup", event.Data["reason"])
	default:
		t.Fatal("points.awarded not emitted")
	}
}

func TestAwardValidation(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	_, err := m.Award(ctx, "", 10, "")
	assert.ErrorIs(t, err, ErrEmptyUserID)
	_, err = m.Award(ctx, "u1", 0, "")
	assert.ErrorIs(t, err, ErrInvalidPoints)
	_, err = m.Award(ctx, "u1", -5, "")
	assert.ErrorIs(t, err, ErrInvalidPoints)

	unbound := New(Config{})
	_, err = unbound.Award(ctx, "u1", 10, "")
	assert.ErrorIs(t, err, ErrNotBound)
}

func TestMultipliersCompound(t *testing.T) {
	m := newTestModule(t, Config{
		GlobalMultiplier:  2,
		WeekendMultiplier: 2,
		ReasonMultipliers: map[string]float64{"bonus": 1.5},
	})
	ctx := context.Background()

	// Monday: weekend factor must not apply. 100 * 2 * 1.5 = 300.
	result, err := m.Award(ctx, "u1", 100, "bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.Points)

	// Saturday adds the weekend factor: 100 * 2 * 1.5 * 2 = 600.
	m.now = func() time.Time { return saturday }
	result, err = m.Award(ctx, "u2", 100, "bonus")
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.Points)

	// The stored transaction keeps the pre-multiplier amount.
	require.NotNil(t, result.Transaction)
	assert.Equal(t, int64(100), result.Transaction.OriginalPoints)
	assert.Equal(t, int64(600), result.Transaction.Points)
	assert.Equal(t, float64(6), result.Transaction.Multiplier)

	history, err := m.GetTransactionHistory(ctx, "u2", 1)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, int64(100), history[0].OriginalPoints)
}

func TestUserAndEventMultipliers(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	require.NoError(t, m.SetUserMultiplier(ctx, "u1", 1.5, 0))
	require.NoError(t, m.SetEventMultiplier(ctx, 2, time.Hour))

	// 100 * 1.5 * 2 = 300; other users only see the event-wide factor.
	result, err := m.Award(ctx, "u1", 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(300), result.Points)

	result, err = m.Award(ctx, "u2", 100, "")
	require.NoError(t, err)
	assert.Equal(t, int64(200), result.Points)

	// The product floors fractional results.
	require.NoError(t, m.SetUserMultiplier(ctx, "u3", 1.25, 0))
	result, err = m.Award(ctx, "u3", 3, "")
	require.NoError(t, err)
	assert.Equal(t, int64(7), result.Points) // floor(3 * 1.25 * 2)
}

func TestSetMultiplierValidation(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	assert.Error(t, m.SetUserMultiplier(ctx, "u1", 0, 0))
	assert.Error(t, m.SetUserMultiplier(ctx, "", 2, 0))
	assert.Error(t, m.SetEventMultiplier(ctx, 2, 0)) // duration required
	assert.Error(t, m.SetEventMultiplier(ctx, -1, time.Hour))
}

func TestDailyLimitBlocksBeforeAnyWrite(t *testing.T) {
	m := newTestModule(t, Config{DailyLimit: 100})
	blocked := capture(t, m, EventAwardBlocked)
	ctx := context.Background()

	result, err := m.Award(ctx, "u1", 80, "")
	require.NoError(t, err)
	require.True(t, result.Success)

	result, err = m.Award(ctx, "u1", 80, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "daily_limit_exceeded", result.Reason)
	assert.Equal(t, PeriodDaily, result.Period)
	assert.Equal(t, int64(100), result.Limit)
	assert.Equal(t, int64(80), result.Current)

	// The blocked award left no trace: balance and usage unchanged.
	total, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), total)

	history, err := m.GetTransactionHistory(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	select {
	case event := <-blocked:
		assert.Equal(t, PeriodDaily, event.Data["period"])
	default:
		t.Fatal("points.award.blocked not emitted")
	}

	// Exactly reaching the limit is allowed.
	result, err = m.Award(ctx, "u1", 20, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
}

func TestWeeklyLimitChecked(t *testing.T) {
	m := newTestModule(t, Config{WeeklyLimit: 50})
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 40, "")
	require.NoError(t, err)
	result, err := m.Award(ctx, "u1", 20, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "weekly_limit_exceeded", result.Reason)
	assert.Equal(t, PeriodWeekly, result.Period)
}

func TestDeduct(t *testing.T) {
	m := newTestModule(t, Config{})
	deducted := capture(t, m, EventDeducted)
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 100, "")
	require.NoError(t, err)

	result, err := m.Deduct(ctx, "u1", 30, "purchase")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(70), result.Total)

	select {
	case event := <-deducted:
		assert.Equal(t, int64(30), event.Data["points"])
	default:
		t.Fatal("points.deducted not emitted")
	}

	result, err = m.Deduct(ctx, "u1", 1000, "")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "insufficient_points", result.Reason)
	assert.Equal(t, int64(70), result.Current)
	assert.Equal(t, int64(1000), result.Required)
}

func TestDeductClampsToMinimum(t *testing.T) {
	m := newTestModule(t, Config{MinimumPoints: 50})
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 70, "")
	require.NoError(t, err)

	result, err := m.Deduct(ctx, "u1", 60, "")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int64(50), result.Total)
	assert.Equal(t, int64(20), result.Transaction.Points)

	// The leaderboard follows the clamped balance.
	score, ok, err := m.mc.Storage.ZScore(context.Background(), leaderboardKey(PeriodAllTime, ""), "u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 50.0, score)
}

func TestLeaderboardTracksBalance(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 100, "")
	require.NoError(t, err)
	_, err = m.Award(ctx, "u2", 250, "")
	require.NoError(t, err)
	_, err = m.Deduct(ctx, "u2", 200, "")
	require.NoError(t, err)

	for _, userID := range []string{"u1", "u2"} {
		total, err := m.GetBalance(ctx, userID)
		require.NoError(t, err)
		score, ok, err := m.mc.Storage.ZScore(ctx, leaderboardKey(PeriodAllTime, ""), userID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, float64(total), score, "user %s", userID)
	}

	top, err := m.GetTopUsers(ctx, 10, PeriodAllTime)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "u1", top[0].Member)

	rank, ok, err := m.GetUserRank(ctx, "u2", PeriodAllTime)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(2), rank)

	_, ok, err = m.GetUserRank(ctx, "nobody", PeriodAllTime)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.GetTopUsers(ctx, 10, "decade")
	assert.Error(t, err)
}

func TestPeriodLeaderboards(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 40, "")
	require.NoError(t, err)

	for _, period := range []string{PeriodDaily, PeriodWeekly, PeriodMonthly} {
		top, err := m.GetTopUsers(ctx, 10, period)
		require.NoError(t, err)
		require.Len(t, top, 1, "period %s", period)
		assert.Equal(t, 40.0, top[0].Score)
	}
}

func TestTransactionLogBoundedNewestFirst(t *testing.T) {
	m := newTestModule(t, Config{MaxTransactions: 2})
	ctx := context.Background()

	for _, amount := range []int64{10, 20, 30} {
		_, err := m.Award(ctx, "u1", amount, "")
		require.NoError(t, err)
	}

	history, err := m.GetTransactionHistory(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(30), history[0].Points)
	assert.Equal(t, int64(20), history[1].Points)
}

func TestGetUserStats(t *testing.T) {
	m := newTestModule(t, Config{DailyLimit: 500})
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 120, "")
	require.NoError(t, err)

	stats, err := m.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(120), stats["total"])
	assert.Equal(t, int64(120), stats["daily"])
	assert.Equal(t, int64(120), stats["weekly"])
	assert.Equal(t, int64(1), stats["rank"])

	limits := stats["limits"].(map[string]any)
	daily := limits[PeriodDaily].(map[string]any)
	assert.Equal(t, int64(500), daily["limit"])
	assert.Equal(t, int64(120), daily["used"])
	assert.Equal(t, int64(380), daily["remaining"])
	assert.NotContains(t, limits, PeriodWeekly) // unconfigured limits omitted
}

func TestResetUser(t *testing.T) {
	m := newTestModule(t, Config{})
	reset := capture(t, m, EventUserReset)
	ctx := context.Background()

	_, err := m.Award(ctx, "u1", 100, "")
	require.NoError(t, err)
	_, err = m.Award(ctx, "u2", 50, "")
	require.NoError(t, err)

	require.NoError(t, m.ResetUser(ctx, "u1"))

	total, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, total)

	_, ok, err := m.GetUserRank(ctx, "u1", PeriodAllTime)
	require.NoError(t, err)
	assert.False(t, ok)

	history, err := m.GetTransactionHistory(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)

	// Other users are untouched.
	total, err = m.GetBalance(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	select {
	case event := <-reset:
		assert.Equal(t, "u1", event.Data["userId"])
	default:
		t.Fatal("points.user.reset not emitted")
	}
}

func TestResetUserWithGlobCharsInID(t *testing.T) {
	m := newTestModule(t, Config{DailyLimit: 100})
	ctx := context.Background()

	// "a*" must only reset itself, never users its id happens to glob.
	_, err := m.Award(ctx, "a*", 30, "")
	require.NoError(t, err)
	_, err = m.Award(ctx, "ab", 30, "")
	require.NoError(t, err)

	require.NoError(t, m.ResetUser(ctx, "a*"))

	stats, err := m.GetUserStats(ctx, "a*")
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats["total"])
	assert.Equal(t, int64(0), stats["daily"])

	stats, err = m.GetUserStats(ctx, "ab")
	require.NoError(t, err)
	assert.Equal(t, int64(30), stats["total"])
	assert.Equal(t, int64(30), stats["daily"])
}

func TestAwardRequestEvents(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()

	result, err := m.mc.Bus.Emit(ctx, EventAwardRequest, map[string]any{
		"userId": "u1", "points": 40, "reason": "quest",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	total, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)

	result, err = m.mc.Bus.Emit(ctx, EventDeductRequest, map[string]any{
		"userId": "u1", "points": 15,
	})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	total, err = m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)

	// Malformed requests surface as handler errors, not panics.
	result, err = m.mc.Bus.Emit(ctx, EventAwardRequest, map[string]any{"points": 10})
	require.NoError(t, err)
	assert.NotEmpty(t, result.Errors)
}

func TestHandleAction(t *testing.T) {
	m := newTestModule(t, Config{})
	ctx := context.Background()
	event := eventbus.Event{Name: "user.login", Data: map[string]any{"userId": "u9"}}

	require.NoError(t, m.HandleAction(ctx, rules.AwardPoints{Points: 25, Reason: "login"}, event))
	total, err := m.GetBalance(ctx, "u9")
	require.NoError(t, err)
	assert.Equal(t, int64(25), total)

	// Explicit action user wins over the event payload.
	require.NoError(t, m.HandleAction(ctx, rules.AwardPoints{UserID: "u10", Points: 5}, event))
	total, err = m.GetBalance(ctx, "u10")
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	err = m.HandleAction(ctx, rules.AwardPoints{Points: 5}, eventbus.Event{Name: "x", Data: map[string]any{}})
	assert.ErrorIs(t, err, gamify.ErrMissingUserID)

	err = m.HandleAction(ctx, rules.AwardBadge{BadgeID: "b"}, event)
	assert.Error(t, err)
}

func TestInitializeIdempotentAndRequiresContext(t *testing.T) {
	m := newTestModule(t, Config{})
	require.NoError(t, m.Initialize(context.Background()))
	assert.Len(t, m.subs, 2)

	unbound := New(Config{})
	assert.ErrorIs(t, unbound.Initialize(context.Background()), ErrNotBound)
}

func TestDecayRun(t *testing.T) {
	m := newTestModule(t, Config{
		MinimumPoints: 10,
		Decay:         DecayConfig{Enabled: true, Days: 7, Percentage: 50},
	})
	ctx := context.Background()

	// u1 last earned a month ago; u2 is active today; u3 sits at the floor.
	past := monday.AddDate(0, -1, 0)
	m.now = func() time.Time { return past }
	_, err := m.Award(ctx, "u1", 100, "")
	require.NoError(t, err)
	_, err = m.Award(ctx, "u3", 10, "")
	require.NoError(t, err)

	m.now = func() time.Time { return monday }
	_, err = m.Award(ctx, "u2", 100, "")
	require.NoError(t, err)

	m.runDecay()

	total, err := m.GetBalance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)

	total, err = m.GetBalance(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, int64(100), total)

	total, err = m.GetBalance(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestPeriodBuckets(t *testing.T) {
	assert.Equal(t, "2025-01-06", bucket(PeriodDaily, monday))
	assert.Equal(t, "2025-W02", bucket(PeriodWeekly, monday))
	assert.Equal(t, "2025-01", bucket(PeriodMonthly, monday))
	// Saturday Jan 4 still belongs to ISO week 1.
	assert.Equal(t, "2025-W01", bucket(PeriodWeekly, saturday))

	assert.Equal(t, 12*time.Hour, periodRemaining(PeriodDaily, monday))
	// Monday noon: the week rolls over next Monday at midnight.
	assert.Equal(t, 6*24*time.Hour+12*time.Hour, periodRemaining(PeriodWeekly, monday))

	assert.True(t, validPeriod(PeriodAllTime))
	assert.False(t, validPeriod("decade"))
}
