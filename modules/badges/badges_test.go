package badges

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/rules"
	"github.com/GoCodeAlone/gamify/storage"
)

var testCatalog = Config{Badges: []Badge{
	{ID: "first-login", Name: "First Login", AutoAwardEvent: "user.login"},
	{ID: "big-spender", Name: "Big Spender", Points: 50},
	{ID: "plain", Name: "Plain"},
}}

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
	require.NoError(t, m.Initialize(ctx))

	t.Cleanup(func() {
		_ = m.Shutdown(ctx)
		bus.Close()
		_ = store.Disconnect(ctx)
	})
	return m
}

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

func TestAwardBadgeIsIdempotent(t *testing.T) {
	m := newTestModule(t, testCatalog)
	awarded := capture(t, m, EventAwarded)
	ctx := context.Background()

	granted, err := m.AwardBadge(ctx, "u1", "plain")
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = m.AwardBadge(ctx, "u1", "plain")
	require.NoError(t, err)
	assert.False(t, granted)

	// Only the first grant emitted an event.
	assert.Len(t, awarded, 1)

	_, err = m.AwardBadge(ctx, "u1", "no-such-badge")
	assert.ErrorIs(t, err, ErrUnknownBadge)
}

func TestBadgeBonusRequestedOnce(t *testing.T) {
	m := newTestModule(t, testCatalog)
	bonus := capture(t, m, "points.award")
	ctx := context.Background()

	_, err := m.AwardBadge(ctx, "u1", "big-spender")
	require.NoError(t, err)
	_, err = m.AwardBadge(ctx, "u1", "big-spender")
	require.NoError(t, err)

	require.Len(t, bonus, 1)
	event := <-bonus
	assert.Equal(t, "u1", event.Data["userId"])
	assert.Equal(t, int64(50), event.Data["points"])
	assert.Equal(t, "badge:big-spender", event.Data["reason"])

	// Badges without a bonus stay silent on points.award.
	_, err = m.AwardBadge(ctx, "u1", "plain")
	require.NoError(t, err)
	assert.Empty(t, bonus)
}

func TestAutoAward(t *testing.T) {
	m := newTestModule(t, testCatalog)
	ctx := context.Background()

	result, err := m.mc.Bus.Emit(ctx, "user.login", map[string]any{"userId": "u1"})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)

	stats, err := m.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"first-login"}, stats["earned"])

	// Events without a user id are ignored, not failed.
	result, err = m.mc.Bus.Emit(ctx, "user.login", map[string]any{})
	require.NoError(t, err)
	assert.Empty(t, result.Errors)
}

func TestHandleAction(t *testing.T) {
	m := newTestModule(t, testCatalog)
	ctx := context.Background()
	event := eventbus.Event{Name: "purchase.complete", Data: map[string]any{"userId": "u2"}}

	require.NoError(t, m.HandleAction(ctx, rules.AwardBadge{BadgeID: "plain"}, event))
	stats, err := m.GetUserStats(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, 1, stats["count"])

	err = m.HandleAction(ctx, rules.AwardBadge{BadgeID: "plain"}, eventbus.Event{Data: map[string]any{}})
	assert.ErrorIs(t, err, gamify.ErrMissingUserID)

	err = m.HandleAction(ctx, rules.AwardPoints{Points: 5}, event)
	assert.Error(t, err)
}

func TestCatalogAndStats(t *testing.T) {
	m := newTestModule(t, testCatalog)
	ctx := context.Background()

	catalog := m.Catalog()
	assert.Len(t, catalog, 3)
	// The returned slice is a copy.
	catalog[0].ID = "mutated"
	assert.Equal(t, "first-login", m.Catalog()[0].ID)

	stats, err := m.GetUserStats(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, 0, stats["count"])
	assert.Equal(t, 3, stats["available"])
}

func TestResetUser(t *testing.T) {
	m := newTestModule(t, testCatalog)
	reset := capture(t, m, EventUserReset)
	ctx := context.Background()

	_, err := m.AwardBadge(ctx, "u1", "plain")
	require.NoError(t, err)
	require.NoError(t, m.ResetUser(ctx, "u1"))

	stats, err := m.GetUserStats(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats["count"])

	// The badge can be earned again after a reset.
	granted, err := m.AwardBadge(ctx, "u1", "plain")
	require.NoError(t, err)
	assert.True(t, granted)

	assert.Len(t, reset, 1)
}
