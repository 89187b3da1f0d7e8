package points

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/GoCodeAlone/gamify/storage"
)

// GetBalance returns the user's current balance; unknown users hold zero.
func (m *Module) GetBalance(ctx context.Context, userID string) (int64, error) {
	if m.mc == nil {
		return 0, ErrNotBound
	}
	raw, ok, err := m.mc.Storage.HGet(ctx, balancesKey(), userID)
	if err != nil || !ok {
		return 0, err
	}
	total, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("points: corrupt balance for %s: %w", userID, err)
	}
	return total, nil
}

// GetTopUsers returns the highest scorers of a period leaderboard
// ("alltime", "daily", "weekly", "monthly"), best first.
func (m *Module) GetTopUsers(ctx context.Context, limit int, period string) ([]storage.Member, error) {
	if m.mc == nil {
		return nil, ErrNotBound
	}
	if !validPeriod(period) {
		return nil, fmt.Errorf("points: unknown period %q", period)
	}
	if limit <= 0 {
		limit = 10
	}
	key := leaderboardKey(period, bucket(period, m.now()))
	return m.mc.Storage.ZRevRangeWithScores(ctx, key, 0, int64(limit-1))
}

// GetUserRank returns the user's 1-based rank on a period leaderboard, or
// ok=false when the user is not on it.
func (m *Module) GetUserRank(ctx context.Context, userID, period string) (int64, bool, error) {
	if m.mc == nil {
		return 0, false, ErrNotBound
	}
	if !validPeriod(period) {
		return 0, false, fmt.Errorf("points: unknown period %q", period)
	}
	key := leaderboardKey(period, bucket(period, m.now()))
	rank, ok, err := m.mc.Storage.ZRevRank(ctx, key, userID)
	if err != nil || !ok {
		return 0, false, err
	}
	return rank + 1, true, nil
}

// GetTransactionHistory returns the user's most recent transactions, newest
// first.
func (m *Module) GetTransactionHistory(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if m.mc == nil {
		return nil, ErrNotBound
	}
	if limit <= 0 {
		limit = 10
	}
	records, err := m.mc.Storage.LRange(ctx, transactionsKey(userID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(records))
	for _, record := range records {
		var txn Transaction
		if err := json.Unmarshal([]byte(record), &txn); err != nil {
			m.mc.Logger.Warn("skipping corrupt transaction record", "userId", userID, "error", err)
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

// GetUserStats implements gamify.Module: balance, period usage, rank,
// recent transactions and the state of every configured limit.
func (m *Module) GetUserStats(ctx context.Context, userID string) (map[string]any, error) {
	if m.mc == nil {
		return nil, ErrNotBound
	}
	total, err := m.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	usage := make(map[string]int64, len(trackedPeriods))
	for _, period := range trackedPeriods {
		used, err := m.periodUsage(ctx, period, userID, now)
		if err != nil {
			return nil, err
		}
		usage[period] = used
	}

	var rank int64
	if r, ok, err := m.GetUserRank(ctx, userID, PeriodAllTime); err != nil {
		return nil, err
	} else if ok {
		rank = r
	}

	recent, err := m.GetTransactionHistory(ctx, userID, 10)
	if err != nil {
		return nil, err
	}

	limits := make(map[string]any)
	for _, period := range trackedPeriods {
		limit := m.periodLimit(period)
		if limit <= 0 {
			continue
		}
		remaining := limit - usage[period]
		if remaining < 0 {
			remaining = 0
		}
		limits[period] = map[string]any{
			"limit":     limit,
			"used":      usage[period],
			"remaining": remaining,
		}
	}

	return map[string]any{
		"total":              total,
		"daily":              usage[PeriodDaily],
		"weekly":             usage[PeriodWeekly],
		"monthly":            usage[PeriodMonthly],
		"rank":               rank,
		"recentTransactions": recent,
		"limits":             limits,
	}, nil
}

// ResetUser purges every key the module holds for the user and emits
// points.user.reset.
func (m *Module) ResetUser(ctx context.Context, userID string) error {
	if m.mc == nil {
		return ErrNotBound
	}
	store := m.mc.Storage

	if err := store.HDel(ctx, balancesKey(), userID); err != nil {
		return err
	}
	if err := store.Delete(ctx, transactionsKey(userID), userMultiplierKey(userID)); err != nil {
		return err
	}

	// User ids may contain glob metacharacters, so the id is never
	// interpolated into the scan pattern; the exact suffix is matched
	// against each candidate key instead.
	candidates, err := store.Keys(ctx, "points:period:*")
	if err != nil {
		return err
	}
	suffix := ":" + userID
	var accumulators []string
	for _, key := range candidates {
		if strings.HasSuffix(key, suffix) {
			accumulators = append(accumulators, key)
		}
	}
	if len(accumulators) > 0 {
		if err := store.Delete(ctx, accumulators...); err != nil {
			return err
		}
	}

	now := m.now()
	if _, err := store.ZRem(ctx, leaderboardKey(PeriodAllTime, ""), userID); err != nil {
		return err
	}
	for _, period := range trackedPeriods {
		if _, err := store.ZRem(ctx, leaderboardKey(period, bucket(period, now)), userID); err != nil {
			return err
		}
	}

	m.emit(ctx, EventUserReset, map[string]any{"userId": userID})
	return nil
}
