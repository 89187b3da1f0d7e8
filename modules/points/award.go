package points

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/gamify"
)

// Storage key layout. All keys live under the module prefix.
func balancesKey() string { return gamify.StorageKey(ModuleName, "balances") }

func transactionsKey(userID string) string {
	return gamify.StorageKey(ModuleName, "transactions:"+userID)
}

func accumulatorKey(period, bucketLabel, userID string) string {
	return gamify.StorageKey(ModuleName, "period:"+period+":"+bucketLabel+":"+userID)
}

func userMultiplierKey(userID string) string {
	return gamify.StorageKey(ModuleName, "multiplier:user:"+userID)
}

func eventMultiplierKey() string {
	return gamify.StorageKey(ModuleName, "multiplier:event")
}

func leaderboardKey(period, bucketLabel string) string {
	if period == PeriodAllTime {
		return gamify.StorageKey(ModuleName, "leaderboard:alltime")
	}
	return gamify.StorageKey(ModuleName, "leaderboard:"+period+":"+bucketLabel)
}

// Transaction is one entry of a user's point log.
type Transaction struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // "award" or "deduct"
	Points int64  `json:"points"`
	// OriginalPoints is the pre-multiplier amount of an award.
	OriginalPoints int64   `json:"originalPoints,omitempty"`
	Reason         string  `json:"reason,omitempty"`
	Multiplier     float64 `json:"multiplier,omitempty"`
	Timestamp      int64   `json:"timestamp"`
}

// AwardResult reports an Award call. On failure, Reason is
// "<period>_limit_exceeded" (e.g. "daily_limit_exceeded") and the offending
// period, limit and current usage are set.
type AwardResult struct {
	Success     bool         `json:"success"`
	Points      int64        `json:"points,omitempty"`
	Total       int64        `json:"total,omitempty"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Period      string       `json:"period,omitempty"`
	Limit       int64        `json:"limit,omitempty"`
	Current     int64        `json:"current,omitempty"`
}

// DeductResult reports a Deduct call. On failure, Reason is
// "insufficient_points".
type DeductResult struct {
	Success     bool         `json:"success"`
	Total       int64        `json:"total"`
	Transaction *Transaction `json:"transaction,omitempty"`
	Reason      string       `json:"reason,omitempty"`
	Current     int64        `json:"current,omitempty"`
	Required    int64        `json:"required,omitempty"`
}

// Award grants points to a user. The base amount is scaled by the product of
// the configured global, reason, weekend, per-user and event-wide
// multipliers and floored. Configured period limits are checked before any
// write; a blocked award emits points.award.blocked.
func (m *Module) Award(ctx context.Context, userID string, basePoints int64, reason string) (AwardResult, error) {
	if m.mc == nil {
		return AwardResult{}, ErrNotBound
	}
	if userID == "" {
		return AwardResult{}, ErrEmptyUserID
	}
	if basePoints <= 0 {
		return AwardResult{}, ErrInvalidPoints
	}

	now := m.now()
	multiplier, err := m.effectiveMultiplier(ctx, userID, reason, now)
	if err != nil {
		return AwardResult{}, err
	}
	effective := int64(math.Floor(float64(basePoints) * multiplier))
	if effective <= 0 {
		effective = 0
	}

	// Limit checks happen before any write so a blocked award has no
	// side effects.
	for _, period := range trackedPeriods {
		limit := m.periodLimit(period)
		if limit <= 0 {
			continue
		}
		used, err := m.periodUsage(ctx, period, userID, now)
		if err != nil {
			return AwardResult{}, err
		}
		if used+effective > limit {
			m.emit(ctx, EventAwardBlocked, map[string]any{
				"userId":  userID,
				"points":  effective,
				"period":  period,
				"limit":   limit,
				"current": used,
			})
			return AwardResult{
				Success: false,
				Reason:  period + "_limit_exceeded",
				Period:  period,
				Limit:   limit,
				Current: used,
			}, nil
		}
	}

	txn := Transaction{
		ID:             "txn_" + uuid.NewString(),
		Type:           "award",
		Points:         effective,
		OriginalPoints: basePoints,
		Reason:         reason,
		Multiplier:     multiplier,
		Timestamp:      now.UnixMilli(),
	}
	record, err := json.Marshal(txn)
	if err != nil {
		return AwardResult{}, fmt.Errorf("points: marshal transaction: %w", err)
	}

	multi := m.mc.Storage.Multi().
		HIncrBy(balancesKey(), userID, effective).
		LPush(transactionsKey(userID), string(record)).
		LTrim(transactionsKey(userID), 0, int64(m.cfg.MaxTransactions-1)).
		ZIncrBy(leaderboardKey(PeriodAllTime, ""), float64(effective), userID)
	for _, period := range trackedPeriods {
		label := bucket(period, now)
		remaining := periodRemaining(period, now)
		multi = multi.
			Incr(accumulatorKey(period, label, userID), effective).
			Expire(accumulatorKey(period, label, userID), remaining).
			ZIncrBy(leaderboardKey(period, label), float64(effective), userID).
			Expire(leaderboardKey(period, label), remaining)
	}
	if err := multi.Exec(ctx); err != nil {
		return AwardResult{}, err
	}

	total, err := m.GetBalance(ctx, userID)
	if err != nil {
		return AwardResult{}, err
	}

	m.emit(ctx, EventAwarded, map[string]any{
		"userId":        userID,
		"points":        effective,
		"basePoints":    basePoints,
		"multiplier":    multiplier,
		"reason":        reason,
		"total":         total,
		"transactionId": txn.ID,
	})
	return AwardResult{Success: true, Points: effective, Total: total, Transaction: &txn}, nil
}

// Deduct removes points. The call refuses when the balance is smaller than
// the requested amount; otherwise the balance is decremented and, if the
// result would undershoot the configured minimum, clamped to it before the
// leaderboard is touched.
func (m *Module) Deduct(ctx context.Context, userID string, points int64, reason string) (DeductResult, error) {
	if m.mc == nil {
		return DeductResult{}, ErrNotBound
	}
	if userID == "" {
		return DeductResult{}, ErrEmptyUserID
	}
	if points <= 0 {
		return DeductResult{}, ErrInvalidPoints
	}

	current, err := m.GetBalance(ctx, userID)
	if err != nil {
		return DeductResult{}, err
	}
	if current < points {
		return DeductResult{
			Success:  false,
			Reason:   "insufficient_points",
			Total:    current,
			Current:  current,
			Required: points,
		}, nil
	}

	newTotal := current - points
	if newTotal < m.cfg.MinimumPoints {
		newTotal = m.cfg.MinimumPoints
	}
	delta := current - newTotal

	now := m.now()
	txn := Transaction{
		ID:        "txn_" + uuid.NewString(),
		Type:      "deduct",
		Points:    delta,
		Reason:    reason,
		Timestamp: now.UnixMilli(),
	}
	record, err := json.Marshal(txn)
	if err != nil {
		return DeductResult{}, fmt.Errorf("points: marshal transaction: %w", err)
	}

	err = m.mc.Storage.Multi().
		HIncrBy(balancesKey(), userID, -delta).
		LPush(transactionsKey(userID), string(record)).
		LTrim(transactionsKey(userID), 0, int64(m.cfg.MaxTransactions-1)).
		ZIncrBy(leaderboardKey(PeriodAllTime, ""), float64(-delta), userID).
		Exec(ctx)
	if err != nil {
		return DeductResult{}, err
	}

	m.emit(ctx, EventDeducted, map[string]any{
		"userId":        userID,
		"points":        delta,
		"requested":     points,
		"reason":        reason,
		"total":         newTotal,
		"transactionId": txn.ID,
	})
	return DeductResult{Success: true, Total: newTotal, Transaction: &txn}, nil
}

// effectiveMultiplier computes the product of every configured multiplier
// source for this award.
func (m *Module) effectiveMultiplier(ctx context.Context, userID, reason string, now time.Time) (float64, error) {
	multiplier := m.cfg.GlobalMultiplier
	if factor, ok := m.cfg.ReasonMultipliers[reason]; ok && factor > 0 {
		multiplier *= factor
	}
	if weekday := now.UTC().Weekday(); weekday == time.Saturday || weekday == time.Sunday {
		multiplier *= m.cfg.WeekendMultiplier
	}

	if raw, ok, err := m.mc.Storage.Get(ctx, userMultiplierKey(userID)); err != nil {
		return 0, err
	} else if ok {
		if factor, err := strconv.ParseFloat(raw, 64); err == nil && factor > 0 {
			multiplier *= factor
		}
	}
	if raw, ok, err := m.mc.Storage.Get(ctx, eventMultiplierKey()); err != nil {
		return 0, err
	} else if ok {
		if factor, err := strconv.ParseFloat(raw, 64); err == nil && factor > 0 {
			multiplier *= factor
		}
	}
	return multiplier, nil
}

func (m *Module) periodLimit(period string) int64 {
	switch period {
	case PeriodDaily:
		return m.cfg.DailyLimit
	case PeriodWeekly:
		return m.cfg.WeeklyLimit
	case PeriodMonthly:
		return m.cfg.MonthlyLimit
	default:
		return 0
	}
}

// periodUsage reads the user's consumed points in the period containing now.
func (m *Module) periodUsage(ctx context.Context, period, userID string, now time.Time) (int64, error) {
	raw, ok, err := m.mc.Storage.Get(ctx, accumulatorKey(period, bucket(period, now), userID))
	if err != nil || !ok {
		return 0, err
	}
	used, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("points: corrupt %s accumulator for %s: %w", period, userID, err)
	}
	return used, nil
}

// SetUserMultiplier stores a per-user multiplier, optionally time-bound.
func (m *Module) SetUserMultiplier(ctx context.Context, userID string, value float64, duration time.Duration) error {
	if m.mc == nil {
		return ErrNotBound
	}
	if userID == "" {
		return ErrEmptyUserID
	}
	if value <= 0 {
		return fmt.Errorf("points: multiplier must be positive, got %g", value)
	}
	return m.mc.Storage.Set(ctx, userMultiplierKey(userID), strconv.FormatFloat(value, 'g', -1, 64), duration)
}

// SetEventMultiplier stores the event-wide multiplier for a bounded window.
func (m *Module) SetEventMultiplier(ctx context.Context, value float64, duration time.Duration) error {
	if m.mc == nil {
		return ErrNotBound
	}
	if value <= 0 {
		return fmt.Errorf("points: multiplier must be positive, got %g", value)
	}
	if duration <= 0 {
		return fmt.Errorf("points: event multiplier requires a duration")
	}
	return m.mc.Storage.Set(ctx, eventMultiplierKey(), strconv.FormatFloat(value, 'g', -1, 64), duration)
}
