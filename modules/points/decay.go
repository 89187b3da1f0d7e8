package points

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// runDecay walks every balance and deducts a percentage from users whose
// most recent transaction is older than the configured inactivity window.
// Runs on the module's 24 h cron schedule.
func (m *Module) runDecay() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	balances, err := m.mc.Storage.HGetAll(ctx, balancesKey())
	if err != nil {
		m.mc.Logger.Error("decay: read balances", "error", err)
		return
	}

	cutoff := m.now().Add(-time.Duration(m.cfg.Decay.Days) * 24 * time.Hour).UnixMilli()
	decayed := 0
	for userID, raw := range balances {
		balance, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || balance <= m.cfg.MinimumPoints {
			continue
		}
		if m.lastActivity(ctx, userID) >= cutoff {
			continue
		}
		amount := int64(math.Floor(float64(balance) * m.cfg.Decay.Percentage / 100))
		if amount <= 0 {
			continue
		}
		if _, err := m.Deduct(ctx, userID, amount, "decay"); err != nil {
			m.mc.Logger.Warn("decay: deduct failed", "userId", userID, "error", err)
			continue
		}
		decayed++
	}
	if decayed > 0 {
		m.mc.Logger.Info("decay applied", "users", decayed)
	}
}

// lastActivity returns the timestamp of the user's most recent transaction,
// or zero when the log is empty.
func (m *Module) lastActivity(ctx context.Context, userID string) int64 {
	records, err := m.mc.Storage.LRange(ctx, transactionsKey(userID), 0, 0)
	if err != nil || len(records) == 0 {
		return 0
	}
	var txn Transaction
	if err := json.Unmarshal([]byte(records[0]), &txn); err != nil {
		return 0
	}
	return txn.Timestamp
}
