package points

import (
	"fmt"
	"time"
)

// Period names used in keys, limits and leaderboards.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "alltime"
)

var trackedPeriods = []string{PeriodDaily, PeriodWeekly, PeriodMonthly}

// bucket returns the period bucket label for a point in time. Buckets are
// computed in UTC so they are stable across hosts.
func bucket(period string, t time.Time) string {
	t = t.UTC()
	switch period {
	case PeriodDaily:
		return t.Format("2006-01-02")
	case PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case PeriodMonthly:
		return t.Format("2006-01")
	default:
		return PeriodAllTime
	}
}

// periodRemaining returns the time left until the period containing t rolls
// over, used as the TTL of accumulators and period leaderboards.
func periodRemaining(period string, t time.Time) time.Duration {
	t = t.UTC()
	var end time.Time
	switch period {
	case PeriodDaily:
		end = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case PeriodWeekly:
		// ISO weeks start on Monday.
		daysUntilMonday := (8 - int(t.Weekday())) % 7
		if daysUntilMonday == 0 {
			daysUntilMonday = 7
		}
		end = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, daysUntilMonday)
	case PeriodMonthly:
		end = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return 0
	}
	return end.Sub(t)
}

// validPeriod reports whether the name is a tracked period or "alltime".
func validPeriod(period string) bool {
	switch period {
	case PeriodDaily, PeriodWeekly, PeriodMonthly, PeriodAllTime:
		return true
	default:
		return false
	}
}
