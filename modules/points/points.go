// Package points implements the canonical reward module: per-user balances
// with multipliers, period limits, transaction logs, leaderboards and
// optional balance decay.
package points

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/rules"
)

// ModuleName is the registered module identifier and event prefix.
const ModuleName = "points"

// Events emitted by the module.
const (
	EventAwarded      = "points.awarded"
	EventDeducted     = "points.deducted"
	EventAwardBlocked = "points.award.blocked"
	EventUserReset    = "points.user.reset"
)

// Events the module listens on so other modules can request point changes
// without direct coupling.
const (
	EventAwardRequest  = "points.award"
	EventDeductRequest = "points.deduct"
)

// Module errors.
var (
	ErrInvalidPoints = errors.New("points: points must be positive")
	ErrEmptyUserID   = errors.New("points: user id is required")
	ErrNotBound      = errors.New("points: module context not set")
)

// DecayConfig controls the periodic balance decay job.
type DecayConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Days of inactivity before a balance starts decaying.
	Days int `json:"days" yaml:"days"`
	// Percentage of the balance removed per decay run.
	Percentage float64 `json:"percentage" yaml:"percentage"`
}

// Config tunes the module.
type Config struct {
	// GlobalMultiplier scales every award.
	GlobalMultiplier float64 `json:"globalMultiplier" yaml:"globalMultiplier"`
	// WeekendMultiplier additionally scales awards made on Saturday or
	// Sunday (UTC).
	WeekendMultiplier float64 `json:"weekendMultiplier" yaml:"weekendMultiplier"`
	// ReasonMultipliers scale awards by their reason string.
	ReasonMultipliers map[string]float64 `json:"reasonMultipliers" yaml:"reasonMultipliers"`

	// Period limits cap effective points per user per period; zero means
	// unlimited.
	DailyLimit   int64 `json:"dailyLimit" yaml:"dailyLimit"`
	WeeklyLimit  int64 `json:"weeklyLimit" yaml:"weeklyLimit"`
	MonthlyLimit int64 `json:"monthlyLimit" yaml:"monthlyLimit"`

	// MinimumPoints is the floor a balance can never drop below.
	MinimumPoints int64 `json:"minimumPoints" yaml:"minimumPoints"`
	// MaxTransactions bounds the per-user transaction log.
	MaxTransactions int `json:"maxTransactions" yaml:"maxTransactions"`

	Decay DecayConfig `json:"decay" yaml:"decay"`
}

func (c Config) withDefaults() Config {
	if c.GlobalMultiplier <= 0 {
		c.GlobalMultiplier = 1
	}
	if c.WeekendMultiplier <= 0 {
		c.WeekendMultiplier = 1
	}
	if c.MaxTransactions <= 0 {
		c.MaxTransactions = 100
	}
	return c
}

// Module is the points reward module.
type Module struct {
	cfg Config
	mc  *gamify.ModuleContext

	// now is swapped in tests to pin weekend and period behavior.
	now func() time.Time

	initialized bool
	subs        []*eventbus.Subscription
	decayCron   *cron.Cron
}

// New creates the module.
func New(cfg Config) *Module {
	return &Module{cfg: cfg.withDefaults(), now: time.Now}
}

// Name implements gamify.Module.
func (m *Module) Name() string { return ModuleName }

// SetContext implements gamify.Module.
func (m *Module) SetContext(mc *gamify.ModuleContext) { m.mc = mc }

// Initialize subscribes the request events and starts the decay job.
// Idempotent.
func (m *Module) Initialize(ctx context.Context) error {
	if m.mc == nil {
		return ErrNotBound
	}
	if m.initialized {
		return nil
	}

	awardSub, err := m.mc.Bus.Subscribe(EventAwardRequest, m.onAwardRequest)
	if err != nil {
		return err
	}
	deductSub, err := m.mc.Bus.Subscribe(EventDeductRequest, m.onDeductRequest)
	if err != nil {
		awardSub.Cancel()
		return err
	}
	m.subs = []*eventbus.Subscription{awardSub, deductSub}

	if m.cfg.Decay.Enabled {
		m.decayCron = cron.New()
		if _, err := m.decayCron.AddFunc("@every 24h", m.runDecay); err != nil {
			return fmt.Errorf("points: schedule decay: %w", err)
		}
		m.decayCron.Start()
	}

	m.initialized = true
	return nil
}

// Shutdown cancels subscriptions and stops the decay job.
func (m *Module) Shutdown(ctx context.Context) error {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
	if m.decayCron != nil {
		stopCtx := m.decayCron.Stop()
		select {
		case <-stopCtx.Done():
		case <-ctx.Done():
		}
		m.decayCron = nil
	}
	m.initialized = false
	return nil
}

// HandleAction implements gamify.ActionHandler for award_points actions.
func (m *Module) HandleAction(ctx context.Context, action rules.Action, event eventbus.Event) error {
	award, ok := action.(rules.AwardPoints)
	if !ok {
		return fmt.Errorf("points: unsupported action %q", action.ActionType())
	}
	userID := award.UserID
	if userID == "" {
		userID, _ = event.Data["userId"].(string)
	}
	if userID == "" {
		return gamify.ErrMissingUserID
	}
	_, err := m.Award(ctx, userID, award.Points, award.Reason)
	return err
}

func (m *Module) onAwardRequest(ctx context.Context, event eventbus.Event) error {
	userID, _ := event.Data["userId"].(string)
	points, ok := toInt64(event.Data["points"])
	if userID == "" || !ok || points <= 0 {
		return fmt.Errorf("points: malformed award request: %v", event.Data)
	}
	reason, _ := event.Data["reason"].(string)
	_, err := m.Award(ctx, userID, points, reason)
	return err
}

func (m *Module) onDeductRequest(ctx context.Context, event eventbus.Event) error {
	userID, _ := event.Data["userId"].(string)
	points, ok := toInt64(event.Data["points"])
	if userID == "" || !ok || points <= 0 {
		return fmt.Errorf("points: malformed deduct request: %v", event.Data)
	}
	reason, _ := event.Data["reason"].(string)
	_, err := m.Deduct(ctx, userID, points, reason)
	return err
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// emit publishes on the bus, logging instead of failing the caller.
func (m *Module) emit(ctx context.Context, name string, data map[string]any) {
	if _, err := m.mc.Bus.Emit(ctx, name, data); err != nil {
		m.mc.Logger.Warn("points event emit failed", "event", name, "error", err)
	}
}
