// Package badges implements a catalog-driven badge module: idempotent badge
// grants with optional point bonuses and event-driven auto-awards.
package badges

import (
	"context"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/gamify"
	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/rules"
)

// ModuleName is the registered module identifier and event prefix.
const ModuleName = "badges"

// Events emitted by the module.
const (
	EventAwarded   = "badges.awarded"
	EventUserReset = "badges.user.reset"
)

// Module errors.
var (
	ErrUnknownBadge = errors.New("badges: unknown badge")
	ErrNotBound     = errors.New("badges: module context not set")
)

// Badge is one catalog entry.
type Badge struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description"`
	// Points is an optional bonus requested through the points module when
	// the badge is first earned.
	Points int64 `json:"points,omitempty" yaml:"points"`
	// AutoAwardEvent grants the badge automatically when the named event
	// fires for a user.
	AutoAwardEvent string `json:"autoAwardEvent,omitempty" yaml:"autoAwardEvent"`
}

// Config holds the badge catalog.
type Config struct {
	Badges []Badge `json:"badges" yaml:"badges"`
}

// Module is the badges reward module.
type Module struct {
	cfg     Config
	mc      *gamify.ModuleContext
	catalog map[string]Badge

	initialized bool
	subs        []*eventbus.Subscription
}

// New creates the module from a catalog.
func New(cfg Config) *Module {
	catalog := make(map[string]Badge, len(cfg.Badges))
	for _, badge := range cfg.Badges {
		catalog[badge.ID] = badge
	}
	return &Module{cfg: cfg, catalog: catalog}
}

// Name implements gamify.Module.
func (m *Module) Name() string { return ModuleName }

// SetContext implements gamify.Module.
func (m *Module) SetContext(mc *gamify.ModuleContext) { m.mc = mc }

// Initialize subscribes auto-award events. Idempotent.
func (m *Module) Initialize(ctx context.Context) error {
	if m.mc == nil {
		return ErrNotBound
	}
	if m.initialized {
		return nil
	}
	for _, badge := range m.cfg.Badges {
		if badge.AutoAwardEvent == "" {
			continue
		}
		badgeID := badge.ID
		sub, err := m.mc.Bus.Subscribe(badge.AutoAwardEvent, func(ctx context.Context, event eventbus.Event) error {
			userID, _ := event.Data["userId"].(string)
			if userID == "" {
				return nil
			}
			_, err := m.AwardBadge(ctx, userID, badgeID)
			return err
		})
		if err != nil {
			m.cancelSubs()
			return err
		}
		m.subs = append(m.subs, sub)
	}
	m.initialized = true
	return nil
}

// Shutdown cancels the auto-award subscriptions.
func (m *Module) Shutdown(ctx context.Context) error {
	m.cancelSubs()
	m.initialized = false
	return nil
}

func (m *Module) cancelSubs() {
	for _, sub := range m.subs {
		sub.Cancel()
	}
	m.subs = nil
}

func earnedKey(userID string) string {
	return gamify.StorageKey(ModuleName, "earned:"+userID)
}

// AwardBadge grants a catalog badge to a user. Granting an already-earned
// badge is a no-op; the first grant emits badges.awarded and requests the
// badge's point bonus through the bus.
func (m *Module) AwardBadge(ctx context.Context, userID, badgeID string) (bool, error) {
	if m.mc == nil {
		return false, ErrNotBound
	}
	badge, ok := m.catalog[badgeID]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownBadge, badgeID)
	}

	added, err := m.mc.Storage.SAdd(ctx, earnedKey(userID), badgeID)
	if err != nil {
		return false, err
	}
	if added == 0 {
		return false, nil
	}

	if _, err := m.mc.Bus.Emit(ctx, EventAwarded, map[string]any{
		"userId":  userID,
		"badgeId": badgeID,
		"name":    badge.Name,
	}); err != nil {
		m.mc.Logger.Warn("badge event emit failed", "badgeId", badgeID, "error", err)
	}

	if badge.Points > 0 {
		if _, err := m.mc.Bus.Emit(ctx, "points.award", map[string]any{
			"userId": userID,
			"points": badge.Points,
			"reason": "badge:" + badgeID,
		}); err != nil {
			m.mc.Logger.Warn("badge bonus request failed", "badgeId", badgeID, "error", err)
		}
	}
	return true, nil
}

// HandleAction implements gamify.ActionHandler for award_badge actions.
func (m *Module) HandleAction(ctx context.Context, action rules.Action, event eventbus.Event) error {
	award, ok := action.(rules.AwardBadge)
	if !ok {
		return fmt.Errorf("badges: unsupported action %q", action.ActionType())
	}
	userID := award.UserID
	if userID == "" {
		userID, _ = event.Data["userId"].(string)
	}
	if userID == "" {
		return gamify.ErrMissingUserID
	}
	_, err := m.AwardBadge(ctx, userID, award.BadgeID)
	return err
}

// Catalog returns the configured badges.
func (m *Module) Catalog() []Badge {
	return append([]Badge(nil), m.cfg.Badges...)
}

// GetUserStats implements gamify.Module: earned badge ids plus catalog size.
func (m *Module) GetUserStats(ctx context.Context, userID string) (map[string]any, error) {
	if m.mc == nil {
		return nil, ErrNotBound
	}
	earned, err := m.mc.Storage.SMembers(ctx, earnedKey(userID))
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"earned":    earned,
		"count":     len(earned),
		"available": len(m.catalog),
	}, nil
}

// ResetUser clears the user's earned set and emits badges.user.reset.
func (m *Module) ResetUser(ctx context.Context, userID string) error {
	if m.mc == nil {
		return ErrNotBound
	}
	if err := m.mc.Storage.Delete(ctx, earnedKey(userID)); err != nil {
		return err
	}
	if _, err := m.mc.Bus.Emit(ctx, EventUserReset, map[string]any{"userId": userID}); err != nil {
		m.mc.Logger.Warn("badge event emit failed", "event", EventUserReset, "error", err)
	}
	return nil
}
