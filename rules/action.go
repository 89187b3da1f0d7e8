package rules

import (
	"context"
	"fmt"
)

// Action is a declarative side-effect request emitted by a matched rule.
// The concrete variants below replace ad-hoc string-typed records; the
// orchestrator dispatches on the concrete type.
type Action interface {
	// ActionType returns the wire discriminator ("award_points", ...).
	ActionType() string
}

// AwardPoints requests a point award. An empty UserID is resolved from the
// event's userId field at dispatch time.
type AwardPoints struct {
	UserID string `json:"userId,omitempty"`
	Points int64  `json:"points"`
	Reason string `json:"reason,omitempty"`
}

func (AwardPoints) ActionType() string { return "award_points" }

// AwardBadge requests a badge grant.
type AwardBadge struct {
	UserID  string `json:"userId,omitempty"`
	BadgeID string `json:"badgeId"`
}

func (AwardBadge) ActionType() string { return "award_badge" }

// CompleteQuest requests completion of one quest objective.
type CompleteQuest struct {
	UserID      string `json:"userId,omitempty"`
	QuestID     string `json:"questId"`
	ObjectiveID string `json:"objectiveId"`
}

func (CompleteQuest) ActionType() string { return "complete_quest" }

// Custom wraps an opaque callback receiving the event context.
type Custom struct {
	Handler func(ctx context.Context, event map[string]any) error `json:"-"`
}

func (Custom) ActionType() string { return "custom" }

// ParseAction builds an Action from a decoded config record.
func ParseAction(record map[string]any) (Action, error) {
	typ, _ := record["type"].(string)
	switch typ {
	case "award_points":
		points, ok := toInt64(record["points"])
		if !ok || points == 0 {
			return nil, fmt.Errorf("%w: award_points requires points", ErrInvalidAction)
		}
		return AwardPoints{
			UserID: stringField(record, "userId"),
			Points: points,
			Reason: stringField(record, "reason"),
		}, nil
	case "award_badge":
		badgeID := stringField(record, "badgeId")
		if badgeID == "" {
			return nil, fmt.Errorf("%w: award_badge requires badgeId", ErrInvalidAction)
		}
		return AwardBadge{UserID: stringField(record, "userId"), BadgeID: badgeID}, nil
	case "complete_quest":
		questID := stringField(record, "questId")
		if questID == "" {
			return nil, fmt.Errorf("%w: complete_quest requires questId", ErrInvalidAction)
		}
		return CompleteQuest{
			UserID:      stringField(record, "userId"),
			QuestID:     questID,
			ObjectiveID: stringField(record, "objectiveId"),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidAction, typ)
	}
}

func stringField(record map[string]any, key string) string {
	v, _ := record[key].(string)
	return v
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}
