package eventbus

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event represents a named fact flowing through the bus. Events are immutable
// after creation and propagated by value; handlers receive the full record,
// not just the payload.
type Event struct {
	// Name is the event name, restricted to [A-Za-z0-9._-]+.
	Name string `json:"name"`

	// Data is the event payload. The conventional field "userId" routes the
	// event to per-user reward state downstream.
	Data map[string]any `json:"data"`

	// ID is generated at emit time as evt_<epochMs>_<rand>.
	ID string `json:"id"`

	// Timestamp is milliseconds since epoch at emit time.
	Timestamp int64 `json:"timestamp"`
}

var eventNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidEventName reports whether name is a legal event name.
func ValidEventName(name string) bool {
	return eventNameRe.MatchString(name)
}

// NewEvent stamps a fresh event with an id and emit timestamp. Callers that
// need the exact record before it reaches subscribers build it here and hand
// it to Bus.EmitEvent.
func NewEvent(name string, data map[string]any) Event {
	now := time.Now()
	return Event{
		Name:      name,
		Data:      data,
		ID:        newEventID(now),
		Timestamp: now.UnixMilli(),
	}
}

func newEventID(now time.Time) string {
	rand := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("evt_%d_%s", now.UnixMilli(), rand)
}
