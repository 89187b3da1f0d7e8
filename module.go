package gamify

import (
	"context"

	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/rules"
	"github.com/GoCodeAlone/gamify/storage"
)

// Module is a registrable reward component managed by the engine. Each
// module owns a slice of the shared key space (via StorageKey) and a family
// of events prefixed with its own name (e.g. "points.awarded").
type Module interface {
	// Name returns the unique identifier for this module. It prefixes the
	// module's storage keys and emitted event names.
	//
	// Example: "points", "badges", "quests"
	Name() string

	// SetContext injects the module's dependencies. Called exactly once,
	// before Initialize.
	SetContext(mc *ModuleContext)

	// Initialize performs per-module setup, including event subscriptions
	// and background jobs. It must be idempotent.
	Initialize(ctx context.Context) error

	// GetUserStats returns the module's projection of one user. Users the
	// module has never seen yield a zero-valued projection, not an error.
	GetUserStats(ctx context.Context, userID string) (map[string]any, error)

	// ResetUser purges every key the module owns for the user and emits
	// "<name>.user.reset".
	ResetUser(ctx context.Context, userID string) error

	// Shutdown releases module resources: timers, subscriptions, and any
	// background work started in Initialize.
	Shutdown(ctx context.Context) error
}

// ActionHandler is implemented by modules that execute rule actions. The
// engine dispatches each action emitted by a matched rule to the module
// responsible for its type.
type ActionHandler interface {
	// HandleAction executes one action in the context of the triggering
	// event.
	HandleAction(ctx context.Context, action rules.Action, event eventbus.Event) error
}

// ModuleContext carries the dependencies injected into every module.
type ModuleContext struct {
	Storage storage.Store
	Bus     *eventbus.Bus
	Rules   *rules.Engine
	Logger  Logger
	// Config is the module's raw configuration subtree from the engine
	// config, for modules that read settings dynamically.
	Config map[string]any
}

// StorageKey scopes a key to a module: "<module>:<suffix>". All module state
// must live under the module's own prefix so ResetUser and module removal
// cannot touch foreign keys.
func StorageKey(module, suffix string) string {
	return module + ":" + suffix
}
