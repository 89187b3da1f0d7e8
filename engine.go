package gamify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/gamify/eventbus"
	"github.com/GoCodeAlone/gamify/health"
	"github.com/GoCodeAlone/gamify/metrics"
	"github.com/GoCodeAlone/gamify/rules"
	"github.com/GoCodeAlone/gamify/storage"
	"github.com/GoCodeAlone/gamify/webhooks"
)

// State is the engine lifecycle phase.
type State int32

const (
	StateCreated State = iota
	StateInitializing
	StateRunning
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// InitializedEventName is emitted once startup completes.
const InitializedEventName = "gamification.initialized"

// Runner is an outer surface (HTTP server, WebSocket hub) attached to the
// engine's lifecycle: started last, stopped first.
type Runner interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// TrackResult reports one processed event.
type TrackResult struct {
	EventID      string   `json:"eventId"`
	Processed    bool     `json:"processed"`
	RulesMatched []string `json:"rulesMatched"`
	Timestamp    int64    `json:"timestamp"`
}

// Engine is the orchestrator: it wires storage, the event bus, the rule
// engine, webhooks, metrics and health around a set of registered reward
// modules, and dispatches tracked events through all of them.
type Engine struct {
	cfg    Config
	logger Logger

	store     storage.Store
	bus       *eventbus.Bus
	rules     *rules.Engine
	webhooks  *webhooks.Pipeline
	metrics   *metrics.Collector
	health    *health.Checker
	secrets   *SecretStore
	metricSub *eventbus.Subscription

	mu          sync.RWMutex
	state       State
	modules     map[string]Module
	moduleOrder []string
	handlers    map[string]ActionHandler
	runners     []Runner
	watchCancel context.CancelFunc
	shutdownErr error
}

// New builds an engine from configuration. Components gated by Enabled
// flags are only constructed when enabled. Call RegisterModule and
// AttachRunner before Init.
func New(cfg Config, logger Logger) *Engine {
	if logger == nil {
		logger = NewSlogLogger(nil)
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		rules:    rules.New(cfg.Rules.Config),
		secrets:  NewSecretStore(cfg.Security.Production),
		state:    StateCreated,
		modules:  make(map[string]Module),
		handlers: make(map[string]ActionHandler),
	}
	e.bus = eventbus.New(cfg.EventBus)

	switch cfg.Storage.Type {
	case StorageRedis:
		e.store = storage.NewRedisStore(cfg.Storage.Redis)
	default:
		e.store = storage.NewMemoryStore(cfg.Storage.Memory)
	}

	slogger := slogFrom(logger)
	if cfg.Metrics.Enabled {
		e.metrics = metrics.New(cfg.Metrics.Config, slogger)
	}
	if cfg.Health.Enabled {
		e.health = health.New(cfg.Health.Config, slogger)
	}
	return e
}

// Accessors for embedding callers and outer surfaces.

func (e *Engine) Bus() *eventbus.Bus              { return e.bus }
func (e *Engine) Storage() storage.Store          { return e.store }
func (e *Engine) Rules() *rules.Engine            { return e.rules }
func (e *Engine) Webhooks() *webhooks.Pipeline    { return e.webhooks }
func (e *Engine) Metrics() *metrics.Collector     { return e.metrics }
func (e *Engine) HealthChecker() *health.Checker  { return e.health }
func (e *Engine) Secrets() *SecretStore           { return e.secrets }
func (e *Engine) Logger() Logger                  { return e.logger }
func (e *Engine) Config() Config                  { return e.cfg }

// State returns the current lifecycle phase.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// RegisterModule adds a reward module. Names must be unique; registering a
// second module under an existing name fails. Modules registered after Init
// are rejected.
func (e *Engine) RegisterModule(module Module) error {
	name := module.Name()
	if name == "" {
		return ErrModuleNameEmpty
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateCreated {
		return fmt.Errorf("%w: cannot register %q in state %s", ErrAlreadyInitialized, name, e.state)
	}
	if _, ok := e.modules[name]; ok {
		return fmt.Errorf("%w: %q", ErrModuleRegistered, name)
	}
	e.modules[name] = module
	e.moduleOrder = append(e.moduleOrder, name)
	if handler, ok := module.(ActionHandler); ok {
		e.handlers[name] = handler
	}
	return nil
}

// Module returns a registered module by name.
func (e *Engine) Module(name string) (Module, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	module, ok := e.modules[name]
	return module, ok
}

// AttachRunner registers an outer surface started at the end of Init and
// stopped first during Shutdown.
func (e *Engine) AttachRunner(runner Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runners = append(e.runners, runner)
}

// Init connects storage, wires the component graph, initializes modules in
// registration order, starts attached runners and emits
// gamification.initialized.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateCreated {
		e.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrAlreadyInitialized, e.state)
	}
	e.state = StateInitializing
	e.mu.Unlock()

	if err := e.store.Connect(ctx); err != nil {
		return fmt.Errorf("storage connect: %w", err)
	}

	if e.cfg.Rules.File != "" {
		loaded, err := rules.LoadFile(e.cfg.Rules.File)
		if err != nil {
			return err
		}
		e.rules.ReplaceRules(loaded)
		e.logger.Info("rules loaded", "file", e.cfg.Rules.File, "count", len(loaded))
		if e.cfg.Rules.Watch {
			watchCtx, cancel := context.WithCancel(context.Background())
			if err := e.rules.Watch(watchCtx, e.cfg.Rules.File, slogFrom(e.logger)); err != nil {
				cancel()
				return err
			}
			e.mu.Lock()
			e.watchCancel = cancel
			e.mu.Unlock()
		}
	}

	if e.cfg.Webhooks.Enabled {
		secret, err := e.secrets.Require("WEBHOOK_SECRET")
		if err != nil {
			return err
		}
		whCfg := e.cfg.Webhooks.Config
		if whCfg.Secret == "" {
			whCfg.Secret = secret
		}
		e.webhooks = webhooks.New(whCfg, slogFrom(e.logger))
		if err := e.webhooks.Attach(e.bus); err != nil {
			return err
		}
	}

	if e.metrics != nil {
		e.metrics.Start()
		// Count every bus event, including module-emitted ones.
		sub, err := e.bus.SubscribeWildcard("*", func(_ context.Context, event eventbus.Event) error {
			e.metrics.RecordEvent(event.Name, 0, false)
			return nil
		})
		if err != nil {
			return err
		}
		e.metricSub = sub
	}

	if e.health != nil {
		e.registerHealthChecks()
		e.health.Start()
	}

	e.mu.RLock()
	order := append([]string(nil), e.moduleOrder...)
	e.mu.RUnlock()
	for _, name := range order {
		module := e.modules[name]
		module.SetContext(&ModuleContext{
			Storage: e.store,
			Bus:     e.bus,
			Rules:   e.rules,
			Logger:  e.logger,
			Config:  e.cfg.Modules[name],
		})
		if err := module.Initialize(ctx); err != nil {
			return fmt.Errorf("module %q initialize: %w", name, err)
		}
		e.logger.Info("module initialized", "module", name)
	}

	e.mu.RLock()
	runners := append([]Runner(nil), e.runners...)
	e.mu.RUnlock()
	for _, runner := range runners {
		if err := runner.Start(ctx); err != nil {
			return fmt.Errorf("runner start: %w", err)
		}
	}

	e.mu.Lock()
	e.state = StateRunning
	e.mu.Unlock()

	if _, err := e.bus.Emit(ctx, InitializedEventName, map[string]any{
		"modules": order,
	}); err != nil {
		e.logger.Warn("emit initialized event", "error", err)
	}
	e.logger.Info("gamification engine running", "modules", len(order))
	return nil
}

func (e *Engine) registerHealthChecks() {
	e.health.RegisterCheck("storage", func(ctx context.Context) error {
		if !e.store.Connected() {
			return errors.New("storage disconnected")
		}
		_, _, err := e.store.Get(ctx, "health:probe")
		return err
	})
	e.health.RegisterCheck("eventbus", func(context.Context) error {
		e.bus.Stats()
		return nil
	})
	if e.cfg.Webhooks.Enabled {
		e.health.RegisterCheck("webhooks", func(context.Context) error {
			if e.webhooks == nil {
				return errors.New("pipeline not started")
			}
			depth := e.webhooks.QueueDepth()
			if depth >= e.cfg.Webhooks.MaxQueueSize {
				return fmt.Errorf("delivery queue saturated: %d", depth)
			}
			return nil
		})
	}
}

// Track processes one domain event: evaluate rules, execute matched
// actions, then emit on the bus so subscribers observe post-action state.
// Only a Running engine accepts events.
func (e *Engine) Track(ctx context.Context, name string, data map[string]any) (TrackResult, error) {
	if e.State() != StateRunning {
		return TrackResult{}, fmt.Errorf("%w: state %s", ErrNotRunning, e.State())
	}
	if !eventbus.ValidEventName(name) {
		return TrackResult{}, fmt.Errorf("%w: %q", eventbus.ErrInvalidEventName, name)
	}
	began := time.Now()

	payload := make(map[string]any, len(data)+1)
	for key, value := range data {
		payload[key] = value
	}
	event := eventbus.NewEvent(name, payload)
	payload["timestamp"] = event.Timestamp

	// Rule conditions address payload fields directly; the event name and
	// timestamp ride along as metadata, and the payload stays reachable
	// under "data" for qualified paths.
	evalCtx := make(map[string]any, len(payload)+2)
	for key, value := range payload {
		evalCtx[key] = value
	}
	evalCtx["event"] = name
	evalCtx["data"] = payload

	evaluation := e.rules.Evaluate(evalCtx)
	for _, rr := range evaluation.Results {
		if rr.Err != nil {
			e.logger.Warn("rule evaluation error", "rule", rr.RuleName, "error", rr.Err)
		}
	}

	for _, rr := range evaluation.Results {
		if !rr.Passed || len(rr.Actions) == 0 {
			continue
		}
		e.ProcessActions(ctx, rr.Actions, event)
	}

	result, err := e.bus.EmitEvent(ctx, event)
	if err != nil {
		e.recordTrack(name, began, true)
		return TrackResult{}, err
	}
	for _, handlerErr := range result.Errors {
		e.logger.Warn("event handler failed", "event", name, "error", handlerErr.Err)
	}

	e.recordTrack(name, began, false)
	return TrackResult{
		EventID:      event.ID,
		Processed:    true,
		RulesMatched: evaluation.Passed,
		Timestamp:    event.Timestamp,
	}, nil
}

func (e *Engine) recordTrack(name string, began time.Time, failed bool) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordModuleMetric("engine", "track_ms", float64(time.Since(began).Milliseconds()))
	if failed {
		e.metrics.RecordEvent(name, time.Since(began), true)
	}
}

// actionModule maps an action type to the module responsible for it.
func actionModule(action rules.Action) string {
	switch action.(type) {
	case rules.AwardPoints:
		return "points"
	case rules.AwardBadge:
		return "badges"
	case rules.CompleteQuest:
		return "quests"
	default:
		return ""
	}
}

// ProcessActions dispatches rule actions to their owning modules. Failures
// are logged per action and never abort peers; actions with no registered
// handler are skipped.
func (e *Engine) ProcessActions(ctx context.Context, actions []rules.Action, event eventbus.Event) {
	for _, action := range actions {
		if custom, ok := action.(rules.Custom); ok {
			if custom.Handler == nil {
				continue
			}
			if err := custom.Handler(ctx, event.Data); err != nil {
				e.logger.Warn("custom action failed", "event", event.Name, "error", err)
			}
			continue
		}

		moduleName := actionModule(action)
		e.mu.RLock()
		handler, ok := e.handlers[moduleName]
		e.mu.RUnlock()
		if !ok {
			e.logger.Debug("no handler for action, skipping",
				"action", action.ActionType(), "module", moduleName)
			continue
		}
		if err := handler.HandleAction(ctx, action, event); err != nil {
			e.logger.Warn("action failed",
				"action", action.ActionType(), "module", moduleName,
				"event", event.Name, "error", err)
		}
	}
}

// GetUserStats fans out to every registered module and returns a map keyed
// by module name. A failing module contributes an error entry instead of
// aborting the whole projection.
func (e *Engine) GetUserStats(ctx context.Context, userID string) map[string]any {
	e.mu.RLock()
	order := append([]string(nil), e.moduleOrder...)
	e.mu.RUnlock()

	out := make(map[string]any, len(order))
	for _, name := range order {
		stats, err := e.modules[name].GetUserStats(ctx, userID)
		if err != nil {
			e.logger.Warn("user stats failed", "module", name, "userId", userID, "error", err)
			out[name] = map[string]any{"error": err.Error()}
			continue
		}
		out[name] = stats
	}
	return out
}

// ResetUser purges the user's state in every module.
func (e *Engine) ResetUser(ctx context.Context, userID string) error {
	e.mu.RLock()
	order := append([]string(nil), e.moduleOrder...)
	e.mu.RUnlock()

	var errs []error
	for _, name := range order {
		if err := e.modules[name].ResetUser(ctx, userID); err != nil {
			errs = append(errs, fmt.Errorf("module %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// GetHealth returns the current health report, or a minimal one when the
// checker is disabled.
func (e *Engine) GetHealth() health.Report {
	if e.health != nil {
		return e.health.Health()
	}
	status := health.StatusHealthy
	if e.State() != StateRunning {
		status = health.StatusUnhealthy
	}
	return health.Report{Status: status, Checks: map[string]health.CheckResult{}}
}

// Shutdown stops the engine: runners first (newest first), then webhooks,
// metrics, modules, health, storage, the bus, and finally the secret store.
// It is idempotent and bounded by the configured shutdown timeout; on
// timeout it returns ErrShutdownTimeout and leaves the rest best-effort.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateShuttingDown || e.state == StateTerminated {
		err := e.shutdownErr
		e.mu.Unlock()
		return err
	}
	e.state = StateShuttingDown
	watchCancel := e.watchCancel
	runners := append([]Runner(nil), e.runners...)
	order := append([]string(nil), e.moduleOrder...)
	e.mu.Unlock()

	timeout := e.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(runners) - 1; i >= 0; i-- {
			if err := runners[i].Shutdown(ctx); err != nil {
				e.logger.Warn("runner shutdown", "error", err)
			}
		}
		if watchCancel != nil {
			watchCancel()
		}
		if e.webhooks != nil {
			if remaining := e.webhooks.Close(); remaining > 0 {
				e.logger.Warn("webhook deliveries abandoned", "remaining", remaining)
			}
		}
		if e.metrics != nil {
			if e.metricSub != nil {
				e.metricSub.Cancel()
			}
			e.metrics.Stop()
		}
		for i := len(order) - 1; i >= 0; i-- {
			if err := e.modules[order[i]].Shutdown(ctx); err != nil {
				e.logger.Warn("module shutdown", "module", order[i], "error", err)
			}
		}
		if e.health != nil {
			e.health.Stop()
		}
		if err := e.store.Disconnect(ctx); err != nil {
			e.logger.Warn("storage disconnect", "error", err)
		}
		e.bus.Close()
		e.secrets.Clear()
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}

	e.mu.Lock()
	e.state = StateTerminated
	e.shutdownErr = err
	e.mu.Unlock()
	if err == nil {
		e.logger.Info("gamification engine stopped")
	}
	return err
}

// slogFrom unwraps a SlogLogger or falls back to slog.Default for packages
// that log through slog directly.
func slogFrom(logger Logger) *slog.Logger {
	if sl, ok := logger.(*SlogLogger); ok {
		return sl.Slog()
	}
	return slog.Default()
}
