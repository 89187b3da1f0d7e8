// Package health runs periodic liveness checks over the engine's moving
// parts and aggregates them into a single report.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Status values for the aggregate report and individual checks.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Check probes one dependency. A nil return means healthy.
type Check func(ctx context.Context) error

// CheckResult is the latest outcome of one check.
type CheckResult struct {
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	CheckedAt int64  `json:"checkedAt"`
	Duration  int64  `json:"duration"` // milliseconds
}

// Report is the aggregate health snapshot.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
	Uptime int64                  `json:"uptime"` // milliseconds
}

// Config tunes the checker.
type Config struct {
	// Interval between check rounds.
	Interval time.Duration `json:"interval" yaml:"interval" default:"15s"`
	// CheckTimeout bounds one check invocation.
	CheckTimeout time.Duration `json:"checkTimeout" yaml:"checkTimeout" default:"5s"`
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = 5 * time.Second
	}
	return c
}

// Checker polls registered checks on an interval and caches results.
type Checker struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	checks    map[string]Check
	results   map[string]CheckResult
	startTime time.Time

	stop chan struct{}
	once sync.Once
}

// New creates a checker. Call Start to begin polling.
func New(cfg Config, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		cfg:       cfg.withDefaults(),
		logger:    logger,
		checks:    make(map[string]Check),
		results:   make(map[string]CheckResult),
		startTime: time.Now(),
		stop:      make(chan struct{}),
	}
}

// RegisterCheck adds or replaces a named check.
func (c *Checker) RegisterCheck(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Start launches the polling loop. One round runs immediately.
func (c *Checker) Start() {
	go func() {
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		c.RunChecks(context.Background())
		for {
			select {
			case <-c.stop:
				return
			case <-ticker.C:
				c.RunChecks(context.Background())
			}
		}
	}()
}

// Stop ends the polling loop. Idempotent.
func (c *Checker) Stop() {
	c.once.Do(func() { close(c.stop) })
}

// RunChecks executes every registered check once and caches the outcomes.
func (c *Checker) RunChecks(ctx context.Context) {
	c.mu.Lock()
	checks := make(map[string]Check, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.Unlock()

	for name, check := range checks {
		result := c.runOne(ctx, check)
		if !result.Healthy {
			c.logger.Warn("health check failed", "check", name, "error", result.Error)
		}
		c.mu.Lock()
		c.results[name] = result
		c.mu.Unlock()
	}
}

func (c *Checker) runOne(ctx context.Context, check Check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
	defer cancel()

	began := time.Now()
	err := check(ctx)
	result := CheckResult{
		Healthy:   err == nil,
		CheckedAt: began.UnixMilli(),
		Duration:  time.Since(began).Milliseconds(),
	}
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

// Health returns the aggregate report from the cached results. All checks
// passing is healthy; some failing is degraded; all failing is unhealthy.
func (c *Checker) Health() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	report := Report{
		Checks: make(map[string]CheckResult, len(c.results)),
		Uptime: time.Since(c.startTime).Milliseconds(),
	}
	healthy, failed := 0, 0
	for name, result := range c.results {
		report.Checks[name] = result
		if result.Healthy {
			healthy++
		} else {
			failed++
		}
	}
	switch {
	case failed == 0:
		report.Status = StatusHealthy
	case healthy == 0:
		report.Status = StatusUnhealthy
	default:
		report.Status = StatusDegraded
	}
	return report
}
