package metrics

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Config tunes the collector.
type Config struct {
	// MaxEventTypes bounds the per-event counter table; at the limit the
	// oldest entry in insertion order is evicted.
	MaxEventTypes int `json:"maxEventTypes" yaml:"maxEventTypes" default:"1000"`
	// MaxModules bounds the per-module metric table.
	MaxModules int `json:"maxModules" yaml:"maxModules" default:"100"`
	// CollectInterval is the system snapshot cadence.
	CollectInterval time.Duration `json:"collectInterval" yaml:"collectInterval" default:"30s"`
	// CollectorTimeout bounds each custom collector invocation.
	CollectorTimeout time.Duration `json:"collectorTimeout" yaml:"collectorTimeout" default:"5s"`
}

func (c Config) withDefaults() Config {
	if c.MaxEventTypes <= 0 {
		c.MaxEventTypes = 1000
	}
	if c.MaxModules <= 0 {
		c.MaxModules = 100
	}
	if c.CollectInterval <= 0 {
		c.CollectInterval = 30 * time.Second
	}
	if c.CollectorTimeout <= 0 {
		c.CollectorTimeout = 5 * time.Second
	}
	return c
}

// EventMetrics aggregates one event name.
type EventMetrics struct {
	Count               int64 `json:"count"`
	FirstSeen           int64 `json:"firstSeen"`
	LastSeen            int64 `json:"lastSeen"`
	TotalProcessingTime int64 `json:"totalProcessingTime"` // milliseconds
	Errors              int64 `json:"errors"`
}

// ModuleMetric aggregates one named value for one module.
type ModuleMetric struct {
	Count      int64   `json:"count"`
	Sum        float64 `json:"sum"`
	Min        float64 `json:"min"`
	Max        float64 `json:"max"`
	LastValue  float64 `json:"lastValue"`
	LastUpdate int64   `json:"lastUpdate"`
}

// SystemStats is one system snapshot.
type SystemStats struct {
	MemoryRSS           uint64  `json:"memoryRss"`
	MemoryPercent       float64 `json:"memoryPercent"`
	CPUPercent          float64 `json:"cpuPercent"`
	UptimeMillis        int64   `json:"uptime"`
	PID                 int     `json:"pid"`
	LastCollectDuration int64   `json:"lastCollectDuration"` // milliseconds
	CollectedAt         int64   `json:"collectedAt"`
}

// CollectorFunc produces a custom value attached to snapshots. It should
// respect ctx; slow collectors are cut off at the configured timeout.
type CollectorFunc func(ctx context.Context) (any, error)

// Snapshot is the full exported state of a collector.
type Snapshot struct {
	StartTime int64                              `json:"startTime"`
	Uptime    int64                              `json:"uptime"`
	Events    map[string]EventMetrics            `json:"events"`
	Modules   map[string]map[string]ModuleMetric `json:"modules"`
	System    SystemStats                        `json:"system"`
	Custom    map[string]any                     `json:"custom,omitempty"`
}

// Collector maintains bounded event and module counters plus a periodic
// system snapshot.
type Collector struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	startTime   time.Time
	events      map[string]*EventMetrics
	eventOrder  []string
	modules     map[string]map[string]*ModuleMetric
	moduleOrder []string
	system      SystemStats
	collectors  map[string]CollectorFunc

	stop chan struct{}
	once sync.Once
}

// New creates a collector. Call Start to begin system snapshots.
func New(cfg Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		cfg:        cfg.withDefaults(),
		logger:     logger,
		startTime:  time.Now(),
		events:     make(map[string]*EventMetrics),
		modules:    make(map[string]map[string]*ModuleMetric),
		collectors: make(map[string]CollectorFunc),
		stop:       make(chan struct{}),
	}
}

// RecordEvent counts one occurrence of an event name.
func (c *Collector) RecordEvent(name string, processing time.Duration, failed bool) {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()

	em, ok := c.events[name]
	if !ok {
		if len(c.events) >= c.cfg.MaxEventTypes {
			oldest := c.eventOrder[0]
			c.eventOrder = c.eventOrder[1:]
			delete(c.events, oldest)
			c.logger.Warn("event metric table full, evicting oldest", "evicted", oldest)
		}
		em = &EventMetrics{FirstSeen: now}
		c.events[name] = em
		c.eventOrder = append(c.eventOrder, name)
	}
	em.Count++
	em.LastSeen = now
	em.TotalProcessingTime += processing.Milliseconds()
	if failed {
		em.Errors++
	}
}

// RecordModuleMetric folds a value into a module's named metric.
func (c *Collector) RecordModuleMetric(module, metric string, value float64) {
	now := time.Now().UnixMilli()
	c.mu.Lock()
	defer c.mu.Unlock()

	metricsByName, ok := c.modules[module]
	if !ok {
		if len(c.modules) >= c.cfg.MaxModules {
			oldest := c.moduleOrder[0]
			c.moduleOrder = c.moduleOrder[1:]
			delete(c.modules, oldest)
			c.logger.Warn("module metric table full, evicting oldest", "evicted", oldest)
		}
		metricsByName = make(map[string]*ModuleMetric)
		c.modules[module] = metricsByName
		c.moduleOrder = append(c.moduleOrder, module)
	}
	mm, ok := metricsByName[metric]
	if !ok {
		mm = &ModuleMetric{Min: value, Max: value}
		metricsByName[metric] = mm
	}
	mm.Count++
	mm.Sum += value
	if value < mm.Min {
		mm.Min = value
	}
	if value > mm.Max {
		mm.Max = value
	}
	mm.LastValue = value
	mm.LastUpdate = now
}

// RegisterCollector attaches a custom collector under a name. Its value is
// recorded into every subsequent snapshot; failures are logged and the name
// omitted.
func (c *Collector) RegisterCollector(name string, fn CollectorFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.collectors[name] = fn
}

// UnregisterCollector removes a custom collector.
func (c *Collector) UnregisterCollector(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.collectors, name)
}

// Snapshot returns a copy of all counters plus fresh custom collector values.
func (c *Collector) Snapshot(ctx context.Context) Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		StartTime: c.startTime.UnixMilli(),
		Uptime:    time.Since(c.startTime).Milliseconds(),
		Events:    make(map[string]EventMetrics, len(c.events)),
		Modules:   make(map[string]map[string]ModuleMetric, len(c.modules)),
		System:    c.system,
	}
	for name, em := range c.events {
		snap.Events[name] = *em
	}
	for module, metricsByName := range c.modules {
		out := make(map[string]ModuleMetric, len(metricsByName))
		for metric, mm := range metricsByName {
			out[metric] = *mm
		}
		snap.Modules[module] = out
	}
	names := make([]string, 0, len(c.collectors))
	for name := range c.collectors {
		names = append(names, name)
	}
	c.mu.Unlock()

	if len(names) == 0 {
		return snap
	}
	sort.Strings(names)
	snap.Custom = make(map[string]any, len(names))
	for _, name := range names {
		c.mu.Lock()
		fn, ok := c.collectors[name]
		c.mu.Unlock()
		if !ok {
			continue
		}
		value, err := c.runCollector(ctx, fn)
		if err != nil {
			c.logger.Warn("custom collector failed", "collector", name, "error", err)
			continue
		}
		snap.Custom[name] = value
	}
	return snap
}

// runCollector invokes a custom collector with the configured timeout. The
// collector runs on its own goroutine so a stuck one cannot wedge snapshots.
func (c *Collector) runCollector(ctx context.Context, fn CollectorFunc) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CollectorTimeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	ch := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		ch <- outcome{value, err}
	}()
	select {
	case out := <-ch:
		return out.value, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Reset clears every counter and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
	c.events = make(map[string]*EventMetrics)
	c.eventOrder = nil
	c.modules = make(map[string]map[string]*ModuleMetric)
	c.moduleOrder = nil
	c.system = SystemStats{}
}
