// Package eventbus implements asynchronous multi-listener dispatch with named
// and wildcard subscription and a bounded observable history. A single emit
// fans out to every matching handler concurrently and resolves once all
// handlers have returned; handler failures are collected, never propagated.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/gamify/internal/wildcard"
)

// Handler processes a single event. Handlers for one subscription are invoked
// serially; handlers across subscriptions run concurrently.
type Handler func(ctx context.Context, event Event) error

// Config tunes history retention.
type Config struct {
	// HistoryLimit is the maximum retained events per event name.
	HistoryLimit int `json:"historyLimit" yaml:"historyLimit" default:"100"`

	// MaxEventTypes is the maximum number of distinct event names retained in
	// history and stats. The oldest name (insertion order) is evicted at the
	// limit.
	MaxEventTypes int `json:"maxEventTypes" yaml:"maxEventTypes" default:"1000"`
}

// DefaultConfig returns the bus defaults.
func DefaultConfig() Config {
	return Config{HistoryLimit: 100, MaxEventTypes: 1000}
}

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.MaxEventTypes <= 0 {
		c.MaxEventTypes = 1000
	}
	return c
}

// Subscription is a handle for one registration. Cancel removes exactly that
// registration and is idempotent.
type Subscription struct {
	id      string
	pattern string
	handler Handler
	re      *regexp.Regexp // nil for named subscriptions

	// invokeMu serializes invocations of this subscription's handler so a
	// slow handler never runs against itself while peers proceed.
	invokeMu sync.Mutex

	cancelOnce sync.Once
	bus        *Bus
}

// ID returns the unique identifier of the subscription.
func (s *Subscription) ID() string { return s.id }

// Pattern returns the event name or wildcard pattern subscribed to.
func (s *Subscription) Pattern() string { return s.pattern }

// Cancel removes the registration. Safe to call multiple times.
func (s *Subscription) Cancel() {
	s.cancelOnce.Do(func() { s.bus.remove(s) })
}

// HandlerError pairs a failed handler with its subscription.
type HandlerError struct {
	SubscriptionID string
	Pattern        string
	Err            error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("handler %s (%s): %v", e.SubscriptionID, e.Pattern, e.Err)
}

// EmitResult reports the outcome of one emit.
type EmitResult struct {
	ID            string
	ListenerCount int
	Errors        []HandlerError
}

// NameStats is the per-name counter snapshot returned by Stats.
type NameStats struct {
	Count       int64 `json:"count"`
	LastEmitted int64 `json:"lastEmitted"`
	Listeners   int   `json:"listeners"`
}

type nameEntry struct {
	events []Event
	count  int64
	last   int64
}

// Bus is the in-process event bus.
type Bus struct {
	cfg Config

	mu        sync.RWMutex
	named     map[string]map[string]*Subscription
	wildcards map[string]*Subscription
	closed    bool

	historyMu sync.Mutex
	history   map[string]*nameEntry
	nameOrder []string
}

// New creates a bus with the given config.
func New(cfg Config) *Bus {
	return &Bus{
		cfg:       cfg.withDefaults(),
		named:     make(map[string]map[string]*Subscription),
		wildcards: make(map[string]*Subscription),
		history:   make(map[string]*nameEntry),
	}
}

// Subscribe registers a handler for an exact event name.
func (b *Bus) Subscribe(name string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}
	if !ValidEventName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}
	sub := &Subscription{id: uuid.NewString(), pattern: name, handler: handler, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	if _, ok := b.named[name]; !ok {
		b.named[name] = make(map[string]*Subscription)
	}
	b.named[name][sub.id] = sub
	return sub, nil
}

// SubscribeWildcard registers a handler for a wildcard pattern. Patterns
// exceeding the hard limits (length > 100, more than 10 wildcards) are
// rejected at registration.
func (b *Bus) SubscribeWildcard(pattern string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, ErrHandlerNil
	}
	re, err := wildcard.Compile(pattern)
	if err != nil {
		return nil, err
	}
	sub := &Subscription{id: uuid.NewString(), pattern: pattern, handler: handler, re: re, bus: b}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	b.wildcards[sub.id] = sub
	return sub, nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.re != nil {
		delete(b.wildcards, sub.id)
		return
	}
	if subs, ok := b.named[sub.pattern]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.named, sub.pattern)
		}
	}
}

// Emit validates the name, stamps the event, records it in history and
// dispatches it concurrently to every named and wildcard-matched handler.
// It returns once every handler has resolved. Handler failures appear in the
// result; they are never raised to the emitter.
func (b *Bus) Emit(ctx context.Context, name string, data map[string]any) (EmitResult, error) {
	return b.EmitEvent(ctx, NewEvent(name, data))
}

// EmitEvent dispatches an event stamped up front with NewEvent, preserving
// its id and timestamp. Emit semantics otherwise apply unchanged.
func (b *Bus) EmitEvent(ctx context.Context, event Event) (EmitResult, error) {
	name := event.Name
	if !ValidEventName(name) {
		return EmitResult{}, fmt.Errorf("%w: %q", ErrInvalidEventName, name)
	}

	// Snapshot matching subscriptions so dispatch runs without the lock.
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return EmitResult{}, ErrBusClosed
	}
	var targets []*Subscription
	for _, sub := range b.named[name] {
		targets = append(targets, sub)
	}
	for _, sub := range b.wildcards {
		if sub.re.MatchString(name) {
			targets = append(targets, sub)
		}
	}
	b.mu.RUnlock()

	b.recordHistory(event)

	result := EmitResult{ID: event.ID, ListenerCount: len(targets)}
	if len(targets) == 0 {
		return result, nil
	}

	errCh := make(chan HandlerError, len(targets))
	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			if err := b.invoke(ctx, sub, event); err != nil {
				errCh <- HandlerError{SubscriptionID: sub.id, Pattern: sub.pattern, Err: err}
			}
		}(sub)
	}
	wg.Wait()
	close(errCh)
	for he := range errCh {
		slog.Error("Event handler failed", "event", name, "pattern", he.Pattern, "error", he.Err)
		result.Errors = append(result.Errors, he)
	}
	return result, nil
}

// invoke runs one handler with per-subscription serialization and panic
// containment.
func (b *Bus) invoke(ctx context.Context, sub *Subscription, event Event) (err error) {
	sub.invokeMu.Lock()
	defer sub.invokeMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

func (b *Bus) recordHistory(event Event) {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()

	entry, ok := b.history[event.Name]
	if !ok {
		if len(b.nameOrder) >= b.cfg.MaxEventTypes {
			oldest := b.nameOrder[0]
			b.nameOrder = b.nameOrder[1:]
			delete(b.history, oldest)
			slog.Warn("Event history evicted name at capacity", "evicted", oldest, "maxEventTypes", b.cfg.MaxEventTypes)
		}
		entry = &nameEntry{}
		b.history[event.Name] = entry
		b.nameOrder = append(b.nameOrder, event.Name)
	}

	entry.events = append(entry.events, event)
	if len(entry.events) > b.cfg.HistoryLimit {
		entry.events = entry.events[len(entry.events)-b.cfg.HistoryLimit:]
	}
	entry.count++
	entry.last = event.Timestamp
}

// History returns a snapshot of retained events for one name, newest-last,
// truncated to the last limit entries. limit <= 0 means no truncation.
func (b *Bus) History(name string, limit int) []Event {
	b.historyMu.Lock()
	defer b.historyMu.Unlock()
	entry, ok := b.history[name]
	if !ok {
		return nil
	}
	events := entry.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// HistoryAll returns retained events across all names ordered by emit
// timestamp, newest-last, truncated to the last limit entries.
func (b *Bus) HistoryAll(limit int) []Event {
	b.historyMu.Lock()
	var all []Event
	for _, entry := range b.history {
		all = append(all, entry.events...)
	}
	b.historyMu.Unlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// Stats returns per-name emit counters and current named-listener counts.
func (b *Bus) Stats() map[string]NameStats {
	b.historyMu.Lock()
	stats := make(map[string]NameStats, len(b.history))
	for name, entry := range b.history {
		stats[name] = NameStats{Count: entry.count, LastEmitted: entry.last}
	}
	b.historyMu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, subs := range b.named {
		st := stats[name]
		st.Listeners = len(subs)
		stats[name] = st
	}
	return stats
}

// SubscriberCount returns the number of named subscriptions for an event name.
func (b *Bus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.named[name])
}

// Close rejects further emits and subscriptions and drops all registrations.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.named = make(map[string]map[string]*Subscription)
	b.wildcards = make(map[string]*Subscription)
}
