package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/GoCodeAlone/gamify/eventbus"
)

const (
	// maxBackoff caps the exponential retry delay.
	maxBackoff = 30 * time.Second

	// FailedEventName is emitted when a delivery exhausts its retries.
	FailedEventName = "webhook.failed"
)

// Config tunes the pipeline.
type Config struct {
	// Secret signs outgoing payloads.
	Secret string `json:"secret" yaml:"secret" env:"WEBHOOK_SECRET"`
	// MaxQueueSize bounds the delivery queue; overflow drops the oldest item.
	MaxQueueSize int `json:"maxQueueSize" yaml:"maxQueueSize" default:"1000"`
	// RetryDelay is the base delay doubled per attempt.
	RetryDelay time.Duration `json:"retryDelay" yaml:"retryDelay" default:"1s"`
	// Timeout is the per-request default when a webhook sets none.
	Timeout time.Duration `json:"timeout" yaml:"timeout" default:"5s"`
	// Retries is the default number of retries after the first delivery
	// attempt, so an item is tried Retries+1 times in total.
	Retries int `json:"retries" yaml:"retries" default:"3"`
	// DrainTimeout bounds how long Close waits for the worker.
	DrainTimeout time.Duration `json:"drainTimeout" yaml:"drainTimeout" default:"10s"`
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 1000
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.Retries <= 0 {
		c.Retries = 3
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	return c
}

// queueItem is one pending delivery.
type queueItem struct {
	webhook    Webhook
	event      eventbus.Event
	attempts   int
	enqueuedAt int64
}

// payload is the signed wire body.
type payload struct {
	WebhookID string         `json:"webhookId"`
	Timestamp int64          `json:"timestamp"`
	Event     eventbus.Event `json:"event"`
}

// Pipeline fans events out to HTTP subscribers from a single background
// worker.
type Pipeline struct {
	cfg    Config
	signer *Signer
	logger *slog.Logger
	client *http.Client

	baseCtx context.Context
	cancel  context.CancelFunc
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.Mutex
	webhooks map[string]*Webhook
	queue    chan queueItem
	timers   map[*time.Timer]struct{}
	closed   bool

	bus *eventbus.Bus
	sub *eventbus.Subscription
}

// New creates a pipeline and starts its delivery worker.
func New(cfg Config, logger *slog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:      cfg,
		signer:   NewSigner(cfg.Secret),
		logger:   logger,
		client:   &http.Client{},
		baseCtx:  ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		webhooks: make(map[string]*Webhook),
		queue:    make(chan queueItem, cfg.MaxQueueSize),
		timers:   make(map[*time.Timer]struct{}),
	}
	go p.worker()
	return p
}

// Signer exposes the pipeline's signer for receiver-side verification.
func (p *Pipeline) Signer() *Signer { return p.signer }

// AddWebhook registers a subscription. Missing fields are defaulted; the
// normalized record is returned.
func (p *Pipeline) AddWebhook(webhook Webhook) (Webhook, error) {
	if err := webhook.normalize(p.cfg.Timeout, p.cfg.Retries); err != nil {
		return Webhook{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return Webhook{}, ErrPipelineClosed
	}
	if _, ok := p.webhooks[webhook.ID]; ok {
		return Webhook{}, fmt.Errorf("%w: %q", ErrDuplicateWebhook, webhook.ID)
	}
	p.webhooks[webhook.ID] = &webhook
	return webhook, nil
}

// RemoveWebhook unregisters a subscription.
func (p *Pipeline) RemoveWebhook(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.webhooks[id]; !ok {
		return fmt.Errorf("%w: %q", ErrWebhookNotFound, id)
	}
	delete(p.webhooks, id)
	return nil
}

// Webhook returns one subscription by id.
func (p *Pipeline) Webhook(id string) (Webhook, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	webhook, ok := p.webhooks[id]
	if !ok {
		return Webhook{}, false
	}
	return *webhook, true
}

// Webhooks lists subscriptions ordered by creation time, then id.
func (p *Pipeline) Webhooks() []Webhook {
	p.mu.Lock()
	out := make([]Webhook, 0, len(p.webhooks))
	for _, webhook := range p.webhooks {
		out = append(out, *webhook)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SetEnabled toggles a subscription without recreating it.
func (p *Pipeline) SetEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	webhook, ok := p.webhooks[id]
	if !ok {
		return fmt.Errorf("%w: %q", ErrWebhookNotFound, id)
	}
	webhook.Enabled = enabled
	return nil
}

// Attach subscribes the pipeline to every event on the bus. Terminal
// failure events are not fanned back through the pipeline.
func (p *Pipeline) Attach(bus *eventbus.Bus) error {
	sub, err := bus.SubscribeWildcard("*", func(_ context.Context, event eventbus.Event) error {
		if event.Name == FailedEventName {
			return nil
		}
		p.Emit(event)
		return nil
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.bus = bus
	p.sub = sub
	p.mu.Unlock()
	return nil
}

// Emit enqueues one delivery per matched subscriber and returns how many
// were queued.
func (p *Pipeline) Emit(event eventbus.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	queued := 0
	now := time.Now().UnixMilli()
	for _, webhook := range p.webhooks {
		if !webhook.matches(event.Name) {
			continue
		}
		p.enqueueLocked(queueItem{webhook: *webhook, event: event, enqueuedAt: now})
		queued++
	}
	return queued
}

// enqueueLocked appends an item, evicting the oldest when the queue is full.
// Caller holds p.mu.
func (p *Pipeline) enqueueLocked(item queueItem) {
	for {
		select {
		case p.queue <- item:
			return
		default:
		}
		select {
		case dropped := <-p.queue:
			p.logger.Warn("webhook queue full, dropping oldest item",
				"webhookId", dropped.webhook.ID, "event", dropped.event.Name)
		default:
		}
	}
}

// requeue re-enqueues a retried item unless the pipeline has closed.
func (p *Pipeline) requeue(item queueItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.enqueueLocked(item)
}

// QueueDepth reports the number of queued deliveries.
func (p *Pipeline) QueueDepth() int {
	return len(p.queue)
}

func (p *Pipeline) worker() {
	defer close(p.doneCh)
	for {
		select {
		case <-p.stopCh:
			// Drain whatever is already queued, then exit.
			for {
				select {
				case item := <-p.queue:
					p.deliver(item)
				default:
					return
				}
			}
		case item := <-p.queue:
			p.deliver(item)
		}
	}
}

func (p *Pipeline) deliver(item queueItem) {
	body, err := json.Marshal(payload{
		WebhookID: item.webhook.ID,
		Timestamp: time.Now().UnixMilli(),
		Event:     item.event,
	})
	if err != nil {
		p.fail(item, fmt.Errorf("webhooks: marshal payload: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(p.baseCtx, item.webhook.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, item.webhook.URL, bytes.NewReader(body))
	if err != nil {
		p.fail(item, err)
		return
	}
	for key, value := range item.webhook.Headers {
		req.Header.Set(key, value)
	}
	// Authoritative headers override user-supplied ones.
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", p.signer.Sign(body))
	req.Header.Set("X-Webhook-Timestamp", fmt.Sprintf("%d", time.Now().UnixMilli()))
	req.Header.Set("X-Webhook-Event", item.event.Name)

	resp, err := p.client.Do(req)
	if err != nil {
		p.fail(item, err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.fail(item, fmt.Errorf("webhooks: unexpected status %d", resp.StatusCode))
		return
	}
	p.logger.Debug("webhook delivered",
		"webhookId", item.webhook.ID, "event", item.event.Name, "attempts", item.attempts+1)
}

// fail handles a failed attempt: schedule a retry with exponential backoff,
// or abandon the item and emit webhook.failed once the initial attempt plus
// Retries retries have all failed.
func (p *Pipeline) fail(item queueItem, cause error) {
	if item.attempts >= item.webhook.Retries {
		p.logger.Error("webhook delivery abandoned",
			"webhookId", item.webhook.ID, "event", item.event.Name,
			"attempts", item.attempts+1, "error", cause)
		p.emitFailed(item, cause)
		return
	}

	delay := p.backoff(item.attempts)
	p.logger.Warn("webhook delivery failed, scheduling retry",
		"webhookId", item.webhook.ID, "event", item.event.Name,
		"attempts", item.attempts+1, "delay", delay, "error", cause)

	item.attempts++
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		p.mu.Lock()
		delete(p.timers, timer)
		p.mu.Unlock()
		p.requeue(item)
	})
	p.timers[timer] = struct{}{}
	p.mu.Unlock()
}

func (p *Pipeline) backoff(attempts int) time.Duration {
	if attempts > 30 {
		return maxBackoff
	}
	delay := p.cfg.RetryDelay << uint(attempts)
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}

func (p *Pipeline) emitFailed(item queueItem, cause error) {
	p.mu.Lock()
	bus := p.bus
	p.mu.Unlock()
	if bus == nil {
		return
	}
	_, err := bus.Emit(p.baseCtx, FailedEventName, map[string]any{
		"webhookId": item.webhook.ID,
		"event":     item.event.Name,
		"error":     cause.Error(),
	})
	if err != nil {
		p.logger.Error("emit webhook.failed", "webhookId", item.webhook.ID, "error", err)
	}
}

// Close stops accepting emits, cancels pending retries, drains queued
// deliveries up to the drain timeout and returns the number of items left
// behind. Close is idempotent.
func (p *Pipeline) Close() int {
	p.mu.Lock()
	if p.closed {
		remaining := len(p.queue)
		p.mu.Unlock()
		return remaining
	}
	p.closed = true
	if p.sub != nil {
		p.sub.Cancel()
	}
	for timer := range p.timers {
		timer.Stop()
	}
	p.timers = make(map[*time.Timer]struct{})
	p.mu.Unlock()

	close(p.stopCh)
	select {
	case <-p.doneCh:
	case <-time.After(p.cfg.DrainTimeout):
	}
	p.cancel()

	remaining := len(p.queue)
	if remaining > 0 {
		p.logger.Warn("webhook pipeline closed with undelivered items", "remaining", remaining)
	}
	return remaining
}
