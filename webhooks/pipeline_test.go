package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/gamify/eventbus"
)

func newTestPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p := New(cfg, nil)
	t.Cleanup(func() { p.Close() })
	return p
}

func addWebhook(t *testing.T, p *Pipeline, url string, events ...string) Webhook {
	t.Helper()
	webhook, err := p.AddWebhook(Webhook{URL: url, Events: events, Enabled: true})
	require.NoError(t, err)
	return webhook
}

func testEvent(name string) eventbus.Event {
	return eventbus.Event{
		ID:        "evt_1",
		Name:      name,
		Timestamp: time.Now().UnixMilli(),
		Data:      map[string]any{"userId": "u1"},
	}
}

func TestRegistryOperations(t *testing.T) {
	p := newTestPipeline(t, Config{})

	first := addWebhook(t, p, "https://example.com/a", "*")
	_, err := p.AddWebhook(Webhook{ID: first.ID, URL: "https://example.com/b", Events: []string{"*"}})
	assert.ErrorIs(t, err, ErrDuplicateWebhook)

	got, ok := p.Webhook(first.ID)
	require.True(t, ok)
	assert.Equal(t, first.URL, got.URL)

	second, err := p.AddWebhook(Webhook{
		URL: "https://example.com/b", Events: []string{"*"}, CreatedAt: first.CreatedAt + 1,
	})
	require.NoError(t, err)
	listed := p.Webhooks()
	require.Len(t, listed, 2)
	assert.Equal(t, first.ID, listed[0].ID)
	assert.Equal(t, second.ID, listed[1].ID)

	require.NoError(t, p.SetEnabled(first.ID, false))
	got, _ = p.Webhook(first.ID)
	assert.False(t, got.Enabled)

	require.NoError(t, p.RemoveWebhook(first.ID))
	assert.ErrorIs(t, p.RemoveWebhook(first.ID), ErrWebhookNotFound)
	assert.ErrorIs(t, p.SetEnabled(first.ID, true), ErrWebhookNotFound)
}

func TestDeliverySignsAndSetsAuthoritativeHeaders(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodies := make(chan []byte, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		received <- r
	}))
	defer server.Close()

	p := newTestPipeline(t, Config{Secret: "s3cret"})
	webhook, err := p.AddWebhook(Webhook{
		URL:     server.URL,
		Events:  []string{"points.*"},
		Enabled: true,
		Headers: map[string]string{
			"X-Custom":            "kept",
			"X-Webhook-Signature": "spoofed",
		},
	})
	require.NoError(t, err)

	queued := p.Emit(testEvent("points.awarded"))
	assert.Equal(t, 1, queued)

	select {
	case r := <-received:
		body := <-bodies
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "kept", r.Header.Get("X-Custom"))
		assert.Equal(t, "points.awarded", r.Header.Get("X-Webhook-Event"))
		assert.NotEmpty(t, r.Header.Get("X-Webhook-Timestamp"))
		// The signature covers the exact body and wins over user headers.
		signature := r.Header.Get("X-Webhook-Signature")
		assert.NotEqual(t, "spoofed", signature)
		assert.True(t, p.Signer().VerifySignature(body, signature))

		var wire payload
		require.NoError(t, json.Unmarshal(body, &wire))
		assert.Equal(t, webhook.ID, wire.WebhookID)
		assert.Equal(t, "points.awarded", wire.Event.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never arrived")
	}
}

func TestEmitSkipsNonMatchingAndDisabled(t *testing.T) {
	p := newTestPipeline(t, Config{})
	webhook := addWebhook(t, p, "https://example.com/a", "points.*")

	assert.Equal(t, 0, p.Emit(testEvent("badges.awarded")))

	require.NoError(t, p.SetEnabled(webhook.ID, false))
	assert.Equal(t, 0, p.Emit(testEvent("points.awarded")))
}

func TestRetryUntilSuccess(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	p := newTestPipeline(t, Config{RetryDelay: 5 * time.Millisecond, Retries: 5})
	addWebhook(t, p, server.URL, "*")
	p.Emit(testEvent("points.awarded"))

	assert.Eventually(t, func() bool { return calls.Load() == 3 },
		2*time.Second, 10*time.Millisecond)
}

func TestExhaustedRetriesEmitFailedEvent(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	bus := eventbus.New(eventbus.Config{})
	defer bus.Close()

	failed := make(chan eventbus.Event, 1)
	_, err := bus.Subscribe(FailedEventName, func(_ context.Context, event eventbus.Event) error {
		failed <- event
		return nil
	})
	require.NoError(t, err)

	p := newTestPipeline(t, Config{RetryDelay: 5 * time.Millisecond, Retries: 2})
	require.NoError(t, p.Attach(bus))
	webhook := addWebhook(t, p, server.URL, "*")

	_, err = bus.Emit(context.Background(), "points.awarded", map[string]any{"userId": "u1"})
	require.NoError(t, err)

	select {
	case event := <-failed:
		assert.Equal(t, webhook.ID, event.Data["webhookId"])
		assert.Equal(t, "points.awarded", event.Data["event"])
		assert.NotEmpty(t, event.Data["error"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook.failed never emitted")
	}

	// Initial attempt plus two retries, and the failure event must not
	// loop back into the pipeline.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestQueueOverflowDropsOldest(t *testing.T) {
	release := make(chan struct{})
	blocked := make(chan struct{})
	var blockOnce sync.Once
	var mu sync.Mutex
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.Header.Get("X-Webhook-Event")
		if name == "hold.start" {
			blockOnce.Do(func() { close(blocked) })
			<-release
			return
		}
		mu.Lock()
		seen = append(seen, name)
		mu.Unlock()
	}))
	defer server.Close()
	defer close(release)

	p := newTestPipeline(t, Config{MaxQueueSize: 2, Retries: 1})
	addWebhook(t, p, server.URL, "*")

	// Park the worker on a delivery so the queue actually fills.
	p.Emit(testEvent("hold.start"))
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never picked up the blocking delivery")
	}

	for _, name := range []string{"data.1", "data.2", "data.3", "data.4"} {
		p.Emit(testEvent(name))
	}
	assert.Equal(t, 2, p.QueueDepth())

	release <- struct{}{}
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"data.3", "data.4"}, seen)
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	p := newTestPipeline(t, Config{RetryDelay: time.Second})
	assert.Equal(t, time.Second, p.backoff(0))
	assert.Equal(t, 8*time.Second, p.backoff(3))
	assert.Equal(t, maxBackoff, p.backoff(10))
	assert.Equal(t, maxBackoff, p.backoff(63))
}

func TestCloseReportsRemainingAndIsIdempotent(t *testing.T) {
	release := make(chan struct{})
	blocked := make(chan struct{})
	var blockOnce sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		blockOnce.Do(func() { close(blocked) })
		<-release
	}))
	defer server.Close()
	defer close(release)

	p := New(Config{DrainTimeout: 20 * time.Millisecond, Retries: 1}, nil)
	_, err := p.AddWebhook(Webhook{
		URL: server.URL, Events: []string{"*"}, Enabled: true, Timeout: 5 * time.Second,
	})
	require.NoError(t, err)

	for _, name := range []string{"a.1", "a.2", "a.3"} {
		p.Emit(testEvent(name))
	}
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never started delivering")
	}

	remaining := p.Close()
	assert.GreaterOrEqual(t, remaining, 1)
	assert.Equal(t, p.Close(), p.QueueDepth())

	// Emits after Close are rejected.
	assert.Equal(t, 0, p.Emit(testEvent("a.4")))
	_, err = p.AddWebhook(Webhook{URL: "https://example.com", Events: []string{"*"}})
	assert.ErrorIs(t, err, ErrPipelineClosed)
}
