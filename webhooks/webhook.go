package webhooks

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/gamify/internal/wildcard"
)

// Package errors.
var (
	ErrDuplicateWebhook = errors.New("webhooks: duplicate webhook id")
	ErrWebhookNotFound  = errors.New("webhooks: webhook not found")
	ErrInvalidURL       = errors.New("webhooks: invalid url")
	ErrNoEvents         = errors.New("webhooks: at least one event pattern required")
	ErrPipelineClosed   = errors.New("webhooks: pipeline closed")
)

// Webhook is one delivery subscription.
type Webhook struct {
	ID        string            `json:"id"`
	URL       string            `json:"url"`
	Events    []string          `json:"events"`
	Headers   map[string]string `json:"headers,omitempty"`
	Enabled   bool              `json:"enabled"`
	Retries   int               `json:"retries"`
	Timeout   time.Duration     `json:"timeout"`
	CreatedAt int64             `json:"createdAt"`
}

// normalize fills defaults and validates the subscription. A missing ID is
// generated.
func (w *Webhook) normalize(defaultTimeout time.Duration, defaultRetries int) error {
	parsed, err := url.Parse(w.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidURL, w.URL)
	}
	if len(w.Events) == 0 {
		return ErrNoEvents
	}
	for _, pattern := range w.Events {
		if err := wildcard.Validate(pattern); err != nil {
			return fmt.Errorf("webhooks: event pattern %q: %w", pattern, err)
		}
	}
	if w.ID == "" {
		w.ID = "wh_" + uuid.NewString()
	}
	if w.Timeout <= 0 {
		w.Timeout = defaultTimeout
	}
	if w.Retries < 0 {
		w.Retries = 0
	}
	if w.Retries == 0 {
		w.Retries = defaultRetries
	}
	if w.CreatedAt == 0 {
		w.CreatedAt = time.Now().UnixMilli()
	}
	return nil
}

// matches reports whether the subscription wants the named event.
func (w *Webhook) matches(eventName string) bool {
	if !w.Enabled {
		return false
	}
	for _, pattern := range w.Events {
		if pattern == "*" || pattern == eventName {
			return true
		}
		if wildcard.Match(pattern, eventName) {
			return true
		}
	}
	return false
}
