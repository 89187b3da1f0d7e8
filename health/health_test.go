package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHealthAggregation(t *testing.T) {
	c := New(Config{}, nil)
	c.RegisterCheck("storage", func(context.Context) error { return nil })
	c.RegisterCheck("eventbus", func(context.Context) error { return nil })

	c.RunChecks(context.Background())
	report := c.Health()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Len(t, report.Checks, 2)
	assert.True(t, report.Checks["storage"].Healthy)

	c.RegisterCheck("webhooks", func(context.Context) error { return errors.New("queue stalled") })
	c.RunChecks(context.Background())
	report = c.Health()
	assert.Equal(t, StatusDegraded, report.Status)
	assert.Equal(t, "queue stalled", report.Checks["webhooks"].Error)

	broken := func(context.Context) error { return errors.New("down") }
	c.RegisterCheck("storage", broken)
	c.RegisterCheck("eventbus", broken)
	c.RunChecks(context.Background())
	assert.Equal(t, StatusUnhealthy, c.Health().Status)
}

func TestNoChecksIsHealthy(t *testing.T) {
	c := New(Config{}, nil)
	report := c.Health()
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Checks)
}

func TestCheckTimeout(t *testing.T) {
	c := New(Config{CheckTimeout: 20 * time.Millisecond}, nil)
	c.RegisterCheck("slow", func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})

	began := time.Now()
	c.RunChecks(context.Background())
	assert.Less(t, time.Since(began), 500*time.Millisecond)
	assert.False(t, c.Health().Checks["slow"].Healthy)
}

func TestStartPollsAndStopIsIdempotent(t *testing.T) {
	c := New(Config{Interval: 10 * time.Millisecond}, nil)
	c.RegisterCheck("ok", func(context.Context) error { return nil })
	c.Start()

	assert.Eventually(t, func() bool {
		return len(c.Health().Checks) == 1
	}, 2*time.Second, 5*time.Millisecond)

	c.Stop()
	c.Stop()
}
