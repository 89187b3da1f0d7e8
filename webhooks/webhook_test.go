package webhooks

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDefaults(t *testing.T) {
	webhook := Webhook{
		URL:    "https://example.com/hook",
		Events: []string{"points.*"},
	}
	require.NoError(t, webhook.normalize(5*time.Second, 3))

	assert.True(t, strings.HasPrefix(webhook.ID, "wh_"))
	assert.Equal(t, 5*time.Second, webhook.Timeout)
	assert.Equal(t, 3, webhook.Retries)
	assert.NotZero(t, webhook.CreatedAt)
}

func TestNormalizeKeepsExplicitValues(t *testing.T) {
	webhook := Webhook{
		ID:      "wh_custom",
		URL:     "http://localhost:9000/x",
		Events:  []string{"*"},
		Retries: 7,
		Timeout: time.Second,
	}
	require.NoError(t, webhook.normalize(5*time.Second, 3))
	assert.Equal(t, "wh_custom", webhook.ID)
	assert.Equal(t, 7, webhook.Retries)
	assert.Equal(t, time.Second, webhook.Timeout)
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	for _, url := range []string{"", "not a url", "http://", "/relative/path"} {
		webhook := Webhook{URL: url, Events: []string{"*"}}
		assert.ErrorIs(t, webhook.normalize(time.Second, 1), ErrInvalidURL, "url %q", url)
	}

	webhook := Webhook{URL: "https://example.com"}
	assert.ErrorIs(t, webhook.normalize(time.Second, 1), ErrNoEvents)

	webhook = Webhook{URL: "https://example.com", Events: []string{strings.Repeat("x", 200)}}
	assert.Error(t, webhook.normalize(time.Second, 1))
}

func TestMatches(t *testing.T) {
	webhook := Webhook{Enabled: true, Events: []string{"points.*", "badges.awarded"}}
	assert.True(t, webhook.matches("points.awarded"))
	assert.True(t, webhook.matches("badges.awarded"))
	assert.False(t, webhook.matches("quests.completed"))

	webhook.Enabled = false
	assert.False(t, webhook.matches("points.awarded"))
}

func TestSignerRoundTrip(t *testing.T) {
	signer := NewSigner("top-secret")
	body := []byte(`{"webhookId":"wh_1","timestamp":1,"event":{}}`)

	signature := signer.Sign(body)
	assert.Len(t, signature, 64) // hex sha256
	assert.True(t, signer.VerifySignature(body, signature))

	assert.False(t, signer.VerifySignature(body, signature[:32]))
	assert.False(t, signer.VerifySignature([]byte("tampered"), signature))
	assert.False(t, NewSigner("other-secret").VerifySignature(body, signature))
}
