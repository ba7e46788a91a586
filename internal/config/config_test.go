package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "none")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "prod", c.Env)
	assert.Equal(t, "127.0.0.1:8787", c.HTTP.Addr)
	assert.Equal(t, "x-api-key", c.Upstream.AuthStyle)
	assert.Equal(t, 60*time.Second, c.Upstream.HeaderTimeout)
	assert.Equal(t, 8192, c.Retry.ProbeBytes)
	assert.Equal(t, 2*time.Second, c.Retry.ProbeTimeout)
	assert.True(t, c.Metrics.Enabled)

	p := c.RetryPolicy()
	assert.Equal(t, 3, p.MaxRetries)
	assert.Equal(t, time.Second, p.InitialBackoff)
	assert.Equal(t, 2.0, p.Multiplier)
	assert.Equal(t, 30*time.Second, p.MaxBackoff)
	assert.Equal(t, 0.1, p.JitterFactor)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "postgres://relay@localhost/relay")
	t.Setenv("UPSTREAM_BASE_URL", "http://127.0.0.1:9000")
	t.Setenv("UPSTREAM_AUTH_STYLE", "Bearer")
	t.Setenv("RETRY_MAX_RETRIES", "5")
	t.Setenv("RETRY_INITIAL_BACKOFF", "250ms")
	t.Setenv("RETRY_MAX_BACKOFF", "4s")
	t.Setenv("RETRY_JITTER", "0")
	t.Setenv("RETRY_PROBE_TIMEOUT", "0s")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_ALERT_CHAT_ID", "42")
	t.Setenv("TELEGRAM_ALLOWED_IDS", "1, 2,\n3")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bearer", c.Upstream.AuthStyle)
	assert.Equal(t, 5, c.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, c.Retry.InitialBackoff)
	assert.Equal(t, 4*time.Second, c.Retry.MaxBackoff)
	assert.Zero(t, c.Retry.Jitter)
	assert.Zero(t, c.Retry.ProbeTimeout)
	assert.Equal(t, int64(42), c.Telegram.AlertChatID)
	assert.Equal(t, []int64{1, 2, 3}, c.Telegram.AllowedIDs)
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"RETRY_INITIAL_BACKOFF": "soon"}},
		{"bad int", map[string]string{"RETRY_MAX_RETRIES": "three"}},
		{"negative retries", map[string]string{"RETRY_MAX_RETRIES": "-1"}},
		{"multiplier below one", map[string]string{"RETRY_MULTIPLIER": "0.5"}},
		{"max below initial", map[string]string{"RETRY_INITIAL_BACKOFF": "10s", "RETRY_MAX_BACKOFF": "1s"}},
		{"jitter above one", map[string]string{"RETRY_JITTER": "1.5"}},
		{"nan multiplier", map[string]string{"RETRY_MULTIPLIER": "NaN"}},
		{"nan jitter", map[string]string{"RETRY_JITTER": "NaN"}},
		{"negative probe timeout", map[string]string{"RETRY_PROBE_TIMEOUT": "-1s"}},
		{"bad url", map[string]string{"UPSTREAM_BASE_URL": "not a url"}},
		{"unknown auth style", map[string]string{"UPSTREAM_AUTH_STYLE": "basic"}},
		{"postgres without dsn", map[string]string{"STORE_DRIVER": "postgres"}},
		{"telegram without chat", map[string]string{"TELEGRAM_BOT_TOKEN": "123:abc"}},
		{"bad allowed ids", map[string]string{"TELEGRAM_ALLOWED_IDS": "1,x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_DRIVER", "none")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
