package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"llm-relay/pkg/retry"
)

// Config holds application configuration values.
type Config struct {
	Env  string `validate:"required,oneof=dev prod"`
	HTTP struct {
		Addr string `validate:"required"`
	}
	Log struct {
		ConsoleLevel string `validate:"required,oneof=debug info warn error"`
		FileLevel    string `validate:"required,oneof=debug info warn error"`
		File         string
		// DebugFile receives the full upstream traffic trace; empty disables it.
		DebugFile string
	}
	Upstream struct {
		Name          string `validate:"required"`
		BaseURL       string `validate:"required,url"`
		APIKey        string
		AuthStyle     string        `validate:"required,oneof=bearer x-api-key"`
		Timeout       time.Duration `validate:"gte=0"`
		HeaderTimeout time.Duration `validate:"gt=0"`
		// ConnectRetries is the number of retries on transport errors before any response.
		ConnectRetries int `validate:"gte=0"`
	}
	Retry struct {
		MaxRetries     int           `validate:"gte=0"`
		InitialBackoff time.Duration `validate:"gt=0"`
		Multiplier     float64       `validate:"gte=1"`
		MaxBackoff     time.Duration `validate:"gtefield=InitialBackoff"`
		Jitter         float64       `validate:"gte=0,lte=1"`
		// ProbeBytes is how much of a stream is held back and scanned before it is released.
		ProbeBytes int `validate:"gt=0"`
		// ProbeTimeout caps how long a stream is held back; 0 disables it.
		ProbeTimeout time.Duration `validate:"gte=0"`
	}
	Store struct {
		Driver        string        `validate:"required,oneof=none sqlite postgres"`
		SQLitePath    string        `validate:"required_if=Driver sqlite"`
		PostgresDSN   string        `validate:"required_if=Driver postgres"`
		Retention     time.Duration `validate:"gte=0"`
		PruneSchedule string        `validate:"required"`
	}
	Telegram struct {
		Token       string
		AlertChatID int64
		AllowedIDs  []int64
	}
	Metrics struct {
		Enabled bool
	}
}

var validate = validator.New()

// Load reads configuration from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	var (
		c    Config
		errs []error
	)
	c.Env = getenv("ENV", "prod")
	c.HTTP.Addr = getenv("HTTP_ADDR", "127.0.0.1:8787")
	c.Log.ConsoleLevel = strings.ToLower(getenv("LOG_CONSOLE_LEVEL", "info"))
	c.Log.FileLevel = strings.ToLower(getenv("LOG_FILE_LEVEL", "debug"))
	c.Log.File = getenv("LOG_FILE", "data/logs/relay.log")
	c.Log.DebugFile = os.Getenv("DEBUG_LOG_FILE")

	c.Upstream.Name = getenv("UPSTREAM_NAME", "anthropic")
	c.Upstream.BaseURL = getenv("UPSTREAM_BASE_URL", "https://api.anthropic.com")
	c.Upstream.APIKey = os.Getenv("UPSTREAM_API_KEY")
	c.Upstream.AuthStyle = strings.ToLower(getenv("UPSTREAM_AUTH_STYLE", "x-api-key"))
	c.Upstream.Timeout = getDuration("UPSTREAM_TIMEOUT", 0, &errs)
	c.Upstream.HeaderTimeout = getDuration("UPSTREAM_HEADER_TIMEOUT", 60*time.Second, &errs)
	c.Upstream.ConnectRetries = getInt("UPSTREAM_CONNECT_RETRIES", 1, &errs)

	def := retry.DefaultPolicy()
	c.Retry.MaxRetries = getInt("RETRY_MAX_RETRIES", def.MaxRetries, &errs)
	c.Retry.InitialBackoff = getDuration("RETRY_INITIAL_BACKOFF", def.InitialBackoff, &errs)
	c.Retry.Multiplier = getFloat("RETRY_MULTIPLIER", def.Multiplier, &errs)
	c.Retry.MaxBackoff = getDuration("RETRY_MAX_BACKOFF", def.MaxBackoff, &errs)
	c.Retry.Jitter = getFloat("RETRY_JITTER", def.JitterFactor, &errs)
	c.Retry.ProbeBytes = getInt("RETRY_PROBE_BYTES", 8192, &errs)
	c.Retry.ProbeTimeout = getDuration("RETRY_PROBE_TIMEOUT", 2*time.Second, &errs)

	c.Store.Driver = strings.ToLower(getenv("STORE_DRIVER", "sqlite"))
	c.Store.SQLitePath = getenv("SQLITE_PATH", "data/relay.db")
	c.Store.PostgresDSN = os.Getenv("POSTGRES_DSN")
	c.Store.Retention = getDuration("JOURNAL_RETENTION", 7*24*time.Hour, &errs)
	c.Store.PruneSchedule = getenv("JOURNAL_PRUNE_SCHEDULE", "0 0 * * * *")

	c.Telegram.Token = os.Getenv("TELEGRAM_BOT_TOKEN")
	c.Telegram.AlertChatID = int64(getInt("TELEGRAM_ALERT_CHAT_ID", 0, &errs))
	c.Telegram.AllowedIDs = parseIDs(os.Getenv("TELEGRAM_ALLOWED_IDS"), &errs)

	c.Metrics.Enabled = getBool("METRICS_ENABLED", true, &errs)

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	if err := validate.Struct(c); err != nil {
		return Config{}, err
	}
	if err := c.RetryPolicy().Validate(); err != nil {
		return Config{}, err
	}
	if c.Telegram.Token != "" && c.Telegram.AlertChatID == 0 {
		return Config{}, errors.New("TELEGRAM_ALERT_CHAT_ID required when TELEGRAM_BOT_TOKEN is set")
	}
	return c, nil
}

// RetryPolicy converts the retry section into a retry.Policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxRetries:     c.Retry.MaxRetries,
		InitialBackoff: c.Retry.InitialBackoff,
		Multiplier:     c.Retry.Multiplier,
		MaxBackoff:     c.Retry.MaxBackoff,
		JitterFactor:   c.Retry.Jitter,
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getDuration(k string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return d
}

func getInt(k string, def int, errs *[]error) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return n
}

func getFloat(k string, def float64, errs *[]error) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return f
}

func getBool(k string, def bool, errs *[]error) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", k, err))
		return def
	}
	return b
}

// parseIDs parses a comma or newline separated list of Telegram user IDs.
func parseIDs(s string, errs *[]error) []int64 {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' || r == '\t' || r == ' ' })
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("TELEGRAM_ALLOWED_IDS: %w", err))
			continue
		}
		out = append(out, n)
	}
	return out
}
