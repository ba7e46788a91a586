package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, o Options) (*slog.Logger, *bytes.Buffer, string) {
	t.Helper()
	var console bytes.Buffer
	o.Console = &console
	o.File = filepath.Join(t.TempDir(), "relay.log")
	if o.App == "" {
		o.App = "test-app"
	}
	l := New(o)
	t.Cleanup(func() { assert.NoError(t, Close(l)) })
	return l, &console, o.File
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestNew_DualOutput(t *testing.T) {
	l, console, file := newTestLogger(t, Options{Env: "prod", ConsoleLevel: "warn", FileLevel: "debug"})

	l.Debug("debug only in file")
	l.Info("info only in file")
	l.Warn("warn in both")

	content := readFile(t, file)
	assert.Contains(t, content, "debug only in file")
	assert.Contains(t, content, "info only in file")
	assert.Contains(t, content, "warn in both")
	assert.Contains(t, content, `"level":"DEBUG"`)
	assert.Contains(t, content, `"app":"test-app"`)

	assert.NotContains(t, console.String(), "info only in file")
	assert.Contains(t, console.String(), "warn in both")
}

func TestNew_DefaultLevels(t *testing.T) {
	l, console, file := newTestLogger(t, Options{Env: "dev"})

	l.Debug("debug message")
	l.Info("info message")

	assert.Contains(t, readFile(t, file), "debug message")
	assert.NotContains(t, console.String(), "debug message")
	assert.Contains(t, console.String(), "info message")
}

func TestNew_ConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	l := New(Options{Env: "dev", App: "test-app", Console: &console})
	l.Info("console only message")

	assert.Contains(t, console.String(), "console only message")
	assert.NoError(t, Close(l))
}

func TestRedactingHandler(t *testing.T) {
	l, console, file := newTestLogger(t, Options{Env: "prod", FileLevel: "debug"})

	l.Info("upstream request",
		slog.String("x-api-key", "sk-ant-1234567890abcdef"),
		slog.String("user", "john"),
		slog.Group("headers",
			slog.String("Authorization", "Bearer abcdefghijklmnop"),
			slog.String("Content-Type", "application/json"),
		),
	)
	l.With(slog.String("token", "123:abc")).Info("bot ready")

	for _, out := range []string{readFile(t, file), console.String()} {
		assert.NotContains(t, out, "sk-ant-1234567890abcdef")
		assert.NotContains(t, out, "abcdefghijklmnop")
		assert.NotContains(t, out, "123:abc")
		assert.Contains(t, out, redacted)
		assert.Contains(t, out, "john")
		assert.Contains(t, out, "application/json")
	}
}

func TestLooksSensitive(t *testing.T) {
	assert.True(t, LooksSensitive("sk-1234567890abcdef"))
	assert.True(t, LooksSensitive("Bearer abcdefghijkl"))
	assert.False(t, LooksSensitive("sk-short"))
	assert.False(t, LooksSensitive("http://127.0.0.1:9000/v1/messages"))
	assert.False(t, LooksSensitive(`{"usage":{"output_tokens":12}}`))
	assert.False(t, LooksSensitive("a task-based answer"))
}

func TestMultiHandler(t *testing.T) {
	var infoBuf, warnBuf bytes.Buffer
	h1 := slog.NewTextHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h2 := slog.NewTextHandler(&warnBuf, &slog.HandlerOptions{Level: slog.LevelWarn})
	multi := NewMultiHandler(h1, h2)
	ctx := context.Background()

	assert.True(t, multi.Enabled(ctx, slog.LevelInfo))
	assert.False(t, multi.Enabled(ctx, slog.LevelDebug))

	require.NoError(t, multi.Handle(ctx, slog.NewRecord(time.Now(), slog.LevelInfo, "info record", 0)))
	assert.Contains(t, infoBuf.String(), "info record")
	assert.Empty(t, warnBuf.String())

	l := slog.New(multi.WithAttrs([]slog.Attr{slog.String("key", "value")}).WithGroup("g"))
	l.Warn("warn record", slog.Int("n", 1))
	assert.Contains(t, warnBuf.String(), "key=value")
	assert.Contains(t, warnBuf.String(), "g.n=1")
}
