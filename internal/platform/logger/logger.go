package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options defines parameters for logger creation.
type Options struct {
	Env          string
	ConsoleLevel string // Level for console output (default: info)
	FileLevel    string // Level for file output (default: debug)
	File         string
	App          string
	// Console overrides os.Stdout, mostly for tests.
	Console io.Writer
	// Sensitive overrides DefaultSensitiveKeys.
	Sensitive []string
}

// DefaultSensitiveKeys are attribute keys whose values never reach a log sink.
var DefaultSensitiveKeys = []string{
	"token", "secret", "api_key", "authorization", "proxy-authorization", "x-api-key",
}

var closers sync.Map

// New creates configured slog.Logger instance.
func New(o Options) *slog.Logger {
	consoleLvl := levelFromString(o.ConsoleLevel, slog.LevelInfo)
	fileLvl := levelFromString(o.FileLevel, slog.LevelDebug)
	sensitive := o.Sensitive
	if sensitive == nil {
		sensitive = DefaultSensitiveKeys
	}
	console := o.Console
	if console == nil {
		console = os.Stdout
	}

	timeFormat := time.RFC3339
	if o.Env == "dev" {
		timeFormat = time.Kitchen
	}
	handlers := []slog.Handler{
		NewRedactingHandler(tint.NewHandler(console, &tint.Options{Level: consoleLvl, TimeFormat: timeFormat}), sensitive),
	}

	var closer func() error
	if o.File != "" {
		w := NewRotatingWriter(o.File)
		closer = w.Close
		fileHandler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: fileLvl})
		handlers = append(handlers, NewRedactingHandler(fileHandler, sensitive))
	}

	var h slog.Handler = handlers[0]
	if len(handlers) > 1 {
		h = NewMultiHandler(handlers...)
	}

	l := slog.New(h).With(
		slog.String("app", o.App),
		slog.String("env", o.Env),
	)
	if closer != nil {
		closers.Store(l, closer)
	}
	return l
}

// NewRotatingWriter returns a size-rotated file writer with the settings shared by
// every log file the relay writes.
func NewRotatingWriter(path string) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
}

// Close closes all file handlers to release resources.
// Should be called when shutting down the application.
func Close(logger *slog.Logger) error {
	if c, ok := closers.LoadAndDelete(logger); ok {
		return c.(func() error)()
	}
	return nil
}

func levelFromString(s string, def slog.Level) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return def
	}
}
