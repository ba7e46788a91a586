package logger

import (
	"context"
	"log/slog"
	"strings"
)

const redacted = "[REDACTED]"

// RedactingHandler masks sensitive log attributes, including inside groups.
type RedactingHandler struct {
	inner slog.Handler
	keys  map[string]struct{}
}

// NewRedactingHandler wraps handler with redaction of sensitive fields.
func NewRedactingHandler(inner slog.Handler, sensitive []string) *RedactingHandler {
	m := make(map[string]struct{}, len(sensitive))
	for _, k := range sensitive {
		m[strings.ToLower(k)] = struct{}{}
	}
	return &RedactingHandler{inner: inner, keys: m}
}

// Enabled implements slog.Handler.
func (h *RedactingHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return h.inner.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (h *RedactingHandler) Handle(ctx context.Context, r slog.Record) error {
	nr := slog.NewRecord(r.Time, r.Level, r.Message, r.PC)
	r.Attrs(func(a slog.Attr) bool {
		nr.AddAttrs(h.sanitize(a))
		return true
	})
	return h.inner.Handle(ctx, nr)
}

// WithAttrs implements slog.Handler.
func (h *RedactingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.sanitize(a)
	}
	return &RedactingHandler{inner: h.inner.WithAttrs(clean), keys: h.keys}
}

// WithGroup implements slog.Handler.
func (h *RedactingHandler) WithGroup(name string) slog.Handler {
	return &RedactingHandler{inner: h.inner.WithGroup(name), keys: h.keys}
}

// Sensitive reports whether key is one of the redacted keys.
func (h *RedactingHandler) Sensitive(key string) bool {
	_, ok := h.keys[strings.ToLower(key)]
	return ok
}

func (h *RedactingHandler) sanitize(a slog.Attr) slog.Attr {
	if h.Sensitive(a.Key) {
		return slog.String(a.Key, redacted)
	}
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindGroup:
		group := v.Group()
		clean := make([]any, len(group))
		for i, g := range group {
			clean[i] = h.sanitize(g)
		}
		return slog.Group(a.Key, clean...)
	case slog.KindString:
		if LooksSensitive(v.String()) {
			return slog.String(a.Key, redacted)
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

// LooksSensitive reports whether a value resembles a credential. Only prefixes
// are checked so that request and stream content passes through intact.
func LooksSensitive(s string) bool {
	if len(s) <= 12 {
		return false
	}
	return strings.HasPrefix(s, "sk-") || strings.HasPrefix(strings.ToLower(s), "bearer ")
}
