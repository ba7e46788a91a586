// Package debuglog writes a per-request trace of upstream traffic: the outgoing
// request, response headers, every streamed chunk and upstream failures.
// Entries are JSON lines in a size-rotated file, with credentials redacted.
package debuglog

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"sort"

	json "github.com/goccy/go-json"

	"llm-relay/internal/platform/logger"
)

// Recorder receives upstream traffic events. Implementations must be safe for
// concurrent use.
type Recorder interface {
	Request(ctx context.Context, requestID, upstream, url string, header http.Header, body []byte)
	ResponseHeaders(ctx context.Context, requestID string, status int, header http.Header)
	Chunk(ctx context.Context, requestID string, chunk []byte)
	ResponseError(ctx context.Context, requestID string, status int, body []byte)
	NetworkError(ctx context.Context, requestID string, err error)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Request(context.Context, string, string, string, http.Header, []byte) {}
func (Nop) ResponseHeaders(context.Context, string, int, http.Header)            {}
func (Nop) Chunk(context.Context, string, []byte)                                {}
func (Nop) ResponseError(context.Context, string, int, []byte)                   {}
func (Nop) NetworkError(context.Context, string, error)                          {}

// FileRecorder writes events through slog.
type FileRecorder struct {
	log    *slog.Logger
	closer io.Closer
}

// Open returns a recorder writing to a rotated file at path.
func Open(path string) *FileRecorder {
	w := logger.NewRotatingWriter(path)
	r := NewRecorder(w)
	r.closer = w
	return r
}

// NewRecorder returns a recorder writing JSON lines to w.
func NewRecorder(w io.Writer) *FileRecorder {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	return &FileRecorder{log: slog.New(logger.NewRedactingHandler(h, logger.DefaultSensitiveKeys))}
}

// Close closes the underlying file, if any.
func (r *FileRecorder) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

func (r *FileRecorder) Request(ctx context.Context, requestID, upstream, url string, header http.Header, body []byte) {
	r.log.LogAttrs(ctx, slog.LevelInfo, "request",
		slog.String("request_id", requestID),
		slog.String("upstream", upstream),
		slog.String("url", url),
		headerAttr(header),
		bodyAttr(body),
	)
}

func (r *FileRecorder) ResponseHeaders(ctx context.Context, requestID string, status int, header http.Header) {
	r.log.LogAttrs(ctx, slog.LevelInfo, "response",
		slog.String("request_id", requestID),
		slog.Int("status", status),
		headerAttr(header),
	)
}

func (r *FileRecorder) Chunk(ctx context.Context, requestID string, chunk []byte) {
	r.log.LogAttrs(ctx, slog.LevelDebug, "chunk",
		slog.String("request_id", requestID),
		slog.String("content", string(chunk)),
	)
}

func (r *FileRecorder) ResponseError(ctx context.Context, requestID string, status int, body []byte) {
	text := string(body)
	if len(body) == 0 {
		text = "(empty)"
	}
	r.log.LogAttrs(ctx, slog.LevelWarn, "upstream error",
		slog.String("request_id", requestID),
		slog.Int("status", status),
		slog.String("body", text),
	)
}

func (r *FileRecorder) NetworkError(ctx context.Context, requestID string, err error) {
	r.log.LogAttrs(ctx, slog.LevelError, "network error",
		slog.String("request_id", requestID),
		slog.String("error", err.Error()),
	)
}

// headerAttr renders headers as a group so the redacting handler sees each key.
func headerAttr(h http.Header) slog.Attr {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]any, 0, len(keys))
	for _, k := range keys {
		vals := h[k]
		if len(vals) == 1 {
			attrs = append(attrs, slog.String(k, vals[0]))
		} else {
			attrs = append(attrs, slog.Any(k, vals))
		}
	}
	return slog.Group("headers", attrs...)
}

// bodyAttr embeds JSON bodies as JSON and anything else as a string.
func bodyAttr(body []byte) slog.Attr {
	var buf bytes.Buffer
	if len(body) > 0 && json.Compact(&buf, body) == nil {
		return slog.Any("body", json.RawMessage(buf.Bytes()))
	}
	return slog.String("body", string(body))
}

type requestIDKey struct{}

// WithRequestID stores the request ID in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
