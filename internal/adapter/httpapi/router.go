// Package httpapi is the inbound HTTP surface of the relay.
package httpapi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"llm-relay/internal/journal"
	"llm-relay/internal/proxy"
	"llm-relay/internal/shared"
)

// DefaultMaxBodyBytes limits inbound request bodies.
const DefaultMaxBodyBytes = 32 << 20

// Forwarder relays one request upstream.
type Forwarder interface {
	Forward(ctx context.Context, r proxy.Request, w http.ResponseWriter) error
}

// StatsReader reads journal aggregates.
type StatsReader interface {
	Stats(ctx context.Context, since time.Time) (journal.Stats, error)
}

// Deps holds the router's collaborators.
type Deps struct {
	Forwarder    Forwarder
	Stats        StatsReader
	Log          *slog.Logger
	Metrics      bool
	MaxBodyBytes int64
	Now          func() time.Time
}

type handler struct {
	fwd     Forwarder
	stats   StatsReader
	log     *slog.Logger
	maxBody int64
	now     func() time.Time
}

// NewRouter builds the gin engine serving the relay routes.
func NewRouter(d Deps) *gin.Engine {
	h := &handler{fwd: d.Forwarder, stats: d.Stats, log: d.Log, maxBody: d.MaxBodyBytes, now: d.Now}
	if h.log == nil {
		h.log = slog.Default()
	}
	if h.maxBody <= 0 {
		h.maxBody = DefaultMaxBodyBytes
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.stats == nil {
		h.stats = journal.Nop{}
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(h.log))

	r.POST("/v1/messages", h.forward)
	r.POST("/v1/chat/completions", h.forward)
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/stats", h.getStats)
	if d.Metrics {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	return r
}

func (h *handler) forward(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody))
	if err != nil {
		h.writeError(c, shared.MarkKind(fmt.Errorf("read request body: %w", err), shared.KindValidation))
		return
	}

	req := proxy.Request{
		Method:   c.Request.Method,
		Path:     c.Request.URL.Path,
		RawQuery: c.Request.URL.RawQuery,
		Header:   c.Request.Header,
		Body:     body,
	}
	if err := h.fwd.Forward(c.Request.Context(), req, c.Writer); err != nil {
		if c.Writer.Written() {
			h.log.WarnContext(c, "error after response started", slog.Any("error", err))
			return
		}
		h.writeError(c, err)
	}
}

// writeError answers in the Anthropic error envelope so SDK clients parse it.
func (h *handler) writeError(c *gin.Context, err error) {
	if shared.IsCanceled(err) {
		h.log.DebugContext(c, "client went away", slog.Any("error", err))
		c.AbortWithStatus(shared.StatusClientClosedRequest)
		return
	}
	status := shared.HTTPStatus(err)
	switch {
	case shared.IsRateLimited(err):
		h.log.WarnContext(c, "rate limit retries exhausted", slog.Any("error", err))
	case status >= http.StatusInternalServerError:
		h.log.ErrorContext(c, "request failed", slog.Int("status", status), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, gin.H{
		"type": "error",
		"error": gin.H{
			"type":    shared.ErrorType(err),
			"message": err.Error(),
		},
	})
}

func (h *handler) getStats(c *gin.Context) {
	window := 24 * time.Hour
	if s := c.Query("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			h.writeError(c, shared.MarkKind(fmt.Errorf("invalid window %q", s), shared.KindValidation))
			return
		}
		window = d
	}

	st, err := h.stats.Stats(c, h.now().Add(-window))
	if err != nil {
		h.writeError(c, shared.MarkKind(err, shared.KindDependencyFailure))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"since":               st.Since.UTC().Format(time.RFC3339),
		"retry_waits":         st.Waits,
		"total_delay_seconds": st.TotalDelay.Seconds(),
		"recovered":           st.Recovered,
		"exhausted":           st.Exhausted,
	})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.InfoContext(c, "http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("dur", time.Since(start)),
			slog.String("request_id", c.Writer.Header().Get(proxy.RequestIDHeader)),
		)
	}
}
