package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"github.com/coder/quartz"

	"llm-relay/pkg/retry"
)

// Client wraps http.Client with logging and transport-level retries.
// Responses are always handed back to the caller whatever their status;
// only failures that produced no response at all are retried.
type Client struct {
	hc            *stdhttp.Client
	tr            *stdhttp.Transport
	log           *slog.Logger
	policy        retry.Policy
	clock         quartz.Clock
	headers       map[string]string
	urlRedactor   func(*url.URL) string
	maxReplayBody int64
	retryable     func(error) bool
}

// Option configures Client.
type Option func(*Client)

// WithTimeout sets the whole-request timeout. Zero disables it, which streaming
// callers need since a response body may stay open for minutes.
func WithTimeout(t time.Duration) Option {
	return func(c *Client) { c.hc.Timeout = t }
}

// WithResponseHeaderTimeout limits the wait for response headers.
func WithResponseHeaderTimeout(t time.Duration) Option {
	return func(c *Client) {
		if c.tr != nil && t > 0 {
			c.tr.ResponseHeaderTimeout = t
		}
	}
}

// WithLogger sets logger used by client.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRetryPolicy enables retries of transport failures with the given backoff policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

// WithRetryable overrides which transport errors are retried.
func WithRetryable(f func(error) bool) Option {
	return func(c *Client) {
		if f != nil {
			c.retryable = f
		}
	}
}

// WithClock sets the clock used for backoff waits.
func WithClock(clk quartz.Clock) Option {
	return func(c *Client) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithHeaders adds default headers to each request.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		for k, v := range h {
			if c.headers == nil {
				c.headers = make(map[string]string)
			}
			c.headers[k] = v
		}
	}
}

// WithURLRedactor sets URL redactor for logs.
func WithURLRedactor(f func(*url.URL) string) Option {
	return func(c *Client) { c.urlRedactor = f }
}

// WithTransport sets custom transport.
func WithTransport(rt stdhttp.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.hc.Transport = rt
			c.tr, _ = rt.(*stdhttp.Transport)
		}
	}
}

// WithMaxReplayBodySize limits the size of a request body kept for retries
// (0 disables limit). Bodies that are already replayable are checked by
// their ContentLength.
func WithMaxReplayBodySize(n int64) Option {
	return func(c *Client) { c.maxReplayBody = n }
}

// ErrReplayBodyTooLarge indicates request body exceeds replay limit.
var ErrReplayBodyTooLarge = errors.New("http: body too large for replay")

// New creates configured Client. Without WithRetryPolicy no retries happen.
func New(opts ...Option) *Client {
	tr := stdhttp.DefaultTransport.(*stdhttp.Transport).Clone()
	tr.MaxIdleConns = 100
	tr.MaxConnsPerHost = 100
	tr.MaxIdleConnsPerHost = 100
	tr.IdleConnTimeout = 90 * time.Second
	tr.TLSHandshakeTimeout = 10 * time.Second
	tr.ResponseHeaderTimeout = 60 * time.Second
	tr.ExpectContinueTimeout = 1 * time.Second

	p := retry.DefaultPolicy()
	p.MaxRetries = 0
	c := &Client{
		hc: &stdhttp.Client{
			Transport: tr,
		},
		tr:            tr,
		log:           slog.Default(),
		policy:        p,
		clock:         quartz.NewReal(),
		maxReplayBody: 8 << 20,
		retryable:     retry.DefaultRetryable,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// redactURL returns redacted URL string.
func (c *Client) redactURL(u *url.URL) string {
	if c.urlRedactor != nil {
		return c.urlRedactor(u)
	}
	return u.Redacted()
}

// bufferBody makes the request body replayable.
func (c *Client) bufferBody(req *stdhttp.Request) error {
	if req.Body == nil || req.Body == stdhttp.NoBody {
		return nil
	}
	if req.GetBody != nil {
		if c.maxReplayBody > 0 && req.ContentLength > c.maxReplayBody {
			return ErrReplayBodyTooLarge
		}
		return nil
	}
	var r io.Reader = req.Body
	if c.maxReplayBody > 0 {
		r = io.LimitReader(req.Body, c.maxReplayBody+1)
	}
	body, err := io.ReadAll(r)
	_ = req.Body.Close()
	if err != nil {
		return err
	}
	if c.maxReplayBody > 0 && int64(len(body)) > c.maxReplayBody {
		return ErrReplayBodyTooLarge
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(body)), nil }
	req.Body, _ = req.GetBody()
	req.ContentLength = int64(len(body))
	return nil
}

// Do sends HTTP request with context, logging and retries of transport failures.
// The caller owns the returned response body.
func (c *Client) Do(ctx context.Context, req *stdhttp.Request) (*stdhttp.Response, error) {
	if err := c.bufferBody(req); err != nil {
		return nil, err
	}

	st := retry.NewState(c.policy, retry.WithClock(c.clock), retry.WithObserver(retry.ObserverFunc(func(ctx context.Context, ev retry.Event) {
		c.log.InfoContext(ctx, "http retry wait", slog.String("method", req.Method), slog.String("url", c.redactURL(req.URL)), slog.Int("retry", ev.Attempt), slog.Int("max_retries", ev.MaxRetries), slog.Duration("wait", ev.Delay))
	})))
	for {
		r := req.Clone(ctx)
		for k, v := range c.headers {
			if r.Header.Get(k) == "" {
				r.Header.Set(k, v)
			}
		}
		if r.GetBody != nil {
			rc, err := r.GetBody()
			if err != nil {
				return nil, err
			}
			r.Body = rc
		}

		u := c.redactURL(r.URL)
		start := c.clock.Now()
		resp, err := c.hc.Do(r)
		dur := c.clock.Since(start)
		attempt := st.Attempt() + 1
		if err == nil {
			c.log.Info("http request", slog.String("method", r.Method), slog.String("url", u), slog.Int("status", resp.StatusCode), slog.Duration("dur", dur), slog.Int("attempt", attempt))
			return resp, nil
		}

		if ctx.Err() != nil || !c.retryable(err) || !st.CanRetry() {
			c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Any("error", err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}

		c.log.Warn("http request error", slog.String("method", r.Method), slog.String("url", u), slog.Int("attempt", attempt), slog.Int("attempts_left", c.policy.MaxRetries-st.Attempt()), slog.Any("error", err))
		if err := st.WaitAndIncrement(ctx); err != nil {
			return nil, err
		}
	}
}

// CloseIdleConnections closes idle upstream connections.
func (c *Client) CloseIdleConnections() {
	c.hc.CloseIdleConnections()
}
