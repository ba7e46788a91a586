// Package proxy forwards inbound LLM API calls to the upstream and retries
// the ones whose response carries a rate-limit error, as long as nothing has
// been sent to the client yet.
//
// Streams are held back for a short probe window. If the window contains a
// rate-limit event the upstream response is dropped and the call is repeated
// after a backoff wait; otherwise the held bytes are released and the rest of
// the stream is copied through as it arrives. The window closes early on the
// first event with ordinary text or when the probe timeout passes.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"

	"llm-relay/internal/debuglog"
	"llm-relay/internal/journal"
	"llm-relay/internal/metrics"
	"llm-relay/internal/shared"
	"llm-relay/internal/sse"
	"llm-relay/pkg/retry"
)

const (
	// DefaultProbeBytes is how much of a stream is inspected before it is released.
	DefaultProbeBytes = 8192

	// DefaultProbeTimeout bounds how long a stream is held back.
	DefaultProbeTimeout = 2 * time.Second

	defaultJournalTimeout = time.Second

	// RequestIDHeader carries the relay request ID back to the client.
	RequestIDHeader = "X-Relay-Request-Id"

	readChunk    = 4096
	maxErrorBody = 1 << 20
)

// Doer sends one upstream request.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Notifier is told when a request gave up on a persistent rate limit.
type Notifier interface {
	NotifyExhausted(ctx context.Context, o journal.Outcome)
}

type nopNotifier struct{}

func (nopNotifier) NotifyExhausted(context.Context, journal.Outcome) {}

// Forwarder relays requests to a single upstream.
type Forwarder struct {
	upstream     Upstream
	client       Doer
	policy       retry.Policy
	probeBytes   int
	probeTimeout time.Duration
	clock        quartz.Clock
	rnd          retry.Rand
	journal      journal.Store
	notifier     Notifier
	debug        debuglog.Recorder
	log          *slog.Logger
	newID        func() string

	journalTimeout time.Duration
}

// Option configures Forwarder.
type Option func(*Forwarder)

// WithPolicy sets the backoff policy for rate-limited calls.
func WithPolicy(p retry.Policy) Option {
	return func(f *Forwarder) { f.policy = p }
}

// WithProbeBytes sets the probe window size.
func WithProbeBytes(n int) Option {
	return func(f *Forwarder) {
		if n > 0 {
			f.probeBytes = n
		}
	}
}

// WithProbeTimeout sets how long a stream may be held back. Zero disables
// the deadline.
func WithProbeTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d >= 0 {
			f.probeTimeout = d
		}
	}
}

// WithClock sets the clock used for backoff waits and timestamps.
func WithClock(c quartz.Clock) Option {
	return func(f *Forwarder) {
		if c != nil {
			f.clock = c
		}
	}
}

// WithRand sets the jitter source.
func WithRand(r retry.Rand) Option {
	return func(f *Forwarder) {
		if r != nil {
			f.rnd = r
		}
	}
}

// WithJournal sets where retry waits and outcomes are recorded.
func WithJournal(s journal.Store) Option {
	return func(f *Forwarder) {
		if s != nil {
			f.journal = s
		}
	}
}

// WithNotifier sets the receiver of exhaustion alerts.
func WithNotifier(n Notifier) Option {
	return func(f *Forwarder) {
		if n != nil {
			f.notifier = n
		}
	}
}

// WithDebugRecorder enables the upstream traffic trace.
func WithDebugRecorder(r debuglog.Recorder) Option {
	return func(f *Forwarder) {
		if r != nil {
			f.debug = r
		}
	}
}

// WithLogger sets logger used by forwarder.
func WithLogger(l *slog.Logger) Option {
	return func(f *Forwarder) {
		if l != nil {
			f.log = l
		}
	}
}

// WithIDGenerator overrides request ID generation.
func WithIDGenerator(gen func() string) Option {
	return func(f *Forwarder) {
		if gen != nil {
			f.newID = gen
		}
	}
}

// New creates a Forwarder for up that sends through client.
func New(up Upstream, client Doer, opts ...Option) *Forwarder {
	f := &Forwarder{
		upstream:     up,
		client:       client,
		policy:       retry.DefaultPolicy(),
		probeBytes:   DefaultProbeBytes,
		probeTimeout: DefaultProbeTimeout,
		clock:        quartz.NewReal(),
		rnd:          retry.DefaultRand(),
		journal:      journal.Nop{},
		notifier:     nopNotifier{},
		debug:        debuglog.Nop{},
		log:          slog.Default(),
		newID:        uuid.NewString,

		journalTimeout: defaultJournalTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Upstream returns the upstream the forwarder talks to.
func (f *Forwarder) Upstream() Upstream { return f.upstream }

// Forward relays r and writes the upstream response to w.
//
// An error is returned only when nothing has been written to w, so the caller
// can still answer with an error response. Failures after the response was
// committed are logged and swallowed.
func (f *Forwarder) Forward(ctx context.Context, r Request, w http.ResponseWriter) error {
	id := f.newID()
	ctx = debuglog.WithRequestID(ctx, id)
	w.Header().Set(RequestIDHeader, id)

	st := retry.NewState(f.policy,
		retry.WithClock(f.clock),
		retry.WithRand(f.rnd),
		retry.WithObserver(retryObserver{f: f, requestID: id}),
	)
	for {
		limited, err := f.attempt(ctx, id, r, w)
		if err != nil {
			return err
		}
		if !limited {
			if st.Attempt() > 0 {
				f.finish(ctx, id, journal.Recovered, st.Attempt()+1)
			}
			return nil
		}

		if !st.CanRetry() {
			attempts := st.Attempt() + 1
			f.notifier.NotifyExhausted(ctx, f.finish(ctx, id, journal.Exhausted, attempts))
			return shared.MarkKind(
				fmt.Errorf("upstream %s still rate limited after %d attempts", f.upstream.Name, attempts),
				shared.KindRateLimited,
			)
		}
		if err := st.WaitAndIncrement(ctx); err != nil {
			f.log.InfoContext(ctx, "retry wait interrupted", slog.String("request_id", id), slog.Any("error", err))
			return err
		}
	}
}

// attempt makes one upstream call. limited is true when the response carried a
// rate-limit error and nothing was written to w.
func (f *Forwarder) attempt(ctx context.Context, id string, r Request, w http.ResponseWriter) (limited bool, err error) {
	name := f.upstream.Name
	req, err := f.upstream.newRequest(ctx, r)
	if err != nil {
		return false, shared.MarkKind(shared.Wrap(err, "build upstream request"), shared.KindInternal)
	}
	f.debug.Request(ctx, id, name, req.URL.String(), req.Header, r.Body)

	resp, err := f.client.Do(ctx, req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(name, "error").Inc()
		return false, f.readErr(ctx, id, err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(name, strconv.Itoa(resp.StatusCode)).Inc()
	f.debug.ResponseHeaders(ctx, id, resp.StatusCode, resp.Header)

	switch {
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, f.passError(ctx, id, resp, w)
	case isEventStream(resp.Header):
		return f.stream(ctx, id, resp, w)
	default:
		return f.buffered(ctx, id, resp, w)
	}
}

// passError hands a non-2xx upstream answer to the client unchanged.
func (f *Forwarder) passError(ctx context.Context, id string, resp *http.Response, w http.ResponseWriter) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return f.readErr(ctx, id, err)
	}
	f.debug.ResponseError(ctx, id, resp.StatusCode, body)
	f.log.WarnContext(ctx, "upstream error status",
		slog.String("request_id", id),
		slog.String("upstream", f.upstream.Name),
		slog.Int("status", resp.StatusCode),
	)

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		f.log.DebugContext(ctx, "client write failed", slog.String("request_id", id), slog.Any("error", err))
	}
	return nil
}

// buffered handles a complete (non-streamed) body.
func (f *Forwarder) buffered(ctx context.Context, id string, resp *http.Response, w http.ResponseWriter) (bool, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, f.readErr(ctx, id, err)
	}
	f.debug.Chunk(ctx, id, body)

	if sse.DetectRateLimitJSON(body) {
		f.detected(ctx, id, "json")
		return true, nil
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		f.log.DebugContext(ctx, "client write failed", slog.String("request_id", id), slog.Any("error", err))
	}
	return false, nil
}

// stream probes the head of an event stream and then relays it.
func (f *Forwarder) stream(ctx context.Context, id string, resp *http.Response, w http.ResponseWriter) (bool, error) {
	det := &sse.Detector{}
	body := newChunkReader(resp.Body)
	defer body.stop()

	probe, eof, err := f.probe(ctx, id, body, det)
	if err != nil {
		return false, f.readErr(ctx, id, err)
	}
	if det.Detected() {
		f.detected(ctx, id, "stream")
		return true, nil
	}

	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}

	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(probe); err != nil {
		f.log.DebugContext(ctx, "client write failed", slog.String("request_id", id), slog.Any("error", err))
		return false, nil
	}
	flush()
	if eof {
		return false, nil
	}

	for {
		chunk, err := body.next(ctx, readChunk, nil)
		if len(chunk) > 0 {
			f.debug.Chunk(ctx, id, chunk)
			f.scanLate(ctx, id, det, chunk)
			if _, werr := w.Write(chunk); werr != nil {
				f.log.DebugContext(ctx, "client write failed", slog.String("request_id", id), slog.Any("error", werr))
				return false, nil
			}
			flush()
		}
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			if ctx.Err() == nil {
				f.debug.NetworkError(ctx, id, err)
				f.log.WarnContext(ctx, "upstream stream broken", slog.String("request_id", id), slog.Any("error", err))
			}
			return false, nil
		}
	}
}

// probe holds back the head of a stream until a rate limit or ordinary text
// shows up, probeBytes are held, the stream ends or the probe timeout passes.
func (f *Forwarder) probe(ctx context.Context, id string, body *chunkReader, det *sse.Detector) (probe []byte, eof bool, err error) {
	var deadline <-chan time.Time
	if f.probeTimeout > 0 {
		t := f.clock.NewTimer(f.probeTimeout, "probe")
		defer t.Stop()
		deadline = t.C
	}

	probe = make([]byte, 0, f.probeBytes)
	for len(probe) < f.probeBytes && !det.Detected() && !det.Cleared() {
		chunk, err := body.next(ctx, f.probeBytes-len(probe), deadline)
		if errors.Is(err, errProbeDeadline) {
			f.log.DebugContext(ctx, "probe timeout, releasing stream",
				slog.String("request_id", id),
				slog.Int("held", len(probe)),
			)
			return probe, false, nil
		}
		if len(chunk) > 0 {
			f.debug.Chunk(ctx, id, chunk)
			_, _ = det.Write(chunk)
			probe = append(probe, chunk...)
		}
		if errors.Is(err, io.EOF) {
			det.Flush()
			return probe, true, nil
		}
		if err != nil {
			return nil, false, err
		}
	}
	return probe, false, nil
}

// scanLate keeps scanning after the stream was released. A rate limit found
// there can no longer be retried, only reported.
func (f *Forwarder) scanLate(ctx context.Context, id string, det *sse.Detector, chunk []byte) {
	if det.Detected() {
		return
	}
	if _, _ = det.Write(chunk); det.Detected() {
		metrics.RateLimitDetections.WithLabelValues(f.upstream.Name, "late").Inc()
		f.log.WarnContext(ctx, "rate limit after stream was released, not retried",
			slog.String("request_id", id),
			slog.String("upstream", f.upstream.Name),
			slog.Int64("offset", det.Scanned()),
		)
	}
}

func (f *Forwarder) detected(ctx context.Context, id, source string) {
	metrics.RateLimitDetections.WithLabelValues(f.upstream.Name, source).Inc()
	f.log.InfoContext(ctx, "rate limit detected",
		slog.String("request_id", id),
		slog.String("upstream", f.upstream.Name),
		slog.String("source", source),
	)
}

// readErr classifies a failure that happened before anything reached the client.
func (f *Forwarder) readErr(ctx context.Context, id string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	f.debug.NetworkError(ctx, id, err)
	err = shared.Wrapf(err, "upstream %s", f.upstream.Name)
	if shared.IsTimeout(err) {
		return shared.MarkKind(err, shared.KindTimeout)
	}
	return shared.MarkKind(err, shared.KindDependencyFailure)
}

// finish records the end of a retry sequence.
func (f *Forwarder) finish(ctx context.Context, id string, res journal.Result, attempts int) journal.Outcome {
	o := journal.Outcome{
		RequestID: id,
		Upstream:  f.upstream.Name,
		Result:    res,
		Attempts:  attempts,
		CreatedAt: f.clock.Now(),
	}
	metrics.RetryOutcomes.WithLabelValues(o.Upstream, string(res)).Inc()

	level := slog.LevelInfo
	if res == journal.Exhausted {
		level = slog.LevelError
	}
	f.log.Log(ctx, level, "rate limit sequence finished",
		slog.String("request_id", id),
		slog.String("upstream", o.Upstream),
		slog.String("result", string(res)),
		slog.Int("attempts", attempts),
	)

	jctx, cancel := f.journalContext(ctx)
	defer cancel()
	if err := f.journal.RecordOutcome(jctx, o); err != nil {
		f.log.ErrorContext(ctx, "journal write failed", slog.String("request_id", id), slog.Any("error", err))
	}
	return o
}

// journalContext bounds a journal write. The write outlives a canceled
// request but never holds it up for longer than journalTimeout.
func (f *Forwarder) journalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), f.journalTimeout)
}
