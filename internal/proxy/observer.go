package proxy

import (
	"context"
	"log/slog"

	"llm-relay/internal/journal"
	"llm-relay/internal/metrics"
	"llm-relay/pkg/retry"
)

// retryObserver reports every backoff wait of one request.
type retryObserver struct {
	f         *Forwarder
	requestID string
}

func (o retryObserver) OnRetryWait(ctx context.Context, ev retry.Event) {
	name := o.f.upstream.Name
	o.f.log.WarnContext(ctx, "rate limited, retrying",
		slog.String("request_id", o.requestID),
		slog.String("upstream", name),
		slog.Int("retry", ev.Attempt),
		slog.Int("max_retries", ev.MaxRetries),
		slog.Duration("wait", ev.Delay),
	)
	metrics.RetryWaits.WithLabelValues(name).Inc()
	metrics.RetryDelay.WithLabelValues(name).Observe(ev.Delay.Seconds())

	jctx, cancel := o.f.journalContext(ctx)
	defer cancel()
	err := o.f.journal.RecordEvent(jctx, journal.Event{
		RequestID: o.requestID,
		Upstream:  name,
		Attempt:   ev.Attempt,
		Delay:     ev.Delay,
		CreatedAt: o.f.clock.Now(),
	})
	if err != nil {
		o.f.log.ErrorContext(ctx, "journal write failed", slog.String("request_id", o.requestID), slog.Any("error", err))
	}
}
