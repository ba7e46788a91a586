// Package journal records retry waits and final outcomes of rate-limited
// requests. The journal is write-mostly: it feeds /stats and alerts and is
// never read back to restore retry state.
package journal

import (
	"context"
	"time"
)

// Result is the final outcome of a request that hit at least one rate limit.
type Result string

const (
	Recovered Result = "recovered"
	Exhausted Result = "exhausted"
)

// Event is one backoff wait before a retry.
type Event struct {
	RequestID string
	Upstream  string
	// Attempt is the 1-based retry this wait precedes.
	Attempt   int
	Delay     time.Duration
	CreatedAt time.Time
}

// Outcome closes a retry sequence.
type Outcome struct {
	RequestID string
	Upstream  string
	Result    Result
	// Attempts counts upstream calls, including the first one.
	Attempts  int
	CreatedAt time.Time
}

// Stats aggregates the journal since a point in time.
type Stats struct {
	Since      time.Time
	Waits      int64
	TotalDelay time.Duration
	Recovered  int64
	Exhausted  int64
}

// Store persists journal records.
type Store interface {
	RecordEvent(ctx context.Context, ev Event) error
	RecordOutcome(ctx context.Context, o Outcome) error
	Stats(ctx context.Context, since time.Time) (Stats, error)
	// Prune deletes records created before the given time and reports how many went.
	Prune(ctx context.Context, before time.Time) (int64, error)
	Close() error
}

// Nop discards everything. Used when STORE_DRIVER=none.
type Nop struct{}

func (Nop) RecordEvent(context.Context, Event) error     { return nil }
func (Nop) RecordOutcome(context.Context, Outcome) error { return nil }
func (Nop) Stats(_ context.Context, since time.Time) (Stats, error) {
	return Stats{Since: since}, nil
}
func (Nop) Prune(context.Context, time.Time) (int64, error) { return 0, nil }
func (Nop) Close() error                                    { return nil }

var _ Store = Nop{}
