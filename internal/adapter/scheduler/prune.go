package scheduler

import (
	"context"
	"log/slog"
	"time"

	"llm-relay/internal/journal"
)

// PruneJournal returns a job deleting journal records older than retention.
func PruneJournal(store journal.Store, retention time.Duration, now func() time.Time, logger *slog.Logger) JobFunc {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		before := now().Add(-retention)
		n, err := store.Prune(ctx, before)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.InfoContext(ctx, "journal pruned", slog.Int64("rows", n), slog.Time("before", before))
		}
		return nil
	}
}
