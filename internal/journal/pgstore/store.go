// Package pgstore keeps the retry journal in PostgreSQL, for relays that share
// one database with other tooling.
package pgstore

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"llm-relay/internal/journal"
	"llm-relay/internal/platform/pg"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements journal.Store on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
	tx   *pg.TxRunner
}

var _ journal.Store = (*Store)(nil)

// Open waits for the database, migrates it and connects a pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if err := pg.WaitForDB(ctx, dsn, pg.DefaultHealthCheckOptions()); err != nil {
		return nil, err
	}
	if _, err := pg.ApplyMigrationsFromFS(dsn, migrations, "migrations"); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	pool, err := pg.NewPool(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return New(pool), nil
}

// New wraps an already migrated pool. The store takes ownership of pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tx: pg.NewTxRunner(pool)}
}

func (s *Store) RecordEvent(ctx context.Context, ev journal.Event) error {
	_, err := s.tx.GetQuerier(ctx).Exec(ctx,
		`INSERT INTO retry_events (request_id, upstream, attempt, delay_ms, created_at) VALUES ($1, $2, $3, $4, $5)`,
		ev.RequestID, ev.Upstream, ev.Attempt, ev.Delay.Milliseconds(), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("journal: record event: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, o journal.Outcome) error {
	_, err := s.tx.GetQuerier(ctx).Exec(ctx,
		`INSERT INTO retry_outcomes (request_id, upstream, result, attempts, created_at) VALUES ($1, $2, $3, $4, $5)`,
		o.RequestID, o.Upstream, string(o.Result), o.Attempts, o.CreatedAt)
	if err != nil {
		return fmt.Errorf("journal: record outcome: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, since time.Time) (journal.Stats, error) {
	st := journal.Stats{Since: since}
	var delayMS int64
	err := s.tx.GetQuerier(ctx).QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM retry_events WHERE created_at >= $1),
			(SELECT COALESCE(SUM(delay_ms), 0)::BIGINT FROM retry_events WHERE created_at >= $1),
			(SELECT COUNT(*) FROM retry_outcomes WHERE created_at >= $1 AND result = 'recovered'),
			(SELECT COUNT(*) FROM retry_outcomes WHERE created_at >= $1 AND result = 'exhausted')`,
		since,
	).Scan(&st.Waits, &delayMS, &st.Recovered, &st.Exhausted)
	if err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	st.TotalDelay = time.Duration(delayMS) * time.Millisecond
	return st, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		for _, table := range []string{"retry_events", "retry_outcomes"} {
			tag, err := q.Exec(ctx, `DELETE FROM `+table+` WHERE created_at < $1`, before)
			if err != nil {
				return err
			}
			total += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return total, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
