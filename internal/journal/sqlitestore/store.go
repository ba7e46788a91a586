// Package sqlitestore keeps the retry journal in an embedded SQLite file.
package sqlitestore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"llm-relay/internal/journal"
	"llm-relay/internal/platform/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store implements journal.Store on SQLite.
type Store struct {
	db *sql.DB
	tx *sqlite.TxRunner
}

var _ journal.Store = (*Store)(nil)

// Open opens (or creates) the database file and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlite.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New migrates db and wraps it. The store takes ownership of db.
func New(db *sql.DB) (*Store, error) {
	if err := sqlite.ApplyMigrations(db, migrations, "migrations"); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return &Store{db: db, tx: sqlite.NewTxRunner(db)}, nil
}

func (s *Store) RecordEvent(ctx context.Context, ev journal.Event) error {
	_, err := s.tx.GetQuerier(ctx).ExecContext(ctx,
		`INSERT INTO retry_events (request_id, upstream, attempt, delay_ms, created_at) VALUES (?, ?, ?, ?, ?)`,
		ev.RequestID, ev.Upstream, ev.Attempt, ev.Delay.Milliseconds(), ev.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record event: %w", err)
	}
	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, o journal.Outcome) error {
	_, err := s.tx.GetQuerier(ctx).ExecContext(ctx,
		`INSERT INTO retry_outcomes (request_id, upstream, result, attempts, created_at) VALUES (?, ?, ?, ?, ?)`,
		o.RequestID, o.Upstream, string(o.Result), o.Attempts, o.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record outcome: %w", err)
	}
	return nil
}

func (s *Store) Stats(ctx context.Context, since time.Time) (journal.Stats, error) {
	st := journal.Stats{Since: since}
	ms := since.UnixMilli()

	var delayMS int64
	q := s.tx.GetQuerier(ctx)
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(delay_ms), 0) FROM retry_events WHERE created_at >= ?`, ms,
	).Scan(&st.Waits, &delayMS); err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	st.TotalDelay = time.Duration(delayMS) * time.Millisecond

	if err := q.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN result = 'recovered' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN result = 'exhausted' THEN 1 ELSE 0 END), 0)
		 FROM retry_outcomes WHERE created_at >= ?`, ms,
	).Scan(&st.Recovered, &st.Exhausted); err != nil {
		return st, fmt.Errorf("journal: stats: %w", err)
	}
	return st, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		q := s.tx.GetQuerier(ctx)
		for _, table := range []string{"retry_events", "retry_outcomes"} {
			res, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE created_at < ?`, before.UnixMilli())
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal: prune: %w", err)
	}
	return total, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
