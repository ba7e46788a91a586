package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-relay/pkg/retry"
)

var testMigrations = fstest.MapFS{
	"migrations/1_items.up.sql":   {Data: []byte("CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
	"migrations/1_items.down.sql": {Data: []byte("DROP TABLE items;")},
	"migrations/2_seed.up.sql":    {Data: []byte("INSERT INTO items (name) VALUES ('seed');")},
	"migrations/2_seed.down.sql":  {Data: []byte("DELETE FROM items;")},
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "relay.db")
	db, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestApplyMigrationsIdempotent(t *testing.T) {
	db := NewTestDB(t, testMigrations, "migrations")

	require.NoError(t, ApplyMigrations(db, testMigrations, "migrations"))

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	assert.Equal(t, 1, n)

	v, err := MigrationVersion(db)
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
}

func TestTxRunnerCommitAndRollback(t *testing.T) {
	db := NewTestDB(t, testMigrations, "migrations")
	r := NewTxRunner(db)
	ctx := context.Background()

	require.NoError(t, r.WithinTx(ctx, func(ctx context.Context) error {
		_, err := r.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('a')")
		return err
	}))

	boom := errors.New("boom")
	err := r.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := r.GetQuerier(ctx).ExecContext(ctx, "INSERT INTO items (name) VALUES ('b')"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM items").Scan(&n))
	assert.Equal(t, 2, n)
}

func TestTxRunnerNested(t *testing.T) {
	db := NewTestDB(t, nil, "")
	r := NewTxRunner(db)

	err := r.WithinTx(context.Background(), func(ctx context.Context) error {
		return r.WithinTx(ctx, func(context.Context) error { return nil })
	})
	assert.ErrorIs(t, err, ErrNestedTx)
}

func TestTxRunnerRetriesBusy(t *testing.T) {
	db := NewTestDB(t, nil, "")
	r := NewTxRunner(db)
	r.Policy = retry.Policy{MaxRetries: 2, InitialBackoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond}

	calls := 0
	err := r.WithinTx(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = r.WithinTx(context.Background(), func(context.Context) error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestIsBusyError(t *testing.T) {
	assert.True(t, IsBusyError(errors.New("database is locked")))
	assert.True(t, IsBusyError(errors.New("database table is locked")))
	assert.False(t, IsBusyError(errors.New("no such table")))
	assert.False(t, IsBusyError(nil))
}
