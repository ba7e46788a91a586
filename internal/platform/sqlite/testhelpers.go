package sqlite

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"
)

// NewTestDB создает in-memory БД, применяет миграции (если переданы) и закрывает её по завершении теста.
func NewTestDB(t testing.TB, fsys fs.FS, dirName string) *sql.DB {
	t.Helper()
	db, err := OpenInMemory(context.Background())
	if err != nil {
		t.Fatalf("open in-memory sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if fsys != nil {
		if err := ApplyMigrations(db, fsys, dirName); err != nil {
			t.Fatalf("apply migrations: %v", err)
		}
	}
	return db
}
