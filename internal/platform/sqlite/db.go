// Package sqlite содержит встроенное хранилище SQLite: открытие БД с PRAGMA,
// миграции из embed.FS и транзакции с повтором на SQLITE_BUSY.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// DBOptions содержит настройки для SQLite базы данных.
type DBOptions struct {
	// ConnMaxLifetime - максимальное время жизни соединения
	ConnMaxLifetime time.Duration
	// ConnMaxIdleTime - максимальное время простоя соединения
	ConnMaxIdleTime time.Duration
	// MaxOpenConns - максимальное количество открытых соединений
	MaxOpenConns int
	// MaxIdleConns - максимальное количество idle соединений
	MaxIdleConns int
	// PingTimeout - таймаут для проверки соединения при создании БД
	PingTimeout time.Duration
	// WALMode - использовать ли WAL режим
	WALMode bool
	// BusyTimeout - таймаут ожидания при SQLITE_BUSY
	BusyTimeout time.Duration
}

// DefaultDBOptions возвращает настройки для журнала: один писатель, несколько читателей.
func DefaultDBOptions() DBOptions {
	return DBOptions{
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		MaxOpenConns:    4,
		MaxIdleConns:    1,
		PingTimeout:     5 * time.Second,
		WALMode:         true,
		BusyTimeout:     5 * time.Second,
	}
}

// Open открывает файл БД с настройками по умолчанию, создавая директорию при необходимости.
func Open(ctx context.Context, dbPath string) (*sql.DB, error) {
	return OpenWithOptions(ctx, dbPath, DefaultDBOptions())
}

// OpenWithOptions открывает SQLite с заданными параметрами и применяет PRAGMA.
func OpenWithOptions(ctx context.Context, dbPath string, opts DBOptions) (*sql.DB, error) {
	if dir := filepath.Dir(dbPath); dbPath != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := applyPragmaSettings(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}
	return db, nil
}

// OpenInMemory создает in-memory БД. Пул ограничен одним соединением,
// иначе каждое соединение видело бы свою пустую схему.
func OpenInMemory(ctx context.Context) (*sql.DB, error) {
	opts := DefaultDBOptions()
	opts.WALMode = false
	opts.MaxOpenConns = 1
	opts.MaxIdleConns = 1
	opts.ConnMaxLifetime = 0
	opts.ConnMaxIdleTime = 0
	return OpenWithOptions(ctx, ":memory:", opts)
}

// applyPragmaSettings применяет PRAGMA настройки к открытому соединению.
func applyPragmaSettings(ctx context.Context, db *sql.DB, opts DBOptions) error {
	pragmas := []string{"PRAGMA foreign_keys = ON"}
	if opts.BusyTimeout > 0 {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))
	}
	if opts.WALMode {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	return nil
}
