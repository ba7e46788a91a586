package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	migrate "github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ApplyMigrations применяет миграции из fsys/dirName к открытой БД.
// Повторный вызов безопасен: migrate.ErrNoChange ошибкой не считается.
//
// migrate.Close закрыл бы и *sql.DB, поэтому закрывается только источник:
// для in-memory БД это уничтожило бы схему.
func ApplyMigrations(db *sql.DB, fsys fs.FS, dirName string) error {
	src, err := iofs.New(fsys, dirName)
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}
	defer func() { _ = src.Close() }()

	drv, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// MigrationVersion возвращает текущую версию схемы. Ноль означает, что миграций не было.
func MigrationVersion(db *sql.DB) (uint, error) {
	var version uint
	err := db.QueryRow("SELECT version FROM " + migratesqlite.DefaultMigrationsTable + " LIMIT 1").Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, nil
}
