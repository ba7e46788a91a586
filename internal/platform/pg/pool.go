// Package pg содержит инфраструктуру PostgreSQL: пул pgx, транзакции,
// ожидание готовности и миграции.
package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions содержит настройки для пула подключений PostgreSQL.
type PoolOptions struct {
	// MaxConns - максимальное количество соединений в пуле
	MaxConns int32
	// MinConns - минимальное количество соединений в пуле
	MinConns int32
	// HealthCheckPeriod - интервал проверки здоровья соединений
	HealthCheckPeriod time.Duration
	// MaxConnLifetime - максимальное время жизни соединения
	MaxConnLifetime time.Duration
	// MaxConnIdleTime - максимальное время простоя соединения
	MaxConnIdleTime time.Duration
	// PingTimeout - таймаут для проверки соединения при создании пула
	PingTimeout time.Duration
}

// DefaultPoolOptions возвращает настройки для журнала ретраев: записи короткие,
// поэтому пул небольшой.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:          8,
		MinConns:          1,
		HealthCheckPeriod: 30 * time.Second,
		MaxConnLifetime:   time.Hour,
		MaxConnIdleTime:   10 * time.Minute,
		PingTimeout:       5 * time.Second,
	}
}

// PoolConfig разбирает DSN и применяет опции.
func PoolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	if opts.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = opts.HealthCheckPeriod
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	if opts.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	}
	return cfg, nil
}

// NewPool создает пул подключений с настройками по умолчанию.
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	return NewPoolWithOptions(ctx, dsn, DefaultPoolOptions())
}

// NewPoolWithOptions создает пул подключений и проверяет соединение.
func NewPoolWithOptions(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := PoolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.PingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}
