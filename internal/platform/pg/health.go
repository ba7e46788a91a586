package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"llm-relay/pkg/retry"
)

// HealthCheckOptions содержит опции ожидания готовности БД.
type HealthCheckOptions struct {
	// Policy - политика повторов между попытками подключения
	Policy retry.Policy
	// PingTimeout - таймаут для каждой попытки
	PingTimeout time.Duration
}

// DefaultHealthCheckOptions возвращает опции по умолчанию.
func DefaultHealthCheckOptions() HealthCheckOptions {
	return HealthCheckOptions{
		Policy: retry.Policy{
			MaxRetries:     10,
			InitialBackoff: time.Second,
			Multiplier:     2.0,
			MaxBackoff:     30 * time.Second,
			JitterFactor:   0.1,
		},
		PingTimeout: 5 * time.Second,
	}
}

// WaitForDB ожидает доступности базы данных, повторяя подключение по политике.
// Любая ошибка подключения считается временной.
func WaitForDB(ctx context.Context, dsn string, opts HealthCheckOptions) error {
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return fmt.Errorf("invalid dsn: %w", err)
	}

	st := retry.NewState(opts.Policy)
	err := retry.Do(ctx, st, func(ctx context.Context) error {
		return ping(ctx, dsn, opts.PingTimeout)
	}, func(error) bool { return true })
	if err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	return nil
}

func ping(ctx context.Context, dsn string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())
	return conn.Ping(ctx)
}
