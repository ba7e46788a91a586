package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"llm-relay/pkg/retry"
)

// txKey используется как ключ для хранения транзакции в context.Context
type txKey struct{}

// Querier объединяет методы выполнения запросов, общие для БД и транзакции.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*sql.DB)(nil)
	_ Querier = (*sql.Tx)(nil)
)

// ErrNestedTx возвращается при попытке открыть транзакцию внутри транзакции.
var ErrNestedTx = errors.New("sqlite: nested transactions are not supported")

// TxRunner выполняет код внутри транзакции с гарантированным коммитом или откатом.
// Транзакции, упавшие на SQLITE_BUSY, повторяются по Policy.
type TxRunner struct {
	DB     *sql.DB
	Policy retry.Policy
}

// NewTxRunner создает TxRunner с короткой политикой повторов.
func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{
		DB: db,
		Policy: retry.Policy{
			MaxRetries:     2,
			InitialBackoff: 10 * time.Millisecond,
			Multiplier:     2.0,
			MaxBackoff:     500 * time.Millisecond,
			JitterFactor:   0.1,
		},
	}
}

// WithinTx выполняет fn внутри транзакции. Транзакция доступна через GetQuerier(ctx).
func (r *TxRunner) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return ErrNestedTx
	}
	err := retry.Do(ctx, retry.NewState(r.Policy), func(ctx context.Context) error {
		return r.executeTx(ctx, fn)
	}, IsBusyError)

	var exceeded *retry.RetriesExceededError
	if errors.As(err, &exceeded) {
		return fmt.Errorf("sqlite busy after %d attempts: %w", exceeded.Attempts, exceeded.LastError)
	}
	return err
}

// GetQuerier возвращает активную транзакцию из контекста или основное подключение.
func (r *TxRunner) GetQuerier(ctx context.Context) Querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return r.DB
}

func (r *TxRunner) executeTx(ctx context.Context, fn func(context.Context) error) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// IsBusyError сообщает, что ошибка вызвана блокировкой БД другим писателем.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") ||
		strings.Contains(s, "SQLITE_BUSY") ||
		strings.Contains(s, "database table is locked")
}
