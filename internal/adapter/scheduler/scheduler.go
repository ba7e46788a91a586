// Package scheduler запускает фоновые задачи relay по cron-расписанию.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc представляет функцию задачи планировщика.
type JobFunc func(ctx context.Context) error

// JobID представляет идентификатор cron-задачи.
type JobID = cron.EntryID

// JobOptions содержит опции для настройки задач.
type JobOptions struct {
	// Name - имя задачи для логирования.
	Name string
	// Timeout - максимальное время выполнения задачи (необязательно).
	Timeout time.Duration
}

// cronLogger адаптер для интеграции cron logger с slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// Scheduler управляет периодическими задачами. Запуски одной задачи не
// перекрываются: очередной запуск пропускается, пока предыдущий не завершён.
type Scheduler struct {
	cron     *cron.Cron
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New создает планировщик. Расписания принимаются с секундами ("0 0 * * * *").
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger.With("component", "cron")}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob добавляет задачу по cron-расписанию.
// Примеры расписаний:
//   - "0 0 * * * *" - каждый час
//   - "@every 15m" - каждые 15 минут
func (s *Scheduler) AddJob(schedule string, job JobFunc, opts JobOptions) (JobID, error) {
	id, err := s.cron.AddFunc(schedule, func() { s.run(job, opts) })
	if err != nil {
		return 0, fmt.Errorf("scheduler: add %q: %w", opts.Name, err)
	}
	s.logger.Info("cron job added", "schedule", schedule, "name", opts.Name, "id", id)
	return id, nil
}

// Start запускает планировщик.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop отменяет текущие задачи и ждет их завершения, но не дольше ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	var done context.Context
	s.stopOnce.Do(func() {
		s.cancel()
		done = s.cron.Stop()
	})
	if done == nil {
		return nil
	}
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded")
		return ctx.Err()
	}
}

// run выполняет задачу с таймаутом и защитой от паники.
func (s *Scheduler) run(job JobFunc, opts JobOptions) {
	name := opts.Name
	if name == "" {
		name = "unnamed"
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "name", name, "panic", r)
		}
	}()

	ctx := s.ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Error("job failed", "name", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("job completed", "name", name, "duration", time.Since(start))
}
