// Package app wires the relay components together.
package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"llm-relay/internal/adapter/httpapi"
	"llm-relay/internal/adapter/scheduler"
	"llm-relay/internal/adapter/telegram"
	"llm-relay/internal/adapter/telegram/handlers"
	"llm-relay/internal/adapter/telegram/middleware"
	"llm-relay/internal/config"
	"llm-relay/internal/debuglog"
	"llm-relay/internal/journal"
	"llm-relay/internal/journal/pgstore"
	"llm-relay/internal/journal/sqlitestore"
	"llm-relay/internal/platform/httpclient"
	"llm-relay/internal/platform/logger"
	"llm-relay/internal/proxy"
	"llm-relay/internal/shared"
	"llm-relay/pkg/retry"
)

const shutdownTimeout = 5 * time.Second

// App wires application components.
type App struct {
	cfg config.Config
	log *slog.Logger
}

// New creates a new App instance and loads configuration.
func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "llm-relay",
	})
	return &App{cfg: cfg, log: log}, nil
}

// Run serves until SIGINT/SIGTERM and then shuts everything down.
func (a *App) Run() error {
	defer func() { _ = logger.Close(a.log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openJournal(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	var dbg debuglog.Recorder = debuglog.Nop{}
	if a.cfg.Log.DebugFile != "" {
		rec := debuglog.Open(a.cfg.Log.DebugFile)
		defer func() { _ = rec.Close() }()
		dbg = rec
		a.log.Info("upstream traffic trace enabled", slog.String("file", a.cfg.Log.DebugFile))
	}

	client := httpclient.New(
		httpclient.WithLogger(a.log),
		httpclient.WithTimeout(a.cfg.Upstream.Timeout),
		httpclient.WithResponseHeaderTimeout(a.cfg.Upstream.HeaderTimeout),
		httpclient.WithMaxReplayBodySize(httpapi.DefaultMaxBodyBytes),
		httpclient.WithRetryPolicy(retry.Policy{
			MaxRetries:     a.cfg.Upstream.ConnectRetries,
			InitialBackoff: 200 * time.Millisecond,
			Multiplier:     2.0,
			MaxBackoff:     2 * time.Second,
			JitterFactor:   0.1,
		}),
	)
	defer client.CloseIdleConnections()

	fwdOpts := []proxy.Option{
		proxy.WithPolicy(a.cfg.RetryPolicy()),
		proxy.WithProbeBytes(a.cfg.Retry.ProbeBytes),
		proxy.WithProbeTimeout(a.cfg.Retry.ProbeTimeout),
		proxy.WithJournal(store),
		proxy.WithDebugRecorder(dbg),
		proxy.WithLogger(a.log),
	}
	if a.cfg.Telegram.Token != "" {
		notifier, shutdownBot := a.startBot(ctx, store)
		if notifier != nil {
			defer shutdownBot()
			fwdOpts = append(fwdOpts, proxy.WithNotifier(notifier))
		}
	}
	fwd := proxy.New(proxy.Upstream{
		Name:      a.cfg.Upstream.Name,
		BaseURL:   a.cfg.Upstream.BaseURL,
		APIKey:    a.cfg.Upstream.APIKey,
		AuthStyle: a.cfg.Upstream.AuthStyle,
	}, client, fwdOpts...)

	sched := scheduler.New(a.log)
	if a.cfg.Store.Driver != "none" && a.cfg.Store.Retention > 0 {
		job := scheduler.PruneJournal(store, a.cfg.Store.Retention, time.Now, a.log)
		if _, err := sched.AddJob(a.cfg.Store.PruneSchedule, job, scheduler.JobOptions{Name: "journal-prune", Timeout: time.Minute}); err != nil {
			return err
		}
	}
	sched.Start()

	if a.cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: httpapi.NewRouter(httpapi.Deps{
			Forwarder: fwd,
			Stats:     store,
			Log:       a.log,
			Metrics:   a.cfg.Metrics.Enabled,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.log.Info("relay started",
		slog.String("addr", a.cfg.HTTP.Addr),
		slog.String("upstream", a.cfg.Upstream.BaseURL),
		slog.String("store", a.cfg.Store.Driver),
		slog.Int("max_retries", a.cfg.Retry.MaxRetries),
	)

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("shutting down")
	case runErr = <-errCh:
		a.log.Error("server", slog.Any("error", runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("server shutdown", slog.Any("error", err))
	}
	if err := sched.Stop(shutdownCtx); err != nil {
		a.log.Warn("scheduler shutdown", slog.Any("error", err))
	}
	return runErr
}

// startBot connects the alert bot. A bot that cannot start only disables alerts.
func (a *App) startBot(ctx context.Context, store journal.Store) (*telegram.Notifier, func()) {
	cmds := &handlers.Commands{Stats: store, Log: a.log}
	handler := middleware.Chain(cmds.Handle,
		middleware.NewRateLimiter(time.Second).Middleware,
		middleware.NewACL(a.cfg.Telegram.AllowedIDs).Middleware,
	)

	var disp *telegram.Dispatcher
	b, err := bot.New(a.cfg.Telegram.Token,
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, upd *models.Update) {
			disp.Dispatch(ctx, upd)
		}),
		bot.WithAllowedUpdates([]string{"message"}),
	)
	if err != nil {
		a.log.Warn("telegram disabled", slog.Any("error", err))
		return nil, func() {}
	}
	disp = telegram.NewDispatcher(b, 2, handler)

	botCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Start(botCtx)
	}()

	notifier := telegram.NewNotifier(b, a.cfg.Telegram.AlertChatID, a.log)
	return notifier, func() {
		cancel()
		<-done
		disp.Close()
		notifier.Wait()
	}
}

func openJournal(ctx context.Context, cfg config.Config) (journal.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		s, err := sqlitestore.Open(ctx, cfg.Store.SQLitePath)
		if err != nil {
			return nil, shared.Wrap(err, "open sqlite journal")
		}
		return s, nil
	case "postgres":
		s, err := pgstore.Open(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return nil, shared.Wrap(err, "open postgres journal")
		}
		return s, nil
	default:
		return journal.Nop{}, nil
	}
}
