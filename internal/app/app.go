package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/api"
	"github.com/wablast/wablast/internal/campaign"
	"github.com/wablast/wablast/internal/checkpoint"
	"github.com/wablast/wablast/internal/config"
	"github.com/wablast/wablast/internal/events"
	"github.com/wablast/wablast/internal/metrics"
	"github.com/wablast/wablast/internal/ratelimit"
	"github.com/wablast/wablast/internal/runner"
	"github.com/wablast/wablast/internal/store"
	"github.com/wablast/wablast/internal/waclient"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *store.Store
	checkpoints   *checkpoint.Store
	rateLimiter   *ratelimit.Limiter
	bus           *events.Bus
	runner        *runner.Service
	scheduler     *runner.Scheduler
	apiServer     *api.Server
	metrics       *metrics.Metrics
	metricsServer *metrics.Server
	monitor       *account.Monitor
	clients       *waclient.Manager
	logger        *slog.Logger

	unsubscribe func()
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)

	// Persistent stores
	st, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}

	checkpoints, err := checkpoint.New(cfg.Storage.CheckpointPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	// Rate limiter shares the checkpoint database
	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter, err = ratelimit.NewLimiter(checkpoints.DB(), cfg.RateLimit.Defaults, cfg.RateLimit.PerAccount)
		if err != nil {
			checkpoints.Close()
			st.Close()
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		logger.Info("rate limiting enabled")
	}

	// Gateway client pool
	accounts := make([]waclient.Account, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		accounts = append(accounts, waclient.Account{
			ID:      acc.ID,
			Name:    acc.Name,
			BaseURL: acc.BaseURL,
			APIKey:  acc.APIKey,
		})
	}
	clients, err := waclient.NewManager(accounts)
	if err != nil {
		checkpoints.Close()
		st.Close()
		return nil, fmt.Errorf("failed to create gateway clients: %w", err)
	}

	monitor := account.NewMonitor(clients, logger)
	monitor.SetPollInterval(cfg.Executor.PollInterval)

	bus := events.NewBus(logger)

	var m *metrics.Metrics
	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
	}

	runnerDeps := runner.Deps{
		Client:      clients,
		Monitor:     monitor,
		Store:       st,
		Checkpoints: checkpoints,
		Sink:        bus,
		Logger:      logger,
	}
	if limiter != nil {
		runnerDeps.Limiter = limiter
	}
	if m != nil {
		runnerDeps.Durations = m.RunDurationSeconds
	}

	svc := runner.NewService(runnerDeps, campaign.Config{
		PollInterval:      cfg.Executor.PollInterval,
		SingleWaitTimeout: cfg.Executor.SingleWaitTimeout,
		AnyWaitTimeout:    cfg.Executor.AnyWaitTimeout,
	})

	scheduler := runner.NewScheduler(svc, logger)

	apiDeps := api.Deps{
		Runs:      svc,
		Schedules: scheduler,
		History:   st,
		Accounts:  clients,
		Monitor:   monitor,
		Bus:       bus,
	}
	if limiter != nil {
		apiDeps.Quota = limiter
	}
	if m != nil {
		apiDeps.Metrics = m.Middleware
	}
	apiServer := api.NewServer(apiDeps, &cfg.API, logger.With("component", "api"))

	return &App{
		config:        cfg,
		store:         st,
		checkpoints:   checkpoints,
		rateLimiter:   limiter,
		bus:           bus,
		runner:        svc,
		scheduler:     scheduler,
		apiServer:     apiServer,
		metrics:       m,
		metricsServer: metricsServer,
		monitor:       monitor,
		clients:       clients,
		logger:        logger,
	}, nil
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting wablast",
		"api_addr", a.config.API.ListenAddr,
		"accounts", len(a.config.Accounts),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.logger.Info("gateway accounts configured", "ids", a.clients.IDs())
	a.logger.Info("account health", "summary", a.monitor.HealthSummary(ctx))

	// Surface runs that never reached a terminal state; they can be resumed
	// through POST /runs with resume_run_id.
	if cps, err := a.checkpoints.List(ctx); err != nil {
		a.logger.Error("failed to list checkpoints", "error", err)
	} else {
		for _, cp := range cps {
			a.logger.Warn("interrupted run found",
				"run_id", cp.RunID,
				"campaign_id", cp.CampaignID,
				"last_index", cp.LastIndex,
				"sent", cp.SentCount,
				"failed", cp.FailedCount,
			)
		}
	}

	// Feed campaign events into metrics
	if a.metrics != nil {
		ch, unsub := a.bus.Subscribe()
		a.unsubscribe = unsub
		go func() {
			for ev := range ch {
				a.metrics.ObserveEvent(ev)
			}
		}()
		go a.watchAccounts(ctx)
	}

	a.scheduler.Start()

	if a.metricsServer != nil {
		a.metricsServer.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop firing new schedules first
	if err := a.scheduler.Stop(shutdownCtx); err != nil {
		a.logger.Error("scheduler shutdown error", "error", err)
	}

	// Stop the active run, if any
	if err := a.runner.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("runner shutdown error", "error", err)
	}

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if a.unsubscribe != nil {
		a.unsubscribe()
	}

	if a.rateLimiter != nil {
		if err := a.rateLimiter.Cleanup(); err != nil {
			a.logger.Error("rate limiter cleanup error", "error", err)
		}
	}

	if err := a.checkpoints.Close(); err != nil {
		a.logger.Error("checkpoint store close error", "error", err)
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// watchAccounts keeps the ready-accounts gauge current.
func (a *App) watchAccounts(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.metrics.AccountsReady.Set(float64(len(a.monitor.Available(ctx))))
		}
	}
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
