package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/campaign"
	"github.com/wablast/wablast/internal/config"
	"github.com/wablast/wablast/internal/events"
	"github.com/wablast/wablast/internal/runner"
	"github.com/wablast/wablast/internal/store"
)

// RunService is the run lifecycle surface exposed over HTTP.
type RunService interface {
	Start(ctx context.Context, task *campaign.Task) (string, error)
	StartResumed(ctx context.Context, resumeRunID string, task *campaign.Task) (string, error)
	Interrupted(ctx context.Context) ([]*campaign.Checkpoint, error)
	Pause() error
	Resume() error
	Stop() error
	Status() runner.Status
}

// Quota reports per-account send counts against the rate-limit windows.
type Quota interface {
	Count(id int) (hour, day int)
}

// ScheduleService manages cron-scheduled campaign starts.
type ScheduleService interface {
	Add(id, spec string, task *campaign.Task) error
	Remove(id string) error
	List() []runner.ScheduleInfo
}

// RunReader reads persisted run history.
type RunReader interface {
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	GetRun(ctx context.Context, id string) (*store.Run, error)
	ListRuns(ctx context.Context, limit int) ([]store.Run, error)
	GetRunMessages(ctx context.Context, runID string) ([]store.MessageRecord, error)
}

// Server is the HTTP control API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	runs       RunService
	schedules  ScheduleService
	history    RunReader
	accounts   account.Client
	monitor    *account.Monitor
	quota      Quota
	bus        *events.Bus
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// Deps are the server's collaborators. Schedules, History, Accounts, Monitor,
// Quota and Bus may be nil; the matching endpoints then report 503 or omit
// their fields.
type Deps struct {
	Runs      RunService
	Schedules ScheduleService
	History   RunReader
	Accounts  account.Client
	Monitor   *account.Monitor
	Quota     Quota
	Bus       *events.Bus
	Metrics   func(http.Handler) http.Handler
}

// NewServer creates a new API server
func NewServer(deps Deps, cfg *config.APIConfig, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		runs:      deps.Runs,
		schedules: deps.Schedules,
		history:   deps.History,
		accounts:  deps.Accounts,
		monitor:   deps.Monitor,
		quota:     deps.Quota,
		bus:       deps.Bus,
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	s.setupRoutes(deps.Metrics)
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes(metricsMiddleware func(http.Handler) http.Handler) {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	if metricsMiddleware != nil {
		s.router.Use(metricsMiddleware)
	}

	// Health check (no auth required)
	s.router.Get("/health", s.handleHealth)

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/runs", s.handleStartRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/current", s.handleCurrentRun)
		r.Post("/runs/current/pause", s.handlePause)
		r.Post("/runs/current/resume", s.handleResume)
		r.Post("/runs/current/stop", s.handleStop)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/messages", s.handleRunMessages)

		r.Get("/campaigns/{id}", s.handleGetCampaign)
		r.Get("/checkpoints", s.handleCheckpoints)
		r.Get("/accounts", s.handleAccounts)
		r.Get("/limits", s.handleLimits)
		r.Get("/events", s.handleEvents)

		r.Post("/schedules", s.handleAddSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Delete("/schedules/{id}", s.handleRemoveSchedule)
	})
}

// Router returns the configured handler, for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:         s.config.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
