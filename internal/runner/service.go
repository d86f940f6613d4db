package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/campaign"
	"github.com/wablast/wablast/internal/events"
	"github.com/wablast/wablast/internal/media"
)

var (
	// ErrRunActive is returned when a start is attempted while a run holds
	// the execution slot.
	ErrRunActive = errors.New("a campaign run is already active")

	// ErrNoActiveRun is returned by lifecycle operations when the slot is
	// empty.
	ErrNoActiveRun = errors.New("no active campaign run")
)

// RunStore persists campaign and run records.
type RunStore interface {
	EnsureCampaign(ctx context.Context, id, name string) error
	MarkCampaignRunning(ctx context.Context, id string) error
	FinishCampaign(ctx context.Context, id, status string, sent, failed int) error
	CreateRun(ctx context.Context, campaignID, campaignName string, totalCount int) (string, error)
	UpdateRun(ctx context.Context, runID string, sent, failed int, status string) error
}

// CheckpointStore saves run checkpoints, reads them back for resume, and
// clears them once a run reaches a terminal state.
type CheckpointStore interface {
	campaign.Checkpointer
	Load(ctx context.Context, runID string) (*campaign.Checkpoint, error)
	List(ctx context.Context) ([]*campaign.Checkpoint, error)
	Delete(ctx context.Context, runID string) error
}

// Deps are the service's collaborators. Store, Checkpoints, Limiter and
// Durations may be nil.
type Deps struct {
	Client      account.Client
	Monitor     *account.Monitor
	Store       RunStore
	Checkpoints CheckpointStore
	Sink        campaign.ProgressSink
	Limiter     campaign.RateLimiter
	Loader      *media.Loader
	Durations   prometheus.Observer
	Logger      *slog.Logger
}

// Status is a snapshot of the execution slot.
type Status struct {
	Active       bool      `json:"active"`
	RunID        string    `json:"run_id,omitempty"`
	CampaignID   string    `json:"campaign_id,omitempty"`
	CampaignName string    `json:"campaign_name,omitempty"`
	Paused       bool      `json:"paused"`
	Total        int       `json:"total,omitempty"`
	SentCount    int       `json:"sent_count"`
	FailedCount  int       `json:"failed_count"`
	StartedAt    time.Time `json:"started_at,omitzero"`
}

type activeRun struct {
	runID        string
	campaignID   string
	campaignName string
	total        int
	startedAt    time.Time
	exec         *campaign.Executor
	done         chan struct{}
}

// Service owns the single execution slot. At most one campaign run is active
// at a time; starting a second returns ErrRunActive.
type Service struct {
	deps   Deps
	cfg    campaign.Config
	logger *slog.Logger

	mu     sync.Mutex
	active *activeRun
}

// NewService creates the run service.
func NewService(deps Deps, cfg campaign.Config) *Service {
	return &Service{
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.With("component", "runner"),
	}
}

// Start claims the execution slot and launches the run in the background.
// It returns the run id immediately.
func (s *Service) Start(ctx context.Context, task *campaign.Task) (string, error) {
	if task == nil || len(task.Messages) == 0 {
		return "", fmt.Errorf("campaign has no messages")
	}
	if task.CampaignID == "" {
		return "", fmt.Errorf("campaign id is required")
	}

	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return "", ErrRunActive
	}

	runID := s.createRun(ctx, task)
	exec := campaign.NewExecutor(campaign.Deps{
		Client:      s.deps.Client,
		Monitor:     s.deps.Monitor,
		Storage:     s.storage(),
		Checkpoints: s.checkpointer(),
		Sink:        s.deps.Sink,
		Limiter:     s.deps.Limiter,
		Loader:      s.deps.Loader,
		Logger:      s.logger,
	}, s.cfg)

	run := &activeRun{
		runID:        runID,
		campaignID:   task.CampaignID,
		campaignName: task.CampaignName,
		total:        len(task.Messages),
		startedAt:    time.Now(),
		exec:         exec,
		done:         make(chan struct{}),
	}
	s.active = run
	s.mu.Unlock()

	go s.run(task, run)

	return runID, nil
}

// StartResumed starts a new run that picks up where an interrupted run left
// off. The caller supplies the original task; the checkpoint of resumeRunID
// decides the first message index. The old checkpoint is cleared once the new
// run is underway.
func (s *Service) StartResumed(ctx context.Context, resumeRunID string, task *campaign.Task) (string, error) {
	if task == nil || len(task.Messages) == 0 {
		return "", fmt.Errorf("campaign has no messages")
	}
	if s.deps.Checkpoints == nil {
		return "", fmt.Errorf("checkpoints are not enabled")
	}
	cp, err := s.deps.Checkpoints.Load(ctx, resumeRunID)
	if err != nil {
		return "", fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if cp == nil {
		return "", fmt.Errorf("no checkpoint for run %s", resumeRunID)
	}
	if cp.LastIndex+1 >= len(task.Messages) {
		return "", fmt.Errorf("run %s already attempted its last message", resumeRunID)
	}

	task.StartIndex = cp.LastIndex + 1
	runID, err := s.Start(ctx, task)
	if err != nil {
		return "", err
	}

	if err := s.deps.Checkpoints.Delete(ctx, resumeRunID); err != nil {
		s.logger.Error("failed to delete resumed checkpoint",
			"run_id", resumeRunID, "error", err)
	}
	s.logger.Info("run resumed from checkpoint",
		"resumed_run_id", resumeRunID, "run_id", runID, "start_index", task.StartIndex)
	return runID, nil
}

// Interrupted lists checkpoints of runs that never reached a terminal state.
func (s *Service) Interrupted(ctx context.Context) ([]*campaign.Checkpoint, error) {
	if s.deps.Checkpoints == nil {
		return nil, nil
	}
	return s.deps.Checkpoints.List(ctx)
}

// createRun records the run row. A storage failure falls back to a local id
// rather than blocking the campaign.
func (s *Service) createRun(ctx context.Context, task *campaign.Task) string {
	if s.deps.Store == nil {
		return uuid.NewString()
	}
	runID, err := s.deps.Store.CreateRun(ctx, task.CampaignID, task.CampaignName, len(task.Messages))
	if err != nil {
		s.logger.Error("failed to create run record", "campaign_id", task.CampaignID, "error", err)
		return uuid.NewString()
	}
	return runID
}

// run drives a claimed slot to its terminal state. It uses a background
// context so the run outlives the request that started it; stop goes through
// the executor.
func (s *Service) run(task *campaign.Task, run *activeRun) {
	ctx := context.Background()
	logger := s.logger.With("campaign_id", task.CampaignID, "run_id", run.runID)

	s.publish(events.Event{
		Type:       events.TypeStarted,
		CampaignID: task.CampaignID,
		RunID:      run.runID,
		Total:      run.total,
	})

	if s.deps.Store != nil {
		if err := s.deps.Store.EnsureCampaign(ctx, task.CampaignID, task.CampaignName); err != nil {
			logger.Error("failed to ensure campaign record", "error", err)
		}
		if err := s.deps.Store.MarkCampaignRunning(ctx, task.CampaignID); err != nil {
			logger.Error("failed to mark campaign running", "error", err)
		}
	}

	result := run.exec.Execute(ctx, task, run.runID)

	status := "completed"
	evType := events.TypeComplete
	var evErr string
	if !result.Success {
		status = "failed"
		evType = events.TypeError
		if n := len(result.Errors); n > 0 {
			evErr = result.Errors[n-1].Error
		}
	}

	if s.deps.Store != nil {
		if err := s.deps.Store.FinishCampaign(ctx, task.CampaignID, status, result.SentCount, result.FailedCount); err != nil {
			logger.Error("failed to finish campaign record", "error", err)
		}
		if err := s.deps.Store.UpdateRun(ctx, run.runID, result.SentCount, result.FailedCount, status); err != nil {
			logger.Error("failed to update run record", "error", err)
		}
	}
	if s.deps.Checkpoints != nil {
		if err := s.deps.Checkpoints.Delete(ctx, run.runID); err != nil {
			logger.Error("failed to delete run checkpoint", "error", err)
		}
	}

	s.publish(events.Event{
		Type:        evType,
		CampaignID:  task.CampaignID,
		RunID:       run.runID,
		Total:       run.total,
		SentCount:   result.SentCount,
		FailedCount: result.FailedCount,
		Error:       evErr,
	})

	if s.deps.Durations != nil {
		s.deps.Durations.Observe(time.Since(run.startedAt).Seconds())
	}

	s.mu.Lock()
	s.active = nil
	s.mu.Unlock()
	close(run.done)

	logger.Info("run finished", "status", status,
		"sent", result.SentCount, "failed", result.FailedCount)
}

// Pause suspends the active run before its next message.
func (s *Service) Pause() error {
	run, err := s.current()
	if err != nil {
		return err
	}
	run.exec.Pause()
	s.publish(events.Event{
		Type:       events.TypePaused,
		CampaignID: run.campaignID,
		RunID:      run.runID,
	})
	s.logger.Info("run paused", "run_id", run.runID)
	return nil
}

// Resume releases a paused run.
func (s *Service) Resume() error {
	run, err := s.current()
	if err != nil {
		return err
	}
	run.exec.Resume()
	s.publish(events.Event{
		Type:       events.TypeResumed,
		CampaignID: run.campaignID,
		RunID:      run.runID,
	})
	s.logger.Info("run resumed", "run_id", run.runID)
	return nil
}

// Stop requests the active run to end. The run finishes asynchronously; its
// terminal event reports the final counts.
func (s *Service) Stop() error {
	run, err := s.current()
	if err != nil {
		return err
	}
	run.exec.Stop()
	s.logger.Info("run stop requested", "run_id", run.runID)
	return nil
}

// Status reports the execution slot.
func (s *Service) Status() Status {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return Status{}
	}
	sent, failed := run.exec.Counts()
	return Status{
		Active:       true,
		RunID:        run.runID,
		CampaignID:   run.campaignID,
		CampaignName: run.campaignName,
		Paused:       run.exec.IsPaused(),
		Total:        run.total,
		SentCount:    sent,
		FailedCount:  failed,
		StartedAt:    run.startedAt,
	}
}

// Shutdown stops the active run, if any, and waits for it to finish or for
// the context to expire.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	run := s.active
	s.mu.Unlock()

	if run == nil {
		return nil
	}
	run.exec.Stop()

	select {
	case <-run.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) current() (*activeRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil, ErrNoActiveRun
	}
	return s.active, nil
}

func (s *Service) publish(ev events.Event) {
	if s.deps.Sink != nil {
		s.deps.Sink.Publish(ev)
	}
}

func (s *Service) storage() campaign.Storage {
	if st, ok := s.deps.Store.(campaign.Storage); ok {
		return st
	}
	return nil
}

func (s *Service) checkpointer() campaign.Checkpointer {
	if s.deps.Checkpoints == nil {
		return nil
	}
	return s.deps.Checkpoints
}
