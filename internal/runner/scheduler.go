package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wablast/wablast/internal/campaign"
)

// ScheduleInfo describes one registered schedule.
type ScheduleInfo struct {
	ID           string    `json:"id"`
	Spec         string    `json:"spec"`
	CampaignID   string    `json:"campaign_id"`
	CampaignName string    `json:"campaign_name,omitempty"`
	NextRun      time.Time `json:"next_run"`
}

type scheduleEntry struct {
	entryID cron.EntryID
	spec    string
	task    *campaign.Task
}

// Scheduler fires campaign tasks on cron schedules. A trigger that finds the
// execution slot busy is skipped, not queued.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]scheduleEntry
}

// NewScheduler creates a scheduler bound to the run service. Specs use the
// standard five-field cron syntax plus the @every shorthand.
func NewScheduler(service *Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		logger:  logger.With("component", "scheduler"),
		entries: make(map[string]scheduleEntry),
	}
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops firing and waits for an in-flight trigger to return.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add registers a schedule under the given id.
func (s *Scheduler) Add(id, spec string, task *campaign.Task) error {
	if id == "" {
		return fmt.Errorf("schedule id is required")
	}
	if task == nil || len(task.Messages) == 0 {
		return fmt.Errorf("schedule task has no messages")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return fmt.Errorf("schedule %q already exists", id)
	}

	entryID, err := s.cron.AddFunc(spec, func() { s.fire(id, task) })
	if err != nil {
		return fmt.Errorf("invalid schedule spec %q: %w", spec, err)
	}

	s.entries[id] = scheduleEntry{entryID: entryID, spec: spec, task: task}
	s.logger.Info("schedule added", "schedule_id", id, "spec", spec, "campaign_id", task.CampaignID)
	return nil
}

// Remove deletes a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return fmt.Errorf("schedule %q not found", id)
	}
	s.cron.Remove(entry.entryID)
	delete(s.entries, id)
	s.logger.Info("schedule removed", "schedule_id", id)
	return nil
}

// List returns the registered schedules.
func (s *Scheduler) List() []ScheduleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]ScheduleInfo, 0, len(s.entries))
	for id, entry := range s.entries {
		infos = append(infos, ScheduleInfo{
			ID:           id,
			Spec:         entry.spec,
			CampaignID:   entry.task.CampaignID,
			CampaignName: entry.task.CampaignName,
			NextRun:      s.cron.Entry(entry.entryID).Next,
		})
	}
	return infos
}

func (s *Scheduler) fire(id string, task *campaign.Task) {
	runID, err := s.service.Start(context.Background(), task)
	if errors.Is(err, ErrRunActive) {
		s.logger.Warn("schedule skipped, a run is already active",
			"schedule_id", id, "campaign_id", task.CampaignID)
		return
	}
	if err != nil {
		s.logger.Error("scheduled start failed", "schedule_id", id, "error", err)
		return
	}
	s.logger.Info("scheduled run started",
		"schedule_id", id, "campaign_id", task.CampaignID, "run_id", runID)
}
