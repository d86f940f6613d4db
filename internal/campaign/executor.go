package campaign

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/events"
	"github.com/wablast/wablast/internal/media"
	"github.com/wablast/wablast/internal/rotation"
)

// Config tunes the executor's waiting behavior.
type Config struct {
	// PollInterval is the fallback probe cadence for the pause gate.
	PollInterval time.Duration
	// SingleWaitTimeout bounds the wait for a designated account in single
	// strategy. Zero preserves the historical behavior of waiting forever.
	SingleWaitTimeout time.Duration
	// AnyWaitTimeout bounds the wait for any ready account in rotational
	// strategy. An expired wait aborts the run.
	AnyWaitTimeout time.Duration
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      2 * time.Second,
		SingleWaitTimeout: 0,
		AnyWaitTimeout:    60 * time.Second,
	}
}

// Deps are the executor's collaborators. Storage, Checkpoints, Sink and
// Limiter may be nil; the executor degrades to logging only.
type Deps struct {
	Client      account.Client
	Monitor     *account.Monitor
	Storage     Storage
	Checkpoints Checkpointer
	Sink        ProgressSink
	Limiter     RateLimiter
	Loader      *media.Loader
	Logger      *slog.Logger
}

// Executor walks a campaign's message list: picks an account per message,
// personalizes the template, delegates the send, records the outcome, emits
// progress and applies the inter-message delay. One executor drives one run
// at a time; the runner constructs a fresh one per run.
type Executor struct {
	client      account.Client
	monitor     *account.Monitor
	rotation    *rotation.Manager
	storage     Storage
	checkpoints Checkpointer
	sink        ProgressSink
	limiter     RateLimiter
	loader      *media.Loader
	logger      *slog.Logger
	cfg         Config

	mu            sync.Mutex
	paused        bool
	gate          chan struct{} // non-nil while paused, closed on resume
	stopRequested bool
	stopCancel    context.CancelFunc
	sent          int
	failed        int
	errs          []SendError

	// run-local, touched only by the Execute goroutine
	pollResultSaved bool
}

// NewExecutor creates an executor with fresh rotation counters.
func NewExecutor(deps Deps, cfg Config) *Executor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.AnyWaitTimeout <= 0 {
		cfg.AnyWaitTimeout = 60 * time.Second
	}
	loader := deps.Loader
	if loader == nil {
		loader = media.NewLoader()
	}

	return &Executor{
		client:      deps.Client,
		monitor:     deps.Monitor,
		rotation:    rotation.NewManager(),
		storage:     deps.Storage,
		checkpoints: deps.Checkpoints,
		sink:        deps.Sink,
		limiter:     deps.Limiter,
		loader:      loader,
		logger:      deps.Logger.With("component", "executor"),
		cfg:         cfg,
	}
}

// Execute runs the campaign to a terminal state. Per-message failures never
// abort the run; only an account-availability failure in rotational mode does.
// The result is immutable once returned.
func (e *Executor) Execute(ctx context.Context, task *Task, runID string) *Result {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	e.mu.Lock()
	e.sent, e.failed, e.errs = 0, 0, nil
	e.paused, e.gate = false, nil
	e.stopCancel = cancel
	if e.stopRequested {
		cancel()
	}
	e.mu.Unlock()

	e.pollResultSaved = false
	e.rotation.Reset()

	total := len(task.Messages)
	start := task.StartIndex
	if start < 0 {
		start = 0
	}
	logger := e.logger.With("campaign_id", task.CampaignID, "run_id", runID)
	logger.Info("campaign execution started", "total", total, "start_index", start, "strategy", task.Strategy)

	result := &Result{Success: true}

	for i := start; i < total; i++ {
		msg := &task.Messages[i]

		if e.isStopped() {
			logger.Info("stop requested, ending run", "next_index", i)
			break
		}
		if !e.waitWhilePaused() {
			logger.Info("stop requested while paused, ending run", "next_index", i)
			break
		}

		serverID, err := e.selectAccount(runCtx, task, i)
		if err != nil {
			if e.isStopped() {
				break
			}
			logger.Error("no account available, aborting run", "error", err)
			result.Success = false
			e.appendError(SendError{
				MessageIndex:    i,
				RecipientNumber: msg.RecipientNumber,
				Error:           err.Error(),
			})
			break
		}

		text := Personalize(msg.TemplateText, msg.Variables, msg.RecipientName)
		sendErr := e.sendMessage(runCtx, task, msg, serverID, text)
		if sendErr != nil {
			e.addFailed(SendError{
				MessageIndex:    i,
				RecipientNumber: msg.RecipientNumber,
				Error:           sendErr.Error(),
				ServerID:        serverID,
			})
			e.recordOutcome(runCtx, runID, task, msg, serverID, OutcomeFailed, sendErr.Error())
			logger.Warn("message failed",
				"index", i, "recipient", msg.RecipientNumber, "account", serverID, "error", sendErr)
		} else {
			e.addSent()
			e.recordOutcome(runCtx, runID, task, msg, serverID, OutcomeSent, "")
			if e.limiter != nil {
				if err := e.limiter.Record(serverID); err != nil {
					logger.Warn("failed to record send against quota", "account", serverID, "error", err)
				}
			}
			logger.Debug("message sent", "index", i, "recipient", msg.RecipientNumber, "account", serverID)
		}

		e.emitProgress(task, runID, i, total, msg, serverID, sendErr)
		e.saveCheckpoint(runCtx, runID, task.CampaignID, i)

		if i < total-1 {
			// The delay is cancellable by stop, unlike the historical
			// behavior of sleeping the draw out.
			if !e.sleepDelay(runCtx, task.Delay) {
				logger.Info("stop requested during delay, ending run", "after_index", i)
				break
			}
		}
	}

	e.rotation.LogDistribution(logger)

	result.SentCount, result.FailedCount, result.Errors = e.snapshot()
	logger.Info("campaign execution finished",
		"sent", result.SentCount, "failed", result.FailedCount, "success", result.Success)
	return result
}

// Pause suspends the loop before the next message. The in-flight send and its
// delay are not interrupted.
func (e *Executor) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.paused {
		e.paused = true
		e.gate = make(chan struct{})
	}
}

// Resume releases a paused loop.
func (e *Executor) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.paused {
		e.paused = false
		close(e.gate)
	}
}

// Stop latches the run to end before the next message and cancels any
// readiness wait or inter-message delay in progress. One-way: a stopped run
// never resumes.
func (e *Executor) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopRequested = true
	if e.stopCancel != nil {
		e.stopCancel()
	}
}

// IsPaused reports whether the loop is gated.
func (e *Executor) IsPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Counts returns the live sent/failed counters.
func (e *Executor) Counts() (sent, failed int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sent, e.failed
}

func (e *Executor) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRequested
}

// waitWhilePaused blocks while the pause gate is up. Returns false when the
// run was stopped in the meantime. Resume wakes it immediately; the poll
// interval is only a fallback probe.
func (e *Executor) waitWhilePaused() bool {
	for {
		e.mu.Lock()
		paused, gate, stopped := e.paused, e.gate, e.stopRequested
		e.mu.Unlock()

		if stopped {
			return false
		}
		if !paused {
			return true
		}

		timer := time.NewTimer(e.cfg.PollInterval)
		select {
		case <-gate:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// selectAccount picks the account for the message at the given index. In
// single strategy it waits for the designated account; in rotational strategy
// it rotates over the currently available set, waiting up to AnyWaitTimeout
// when the set is empty.
func (e *Executor) selectAccount(ctx context.Context, task *Task, index int) (int, error) {
	if task.Strategy == StrategyRotational {
		available := e.filterByQuota(e.monitor.Available(ctx))
		if len(available) == 0 {
			id, err := e.monitor.WaitForAny(ctx, e.cfg.AnyWaitTimeout)
			if err != nil {
				return 0, err
			}
			available = []int{id}
		}
		return e.rotation.Next(available, index)
	}

	id := task.DesignatedServerID
	if id == 0 {
		id = 1
	}
	if err := e.monitor.WaitForServer(ctx, id, e.cfg.SingleWaitTimeout); err != nil {
		return 0, err
	}
	return e.rotation.Single(id), nil
}

// filterByQuota drops accounts that are over their sending caps.
func (e *Executor) filterByQuota(available []int) []int {
	if e.limiter == nil {
		return available
	}
	var allowed []int
	for _, id := range available {
		if e.limiter.Allow(id) {
			allowed = append(allowed, id)
		} else {
			e.logger.Debug("account over sending quota, skipping", "account", id)
		}
	}
	return allowed
}

// sleepDelay applies the randomized inter-message delay. Returns false when
// the run was stopped before the delay elapsed.
func (e *Executor) sleepDelay(ctx context.Context, settings DelaySettings) bool {
	d := DrawDelay(settings)
	e.logger.Debug("applying inter-message delay", "delay", d)

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (e *Executor) emitProgress(task *Task, runID string, index, total int, msg *Message, serverID int, sendErr error) {
	if e.sink == nil {
		return
	}

	errMsg := ""
	if sendErr != nil {
		errMsg = sendErr.Error()
	}

	sent, failed := e.Counts()
	e.sink.Publish(events.Event{
		Type:          events.TypeProgress,
		CampaignID:    task.CampaignID,
		RunID:         runID,
		Current:       index + 1,
		Total:         total,
		Percent:       (index + 1) * 100 / total,
		SentCount:     sent,
		FailedCount:   failed,
		Recipient:     msg.RecipientNumber,
		RecipientName: msg.RecipientName,
		Account:       serverID,
		Error:         errMsg,
	})
}

func (e *Executor) recordOutcome(ctx context.Context, runID string, task *Task, msg *Message, serverID int, outcome Outcome, sendErr string) {
	if e.storage == nil {
		return
	}
	if err := e.storage.RecordMessageOutcome(ctx, runID, task, msg, serverID, outcome, sendErr); err != nil {
		e.logger.Error("failed to record message outcome",
			"message_id", msg.ID, "outcome", outcome, "error", err)
	}
}

func (e *Executor) saveCheckpoint(ctx context.Context, runID, campaignID string, lastIndex int) {
	if e.checkpoints == nil {
		return
	}

	sent, failed := e.Counts()
	cp := &Checkpoint{
		RunID:       runID,
		CampaignID:  campaignID,
		LastIndex:   lastIndex,
		SentCount:   sent,
		FailedCount: failed,
		UpdatedAt:   time.Now(),
	}
	if err := e.checkpoints.Save(ctx, cp); err != nil {
		e.logger.Error("failed to save run checkpoint", "run_id", runID, "error", err)
	}
}

func (e *Executor) addSent() {
	e.mu.Lock()
	e.sent++
	e.mu.Unlock()
}

func (e *Executor) addFailed(se SendError) {
	e.mu.Lock()
	e.failed++
	e.errs = append(e.errs, se)
	e.mu.Unlock()
}

func (e *Executor) appendError(se SendError) {
	e.mu.Lock()
	e.errs = append(e.errs, se)
	e.mu.Unlock()
}

func (e *Executor) snapshot() (int, int, []SendError) {
	e.mu.Lock()
	defer e.mu.Unlock()
	errs := make([]SendError, len(e.errs))
	copy(errs, e.errs)
	return e.sent, e.failed, errs
}
