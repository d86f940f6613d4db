package campaign

import (
	"context"
	"time"

	"github.com/wablast/wablast/internal/events"
)

// Outcome is the terminal status of one message attempt.
type Outcome string

const (
	OutcomeSent   Outcome = "sent"
	OutcomeFailed Outcome = "failed"
)

// Storage persists per-message outcomes and poll results. Every write is
// fire-and-forget from the executor's point of view: failures are logged, the
// run continues.
type Storage interface {
	RecordMessageOutcome(ctx context.Context, runID string, task *Task, msg *Message, serverID int, outcome Outcome, sendErr string) error
	CreatePollResult(ctx context.Context, campaignID, pollMessageID, question string, options []string) error
}

// Checkpoint is the durable position of a run, written after every message so
// a crashed run can be resumed from the last attempted index.
type Checkpoint struct {
	RunID       string    `json:"run_id"`
	CampaignID  string    `json:"campaign_id"`
	LastIndex   int       `json:"last_index"`
	SentCount   int       `json:"sent_count"`
	FailedCount int       `json:"failed_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Checkpointer stores run checkpoints.
type Checkpointer interface {
	Save(ctx context.Context, cp *Checkpoint) error
}

// ProgressSink receives campaign lifecycle events.
type ProgressSink interface {
	Publish(events.Event)
}

// RateLimiter gates accounts by anti-ban sending quotas. Allow reports
// whether the account may send another message now; Record counts a
// successful send against its windows.
type RateLimiter interface {
	Allow(id int) bool
	Record(id int) error
}
