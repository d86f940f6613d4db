package events

import "time"

// Type identifies a campaign lifecycle event.
type Type string

const (
	TypeStarted  Type = "started"
	TypeProgress Type = "progress"
	TypeComplete Type = "complete"
	TypeError    Type = "error"
	TypePaused   Type = "paused"
	TypeResumed  Type = "resumed"
)

// Event is what the execution core reports to the outside world. Progress
// events carry the per-message fields; terminal events carry the final counts.
type Event struct {
	Type          Type      `json:"type"`
	CampaignID    string    `json:"campaign_id"`
	RunID         string    `json:"run_id,omitempty"`
	Current       int       `json:"current,omitempty"`
	Total         int       `json:"total,omitempty"`
	Percent       int       `json:"percent,omitempty"`
	SentCount     int       `json:"sent_count"`
	FailedCount   int       `json:"failed_count"`
	Recipient     string    `json:"recipient,omitempty"`
	RecipientName string    `json:"recipient_name,omitempty"`
	Account       int       `json:"account,omitempty"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}
