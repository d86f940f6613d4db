package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wablast/wablast/internal/campaign"
)

// Campaign is the persisted state of a campaign.
type Campaign struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	SentCount   int        `json:"sent_count"`
	FailedCount int        `json:"failed_count"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Run is one execution of a campaign.
type Run struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	CampaignName string     `json:"campaign_name"`
	TotalCount   int        `json:"total_count"`
	SentCount    int        `json:"sent_count"`
	FailedCount  int        `json:"failed_count"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// MessageRecord is one persisted message outcome.
type MessageRecord struct {
	ID         string    `json:"id"`
	RunID      string    `json:"run_id"`
	CampaignID string    `json:"campaign_id"`
	MessageID  string    `json:"message_id"`
	Recipient  string    `json:"recipient"`
	ServerID   int       `json:"server_id"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists campaigns, runs, per-message outcomes and poll results in
// SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and applies migrations.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// EnsureCampaign creates the campaign row if it does not exist yet. Tasks
// arrive fully resolved from the caller, so the row may be seen here first.
func (s *Store) EnsureCampaign(ctx context.Context, id, name string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaigns (id, name, status, created_at, updated_at)
		VALUES (?, ?, 'draft', ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		id, name, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to ensure campaign: %w", err)
	}
	return nil
}

// GetCampaign returns a campaign by id, or nil when absent.
func (s *Store) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	c := &Campaign{}
	var startedAt, completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, status, sent_count, failed_count, started_at, completed_at, created_at, updated_at
		FROM campaigns WHERE id = ?`, id,
	).Scan(&c.ID, &c.Name, &c.Status, &c.SentCount, &c.FailedCount, &startedAt, &completedAt, &c.CreatedAt, &c.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		c.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		c.CompletedAt = &completedAt.Time
	}
	return c, nil
}

// MarkCampaignRunning flips the campaign to running and stamps started_at.
func (s *Store) MarkCampaignRunning(ctx context.Context, id string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = 'running', started_at = ?, updated_at = ? WHERE id = ?`,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark campaign running: %w", err)
	}
	return nil
}

// FinishCampaign flips the campaign to a terminal status with final counts
// and stamps completed_at.
func (s *Store) FinishCampaign(ctx context.Context, id, status string, sent, failed int) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE campaigns SET status = ?, sent_count = ?, failed_count = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		status, sent, failed, now, now, id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish campaign: %w", err)
	}
	return nil
}

// CreateRun creates a run record and returns its id.
func (s *Store) CreateRun(ctx context.Context, campaignID, campaignName string, totalCount int) (string, error) {
	id := uuid.New().String()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_runs (id, campaign_id, campaign_name, total_count, status, started_at)
		VALUES (?, ?, ?, ?, 'running', ?)`,
		id, campaignID, campaignName, totalCount, time.Now(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	return id, nil
}

// UpdateRun writes current counts, and when status is terminal, the
// completion timestamp.
func (s *Store) UpdateRun(ctx context.Context, runID string, sent, failed int, status string) error {
	var err error
	if status == "" {
		_, err = s.db.ExecContext(ctx, `
			UPDATE campaign_runs SET sent_count = ?, failed_count = ? WHERE id = ?`,
			sent, failed, runID,
		)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE campaign_runs SET sent_count = ?, failed_count = ?, status = ?, completed_at = ? WHERE id = ?`,
			sent, failed, status, time.Now(), runID,
		)
	}
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// GetRun returns a run by id, or nil when absent.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	r := &Run{}
	var completedAt sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT id, campaign_id, campaign_name, total_count, sent_count, failed_count, status, started_at, completed_at
		FROM campaign_runs WHERE id = ?`, id,
	).Scan(&r.ID, &r.CampaignID, &r.CampaignName, &r.TotalCount, &r.SentCount, &r.FailedCount, &r.Status, &r.StartedAt, &completedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		r.CompletedAt = &completedAt.Time
	}
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, campaign_id, campaign_name, total_count, sent_count, failed_count, status, started_at, completed_at
		FROM campaign_runs ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var completedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.CampaignName, &r.TotalCount, &r.SentCount, &r.FailedCount, &r.Status, &r.StartedAt, &completedAt); err != nil {
			return nil, err
		}
		if completedAt.Valid {
			r.CompletedAt = &completedAt.Time
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecordMessageOutcome persists one message outcome. Implements
// campaign.Storage.
func (s *Store) RecordMessageOutcome(ctx context.Context, runID string, task *campaign.Task, msg *campaign.Message, serverID int, outcome campaign.Outcome, sendErr string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO campaign_messages (id, run_id, campaign_id, message_id, recipient, server_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), runID, task.CampaignID, msg.ID, msg.RecipientNumber, serverID, string(outcome), sendErr, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record message outcome: %w", err)
	}
	return nil
}

// CreatePollResult persists the aggregate poll record for a run. Implements
// campaign.Storage.
func (s *Store) CreatePollResult(ctx context.Context, campaignID, pollMessageID, question string, options []string) error {
	opts, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("failed to marshal poll options: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO poll_results (id, campaign_id, poll_message_id, question, options, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), campaignID, pollMessageID, question, string(opts), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create poll result: %w", err)
	}
	return nil
}

// GetRunMessages returns all message outcomes for a run, oldest first.
func (s *Store) GetRunMessages(ctx context.Context, runID string) ([]MessageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, campaign_id, message_id, recipient, server_id, status, error, created_at
		FROM campaign_messages WHERE run_id = ? ORDER BY created_at ASC`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []MessageRecord
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.RunID, &m.CampaignID, &m.MessageID, &m.Recipient, &m.ServerID, &m.Status, &m.Error, &m.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, m)
	}
	return records, rows.Err()
}
