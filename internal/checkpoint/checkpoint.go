package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wablast/wablast/internal/campaign"
)

var bucketCheckpoints = []byte("checkpoints")

// Store keeps run checkpoints in a bbolt database so an interrupted run can
// be resumed from its last attempted message.
type Store struct {
	db *bolt.DB
}

// New opens (or creates) the checkpoint database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCheckpoints)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database so other components can share it.
func (s *Store) DB() *bolt.DB {
	return s.db
}

// Save writes the checkpoint for its run, replacing any previous one.
// Implements campaign.Checkpointer.
func (s *Store) Save(ctx context.Context, cp *campaign.Checkpoint) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(cp)
		if err != nil {
			return fmt.Errorf("failed to marshal checkpoint: %w", err)
		}
		if err := tx.Bucket(bucketCheckpoints).Put([]byte(cp.RunID), data); err != nil {
			return fmt.Errorf("failed to store checkpoint: %w", err)
		}
		return nil
	})
}

// Load returns the checkpoint for a run, or nil when none exists.
func (s *Store) Load(ctx context.Context, runID string) (*campaign.Checkpoint, error) {
	var cp *campaign.Checkpoint

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketCheckpoints).Get([]byte(runID))
		if data == nil {
			return nil
		}
		cp = &campaign.Checkpoint{}
		return json.Unmarshal(data, cp)
	})

	return cp, err
}

// Delete removes the checkpoint for a run. Called when the run reaches a
// terminal state.
func (s *Store) Delete(ctx context.Context, runID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoints).Delete([]byte(runID))
	})
}

// List returns all stored checkpoints, i.e. the runs that never reached a
// terminal state.
func (s *Store) List(ctx context.Context) ([]*campaign.Checkpoint, error) {
	var cps []*campaign.Checkpoint

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCheckpoints).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var cp campaign.Checkpoint
			if err := json.Unmarshal(v, &cp); err != nil {
				continue
			}
			cps = append(cps, &cp)
		}
		return nil
	})

	return cps, err
}
