package account

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultPollInterval is the cadence used when probing account readiness.
const DefaultPollInterval = 2 * time.Second

// checkedStatus is the last observed status of an account, kept for
// diagnostics only.
type checkedStatus struct {
	Ready     bool
	Error     string
	CheckedAt time.Time
}

// Monitor answers which accounts can send right now, based on live readiness
// flags from the account client.
type Monitor struct {
	client       Client
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	checked map[int]checkedStatus
}

// NewMonitor creates a monitor around the given account client.
func NewMonitor(client Client, logger *slog.Logger) *Monitor {
	return &Monitor{
		client:       client,
		logger:       logger.With("component", "monitor"),
		pollInterval: DefaultPollInterval,
		checked:      make(map[int]checkedStatus),
	}
}

// SetPollInterval overrides the readiness probe cadence. Used by tests and by
// deployments that want a faster or slower probe.
func (m *Monitor) SetPollInterval(d time.Duration) {
	if d > 0 {
		m.pollInterval = d
	}
}

// Available returns the ids of all ready accounts in ascending order. The
// ordering is part of the contract: rotation depends on a stable sort.
func (m *Monitor) Available(ctx context.Context) []int {
	statuses, err := m.client.Statuses(ctx)
	if err != nil {
		m.logger.Error("failed to query account statuses", "error", err)
		return nil
	}

	var ready []int
	for id, st := range statuses {
		if st.Ready {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)
	return ready
}

// Ready reports whether a single account is ready and records the result in
// the last-checked cache.
func (m *Monitor) Ready(ctx context.Context, id int) bool {
	st, err := m.client.Status(ctx, id)

	entry := checkedStatus{CheckedAt: time.Now()}
	if err != nil {
		entry.Error = err.Error()
	} else {
		entry.Ready = st.Ready
		entry.Error = st.Error
	}

	m.mu.Lock()
	m.checked[id] = entry
	m.mu.Unlock()

	return err == nil && st.Ready
}

// WaitForServer blocks until the account is ready or the timeout elapses.
// A zero timeout waits until the context is cancelled.
func (m *Monitor) WaitForServer(ctx context.Context, id int, timeout time.Duration) error {
	if m.Ready(ctx, id) {
		return nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("account %d did not become ready within %s", id, timeout)
		case <-ticker.C:
			if m.Ready(ctx, id) {
				return nil
			}
		}
	}
}

// WaitForAny blocks until at least one account is ready and returns the lowest
// ready id, or fails when the timeout elapses.
func (m *Monitor) WaitForAny(ctx context.Context, timeout time.Duration) (int, error) {
	if ready := m.Available(ctx); len(ready) > 0 {
		return ready[0], nil
	}

	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-deadline:
			return 0, fmt.Errorf("no account became ready within %s", timeout)
		case <-ticker.C:
			if ready := m.Available(ctx); len(ready) > 0 {
				return ready[0], nil
			}
		}
	}
}

// HealthSummary returns a human-readable readiness line for logs. Not used
// for control flow.
func (m *Monitor) HealthSummary(ctx context.Context) string {
	statuses, err := m.client.Statuses(ctx)
	if err != nil {
		return fmt.Sprintf("status query failed: %v", err)
	}

	ids := make([]int, 0, len(statuses))
	for id := range statuses {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var ready, notReady []string
	for _, id := range ids {
		if statuses[id].Ready {
			ready = append(ready, fmt.Sprintf("%d", id))
		} else {
			notReady = append(notReady, fmt.Sprintf("%d", id))
		}
	}

	return fmt.Sprintf("Ready: [%s] | Not Ready: [%s]",
		strings.Join(ready, " "), strings.Join(notReady, " "))
}

// LastChecked returns the cached diagnostic entry for an account, if any.
func (m *Monitor) LastChecked(id int) (bool, string, time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.checked[id]
	if !ok {
		return false, "", time.Time{}
	}
	return entry.Ready, entry.Error, entry.CheckedAt
}
