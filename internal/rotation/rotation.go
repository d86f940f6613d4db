package rotation

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Manager decides which account handles a given message and tracks how many
// messages each account has sent during the current run. Selection is a pure
// function of the available set and the message index; the counters exist for
// reporting only.
type Manager struct {
	mu   sync.Mutex
	sent map[int]int
}

// NewManager creates a new rotation manager with empty counters.
func NewManager() *Manager {
	return &Manager{sent: make(map[int]int)}
}

// Next returns the account that should handle the message at the given index.
// The available set is sorted ascending and the account at index mod len is
// picked, so the same (set, index) pair always yields the same account and a
// changed set takes effect immediately on the next call.
func (m *Manager) Next(available []int, index int) (int, error) {
	if len(available) == 0 {
		return 0, fmt.Errorf("no accounts available for rotation")
	}

	sorted := make([]int, len(available))
	copy(sorted, available)
	sort.Ints(sorted)

	id := sorted[index%len(sorted)]

	m.mu.Lock()
	m.sent[id]++
	m.mu.Unlock()

	return id, nil
}

// Single records a send against a designated account and returns it. Used by
// the single-account strategy so distribution reporting works the same way in
// both modes.
func (m *Manager) Single(id int) int {
	m.mu.Lock()
	m.sent[id]++
	m.mu.Unlock()
	return id
}

// Reset clears the per-account counters. Called at the start of every run.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.sent = make(map[int]int)
	m.mu.Unlock()
}

// Distribution returns a copy of the per-account send counters.
func (m *Manager) Distribution() map[int]int {
	m.mu.Lock()
	defer m.mu.Unlock()

	dist := make(map[int]int, len(m.sent))
	for id, n := range m.sent {
		dist[id] = n
	}
	return dist
}

// LogDistribution logs the per-account send counts for the finished run.
func (m *Manager) LogDistribution(logger *slog.Logger) {
	dist := m.Distribution()
	if len(dist) == 0 {
		return
	}

	ids := make([]int, 0, len(dist))
	for id := range dist {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	for _, id := range ids {
		logger.Info("account send count", "account", id, "sent", dist[id])
	}
}
