package waclient

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wablast/wablast/internal/account"
	"github.com/wablast/wablast/internal/media"
)

// Account describes one configured gateway node.
type Account struct {
	ID      int
	Name    string
	BaseURL string
	APIKey  string
}

type node struct {
	name   string
	client *Client
}

// Manager fans account-addressed calls out to the right gateway node. It
// implements account.Client.
type Manager struct {
	nodes map[int]*node
}

// NewManager builds the client pool from the configured accounts.
func NewManager(accounts []Account) (*Manager, error) {
	nodes := make(map[int]*node, len(accounts))
	for _, acc := range accounts {
		if acc.BaseURL == "" {
			return nil, fmt.Errorf("account %d has no base URL", acc.ID)
		}
		if _, ok := nodes[acc.ID]; ok {
			return nil, fmt.Errorf("duplicate account id %d", acc.ID)
		}
		nodes[acc.ID] = &node{
			name:   acc.Name,
			client: NewClient(acc.BaseURL, acc.APIKey),
		}
	}
	return &Manager{nodes: nodes}, nil
}

// IDs returns the configured account ids in ascending order.
func (m *Manager) IDs() []int {
	ids := make([]int, 0, len(m.nodes))
	for id := range m.nodes {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *Manager) node(id int) (*node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("unknown account %d", id)
	}
	return n, nil
}

// Status reports readiness of a single account.
func (m *Manager) Status(ctx context.Context, id int) (account.Status, error) {
	n, err := m.node(id)
	if err != nil {
		return account.Status{}, err
	}
	resp, err := n.client.Status(ctx)
	if err != nil {
		return account.Status{ID: id, Ready: false, Error: err.Error()}, nil
	}
	return account.Status{ID: id, Ready: resp.Ready, Error: resp.Error}, nil
}

// Statuses queries every node in parallel. A node that cannot be reached is
// reported as not ready rather than failing the whole call.
func (m *Manager) Statuses(ctx context.Context) (map[int]account.Status, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		statuses = make(map[int]account.Status, len(m.nodes))
	)

	for id := range m.nodes {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			st, _ := m.Status(ctx, id)
			mu.Lock()
			statuses[id] = st
			mu.Unlock()
		}(id)
	}
	wg.Wait()

	return statuses, nil
}

// ResolveRecipient maps phone digits to a chat identifier. An empty result
// with a nil error means the number is not registered.
func (m *Manager) ResolveRecipient(ctx context.Context, id int, phoneDigits string) (string, error) {
	n, err := m.node(id)
	if err != nil {
		return "", err
	}
	resp, err := n.client.Resolve(ctx, phoneDigits)
	if err != nil {
		return "", err
	}
	if !resp.Registered {
		return "", nil
	}
	return resp.Recipient, nil
}

// SendText sends a plain text message through the given account.
func (m *Manager) SendText(ctx context.Context, id int, recipient, text string) error {
	n, err := m.node(id)
	if err != nil {
		return err
	}
	return n.client.SendText(ctx, recipient, text)
}

// SendMedia sends a media payload through the given account.
func (m *Manager) SendMedia(ctx context.Context, id int, recipient string, payload *media.Payload, caption string) error {
	n, err := m.node(id)
	if err != nil {
		return err
	}
	return n.client.SendMedia(ctx, recipient, payload, caption)
}

// SendPoll sends a poll through the given account.
func (m *Manager) SendPoll(ctx context.Context, id int, recipient, question string, options []string) (string, error) {
	n, err := m.node(id)
	if err != nil {
		return "", err
	}
	return n.client.SendPoll(ctx, recipient, question, options)
}
