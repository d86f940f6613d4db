package events

import (
	"log/slog"
	"sync"
	"time"
)

// subscriber channel depth; slow consumers lose events rather than block the
// executor loop.
const subscriberBuffer = 64

// Bus is an in-process publish/subscribe hub for campaign events.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	logger *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan Event),
		logger: logger.With("component", "events"),
	}
}

// Publish delivers an event to all subscribers without blocking. The event
// timestamp is filled in if the caller left it zero.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropping event for slow subscriber", "subscriber", id, "type", ev.Type)
		}
	}
}

// Subscribe registers a new subscriber. The returned cancel function removes
// the subscription and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}

	return ch, cancel
}
