package account

import (
	"context"

	"github.com/wablast/wablast/internal/media"
)

// Status is the readiness of one messaging account.
type Status struct {
	ID    int    `json:"id"`
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// Client is the capability the execution core uses to talk to the messaging
// network. The wire protocol behind it is deliberately opaque; a production
// deployment points each account at a WhatsApp gateway node.
type Client interface {
	// Status reports readiness of a single account.
	Status(ctx context.Context, id int) (Status, error)

	// Statuses reports readiness of every configured account.
	Statuses(ctx context.Context) (map[int]Status, error)

	// ResolveRecipient maps normalized phone digits to a routable chat
	// identifier. An empty identifier with a nil error means the number is
	// not registered on the network.
	ResolveRecipient(ctx context.Context, id int, phoneDigits string) (string, error)

	// SendText sends a plain text message.
	SendText(ctx context.Context, id int, recipient, text string) error

	// SendMedia sends a media payload with an optional caption.
	SendMedia(ctx context.Context, id int, recipient string, payload *media.Payload, caption string) error

	// SendPoll sends a poll and returns the message id of the sent poll.
	SendPoll(ctx context.Context, id int, recipient, question string, options []string) (string, error)
}
