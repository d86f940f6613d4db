package waclient

// ErrorResponse is an error body from a gateway node.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a gateway node's session status.
type StatusResponse struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

// ResolveRequest asks a node to map phone digits to a chat identifier.
type ResolveRequest struct {
	Phone string `json:"phone"`
}

// ResolveResponse is the lookup result. Registered is false when the number
// has no WhatsApp account.
type ResolveResponse struct {
	Recipient  string `json:"recipient"`
	Registered bool   `json:"registered"`
}

// TextRequest sends a plain text message.
type TextRequest struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

// MediaRequest sends a media payload. Data is base64-encoded by the JSON
// marshaller.
type MediaRequest struct {
	Recipient string `json:"recipient"`
	Caption   string `json:"caption,omitempty"`
	MIME      string `json:"mime"`
	FileName  string `json:"file_name,omitempty"`
	Data      []byte `json:"data"`
}

// PollRequest sends a poll.
type PollRequest struct {
	Recipient string   `json:"recipient"`
	Question  string   `json:"question"`
	Options   []string `json:"options"`
}

// PollResponse carries the message id of the sent poll.
type PollResponse struct {
	ID string `json:"id"`
}
