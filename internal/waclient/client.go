package waclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wablast/wablast/internal/media"
)

// Client talks to a single WhatsApp gateway node.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a client for one gateway node.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// request performs an HTTP request to the gateway node
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("gateway error: %s", errResp.Error)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// Status reports whether the node's WhatsApp session is ready.
func (c *Client) Status(ctx context.Context) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.request(ctx, http.MethodGet, "/api/v1/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Resolve maps phone digits to a chat identifier.
func (c *Client) Resolve(ctx context.Context, phone string) (*ResolveResponse, error) {
	var resp ResolveResponse
	req := ResolveRequest{Phone: phone}
	if err := c.request(ctx, http.MethodPost, "/api/v1/resolve", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendText sends a text message.
func (c *Client) SendText(ctx context.Context, recipient, text string) error {
	req := TextRequest{Recipient: recipient, Text: text}
	return c.request(ctx, http.MethodPost, "/api/v1/send/text", req, nil)
}

// SendMedia sends a media payload with an optional caption.
func (c *Client) SendMedia(ctx context.Context, recipient string, payload *media.Payload, caption string) error {
	req := MediaRequest{
		Recipient: recipient,
		Caption:   caption,
		MIME:      payload.MIME,
		FileName:  payload.FileName,
		Data:      payload.Data,
	}
	return c.request(ctx, http.MethodPost, "/api/v1/send/media", req, nil)
}

// SendPoll sends a poll and returns the message id of the sent poll.
func (c *Client) SendPoll(ctx context.Context, recipient, question string, options []string) (string, error) {
	var resp PollResponse
	req := PollRequest{Recipient: recipient, Question: question, Options: options}
	if err := c.request(ctx, http.MethodPost, "/api/v1/send/poll", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}
