package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is returned when the gateway rejects a whole batch.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway status %d: %s", e.StatusCode, e.Body)
}

// Temporary reports whether the batch may succeed if sent again.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client sends multicast messages to an HTTP push gateway.
type Client struct {
	client HTTPClient
	url    string
	key    string
}

// NewClient creates a Client posting to url with key as bearer credential.
func NewClient(client HTTPClient, url, key string) *Client {
	return &Client{client: client, url: url, key: key}
}

type multicastRequest struct {
	Tokens  []string  `json:"tokens"`
	Message *Envelope `json:"message"`
}

type multicastResponse struct {
	Responses []Response `json:"responses"`
}

// SendMulticast delivers env to every token and returns one Response per token,
// in token order.
func (c *Client) SendMulticast(ctx context.Context, tokens []string, env *Envelope) ([]Response, error) {
	payload, err := json.Marshal(multicastRequest{Tokens: tokens, Message: env})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send multicast: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024*1024))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(body))}
	}

	var out multicastResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(out.Responses) != len(tokens) {
		return nil, fmt.Errorf("gateway returned %d results for %d tokens", len(out.Responses), len(tokens))
	}
	return out.Responses, nil
}
