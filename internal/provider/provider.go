// Package provider fetches feed snapshots from the upstream feed endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrUnavailable marks a snapshot that could not be obtained this cycle.
var ErrUnavailable = errors.New("snapshot unavailable")

const maxBody = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Source returns the current snapshot of one feed.
type Source[T any] interface {
	Snapshot(ctx context.Context) ([]T, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc[T any] func(ctx context.Context) ([]T, error)

// Snapshot calls f.
func (f SourceFunc[T]) Snapshot(ctx context.Context) ([]T, error) {
	return f(ctx)
}

// JSONSource reads a JSON array of entities from an HTTP endpoint.
type JSONSource[T any] struct {
	client    HTTPClient
	url       string
	timeout   time.Duration
	userAgent string
}

// NewJSONSource creates a JSONSource for url.
func NewJSONSource[T any](client HTTPClient, url string, timeout time.Duration) *JSONSource[T] {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &JSONSource[T]{
		client:    client,
		url:       url,
		timeout:   timeout,
		userAgent: "feedpush/1.0",
	}
}

// Snapshot fetches and decodes the listing.
func (s *JSONSource[T]) Snapshot(ctx context.Context) ([]T, error) {
	body, err := get(ctx, s.client, s.url, s.timeout, s.userAgent, "application/json")
	if err != nil {
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %w", s.url, ErrUnavailable, err)
	}
	return out, nil
}

func get(ctx context.Context, client HTTPClient, url string, timeout time.Duration, ua, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", accept)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get %s: %w: %w", url, ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("http get %s: %w: unexpected status %d", url, ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w: %w", ErrUnavailable, err)
	}
	return body, nil
}
