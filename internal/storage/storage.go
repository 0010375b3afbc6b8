// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"feedpush/internal/model"
)

// ErrStateConflict is returned by PutFeedState when another writer advanced the
// same feed state after it was read.
var ErrStateConflict = errors.New("feed state changed since it was read")

// StateStore persists one FeedState record per feed.
type StateStore interface {
	// GetFeedState returns the stored state, or an uninitialized one if none exists.
	GetFeedState(ctx context.Context, kind model.FeedKind) (model.FeedState, error)
	// PutFeedState writes state if its Version still matches the stored one and
	// increments Version on success.
	PutFeedState(ctx context.Context, state *model.FeedState) error
}

// Registry holds push targets.
type Registry interface {
	ListEnabledTargets(ctx context.Context) ([]model.PushTarget, error)
	DisableTargets(ctx context.Context, tokens []string) (int64, error)
	UpsertTarget(ctx context.Context, t *model.PushTarget) error
}

// Storage is the interface for all persistence operations.
type Storage interface {
	StateStore
	Registry
	Close() error
}
