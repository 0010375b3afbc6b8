// Package resolver selects the push targets eligible for a notification category.
package resolver

import (
	"context"
	"log/slog"
	"slices"

	"feedpush/internal/model"
)

// TargetLister reads enabled push targets.
type TargetLister interface {
	ListEnabledTargets(ctx context.Context) ([]model.PushTarget, error)
}

// Resolver turns the token registry into an ordered target list.
type Resolver struct {
	registry TargetLister
	log      *slog.Logger
}

// New creates a Resolver.
func New(registry TargetLister, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{registry: registry, log: log}
}

// Resolve returns the targets that opted into category, android first.
// A registry failure is logged and yields no targets.
func (r *Resolver) Resolve(ctx context.Context, category model.Category) []model.Target {
	rows, err := r.registry.ListEnabledTargets(ctx)
	if err != nil {
		r.log.Error("list enabled targets", "category", category, "error", err)
		return nil
	}

	targets := make([]model.Target, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		// Storage filters on enabled, but rows are re-checked here together with
		// the preference flags.
		if !row.Enabled || row.Token == "" || !row.Prefs.Allows(category) {
			skipped++
			continue
		}
		targets = append(targets, model.Target{Token: row.Token, Platform: row.Platform})
	}

	slices.SortStableFunc(targets, func(a, b model.Target) int {
		return platformRank(a.Platform) - platformRank(b.Platform)
	})

	r.log.Debug("resolved targets", "category", category, "eligible", len(targets), "skipped", skipped)
	return targets
}

func platformRank(p model.Platform) int {
	if p == model.PlatformAndroid {
		return 0
	}
	return 1
}
