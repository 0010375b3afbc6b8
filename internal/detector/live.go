package detector

import (
	"time"

	"feedpush/internal/identity"
	"feedpush/internal/model"
)

// LiveDecision is the result of one live-status cycle.
type LiveDecision struct {
	Outcome Outcome
	Notify  []model.LiveEntity
	// Suppressed lists new entrants held back by the duplicate guard.
	Suppressed []string
	Next       model.FeedState
}

// DetectLive compares the set of members currently live against the prior set.
// Members that newly went live are notified unless the same member was notified
// within guard.
func DetectLive(prior model.FeedState, snapshot []model.LiveEntity, now time.Time, guard time.Duration) LiveDecision {
	next := advance(prior, now)

	var live []model.LiveEntity
	seen := map[string]struct{}{}
	for _, e := range snapshot {
		if !e.IsLive || e.ID == "" {
			continue
		}
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		live = append(live, e)
	}
	current := identity.Sorted(idsOf(live, func(e model.LiveEntity) string { return e.ID }))

	if isBootstrap(prior) {
		next.Identity = current
		return LiveDecision{Outcome: OutcomeBootstrap, Next: next}
	}

	if len(live) == 0 || identity.Join(current) == identity.SortedJoin(prior.Identity) {
		return LiveDecision{Outcome: OutcomeNoChange, Next: next}
	}

	known := identity.NewSet(prior.Identity)
	d := LiveDecision{}
	for _, e := range live {
		if known.Has(e.ID) {
			continue
		}
		if last, ok := prior.Aux[e.ID]; ok && now.Sub(last) < guard {
			d.Suppressed = append(d.Suppressed, e.ID)
			continue
		}
		d.Notify = append(d.Notify, e)
	}

	for id, stamp := range next.Aux {
		if now.Sub(stamp) >= guard {
			delete(next.Aux, id)
		}
	}
	next.Identity = current
	d.Next = next
	d.Outcome = outcomeFor(len(d.Notify))
	return d
}

// MarkAttempted stamps the duplicate guard for a member whose delivery was attempted.
func (d *LiveDecision) MarkAttempted(id string, at time.Time) {
	d.Next.Aux[id] = at
	d.Next.LastNotifiedAt = &at
}

func idsOf[T any](items []T, id func(T) string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, id(it))
	}
	return out
}
