package detector

import (
	"time"

	"feedpush/internal/identity"
	"feedpush/internal/model"
)

// VoteDecision is the result of one vote-listing cycle.
type VoteDecision struct {
	Outcome Outcome
	Notify  []model.VoteEntity
	// Waiting holds candidates seen for less than the stabilization window.
	Waiting []model.VoteEntity
	Next    model.FeedState
}

// DetectVote finds votes absent from the known set and notifies those that have
// been continuously observed for at least stabilize. Unstable candidates keep their
// first-seen time and are reconsidered next cycle.
func DetectVote(prior model.FeedState, snapshot []model.VoteEntity, now time.Time, stabilize time.Duration) VoteDecision {
	next := advance(prior, now)
	votes := uniqueVotes(snapshot)

	if isBootstrap(prior) {
		next.Identity = identity.Merge(idsOf(votes, func(v model.VoteEntity) string { return v.ID }), nil, identity.VoteLimit)
		next.Aux = map[string]time.Time{}
		return VoteDecision{Outcome: OutcomeBootstrap, Next: next}
	}

	known := identity.NewSet(prior.Identity)
	pending := map[string]time.Time{}
	d := VoteDecision{}
	var ready []string
	for _, v := range votes {
		if known.Has(v.ID) || known.Has(v.LegacyID) {
			continue
		}
		first, ok := prior.Aux[v.ID]
		if !ok || first.After(now) {
			first = now
		}
		pending[v.ID] = first
		if now.Sub(first) >= stabilize {
			d.Notify = append(d.Notify, v)
			ready = append(ready, v.ID)
		} else {
			d.Waiting = append(d.Waiting, v)
		}
	}

	next.Aux = pending
	next.Identity = identity.Merge(ready, prior.Identity, identity.VoteLimit)
	d.Next = next
	d.Outcome = outcomeFor(len(d.Notify))
	return d
}

// MarkAttempted drops the first-seen entry of a vote whose delivery was attempted.
func (d *VoteDecision) MarkAttempted(id string, at time.Time) {
	delete(d.Next.Aux, id)
	d.Next.LastNotifiedAt = &at
}

func uniqueVotes(snapshot []model.VoteEntity) []model.VoteEntity {
	out := make([]model.VoteEntity, 0, len(snapshot))
	seen := map[string]struct{}{}
	for _, v := range snapshot {
		if v.ID == "" {
			continue
		}
		if _, ok := seen[v.ID]; ok {
			continue
		}
		seen[v.ID] = struct{}{}
		out = append(out, v)
	}
	return out
}
