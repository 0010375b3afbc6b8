package detector

import (
	"time"

	"feedpush/internal/identity"
	"feedpush/internal/model"
)

// VideoDecision is the result of one video-listing cycle.
type VideoDecision struct {
	Outcome Outcome
	Notify  []model.VideoEntity
	Next    model.FeedState
}

// DetectVideo notifies every listed video that is not in the known set.
func DetectVideo(prior model.FeedState, snapshot []model.VideoEntity, now time.Time) VideoDecision {
	next := advance(prior, now)

	var videos []model.VideoEntity
	seen := map[string]struct{}{}
	for _, v := range snapshot {
		if v.ID == "" {
			continue
		}
		if _, ok := seen[v.ID]; ok {
			continue
		}
		seen[v.ID] = struct{}{}
		videos = append(videos, v)
	}
	current := idsOf(videos, func(v model.VideoEntity) string { return v.ID })

	if isBootstrap(prior) {
		next.Identity = identity.Merge(current, nil, identity.VideoLimit)
		return VideoDecision{Outcome: OutcomeBootstrap, Next: next}
	}

	known := identity.NewSet(prior.Identity)
	d := VideoDecision{}
	var fresh []string
	for _, v := range videos {
		if known.Has(v.ID) {
			continue
		}
		d.Notify = append(d.Notify, v)
		fresh = append(fresh, v.ID)
	}

	next.Identity = identity.Merge(append(fresh, current...), prior.Identity, identity.VideoLimit)
	d.Next = next
	d.Outcome = outcomeFor(len(d.Notify))
	return d
}

// MarkAttempted records the notification time.
func (d *VideoDecision) MarkAttempted(_ string, at time.Time) {
	d.Next.LastNotifiedAt = &at
}
