// Package detector decides which feed changes are worth a notification.
//
// Detectors are pure: they take the prior state, the current snapshot and the
// current time, and return the entities to notify plus the state to commit once
// delivery for the cycle has been attempted. A detector never touches storage.
package detector

import (
	"time"

	"feedpush/internal/model"
)

// Outcome is the branch a detector took for one cycle.
type Outcome string

// Detector outcomes.
const (
	OutcomeBootstrap Outcome = "bootstrap"
	OutcomeNoChange  Outcome = "no_change"
	OutcomeNotify    Outcome = "notify"
)

// Default policy windows.
const (
	DefaultLiveGuard     = 90 * time.Minute
	DefaultVoteStabilize = 1 * time.Minute
)

func isBootstrap(prior model.FeedState) bool {
	return prior.Status == "" || prior.Status == model.StatusUninitialized
}

// advance copies prior into the next state and stamps the check time.
func advance(prior model.FeedState, now time.Time) model.FeedState {
	next := prior.Clone()
	next.CheckedAt = &now
	if next.Aux == nil {
		next.Aux = map[string]time.Time{}
	}
	if isBootstrap(prior) {
		next.Status = model.StatusBootstrapped
	} else {
		next.Status = model.StatusActive
	}
	return next
}

func outcomeFor(n int) Outcome {
	if n > 0 {
		return OutcomeNotify
	}
	return OutcomeNoChange
}
