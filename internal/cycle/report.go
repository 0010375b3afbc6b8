package cycle

import (
	"fmt"
	"time"

	"feedpush/internal/model"
)

// Report is the outcome of one cycle as returned to the trigger caller.
type Report struct {
	OK        bool                   `json:"ok"`
	RunID     string                 `json:"runId"`
	Timestamp time.Time              `json:"timestamp"`
	Log       []string               `json:"log"`
	Results   []model.DispatchResult `json:"results"`
	Error     string                 `json:"error,omitempty"`
}

func newReport(runID string, now time.Time) *Report {
	return &Report{
		RunID:     runID,
		Timestamp: now.UTC(),
		Log:       []string{},
		Results:   []model.DispatchResult{},
	}
}

func (r *Report) addf(feed model.FeedKind, format string, args ...any) string {
	line := fmt.Sprintf(format, args...)
	if feed != "" {
		line = "[" + string(feed) + "] " + line
	}
	r.Log = append(r.Log, line)
	return line
}

// Totals sums sent and failed deliveries over every result.
func (r *Report) Totals() (sent, failed int) {
	for _, res := range r.Results {
		sent += res.Sent
		failed += res.Failed
	}
	return sent, failed
}
