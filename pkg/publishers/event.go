package publishers

import (
	"time"

	"github.com/google/uuid"

	"github.com/samvad-hq/samvad-request-runner/internal/domain"
)

// Event represents the payload published downstream.
type Event struct {
	ID          string        `json:"event_id"`
	JobID       string        `json:"job_id"`
	Result      domain.Result `json:"result"`
	PublishedAt time.Time     `json:"published_at"`
}

// NewEvent constructs an Event for the given job result.
func NewEvent(result domain.Result) Event {
	return Event{
		ID:          uuid.NewString(),
		JobID:       result.JobID,
		Result:      result,
		PublishedAt: time.Now().UTC(),
	}
}

// attributes returns the low-cardinality routing attributes for queue sinks.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"job_id":  e.JobID,
		"outcome": e.Result.Outcome,
	}
}
