package domain

import "time"

// Domain contains core models shared by the runner, journal and publishers.

// Result is the reportable summary of one job execution.
type Result struct {
	JobID      string    `json:"job_id"`
	JobName    string    `json:"job_name"`
	Method     string    `json:"method"`
	URL        string    `json:"url"`
	Outcome    string    `json:"outcome"`
	StatusCode int       `json:"status_code,omitempty"`
	Fault      string    `json:"fault,omitempty"`
	Message    string    `json:"message,omitempty"`
	Attempts   int       `json:"attempts"`
	Summary    string    `json:"summary,omitempty"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	FinishedAt time.Time `json:"finished_at"`
}

// Succeeded reports whether the job reached a success outcome.
func (r Result) Succeeded() bool { return r.Outcome == "success" }
