package models

import "time"

// JobStatus is the lifecycle state of an asynchronous job.
type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is a final state.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// JobRecord tracks an asynchronous request from admission to a terminal
// outcome. Single-prompt jobs populate Result; batch jobs populate Results.
type JobRecord struct {
	ID           string     `json:"job_id"`
	Status       JobStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Result       *Result    `json:"result,omitempty"`
	Results      []Result   `json:"results,omitempty"`
	TotalPrompts int        `json:"total_prompts,omitempty"`
}

// JobSummary is the list view of a job.
type JobSummary struct {
	ID          string     `json:"job_id"`
	Status      JobStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
