package model

import "time"

// JobStatus is the lifecycle state of a processing job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// JobTypeExtraction is the only job type the worker handles.
const JobTypeExtraction = "extraction"

// Priority bounds. Lower values are claimed first.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Active reports whether a job in this status blocks a new job for the same document.
func (s JobStatus) Active() bool {
	return s == JobStatusPending || s == JobStatusProcessing
}

// Job is one unit of extraction work over a document.
type Job struct {
	ID           string     `json:"id"`
	DocumentID   string     `json:"document_id"`
	JobType      string     `json:"job_type"`
	Priority     int        `json:"priority"`
	Status       JobStatus  `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	Error        *string    `json:"error,omitempty"`
	ErrorHistory string     `json:"error_history,omitempty"`
	NotBefore    *time.Time `json:"not_before,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// CanRetry reports whether a failed job still has retry budget.
func (j *Job) CanRetry() bool {
	return j.Status == JobStatusFailed && j.Attempts < j.MaxAttempts
}

// ErrorMessage returns the last error or "".
func (j *Job) ErrorMessage() string {
	if j.Error == nil {
		return ""
	}
	return *j.Error
}

// QueueStats summarizes queue health.
type QueueStats struct {
	Pending            int     `json:"pending"`
	Processing         int     `json:"processing"`
	Completed          int     `json:"completed"`
	Failed             int     `json:"failed"`
	Exhausted          int     `json:"exhausted"`
	Stuck              int     `json:"stuck"`
	AvgDurationSeconds float64 `json:"avg_duration_seconds"`
}

// Total returns the number of jobs across all statuses.
func (s QueueStats) Total() int {
	return s.Pending + s.Processing + s.Completed + s.Failed
}

// FailureRate returns failed / (completed + failed), or 0 with nothing finished.
func (s QueueStats) FailureRate() float64 {
	finished := s.Completed + s.Failed
	if finished == 0 {
		return 0
	}
	return float64(s.Failed) / float64(finished)
}
