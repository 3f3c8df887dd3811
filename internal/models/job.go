package models

import (
	"sync/atomic"
	"time"
)

// JobStatus is the closed job state machine:
// pending -> running -> {completed, failed(retry)->pending, failed, cancelled}.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Job is one scheduled attempt to scrape one source. The Scheduler owns it
// exclusively until dequeue; after that the Orchestrator reads it and reports
// back through Scheduler.UpdateStatus. Always handled by pointer; the cancel
// flag must not be copied.
type Job struct {
	ID          string
	SourceID    string
	ScheduledAt time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	Status      JobStatus
	Priority    int // clamped to 1..10, higher first
	Attempts    int
	LastError   string
	RetryDelay  time.Duration

	cancel atomic.Bool
}

// RequestCancel flips the cancellation flag. Running jobs observe it at
// their next suspension point.
func (j *Job) RequestCancel() { j.cancel.Store(true) }

// CancelRequested reports whether cancellation was requested.
func (j *Job) CancelRequested() bool { return j.cancel.Load() }

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool {
	switch j.Status {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ClampPriority bounds a requested priority to the 1..10 range.
func ClampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// ScrapingResult summarizes one orchestrated job.
type ScrapingResult struct {
	SourceID      string                 `json:"source_id"`
	TotalFound    int                    `json:"total_found"`
	TotalInserted int                    `json:"total_inserted"`
	TotalUpdated  int                    `json:"total_updated"`
	TotalSkipped  int                    `json:"total_skipped"`
	Errors        []*ScrapeError         `json:"errors,omitempty"`
	Duration      time.Duration          `json:"duration"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}
