// Package store provides the JobRepo interface and model for durable job scheduling.
package store

import (
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusInProgress   JobStatus = "in_progress"
	JobStatusSucceeded    JobStatus = "succeeded"
	JobStatusDeadLettered JobStatus = "dead_lettered"
	JobStatusCanceled     JobStatus = "canceled"
)

// DefaultMaxAttempts is the retry ceiling applied to newly enqueued jobs.
const DefaultMaxAttempts = 3

// Job represents a durable unit of deferred work.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	AgentID     string     `json:"agent_id,omitempty"` // optional; set for agent-scoped kinds
	RunAt       time.Time  `json:"run_at"`
	PayloadJSON string     `json:"payload_json"`
	Status      JobStatus  `json:"status"`
	Attempt     int        `json:"attempt"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   string     `json:"last_error"`
	LockedAt    *time.Time `json:"locked_at"`
	DedupeKey   string     `json:"dedupe_key"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobStats holds per-status job counts for the administrative surface.
type JobStats struct {
	Pending      int `json:"pending"`
	InProgress   int `json:"in_progress"`
	Succeeded    int `json:"succeeded"`
	DeadLettered int `json:"dead_lettered"`
	Canceled     int `json:"canceled"`
}

// RetryBackoff returns the delay before the given retry attempt.
// Exponential: 30s, 60s, 120s, ... Monotonic in attempt so retries
// never thrash.
func RetryBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return time.Duration(30*(1<<attempt)) * time.Second
}

// JobRepo defines the interface for durable job persistence.
//
// Jobs are never deleted; terminal rows (succeeded, dead_lettered,
// canceled) are retained as an audit trail.
type JobRepo interface {
	// EnqueueJob inserts a new pending job. agentID may be empty for
	// kinds that are not agent-scoped. If dedupeKey is non-empty and a
	// non-terminal job with that key already exists, the call returns
	// the existing job ID without inserting a duplicate.
	EnqueueJob(kind string, agentID string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// ClaimDueJobs atomically marks up to limit pending jobs whose
	// run_at <= now as in_progress and returns them oldest-first. The
	// select-and-mark is a single atomic step so concurrent claimers
	// never receive overlapping job sets.
	ClaimDueJobs(now time.Time, limit int) ([]Job, error)

	// CompleteJob marks a job as succeeded (terminal).
	CompleteJob(id string) error

	// FailJob records a failure: increments attempt and either
	// reschedules the job as pending at nextRunAt or, once attempt
	// reaches max_attempts, dead-letters it.
	FailJob(id string, errMsg string, nextRunAt time.Time) error

	// DeadLetterJob marks a job as dead_lettered immediately,
	// bypassing the retry ceiling. Used for permanent failures that
	// retrying cannot fix.
	DeadLetterJob(id string, errMsg string) error

	// ReleaseJob returns an in_progress job to pending without
	// consuming an attempt, rescheduled at runAt. Used when a claimed
	// job cannot run yet (e.g. its kind is at its concurrency cap).
	ReleaseJob(id string, runAt time.Time) error

	// CancelJob marks a job as canceled (terminal).
	CancelJob(id string) error

	// HasPendingJob reports whether a pending or in_progress job of the
	// given kind exists for the given agent.
	HasPendingJob(kind string, agentID string) (bool, error)

	// CountInProgressJobs returns the number of in_progress jobs of the
	// given kind across all workers.
	CountInProgressJobs(kind string) (int, error)

	// RequeueStaleInProgressJobs resets jobs that have been in_progress
	// since before staleBefore back to pending (crash recovery).
	RequeueStaleInProgressJobs(staleBefore time.Time) (int, error)

	// GetJob retrieves a single job by ID. Returns (nil, nil) if absent.
	GetJob(id string) (*Job, error)

	// GetJobStats returns per-status job counts.
	GetJobStats() (JobStats, error)
}
