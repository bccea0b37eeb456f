package store

import (
	"context"
	"time"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusCanceled JobStatus = "canceled"
)

// DefaultJobMaxAttempts is the attempt budget given to new jobs.
const DefaultJobMaxAttempts = 3

// Job is a durable job record. Local notifications are stored as jobs due at
// their fire time.
type Job struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
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

// JobRepo defines durable job persistence.
type JobRepo interface {
	// EnqueueJob inserts a new job. If dedupeKey is non-empty and a non-terminal
	// job with that key already exists, the existing job ID is returned and
	// nothing is inserted.
	EnqueueJob(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// ClaimDueJobs marks up to limit queued jobs whose run_at <= now as running
	// and returns them.
	ClaimDueJobs(ctx context.Context, now time.Time, limit int) ([]Job, error)

	CompleteJob(ctx context.Context, id string) error

	// FailJob stores the error and requeues the job at nextRunAt while
	// attempts remain; otherwise the job is marked failed.
	FailJob(ctx context.Context, id string, errMsg string, nextRunAt time.Time) error

	CancelJob(ctx context.Context, id string) error

	// CancelJobsByDedupeKey cancels every queued job carrying dedupeKey and
	// reports how many were canceled.
	CancelJobsByDedupeKey(ctx context.Context, dedupeKey string) (int, error)

	// ReplaceJobByDedupeKey cancels every queued job carrying dedupeKey and
	// inserts a new one in the same transaction. On error the queued jobs are
	// left as they were.
	ReplaceJobByDedupeKey(ctx context.Context, kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error)

	// RequeueStaleRunningJobs resets jobs running since before staleBefore
	// back to queued (crash recovery).
	RequeueStaleRunningJobs(ctx context.Context, staleBefore time.Time) (int, error)

	// GetJob returns nil when no job has the id.
	GetJob(ctx context.Context, id string) (*Job, error)

	// PendingJobs lists queued jobs ordered by run_at.
	PendingJobs(ctx context.Context) ([]Job, error)
}
