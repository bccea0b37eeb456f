package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/jonboulle/clockwork"
)

// JobHandler executes a job's work from its payload JSON.
type JobHandler func(ctx context.Context, payload string) error

// JobRunner periodically claims due jobs and dispatches them to registered
// handlers.
type JobRunner struct {
	repo           JobRepo
	handlers       map[string]JobHandler
	mu             sync.RWMutex
	clock          clockwork.Clock
	pollInterval   time.Duration
	staleThreshold time.Duration
	claimLimit     int
}

// NewJobRunner creates a new JobRunner on the real clock.
func NewJobRunner(repo JobRepo, pollInterval time.Duration) *JobRunner {
	return NewJobRunnerWithClock(repo, pollInterval, clockwork.NewRealClock())
}

// NewJobRunnerWithClock creates a JobRunner whose notion of "due" follows clock.
func NewJobRunnerWithClock(repo JobRepo, pollInterval time.Duration, clock clockwork.Clock) *JobRunner {
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}
	return &JobRunner{
		repo:           repo,
		handlers:       make(map[string]JobHandler),
		clock:          clock,
		pollInterval:   pollInterval,
		staleThreshold: 5 * time.Minute,
		claimLimit:     10,
	}
}

// RegisterHandler registers a handler for a given job kind.
func (r *JobRunner) RegisterHandler(kind string, handler JobHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
	slog.Debug("JobRunner.RegisterHandler", logfields.JobKind(kind))
}

// RecoverState requeues jobs that were running when the process stopped.
// Call once at startup, before Run.
func (r *JobRunner) RecoverState(ctx context.Context) error {
	staleBefore := r.clock.Now().Add(-r.staleThreshold)
	n, err := r.repo.RequeueStaleRunningJobs(ctx, staleBefore)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("JobRunner.RecoverState: requeued stale jobs", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (r *JobRunner) Run(ctx context.Context) {
	slog.Info("JobRunner.Run: starting job runner", "pollInterval", r.pollInterval)

	ticker := r.clock.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("JobRunner.Run: stopping")
			return
		case <-ticker.Chan():
			r.poll(ctx)
		}
	}
}

func (r *JobRunner) poll(ctx context.Context) {
	now := r.clock.Now()
	jobs, err := r.repo.ClaimDueJobs(ctx, now, r.claimLimit)
	if err != nil {
		slog.Error("JobRunner.poll: claim failed", logfields.Error(err))
		return
	}

	for _, job := range jobs {
		r.mu.RLock()
		handler, ok := r.handlers[job.Kind]
		r.mu.RUnlock()

		if !ok {
			slog.Warn("JobRunner.poll: no handler for job kind", logfields.JobKind(job.Kind), logfields.JobID(job.ID))
			if err := r.repo.FailJob(ctx, job.ID, "no handler registered for kind: "+job.Kind, now.Add(time.Minute)); err != nil {
				slog.Error("JobRunner.poll: fail job error", logfields.JobID(job.ID), logfields.Error(err))
			}
			continue
		}

		slog.Debug("JobRunner.poll: executing job", logfields.JobID(job.ID), logfields.JobKind(job.Kind), "attempt", job.Attempt)
		if err := handler(ctx, job.PayloadJSON); err != nil {
			slog.Error("JobRunner.poll: job execution failed", logfields.JobID(job.ID), logfields.JobKind(job.Kind), logfields.Error(err))
			// Exponential backoff: 30s, 60s, 120s, ...
			backoff := time.Duration(30*(1<<job.Attempt)) * time.Second
			if err := r.repo.FailJob(ctx, job.ID, err.Error(), now.Add(backoff)); err != nil {
				slog.Error("JobRunner.poll: fail job error", logfields.JobID(job.ID), logfields.Error(err))
			}
			continue
		}
		if err := r.repo.CompleteJob(ctx, job.ID); err != nil {
			slog.Error("JobRunner.poll: complete job error", logfields.JobID(job.ID), logfields.Error(err))
		}
	}
}
