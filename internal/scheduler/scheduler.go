// Package scheduler runs the periodic maintenance of StatusPipe: re-evaluating
// the status as time passes and dropping expired contact events.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// DefaultContactEventTTL is how long contact events are kept.
const DefaultContactEventTTL = 28 * 24 * time.Hour

// Task is a unit of periodic work.
type Task func(ctx context.Context) error

// Scheduler provides cron-based task scheduling.
type Scheduler struct {
	cron *cron.Cron

	mu  sync.RWMutex
	ctx context.Context
}

// NewScheduler creates a cron scheduler evaluating expressions in loc. It
// accepts the standard 5-field syntax and descriptors such as "@every 15m".
func NewScheduler(loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
	)
	return &Scheduler{cron: c, ctx: context.Background()}
}

// AddJob schedules task under expr. It returns an error if the expression is
// invalid.
func (s *Scheduler) AddJob(name, expr string, task Task) error {
	_, err := s.cron.AddFunc(expr, func() {
		s.mu.RLock()
		ctx := s.ctx
		s.mu.RUnlock()
		if err := task(ctx); err != nil {
			slog.Error("Scheduler: task failed", "task", name, logfields.Error(err))
			return
		}
		slog.Debug("Scheduler: task done", "task", name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", expr, name, err)
	}
	return nil
}

// Start runs the scheduled tasks with ctx until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the cron scheduler and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Ticker re-evaluates time-driven status changes.
type Ticker interface {
	Tick(ctx context.Context) error
}

// TickTask calls Tick on every run.
func TickTask(t Ticker) Task {
	return t.Tick
}

// ContactExpirer removes contact events recorded before a cutoff.
type ContactExpirer interface {
	RemoveExpiredContactEvents(ctx context.Context, before time.Time) (int, error)
}

// ExpireContactsTask removes contact events older than ttl.
func ExpireContactsTask(repo ContactExpirer, ttl time.Duration, clock clockwork.Clock) Task {
	if ttl <= 0 {
		ttl = DefaultContactEventTTL
	}
	return func(ctx context.Context) error {
		cutoff := clock.Now().Add(-ttl)
		n, err := repo.RemoveExpiredContactEvents(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("failed to expire contact events: %w", err)
		}
		if n > 0 {
			slog.Info("ExpireContactsTask: removed contact events", "count", n, "before", cutoff)
		}
		return nil
	}
}
