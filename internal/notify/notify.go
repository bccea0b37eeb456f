// Package notify schedules local notifications as durable jobs and delivers
// them when they fall due.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/BTreeMap/StatusPipe/internal/store"
)

// JobKind is the job kind used for local notifications.
const JobKind = "local_notification"

// Payload is the job payload of a scheduled notification.
type Payload struct {
	ID           string              `json:"id"`
	Notification models.Notification `json:"notification"`
}

// Pending is a notification waiting to fire.
type Pending struct {
	ID           string
	FireAt       time.Time
	Notification models.Notification
}

// Scheduler stores local notifications in a JobRepo. The notification id is
// the job dedupe key, so at most one notification per id is pending.
type Scheduler struct {
	jobs store.JobRepo
}

func NewScheduler(jobs store.JobRepo) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Schedule replaces any pending notification with the same id. The pending
// notification is kept when the replacement cannot be stored.
func (s *Scheduler) Schedule(ctx context.Context, id string, fireAt time.Time, n models.Notification) error {
	payload, err := json.Marshal(Payload{ID: id, Notification: n})
	if err != nil {
		return fmt.Errorf("failed to encode notification %s: %w", id, err)
	}
	jobID, err := s.jobs.ReplaceJobByDedupeKey(ctx, JobKind, fireAt, string(payload), id)
	if err != nil {
		return fmt.Errorf("failed to schedule notification %s: %w", id, err)
	}
	slog.Debug("Scheduler.Schedule: notification scheduled", logfields.Notification(id), logfields.FireAt(fireAt), logfields.JobID(jobID))
	return nil
}

// Cancel removes the pending notification with id, if any.
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	n, err := s.jobs.CancelJobsByDedupeKey(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to cancel notification %s: %w", id, err)
	}
	slog.Debug("Scheduler.Cancel: notification canceled", logfields.Notification(id), "count", n)
	return nil
}

// Pending lists notifications that have not fired yet, earliest first.
func (s *Scheduler) Pending(ctx context.Context) ([]Pending, error) {
	jobs, err := s.jobs.PendingJobs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Pending
	for _, job := range jobs {
		if job.Kind != JobKind {
			continue
		}
		var p Payload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &p); err != nil {
			slog.Warn("Scheduler.Pending: skipping undecodable job", logfields.JobID(job.ID), logfields.Error(err))
			continue
		}
		out = append(out, Pending{ID: p.ID, FireAt: job.RunAt, Notification: p.Notification})
	}
	return out, nil
}

// Sender delivers a fired notification to the user.
type Sender interface {
	Send(ctx context.Context, id string, n models.Notification) error
}

// LogSender writes fired notifications to the log.
type LogSender struct{}

func (LogSender) Send(_ context.Context, id string, n models.Notification) error {
	slog.Info("LogSender.Send: notification fired", logfields.Notification(id), "title", n.Title, "body", n.Body)
	return nil
}

// RegisterHandlers wires delivery of local notification jobs to sender.
func RegisterHandlers(runner *store.JobRunner, sender Sender) {
	runner.RegisterHandler(JobKind, Handler(sender))
}

// Handler decodes a notification job payload and passes it to sender.
func Handler(sender Sender) store.JobHandler {
	return func(ctx context.Context, payloadJSON string) error {
		var p Payload
		if err := json.Unmarshal([]byte(payloadJSON), &p); err != nil {
			return fmt.Errorf("invalid notification payload: %w", err)
		}
		return sender.Send(ctx, p.ID, p.Notification)
	}
}
