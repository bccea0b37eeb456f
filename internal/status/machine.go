// Package status implements the user health status state machine.
//
// A Machine owns the single current StatusState. Every operation loads the
// state, computes the next state and its side effects, saves the state when it
// changed, runs the side effects and finally broadcasts the change, all under
// one mutex.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
	"github.com/BTreeMap/StatusPipe/internal/metrics"
	"github.com/BTreeMap/StatusPipe/internal/models"
	"github.com/jonboulle/clockwork"
)

// Machine is the status state machine. It is safe for concurrent use.
type Machine struct {
	mu sync.Mutex

	persister Persister
	scheduler NotificationScheduler
	uploader  ContactEventsUploader
	mailbox   Mailbox

	clock       clockwork.Clock
	loc         *time.Location
	recorder    metrics.Recorder
	broadcaster *Broadcaster
}

// NewMachine creates a Machine over its collaborators. The returned machine
// owns a Broadcaster that is closed by Close.
func NewMachine(p Persister, s NotificationScheduler, u ContactEventsUploader, mb Mailbox, opts ...Option) *Machine {
	m := &Machine{
		persister:   p,
		scheduler:   s,
		uploader:    u,
		mailbox:     mb,
		clock:       clockwork.NewRealClock(),
		loc:         time.Local,
		recorder:    metrics.NoopRecorder{},
		broadcaster: newBroadcaster(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe returns a channel receiving every new state after it has been
// saved, plus a func to unsubscribe.
func (m *Machine) Subscribe() (<-chan models.StatusState, func()) {
	return m.broadcaster.Subscribe()
}

// Close tears down all subscriptions.
func (m *Machine) Close() {
	m.broadcaster.Close()
}

// State returns the current status.
func (m *Machine) State(ctx context.Context) (models.StatusState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(ctx)
}

// Exposed records proximity to a confirmed case. Only Ok moves to Exposed.
func (m *Machine) Exposed(ctx context.Context) error {
	return m.apply(ctx, "exposed", func(current models.StatusState, now time.Time) outcome {
		return onExposed(current, now)
	})
}

// Unexposed retracts an exposure: Exposed moves to Ok.
func (m *Machine) Unexposed(ctx context.Context) error {
	return m.apply(ctx, "unexposed", func(current models.StatusState, now time.Time) outcome {
		return onUnexposed(current, now)
	})
}

// SelfDiagnose records self-reported symptoms with their onset. It fails
// with ErrInvalidInput when symptoms is empty.
func (m *Machine) SelfDiagnose(ctx context.Context, symptoms models.Symptoms, startDate time.Time) error {
	if symptoms.IsEmpty() {
		return fmt.Errorf("%w: self diagnosis requires at least one symptom", ErrInvalidInput)
	}
	start := startDate.In(m.loc)
	return m.apply(ctx, "self_diagnose", func(current models.StatusState, now time.Time) outcome {
		return onSelfDiagnose(current, symptoms, start, now)
	})
}

// Checkin re-evaluates a symptomatic record with the user's current symptoms.
func (m *Machine) Checkin(ctx context.Context, symptoms models.Symptoms) error {
	return m.apply(ctx, "checkin", func(current models.StatusState, now time.Time) outcome {
		return onCheckin(current, symptoms, now)
	})
}

// Tick re-evaluates time-driven expiry. It is meant to be called periodically
// and whenever the wall clock changes significantly.
func (m *Machine) Tick(ctx context.Context) error {
	return m.apply(ctx, "tick", func(current models.StatusState, now time.Time) outcome {
		return onTick(current, now)
	})
}

// Received ingests a lab test result.
func (m *Machine) Received(ctx context.Context, result models.TestResult) error {
	result.TestTimestamp = result.TestTimestamp.In(m.loc)
	return m.apply(ctx, "received", func(current models.StatusState, now time.Time) outcome {
		return onReceived(current, result, now)
	})
}

// RecoverState runs a Tick so that an exposure which expired while the
// process was down is cleared on startup.
func (m *Machine) RecoverState(ctx context.Context) error {
	return m.Tick(ctx)
}

func (m *Machine) apply(ctx context.Context, op string, compute func(models.StatusState, time.Time) outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recorder.IncOperation(op)

	current, err := m.load(ctx)
	if err != nil {
		return err
	}

	now := m.clock.Now().In(m.loc)
	out := compute(current, now)
	changed := !models.StatesEqual(current, out.next)

	if changed {
		if err := m.persister.SaveStatus(ctx, out.next); err != nil {
			slog.Error("Machine.apply: failed to save status", logfields.Operation(op), logfields.Error(err))
			return fmt.Errorf("failed to save status after %s: %w", op, err)
		}
		slog.Info("Machine.apply: status changed", logfields.Operation(op),
			logfields.FromState(string(current.Kind())), logfields.ToState(string(out.next.Kind())))
		m.recorder.IncTransition(string(current.Kind()), string(out.next.Kind()))
	} else {
		slog.Debug("Machine.apply: status unchanged", logfields.Operation(op), logfields.ToState(string(current.Kind())))
	}

	var errs []error
	for _, e := range out.effects {
		if err := m.run(ctx, e); err != nil {
			slog.Warn("Machine.apply: side effect failed", logfields.Operation(op), "effect", string(e.kind), logfields.Error(err))
			m.recorder.IncSideEffectFailure(string(e.kind))
			errs = append(errs, err)
		}
	}

	if changed {
		m.broadcaster.publish(out.next)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s: %w: %w", op, ErrSideEffect, errors.Join(errs...))
	}
	return nil
}

func (m *Machine) run(ctx context.Context, e effect) error {
	switch e.kind {
	case effectSchedule:
		slog.Debug("Machine.run: scheduling notification", logfields.Notification(e.id), logfields.FireAt(e.fireAt))
		if err := m.scheduler.Schedule(ctx, e.id, e.fireAt, e.notification); err != nil {
			return fmt.Errorf("schedule %s: %w", e.id, err)
		}
	case effectCancel:
		if err := m.scheduler.Cancel(ctx, e.id); err != nil {
			return fmt.Errorf("cancel %s: %w", e.id, err)
		}
	case effectUpload:
		if err := m.uploader.Upload(ctx, e.from); err != nil {
			return fmt.Errorf("upload contact events: %w", err)
		}
	case effectPost:
		if err := m.mailbox.Post(ctx, e.message); err != nil {
			return fmt.Errorf("post %s: %w", e.message.Kind, err)
		}
	default:
		return fmt.Errorf("unknown side effect %q", e.kind)
	}
	return nil
}

func (m *Machine) load(ctx context.Context) (models.StatusState, error) {
	state, err := m.persister.LoadStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load status: %w", err)
	}
	if state == nil {
		return models.Ok{}, nil
	}
	return inLocation(state, m.loc), nil
}

// inLocation re-expresses every instant of state in loc.
func inLocation(state models.StatusState, loc *time.Location) models.StatusState {
	switch s := state.(type) {
	case models.Exposed:
		s.StartDate = s.StartDate.In(loc)
		return s
	case models.Symptomatic:
		s.StartDate = s.StartDate.In(loc)
		s.CheckinDate = s.CheckinDate.In(loc)
		return s
	case models.ExposedSymptomatic:
		s.StartDate = s.StartDate.In(loc)
		s.CheckinDate = s.CheckinDate.In(loc)
		return s
	case models.PositiveTestResult:
		s.StartDate = s.StartDate.In(loc)
		return s
	default:
		return state
	}
}
