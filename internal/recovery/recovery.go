// Package recovery runs startup recovery for StatusPipe components after a
// restart: requeueing work that was in flight when the process stopped and
// re-evaluating time-driven status changes that fell due during downtime.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/StatusPipe/internal/logfields"
)

// Recoverable is a component that restores its state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// RecoverableFunc adapts a function to Recoverable.
type RecoverableFunc func(ctx context.Context) error

func (f RecoverableFunc) RecoverState(ctx context.Context) error { return f(ctx) }

type entry struct {
	name string
	r    Recoverable
}

// RecoveryManager runs registered components in registration order.
type RecoveryManager struct {
	entries []entry
}

func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a component. Order matters: requeue durable work
// before anything that may enqueue more.
func (rm *RecoveryManager) RegisterRecoverable(name string, r Recoverable) {
	rm.entries = append(rm.entries, entry{name: name, r: r})
}

// RecoverAll recovers every component. A failing component does not stop
// the others; all failures are returned together.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting recovery", "components", len(rm.entries))

	var errs []error
	for _, e := range rm.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.r.RecoverState(ctx); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component recovery failed", "component", e.name, logfields.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
			continue
		}
		slog.Debug("RecoveryManager.RecoverAll: component recovered", "component", e.name)
	}

	slog.Info("RecoveryManager.RecoverAll: recovery completed", "recovered", len(rm.entries)-len(errs), "errors", len(errs))
	if len(errs) > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components: %w", len(errs), len(rm.entries), errors.Join(errs...))
	}
	return nil
}
