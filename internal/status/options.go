package status

import (
	"time"

	"github.com/BTreeMap/StatusPipe/internal/metrics"
	"github.com/jonboulle/clockwork"
)

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the clock used for "now". Defaults to the real clock.
func WithClock(c clockwork.Clock) Option {
	return func(m *Machine) {
		if c != nil {
			m.clock = c
		}
	}
}

// WithLocation sets the location whose calendar days and 07:00 boundaries
// govern check-in and expiry dates. Defaults to time.Local.
func WithLocation(loc *time.Location) Option {
	return func(m *Machine) {
		if loc != nil {
			m.loc = loc
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(m *Machine) {
		if r != nil {
			m.recorder = r
		}
	}
}
