// Package metrics provides observability hooks for the status machine and its
// delivery pipeline.
package metrics

// Recorder receives counters from the status machine. Implementations may
// forward to Prometheus; NoopRecorder is used when metrics are disabled.
type Recorder interface {
	IncOperation(op string)
	IncTransition(from, to string)
	IncSideEffectFailure(kind string)
}

// NoopRecorder is a Recorder that does nothing.
type NoopRecorder struct{}

func (NoopRecorder) IncOperation(string)          {}
func (NoopRecorder) IncTransition(string, string) {}
func (NoopRecorder) IncSideEffectFailure(string)  {}
