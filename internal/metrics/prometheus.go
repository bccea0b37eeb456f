package metrics

import (
	"net/http"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statuspipe"

// PrometheusRecorder implements Recorder using Prometheus counters.
type PrometheusRecorder struct {
	operations         *prom.CounterVec
	transitions        *prom.CounterVec
	sideEffectFailures *prom.CounterVec
}

// NewPrometheusRecorder constructs the counters and registers them on reg.
// A nil registry gets a private one.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		operations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Status machine operations by name",
		}, []string{"operation"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Status transitions by source and target kind",
		}, []string{"from", "to"}),
		sideEffectFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Failed side effects by kind (schedule, cancel, upload, mailbox)",
		}, []string{"kind"}),
	}
	reg.MustRegister(pr.operations, pr.transitions, pr.sideEffectFailures)
	return pr
}

func (p *PrometheusRecorder) IncOperation(op string) {
	if p == nil {
		return
	}
	p.operations.WithLabelValues(op).Inc()
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncSideEffectFailure(kind string) {
	if p == nil {
		return
	}
	p.sideEffectFailures.WithLabelValues(kind).Inc()
}

// HTTPHandler serves the metrics gathered by reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
