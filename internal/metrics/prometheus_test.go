package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prom.NewRegistry()
	pr := NewPrometheusRecorder(reg)

	pr.IncOperation("checkin")
	pr.IncOperation("checkin")
	pr.IncTransition("ok", "symptomatic")
	pr.IncSideEffectFailure("schedule")

	assert.Equal(t, 2.0, testutil.ToFloat64(pr.operations.WithLabelValues("checkin")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.transitions.WithLabelValues("ok", "symptomatic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(pr.sideEffectFailures.WithLabelValues("schedule")))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.Len(t, mfs, 3)
}

func TestNilPrometheusRecorderIsSafe(t *testing.T) {
	var pr *PrometheusRecorder
	assert.NotPanics(t, func() {
		pr.IncOperation("tick")
		pr.IncTransition("exposed", "ok")
		pr.IncSideEffectFailure("upload")
	})
}

func TestHTTPHandlerServesRegistry(t *testing.T) {
	reg := prom.NewRegistry()
	NewPrometheusRecorder(reg).IncOperation("exposed")

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "statuspipe_operations_total"))
}
