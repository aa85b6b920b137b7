package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func find(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()

	mfs, err := reg.Gather()
	require.NoError(t, err)

	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}

	t.Fatalf("metric %s not found", name)
	return nil
}

func TestMetrics_Record(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveHTTP("POST", "/auth", 200, 10*time.Millisecond)
	m.ObserveHTTP("POST", "/auth", 200, 20*time.Millisecond)
	m.AuthOutcome("login", "ok")
	m.AuthOutcome("login", "invalid_credentials")
	m.CSRFValidation(true)
	m.CSRFValidation(false)
	m.Swept("refresh_tokens", 3)
	m.Swept("csrf_tokens", 0)

	reqs := find(t, reg, "volunteer_hub_http_requests_total")
	require.Len(t, reqs.GetMetric(), 1)
	require.EqualValues(t, 2, reqs.GetMetric()[0].GetCounter().GetValue())

	dur := find(t, reg, "volunteer_hub_http_request_duration_seconds")
	require.EqualValues(t, 2, dur.GetMetric()[0].GetHistogram().GetSampleCount())

	require.Len(t, find(t, reg, "volunteer_hub_auth_outcomes_total").GetMetric(), 2)
	require.Len(t, find(t, reg, "volunteer_hub_csrf_validations_total").GetMetric(), 2)

	swept := find(t, reg, "volunteer_hub_janitor_deleted_total")
	require.Len(t, swept.GetMetric(), 1, "zero deletions are not recorded")
	require.EqualValues(t, 3, swept.GetMetric()[0].GetCounter().GetValue())
}

func TestMetrics_NilSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveHTTP("GET", "/", 200, time.Millisecond)
		m.AuthOutcome("login", "ok")
		m.CSRFValidation(true)
		m.Swept("x", 1)
	})
}

func TestMetrics_UnregisteredWithNilRegistry(t *testing.T) {
	t.Parallel()

	require.NotPanics(t, func() {
		New(nil).AuthOutcome("login", "ok")
		New(nil).AuthOutcome("login", "ok")
	})
}
