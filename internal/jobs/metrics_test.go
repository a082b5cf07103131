package jobmetrics

import (
	"errors"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestTrackerRecordsOutcome(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	require.NoError(t, m.Track("stock:reconcile").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("stock:reconcile").End(boom), boom)

	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("stock:reconcile", "success")))
	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("stock:reconcile", "failure")))
	require.Equal(t, 1.0, counterValue(t, m.failures.WithLabelValues("stock:reconcile")))
}

func TestTrackerCountsSkipRetryAsDiscarded(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	err := fmt.Errorf("mirror rejected: %w", asynq.SkipRetry)
	require.ErrorIs(t, m.Track("documents:mirror_retry").End(err), asynq.SkipRetry)

	require.Equal(t, 1.0, counterValue(t, m.runs.WithLabelValues("documents:mirror_retry", "discarded")))
	require.Zero(t, counterValue(t, m.failures.WithLabelValues("documents:mirror_retry")))
}

func TestAddDriftIgnoresEmptyCounts(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	m.AddDrift("BRANCH", 0)
	m.AddDrift("BRANCH", 3)
	m.AddDrift("CONSIGNMENT", 1)

	require.Equal(t, 3.0, counterValue(t, m.drift.WithLabelValues("BRANCH")))
	require.Equal(t, 1.0, counterValue(t, m.drift.WithLabelValues("CONSIGNMENT")))
}

func TestNilMetricsTrackerPassesErrorThrough(t *testing.T) {
	var m *Metrics
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("x").End(boom), boom)
	m.AddDrift("BRANCH", 2)
}
