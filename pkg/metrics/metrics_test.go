package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecord(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	finished := time.Unix(1714564800, 0)
	m.RecordCycle(3*time.Second, 4, finished)
	m.RecordCheck("updated")
	m.RecordCheck("updated")
	m.RecordUpdate("success")
	m.RecordNotification("sent")

	assert.Equal(t, 1.0, counterValue(t, m.CyclesTotal))
	assert.Equal(t, 2.0, counterValue(t, m.ChecksTotal.WithLabelValues("updated")))
	assert.Equal(t, 1.0, counterValue(t, m.UpdatesTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, counterValue(t, m.Notifications.WithLabelValues("sent")))

	var gauge dto.Metric
	require.NoError(t, m.LastCycle.Write(&gauge))
	assert.Equal(t, 1714564800.0, gauge.GetGauge().GetValue())

	var hist dto.Metric
	require.NoError(t, m.CycleDuration.Write(&hist))
	assert.Equal(t, uint64(1), hist.GetHistogram().GetSampleCount())
	assert.Equal(t, 3.0, hist.GetHistogram().GetSampleSum())
}

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCycle(time.Second, 1, time.Now())
		m.RecordCheck("current")
		m.RecordUpdate("failed")
		m.RecordNotification("failed")
	})
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewMetrics(reg)
	require.NoError(t, err)

	_, err = NewMetrics(reg)
	assert.Error(t, err)
}

func TestHandler(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	m.RecordUpdate("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dockwarden_updates_total{result="success"} 1`)
	assert.Contains(t, string(body), "dockwarden_cycles_total 0")
}
