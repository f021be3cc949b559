package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.ObserveCycle(ResultSuccess, "scheduled", 20*time.Millisecond)
	m.ObserveCycle(ResultSuccess, "scheduled", 30*time.Millisecond)
	m.ObserveCycle(ResultError, "manual", time.Millisecond)
	m.AddElementsUpdated(12)
	m.AddUnmatched(0)
	m.IncSkippedTick()
	m.SetCatalog(map[string]int{"Antenna": 6, "RRU": 4})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.syncCycles.WithLabelValues(ResultSuccess, "scheduled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.syncCycles.WithLabelValues(ResultError, "manual")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.elementsUpdated))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.unmatched))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skippedTicks))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.catalogElements.WithLabelValues("Antenna")))

	m.ObserveHTTPRequest("/api/v1/telemetry/:key", "GET", 404, time.Millisecond)
	m.ObserveHTTPRequest("", "GET", 404, time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/api/v1/telemetry/:key", "GET", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("unmatched", "GET", "404")))

	m.ObserveSink("elasticsearch", SinkDropped)
	m.SetSinkBacklog("elasticsearch", 7)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkEvents.WithLabelValues("elasticsearch", SinkDropped)))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.sinkBacklog.WithLabelValues("elasticsearch")))

	m.SetCatalog(map[string]int{"Microlink": 2})
	assert.Equal(t, 1, testutil.CollectAndCount(m.catalogElements), "stale categories are reset")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCycle(ResultSuccess, "manual", time.Second)
		m.AddElementsUpdated(3)
		m.ObserveSink("bus", SinkFailed)
		m.SetSinkBacklog("bus", 1)
		m.IncFetchFailure("http")
		m.SetSyncRunning(true)
		m.SetStatuses(map[string]int{"OPERATIONAL": 1})
	})
}

func TestHandlerExposesPipelineMetrics(t *testing.T) {
	m := NewMetrics()
	m.IncFetchFailure("http")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `telemetry_fetch_failures_total{source="http"} 1`)
}
