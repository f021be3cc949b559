package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricPrefix = "telemetry_"

	ResultSuccess = "success"
	ResultError   = "error"
	ResultEmpty   = "empty"

	SinkDelivered = "delivered"
	SinkFailed    = "failed"
	SinkDropped   = "dropped"
)

// Metrics holds the pipeline collectors. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	syncCycles       *prometheus.CounterVec
	syncLatency      *prometheus.HistogramVec
	elementsUpdated  prometheus.Counter
	unmatched        prometheus.Counter
	fetchFailures    *prometheus.CounterVec
	persistErrors    prometheus.Counter
	skippedTicks     prometheus.Counter
	listenerFailures *prometheus.CounterVec
	syncRunning      prometheus.Gauge
	catalogElements  *prometheus.GaugeVec
	statusElements   *prometheus.GaugeVec
	wsClients        prometheus.Gauge
	sinkEvents       *prometheus.CounterVec
	sinkBacklog      *prometheus.GaugeVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on a dedicated registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sync_cycles_total",
				Help: "Total sync cycles by result",
			},
			[]string{"result", "trigger"},
		),
		syncLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "sync_cycle_duration_seconds",
				Help:    "Sync cycle duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		),
		elementsUpdated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "elements_updated_total",
			Help: "Total element property updates written",
		}),
		unmatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "unmatched_records_total",
			Help: "Telemetry records without a catalog entry",
		}),
		fetchFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "fetch_failures_total",
				Help: "Failed telemetry fetches by source",
			},
			[]string{"source"},
		),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "persistence_errors_total",
			Help: "Property writes that could not be persisted",
		}),
		skippedTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "skipped_ticks_total",
			Help: "Scheduled ticks skipped because a cycle was in flight",
		}),
		listenerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "listener_failures_total",
				Help: "Listener errors and panics by listener kind",
			},
			[]string{"kind"},
		),
		syncRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "sync_running",
			Help: "1 while periodic sync is running",
		}),
		catalogElements: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "catalog_elements",
				Help: "Catalogued elements by category",
			},
			[]string{"category"},
		),
		statusElements: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "elements_by_status",
				Help: "Elements by latest operational status",
			},
			[]string{"status"},
		),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: metricPrefix + "stream_clients",
			Help: "Connected websocket clients",
		}),
		sinkEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sink_events_total",
				Help: "Events handed to external sinks by sink and result",
			},
			[]string{"sink", "result"},
		),
		sinkBacklog: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "sink_backlog",
				Help: "Events queued for an external sink",
			},
			[]string{"sink"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		httpLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		m.syncCycles,
		m.syncLatency,
		m.elementsUpdated,
		m.unmatched,
		m.fetchFailures,
		m.persistErrors,
		m.skippedTicks,
		m.listenerFailures,
		m.syncRunning,
		m.catalogElements,
		m.statusElements,
		m.wsClients,
		m.sinkEvents,
		m.sinkBacklog,
		m.httpRequests,
		m.httpLatency,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one finished sync cycle
func (m *Metrics) ObserveCycle(result, trigger string, d time.Duration) {
	if m == nil {
		return
	}
	m.syncCycles.WithLabelValues(result, trigger).Inc()
	m.syncLatency.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) AddElementsUpdated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.elementsUpdated.Add(float64(n))
}

func (m *Metrics) AddUnmatched(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unmatched.Add(float64(n))
}

func (m *Metrics) IncFetchFailure(source string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) AddPersistenceErrors(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.persistErrors.Add(float64(n))
}

func (m *Metrics) IncSkippedTick() {
	if m == nil {
		return
	}
	m.skippedTicks.Inc()
}

func (m *Metrics) IncListenerFailure(kind string) {
	if m == nil {
		return
	}
	m.listenerFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetSyncRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.syncRunning.Set(1)
	} else {
		m.syncRunning.Set(0)
	}
}

// SetCatalog replaces the per-category element gauges
func (m *Metrics) SetCatalog(counts map[string]int) {
	if m == nil {
		return
	}
	m.catalogElements.Reset()
	for category, n := range counts {
		m.catalogElements.WithLabelValues(category).Set(float64(n))
	}
}

// SetStatuses replaces the per-status element gauges
func (m *Metrics) SetStatuses(counts map[string]int) {
	if m == nil {
		return
	}
	m.statusElements.Reset()
	for status, n := range counts {
		m.statusElements.WithLabelValues(status).Set(float64(n))
	}
}

func (m *Metrics) SetStreamClients(n int) {
	if m == nil {
		return
	}
	m.wsClients.Set(float64(n))
}

// ObserveSink counts one event handed to an external sink
func (m *Metrics) ObserveSink(sink, result string) {
	if m == nil {
		return
	}
	m.sinkEvents.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) SetSinkBacklog(sink string, n int) {
	if m == nil {
		return
	}
	m.sinkBacklog.WithLabelValues(sink).Set(float64(n))
}

// ObserveHTTPRequest records one served request. route is the matched pattern, not the raw path.
func (m *Metrics) ObserveHTTPRequest(route, method string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpLatency.WithLabelValues(route).Observe(d.Seconds())
}
