package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's prometheus collectors. All methods are no-ops on
// a nil receiver so components can run without instrumentation in tests.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	httpErrors      *prometheus.CounterVec
	ticketsIngested *prometheus.CounterVec
	rowsRejected    prometheus.Counter
	outcomes        *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	reportDuration  prometheus.Histogram
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	eventsPublished *prometheus.CounterVec
}

// NewMetrics registers collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Error responses by route and error code.",
		}, []string{"route", "code"}),
		ticketsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickets_ingested_total",
			Help: "Tickets and pit records accepted, by source.",
		}, []string{"source"}),
		rowsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pit_rows_rejected_total",
			Help: "Pit CSV rows rejected as malformed.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_outcomes_total",
			Help: "Reconciliation results by status.",
		}, []string{"status"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ticket_transitions_total",
			Help: "Lifecycle actions applied, by action and result.",
		}, []string{"action", "result"}),
		reportDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "weekly_report_build_seconds",
			Help:    "Time to load, annotate and aggregate one driver week.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_cache_hits_total",
			Help: "Weekly reports served from cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "report_cache_misses_total",
			Help: "Weekly reports built because the cache had no entry.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events handed to sinks, by type and result.",
		}, []string{"type", "result"}),
	}

	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.httpErrors,
		m.ticketsIngested,
		m.rowsRejected,
		m.outcomes,
		m.transitions,
		m.reportDuration,
		m.cacheHits,
		m.cacheMisses,
		m.eventsPublished,
	)
	return m
}

// Handler exposes the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest counts a finished HTTP request.
func (m *Metrics) RecordRequest(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordError counts an error response by DomainError code.
func (m *Metrics) RecordError(route, code string) {
	if m == nil {
		return
	}
	m.httpErrors.WithLabelValues(route, code).Inc()
}

func (m *Metrics) TicketIngested(source string) {
	if m == nil {
		return
	}
	m.ticketsIngested.WithLabelValues(source).Inc()
}

func (m *Metrics) RowsRejected(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.rowsRejected.Add(float64(n))
}

func (m *Metrics) ReconciliationOutcome(status string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(status).Inc()
}

func (m *Metrics) Transition(action string, ok bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "rejected"
	}
	m.transitions.WithLabelValues(action, result).Inc()
}

func (m *Metrics) ReportBuilt(duration time.Duration) {
	if m == nil {
		return
	}
	m.reportDuration.Observe(duration.Seconds())
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}

func (m *Metrics) CacheMiss() {
	if m == nil {
		return
	}
	m.cacheMisses.Inc()
}

func (m *Metrics) EventPublished(eventType string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.eventsPublished.WithLabelValues(eventType, result).Inc()
}
