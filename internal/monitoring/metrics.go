// File: internal/monitoring/metrics.go
package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"atbadges/internal/database"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "atbadges"

// Metrics owns a private Prometheus registry with HTTP, sync and pool
// metrics. It satisfies services.SyncRecorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	syncOutcomes        *prometheus.CounterVec
	reconcileWrites     *prometheus.CounterVec
}

// NewMetrics creates and registers every collector. A nil pool skips the
// database collector.
func NewMetrics(pool PoolStats) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		syncOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "badge_sync_total",
				Help:      "Badge operations by how the external service took part",
			},
			[]string{"operation", "outcome"},
		),
		reconcileWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "badge_reconcile_writes_total",
				Help:      "Background write-backs of merged external state",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.syncOutcomes,
		m.reconcileWrites,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if pool != nil {
		m.registry.MustRegister(newPoolCollector(pool))
	}

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SyncOutcome implements services.SyncRecorder
func (m *Metrics) SyncOutcome(operation, outcome string) {
	m.syncOutcomes.WithLabelValues(operation, outcome).Inc()
}

// ReconcileResult implements services.SyncRecorder
func (m *Metrics) ReconcileResult(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reconcileWrites.WithLabelValues(result).Inc()
}

// Middleware records request counts and latencies. Routes are labelled by
// their mux template so ids do not explode label cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(ww, r)

		route := routeTemplate(r)
		m.httpRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.statusCode)).Inc()
		m.httpRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (w *statusRecorder) WriteHeader(code int) {
	if !w.wrote {
		w.statusCode = code
		w.wrote = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

// ===============================
// DATABASE POOL COLLECTOR
// ===============================

// PoolStats is the part of database.Manager the pool collector reads
type PoolStats interface {
	Metrics() *database.MetricsSnapshot
}

type poolCollector struct {
	pool PoolStats

	queries     *prometheus.Desc
	errors      *prometheus.Desc
	slowQueries *prometheus.Desc
	open        *prometheus.Desc
	inUse       *prometheus.Desc
	idle        *prometheus.Desc
}

func newPoolCollector(pool PoolStats) *poolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "db", name), help, nil, nil)
	}
	return &poolCollector{
		pool:        pool,
		queries:     desc("queries_total", "Queries issued through the pool"),
		errors:      desc("query_errors_total", "Queries that returned an error"),
		slowQueries: desc("slow_queries_total", "Queries above the slow query threshold"),
		open:        desc("open_connections", "Open connections"),
		inUse:       desc("in_use_connections", "Connections currently in use"),
		idle:        desc("idle_connections", "Idle connections"),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queries
	ch <- c.errors
	ch <- c.slowQueries
	ch <- c.open
	ch <- c.inUse
	ch <- c.idle
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Metrics()
	if s == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(c.queries, prometheus.CounterValue, float64(s.QueryCount))
	ch <- prometheus.MustNewConstMetric(c.errors, prometheus.CounterValue, float64(s.ErrorCount))
	ch <- prometheus.MustNewConstMetric(c.slowQueries, prometheus.CounterValue, float64(s.SlowQueryCount))
	ch <- prometheus.MustNewConstMetric(c.open, prometheus.GaugeValue, float64(s.OpenConnections))
	ch <- prometheus.MustNewConstMetric(c.inUse, prometheus.GaugeValue, float64(s.InUse))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.Idle))
}
