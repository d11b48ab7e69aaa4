package metrics

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the catalog reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry        *prometheus.Registry
	assetCleanup    *prometheus.CounterVec
	writeConflicts  *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	ratingsAccepted prometheus.Counter
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		assetCleanup: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_asset_cleanup_failures_total",
			Help: "Cover assets that could not be removed after a committed record change",
		}, []string{"operation"}),
		writeConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_book_write_conflicts_total",
			Help: "Conditional book writes that lost against a newer version and were retried",
		}, []string{"operation"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bookshelf_http_requests_total",
			Help: "HTTP requests by route pattern and status code",
		}, []string{"method", "route", "status"}),
		ratingsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bookshelf_ratings_accepted_total",
			Help: "Ratings appended to books",
		}),
	}
}

// AssetCleanupFailed records a swallowed asset deletion failure.
func (m *Metrics) AssetCleanupFailed(operation string) {
	if m == nil {
		return
	}
	m.assetCleanup.WithLabelValues(operation).Inc()
}

// WriteConflict records an optimistic-concurrency retry.
func (m *Metrics) WriteConflict(operation string) {
	if m == nil {
		return
	}
	m.writeConflicts.WithLabelValues(operation).Inc()
}

// RatingAccepted records an appended rating.
func (m *Metrics) RatingAccepted() {
	if m == nil {
		return
	}
	m.ratingsAccepted.Inc()
}

// HTTPRequest records a served request.
func (m *Metrics) HTTPRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// PoolStats is a snapshot of database pool usage.
type PoolStats struct {
	Total    int32
	Idle     int32
	Acquired int32
}

// ObservePool exports gauges read from snapshot at scrape time.
func (m *Metrics) ObservePool(snapshot func() PoolStats) {
	if m == nil || snapshot == nil {
		return
	}
	gauges := map[string]func(PoolStats) int32{
		"bookshelf_db_pool_total_conns":    func(s PoolStats) int32 { return s.Total },
		"bookshelf_db_pool_idle_conns":     func(s PoolStats) int32 { return s.Idle },
		"bookshelf_db_pool_acquired_conns": func(s PoolStats) int32 { return s.Acquired },
	}
	factory := promauto.With(m.registry)
	for name, pick := range gauges {
		pick := pick
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: name,
			Help: "Database pool connections (" + strings.TrimPrefix(name, "bookshelf_db_pool_") + ")",
		}, func() float64 { return float64(pick(snapshot())) })
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
