package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry is the dedicated Prometheus registry for the service.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route pattern and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "route", "status"},
	)
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "route"},
	)

	// ProviderAttempts counts routing provider calls by outcome code
	// ("ok" or a provider error code).
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "routing_provider_attempts_total", Help: "Routing provider HTTP attempts by outcome."},
		[]string{"outcome"},
	)
	ProviderLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "routing_provider_latency_seconds", Help: "Routing provider attempt latency.", Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30}},
	)
	RouteCacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_cache_lookups_total", Help: "Optimization cache lookups by result."},
		[]string{"result"},
	)

	// BatchOutcomes counts optimized batches by result (ok, failed).
	BatchOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "route_batches_total", Help: "Optimized booking batches by result."},
		[]string{"result"},
	)
	UnassignedBookings = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "unassigned_bookings_total", Help: "Bookings left unassigned by reason."},
		[]string{"reason"},
	)
	PlanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "route_plan_duration_seconds", Help: "End-to-end planning duration.", Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120}},
		[]string{"mode", "state"},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			ProviderAttempts,
			ProviderLatency,
			RouteCacheLookups,
			BatchOutcomes,
			UnassignedBookings,
			PlanDuration,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
