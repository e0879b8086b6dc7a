package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the portal's Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "portal",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	upstreamRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Requests sent to upstream services, by outcome.",
		},
		[]string{"target", "outcome"},
	)

	loginAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by session kind and result.",
		},
		[]string{"kind", "result"},
	)

	invoicesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "accounting",
			Name:      "invoices_created_total",
			Help:      "Invoices created.",
		},
	)

	invoicesOverdue = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "portal",
			Subsystem: "accounting",
			Name:      "invoices_marked_overdue_total",
			Help:      "Invoices moved to overdue by the scheduler.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		upstreamRequests,
		loginAttempts,
		invoicesCreated,
		invoicesOverdue,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler records request counts and latency per chi route pattern.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		route := routePattern(r)
		method := strings.ToUpper(r.Method)
		httpRequests.WithLabelValues(method, route, strconv.Itoa(statusOf(ww))).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

// RecordUpstream counts a call to an upstream service.
func RecordUpstream(target, outcome string) {
	upstreamRequests.WithLabelValues(target, outcome).Inc()
}

// RecordLogin counts a login attempt.
func RecordLogin(kind, result string) {
	loginAttempts.WithLabelValues(kind, result).Inc()
}

// RecordInvoiceCreated counts a newly created invoice.
func RecordInvoiceCreated() {
	invoicesCreated.Inc()
}

// RecordInvoicesOverdue counts invoices moved to overdue.
func RecordInvoicesOverdue(n int) {
	if n > 0 {
		invoicesOverdue.Add(float64(n))
	}
}

// routePattern keeps label cardinality bounded: unmatched paths share one label.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}

func statusOf(ww middleware.WrapResponseWriter) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	return http.StatusOK
}
