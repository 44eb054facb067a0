package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestsTotal tracks total HTTP requests
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"service", "method", "endpoint", "status"},
	)

	// RequestDuration tracks HTTP request duration
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "endpoint"},
	)

	// ReservationsTotal counts reserveAll outcomes: reserved, shortage, lock_timeout or error.
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Reservation attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ReservationsSettled counts reservations leaving ACTIVE.
	ReservationsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_settled_total",
			Help: "Reservations moved to a terminal status",
		},
		[]string{"status"},
	)

	// OrderTransitions counts applied order status changes.
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Order status transitions",
		},
		[]string{"from", "to"},
	)

	// QueueTicketsIssued counts pickup numbers handed out.
	QueueTicketsIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_tickets_issued_total",
			Help: "Queue tickets issued",
		},
		[]string{"store_id"},
	)

	// QueueCapacityExceeded fires when a store runs out of numbers for the day.
	QueueCapacityExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_capacity_exceeded_total",
			Help: "Queue issue attempts rejected because the daily range is exhausted",
		},
		[]string{"store_id"},
	)

	// CircuitBreakerState tracks circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"service", "circuit_name"},
	)
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request counts and latency per chi route pattern.
func Middleware(serviceName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			endpoint := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				endpoint = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			RequestsTotal.WithLabelValues(serviceName, r.Method, endpoint, strconv.Itoa(status)).Inc()
			RequestDuration.WithLabelValues(serviceName, r.Method, endpoint).Observe(time.Since(start).Seconds())
		})
	}
}
