package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_orders_created_total",
			Help: "Orders created with their inventory reserved",
		},
	)

	ReservationsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservations_rejected_total",
			Help: "Order creations rejected, by error kind",
		},
		[]string{"kind"},
	)

	OrdersReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_orders_released_total",
			Help: "Pending orders moved to a terminal non-paid status with their holds released",
		},
		[]string{"status"},
	)

	PaymentURLs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payment_urls_total",
			Help: "Payment URL generation attempts per provider",
		},
		[]string{"provider", "status"},
	)

	PaymentCallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_payment_callbacks_total",
			Help: "Gateway callbacks handled per provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	TicketsIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_issued_total",
			Help: "Purchased tickets issued on settlement",
		},
	)

	TicketCheckIns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_ticket_check_ins_total",
			Help: "Ticket check-in attempts by resulting status",
		},
		[]string{"status"},
	)

	TicketsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_tickets_expired_total",
			Help: "Unused tickets expired after their event ended",
		},
	)

	NotificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_notification_failures_total",
			Help: "Ticket confirmation notifications that could not be sent",
		},
	)

	SweepRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_sweep_runs_total",
			Help: "Background sweep runs by job and status",
		},
		[]string{"job", "status"},
	)

	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_sweep_duration_seconds",
			Help:    "Duration of background sweep runs",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"job"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters don't explode the label set.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
