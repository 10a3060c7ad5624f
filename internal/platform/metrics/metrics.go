package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	SuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suit_transitions_total",
			Help: "Suit state transitions by kind.",
		},
		[]string{"transition"},
	)

	PaymentsCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payments created with the provider.",
	})

	Notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Outbound notifications by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)
)

var once sync.Once

// Init registers every collector with the default registry. Safe to call
// more than once.
func Init() {
	once.Do(func() {
		prometheus.MustRegister(httpInFlight, httpRequestsTotal, httpRequestDuration,
			SuitTransitions, PaymentsCreated, Notifications)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := routeLabel(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		defer httpInFlight.Dec()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)

		status := strconv.Itoa(sw.code)
		httpRequestDuration.WithLabelValues(method, route, status).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	})
}

// routeLabel collapses identifiers out of the path to keep label
// cardinality bounded.
func routeLabel(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	switch parts[0] {
	case "":
		return "/"
	case "confirm", "status":
		return "/" + parts[0] + "/:id"
	case "admin":
		if len(parts) >= 3 {
			out := "/admin/" + parts[1] + "/:id"
			if len(parts) >= 4 {
				out += "/" + parts[3]
			}
			return out
		}
		return path
	case "details":
		return "/details"
	}
	return "/" + parts[0]
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
