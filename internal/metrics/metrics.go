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

const namespace = "craft"

var (
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests received",
	}, []string{"service", "method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service", "method", "route", "status"})

	httpInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "http_in_flight_requests",
		Help:      "Current number of in-flight HTTP requests",
	}, []string{"service"})
)

// Collaboration state and event counters.
var (
	Connections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_connections",
		Help:      "Live collaboration connections",
	})

	Rooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "collab_rooms",
		Help:      "Script rooms with at least one member",
	})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_events_total",
		Help:      "Events processed by the coordinator, by kind",
	}, []string{"kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_events_dropped_total",
		Help:      "Inbound events dropped before reaching room state, by reason",
	}, []string{"reason"})

	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_frames_dropped_total",
		Help:      "Outbound frames dropped because a recipient could not take them",
	})

	HandlerPanics = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_handler_panics_total",
		Help:      "Recovered panics in coordinator event handlers",
	})

	TransportErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_transport_errors_total",
		Help:      "Transport level errors, by stage",
	}, []string{"stage"})

	PresenceDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "collab_presence_dropped_total",
		Help:      "Presence notifications dropped because the publish queue was full",
	})
)

// Middleware records request metrics. Routes are labelled by their chi pattern so
// script ids do not blow up label cardinality.
func Middleware(service string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			httpInFlight.WithLabelValues(service).Inc()
			defer httpInFlight.WithLabelValues(service).Dec()

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			labels := prometheus.Labels{
				"service": service,
				"method":  r.Method,
				"route":   routePattern(r),
				"status":  strconv.Itoa(status),
			}
			httpRequests.With(labels).Inc()
			httpLatency.With(labels).Observe(time.Since(start).Seconds())
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// Handler exposes the default Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
