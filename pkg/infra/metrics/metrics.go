package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the service's Prometheus collectors. One instance is
// built at boot and shared through the container.
type Registry struct {
	registry *prometheus.Registry

	PaymentsCreated   *prometheus.CounterVec
	PaymentsSettled   *prometheus.CounterVec
	WebhooksReceived  *prometheus.CounterVec
	DisbursementsRun  *prometheus.CounterVec
	OutboxPublished   prometheus.Counter
	OutboxFailures    prometheus.Counter
	OutboxDeadLetters prometheus.Counter

	HTTPDuration *prometheus.HistogramVec
}

func NewRegistry() *Registry {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Registry{
		registry: registry,
		PaymentsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "payments",
			Name:      "created_total",
			Help:      "Payment intents created, by tenant and provider.",
		}, []string{"tenant", "provider"}),
		PaymentsSettled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "payments",
			Name:      "settled_total",
			Help:      "Payment intents reaching a terminal settlement state.",
		}, []string{"tenant", "status"}),
		WebhooksReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "webhooks",
			Name:      "received_total",
			Help:      "Provider webhook deliveries, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		DisbursementsRun: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "disbursements",
			Name:      "processed_total",
			Help:      "Disbursements processed, by tenant and final status.",
		}, []string{"tenant", "status"}),
		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Envelopes delivered to the broker.",
		}),
		OutboxFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "outbox",
			Name:      "publish_failures_total",
			Help:      "Envelope delivery attempts that failed.",
		}),
		OutboxDeadLetters: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "nyumbani",
			Subsystem: "outbox",
			Name:      "dead_letters_total",
			Help:      "Envelopes that exhausted their retry budget.",
		}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "nyumbani",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency, by route and status code.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "code"}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Middleware instruments one named route.
func (r *Registry) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, req)

		r.HTTPDuration.
			WithLabelValues(route, req.Method, strconv.Itoa(recorder.status)).
			Observe(time.Since(start).Seconds())
	})
}
