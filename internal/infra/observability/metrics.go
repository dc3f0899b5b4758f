package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the CRM backend.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration  *prometheus.HistogramVec
	externalErrors   *prometheus.CounterVec
	cacheHits        *prometheus.CounterVec
	cacheMisses      *prometheus.CounterVec
	lifecycleEvents  *prometheus.CounterVec
	sessionDenials   *prometheus.CounterVec
	insightFallbacks prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crm_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		lifecycleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_lifecycle_events_total",
				Help: "Total lifecycle transitions by entity and event.",
			},
			[]string{"entity", "event"},
		),
		sessionDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crm_session_denials_total",
				Help: "Total session denials by profile status.",
			},
			[]string{"status"},
		),
		insightFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "crm_insight_fallbacks_total",
				Help: "Total insight requests that degraded to the placeholder.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// IncrLifecycleEvent counts a workflow transition, e.g. ("prospect", "converted").
func (m *Metrics) IncrLifecycleEvent(entity, event string) {
	m.lifecycleEvents.WithLabelValues(entity, event).Inc()
}

// IncrSessionDenial counts a session denial labelled by the profile status
// that caused it.
func (m *Metrics) IncrSessionDenial(status string) {
	m.sessionDenials.WithLabelValues(status).Inc()
}

// IncrInsightFallback counts an insight call that fell back to the placeholder.
func (m *Metrics) IncrInsightFallback() {
	m.insightFallbacks.Inc()
}

// Middleware records the duration of every HTTP request, labelled by
// method and path pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		m.RecordRequestDuration(r.Method+" "+r.URL.Path, time.Since(start))
	})
}

// LifecycleEventCount returns the current value of a lifecycle counter.
// Used by tests.
func (m *Metrics) LifecycleEventCount(entity, event string) float64 {
	return getCounterValue(m.lifecycleEvents, entity, event)
}

// getCounterValue extracts the current float64 value from a CounterVec.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
