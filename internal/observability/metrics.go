package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpRequestsTotal     *prometheus.CounterVec
	httpLatencySeconds    *prometheus.HistogramVec
	httpErrorsTotal       *prometheus.CounterVec
	engineActionsTotal    *prometheus.CounterVec
	engineRegradesTotal   *prometheus.CounterVec
	engineFlushSeconds    prometheus.Histogram
	usageCacheLookups     *prometheus.CounterVec
	attemptEventsFailures *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API and the engine.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		engineActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_engine_actions_total",
			Help: "Actions processed by the question engine, by behaviour and verdict.",
		}, []string{"behaviour", "verdict"})

		engineRegradesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_engine_regrades_total",
			Help: "Question attempts regraded, by scope.",
		}, []string{"scope"})

		engineFlushSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "question_engine_flush_seconds",
			Help:    "Time spent writing a usage to the database.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		})

		usageCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_usage_cache_lookups_total",
			Help: "Usage snapshot cache lookups, by result.",
		}, []string{"result"})

		attemptEventsFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "question_attempt_events_failures_total",
			Help: "Attempt events that could not be published, by transport.",
		}, []string{"transport"})

		prometheus.MustRegister(
			httpRequestsTotal, httpLatencySeconds, httpErrorsTotal,
			engineActionsTotal, engineRegradesTotal, engineFlushSeconds,
			usageCacheLookups, attemptEventsFailures,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// EngineActions exposes the counter of processed actions.
func EngineActions() *prometheus.CounterVec {
	RegisterMetrics()
	return engineActionsTotal
}

// EngineRegrades exposes the counter of regraded attempts.
func EngineRegrades() *prometheus.CounterVec {
	RegisterMetrics()
	return engineRegradesTotal
}

// EngineFlushDuration exposes the histogram of usage flush durations.
func EngineFlushDuration() prometheus.Histogram {
	RegisterMetrics()
	return engineFlushSeconds
}

// UsageCacheLookups exposes the counter of cache hits and misses.
func UsageCacheLookups() *prometheus.CounterVec {
	RegisterMetrics()
	return usageCacheLookups
}

// AttemptEventFailures exposes the counter of failed event publications.
func AttemptEventFailures() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptEventsFailures
}
