package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// Runs by outcome (uploaded, skipped, failed). Watch for: failed rising, uploaded flat (upstream frozen).
	HarvestRunsTotal *prometheus.CounterVec

	// End-to-end run latency. Watch for: runs approaching scheduler.run_timeout.
	HarvestRunDuration prometheus.Histogram

	// Per-stage latency (fetch_information, validate_information, index, gate, fetch_status,
	// validate_status, merge, encode, upload).
	HarvestStageDuration *prometheus.HistogramVec

	// Feed calls per feed and status class. Watch for: error vs success ratio.
	FeedCallsTotal *prometheus.CounterVec

	// Feed latency per attempt. Watch for: p95 > 2s (upstream degradation).
	FeedDuration *prometheus.HistogramVec

	// Retry attempts per feed. Watch for: high retries = unstable upstream.
	FeedRetriesTotal *prometheus.CounterVec

	// Final feed failures by category (timeout, network, rate_limited, upstream_5xx, ...).
	FeedErrorsTotal *prometheus.CounterVec

	// Schema violations by payload and kind. Watch for: unexpected_field = upstream added a field.
	SchemaViolationsTotal *prometheus.CounterVec

	// Status records without a matching information record.
	JoinMissesTotal prometheus.Counter

	// Duplicate station_id values in station_information.
	IndexDuplicatesTotal prometheus.Counter

	// Gate decisions (advanced, stale). Watch for: only stale = upstream stopped updating.
	GateDecisionsTotal *prometheus.CounterVec

	// Last persisted watermark (epoch seconds). time() - value = data age.
	WatermarkTimestamp prometheus.Gauge

	// Size of the last uploaded snapshot.
	SnapshotBytes prometheus.Gauge

	// Snapshot uploads per backend and status.
	SnapshotUploadsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping between open and half_open.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// HTTP request rate on the operational API.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight.
	HTTPRequestsInFlight prometheus.Gauge

	// Rate limit denials on POST /runs.
	RateLimitDeniedTotal prometheus.Counter

	runWindowGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HarvestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvestRunsTotal",
			Help: "Total number of harvest runs by outcome",
		},
		[]string{"outcome"},
	)
	HarvestRunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvestRunDurationSeconds",
			Help:    "Harvest run latency in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	HarvestStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvestStageDurationSeconds",
			Help:    "Harvest stage latency in seconds",
			Buckets: []float64{.001, .01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"stage"},
	)
	FeedCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedCallsTotal",
			Help: "Total number of upstream feed calls",
		},
		[]string{"feed", "status"},
	)
	FeedDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "feedDurationSeconds",
			Help:    "Upstream feed latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"feed", "status"},
	)
	FeedRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedRetriesTotal",
			Help: "Total number of retry attempts for upstream feed calls",
		},
		[]string{"feed"},
	)
	FeedErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedErrorsTotal",
			Help: "Upstream feed failures after retries, by category",
		},
		[]string{"feed", "category"},
	)
	SchemaViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "schemaViolationsTotal",
			Help: "Schema violations by payload and kind",
		},
		[]string{"schema", "kind"},
	)
	JoinMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "joinMissesTotal",
			Help: "Status records with no matching information record",
		},
	)
	IndexDuplicatesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexDuplicatesTotal",
			Help: "Duplicate station_id values in station_information (last wins)",
		},
	)
	GateDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateDecisionsTotal",
			Help: "Change gate decisions",
		},
		[]string{"decision"},
	)
	WatermarkTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "watermarkTimestampSeconds",
			Help: "Last persisted watermark in epoch seconds",
		},
	)
	SnapshotBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "snapshotBytes",
			Help: "Size in bytes of the last encoded snapshot",
		},
	)
	SnapshotUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snapshotUploadsTotal",
			Help: "Snapshot uploads by backend and status",
		},
		[]string{"backend", "status"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state: 0 closed, 1 open, 2 half-open",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HarvestRunsTotal, HarvestRunDuration, HarvestStageDuration,
		FeedCallsTotal, FeedDuration, FeedRetriesTotal, FeedErrorsTotal,
		SchemaViolationsTotal, JoinMissesTotal, IndexDuplicatesTotal,
		GateDecisionsTotal, WatermarkTimestamp,
		SnapshotBytes, SnapshotUploadsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RateLimitDeniedTotal,
	)
}

// RunWindowCounter reports run outcomes inside the degraded-health window.
type RunWindowCounter interface {
	FailureRate() (failed, total int)
}

// RegisterRunWindowGauges exposes the run outcomes that drive degraded health.
// Call from main after the tracker is built.
func RegisterRunWindowGauges(c RunWindowCounter) {
	runWindowGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "harvestRunsInWindow",
					Help: "Runs recorded in the degraded-health window",
				},
				func() float64 { _, total := c.FailureRate(); return float64(total) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "harvestFailedRunsInWindow",
					Help: "Failed runs in the degraded-health window",
				},
				func() float64 { failed, _ := c.FailureRate(); return float64(failed) },
			),
		)
	})
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
