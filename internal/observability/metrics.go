package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// namespace defines the global prefix for all metrics (e.g., herald_...).
const namespace = "herald"

// lowLatencyBuckets defines custom buckets for the delivery hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms
// resolution. Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// HTTP API
	// -------------------------------------------------------------------------

	// HTTPReqDuration measures the latency of HTTP requests.
	// Metric: herald_http_handling_seconds
	HTTPReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	// HTTPReqTotal counts the total number of HTTP requests.
	// Metric: herald_http_requests_total
	HTTPReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// DELIVERY ENGINE
	// -------------------------------------------------------------------------

	// DeliveryDuration measures the end-to-end latency of a campaign
	// delivery decision (cache lookup through rule evaluation).
	// Metric: herald_delivery_decision_seconds
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "decision_seconds",
		Help:      "Time taken to decide which campaign to deliver",
		Buckets:   lowLatencyBuckets, // The fetch endpoint sits on every screen view
	}, []string{"outcome"}) // match, no_match, degraded

	// DeliveryTotal counts delivery decisions by outcome.
	// "degraded" means the silent-fail boundary absorbed a failure.
	DeliveryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "decisions_total",
		Help:      "Total delivery decisions by outcome",
	}, []string{"outcome"})

	// SuppressionTotal counts candidates excluded by display caps.
	SuppressionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "delivery",
		Name:      "suppressions_total",
		Help:      "Total candidates suppressed by display caps",
	}, []string{"cap"}) // frequency, session

	// -------------------------------------------------------------------------
	// CAMPAIGN CACHE (Redis)
	// -------------------------------------------------------------------------

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total campaign cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total campaign cache misses",
	})

	// CacheErrors counts faults swallowed by the cache accessor.
	// A sustained rate here means Redis is down and every fetch is
	// falling through to PostgreSQL.
	CacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "errors_total",
		Help:      "Total cache faults absorbed by the silent-fail policy",
	}, []string{"op"}) // get, set, invalidate

	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Total explicit cache invalidations from the write path",
	})

	// -------------------------------------------------------------------------
	// EVENT TRACKING
	// -------------------------------------------------------------------------

	// EventsTrackedTotal counts recorded SDK events. The type label is
	// restricted to the well-known types plus "custom" to bound cardinality.
	EventsTrackedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "tracked_total",
		Help:      "Total behavioral events recorded",
	}, []string{"type"})

	// -------------------------------------------------------------------------
	// DATABASE POOL (pgx)
	// -------------------------------------------------------------------------

	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Current pgx pool connections by state",
	}, []string{"state"}) // total, idle, in_use, max

	DatabasePoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Cumulative connection acquisitions from the pool",
	})

	DatabasePoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring pool connections",
	})

	DatabasePoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Cumulative acquisitions that had to wait for a free connection",
	})
)
