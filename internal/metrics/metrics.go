package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Risk refresh metrics
	RiskRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restakewatch_risk_refreshes_total",
			Help: "Total number of per-asset risk refresh runs",
		},
		[]string{"status"}, // success, error
	)

	RiskRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "restakewatch_risk_refresh_duration_seconds",
			Help:    "Duration of a per-asset risk refresh",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Alert metrics
	AlertsRaised = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restakewatch_alerts_raised_total",
			Help: "Total number of alerts raised",
		},
		[]string{"severity"}, // critical, high, medium, low
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restakewatch_alerts_suppressed_total",
			Help: "Total number of alerts suppressed by the cooldown window",
		},
	)

	// Cache metrics
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restakewatch_cache_hits_total",
			Help: "Total number of cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restakewatch_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	CacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restakewatch_cache_coalesced_total",
			Help: "Total number of callers attached to an already in-flight fetch",
		},
	)

	// Scheduler metrics
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restakewatch_scheduler_task_runs_total",
			Help: "Total number of scheduled task executions",
		},
		[]string{"task", "status"}, // success, error
	)

	// Realtime metrics
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "restakewatch_realtime_clients",
			Help: "Number of connected realtime clients",
		},
	)

	RealtimeDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "restakewatch_realtime_dropped_total",
			Help: "Total number of events dropped for saturated clients",
		},
	)

	// Bridge metrics
	BridgeTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "restakewatch_bridge_transitions_total",
			Help: "Total number of bridge operation transitions",
		},
		[]string{"status"}, // initiated, pending, confirmed, failed
	)
)
