package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MatchingRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_runs_total",
		Help: "Total number of matching runs by triggering event type",
	}, []string{"event_type"})

	MatchingRunsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matching_runs_failed_total",
		Help: "Total number of aborted matching runs",
	}, []string{"reason"})

	MatchesFoundTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matches_found_total",
		Help: "Total number of persisted matches",
	}, []string{"kind"})

	ChainsDiscoveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_chains_discovered_total",
		Help: "Total number of persisted barter chains by length",
	}, []string{"length"})

	ChainsConfirmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_chains_confirmed_total",
		Help: "Total number of fully accepted chains",
	})

	ChainsCancelledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_chains_cancelled_total",
		Help: "Total number of cancelled chains",
	}, []string{"reason"})

	ChainsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_chains_expired_total",
		Help: "Total number of chains expired by the sweeper",
	})

	ChainSearchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "chain_search_latency_seconds",
		Help:    "Latency of bounded chain discovery runs",
		Buckets: prometheus.DefBuckets,
	})

	ChainSearchTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "chain_search_truncated_total",
		Help: "Chain searches stopped by the expansion budget",
	})

	CandidateQueryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "candidate_query_latency_seconds",
		Help:    "Latency of candidate index queries",
		Buckets: prometheus.DefBuckets,
	})

	CandidateSetTruncated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "candidate_set_truncated_total",
		Help: "Candidate queries capped at the configured limit",
	})

	NotificationsSentTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notifications_sent_total",
		Help: "Total number of notification requests dispatched",
	})

	NotificationsSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_suppressed_total",
		Help: "Notifications suppressed by dedup or the per-event cap",
	}, []string{"reason"})

	NotificationDispatchFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "notification_dispatch_failed_total",
		Help: "Notification publishes that failed (best-effort, logged only)",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
