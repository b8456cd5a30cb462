// Package metrics declares the Prometheus collectors exported by every
// fabric process: package-level vectors registered from an init().
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	requestLabels = []string{"component", "method", "path", "status"}

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmos_requests_total",
			Help: "Total number of HTTP requests served by a fabric process.",
		},
		requestLabels,
	)

	requestLatencyBuckets = prometheus.ExponentialBuckets(1, 2, 12)

	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nmos_request_latency_ms",
			Help:    "HTTP request latency in milliseconds.",
			Buckets: requestLatencyBuckets,
		},
		requestLabels,
	)

	CollectorPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nmos_collector_pass_duration_seconds",
			Help:    "Wall-clock duration of each garbage collection pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	CollectorReaped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nmos_collector_reaped_total",
			Help: "Total number of resources reaped by the garbage collector, by kind.",
		},
		[]string{"kind"},
	)

	CollectorLockContended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nmos_collector_lock_contended_total",
			Help: "Total number of passes skipped because the collector lock was held elsewhere.",
		},
	)

	SubscriptionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nmos_subscriptions_active",
			Help: "Current number of active subscriptions held by the query core.",
		},
	)

	SocketsAttached = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nmos_subscription_sockets_attached",
			Help: "Current number of websocket subscribers attached across all subscriptions.",
		},
	)

	ChangeFeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nmos_changefeed_reconnects_total",
			Help: "Total number of times the change-feed consumer re-established its long poll after an error.",
		},
	)

	ChangeFeedIndexSkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nmos_changefeed_index_skips_total",
			Help: "Total number of synthetic index_skip events raised after a substrate history gap.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestLatency,
		CollectorPassDuration,
		CollectorReaped,
		CollectorLockContended,
		SubscriptionsActive,
		SocketsAttached,
		ChangeFeedReconnects,
		ChangeFeedIndexSkips,
	)
}
