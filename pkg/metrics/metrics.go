package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster membership metrics
	PeersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_peers_total",
			Help: "Total number of peers in the cluster roster (excluding self)",
		},
	)

	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_raft_is_leader",
			Help: "Whether this node is the Raft leader for the membership log (1 = leader, 0 = follower)",
		},
	)

	RaftApplyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coriolis_raft_apply_duration_seconds",
			Help:    "Time taken to apply a membership log entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Feature-flag coordinator metrics
	FlagsSupported = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_flags_supported",
			Help: "Number of feature flags declared supported by this node's registry",
		},
	)

	FlagsEnabled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_flags_enabled",
			Help: "Number of feature flags currently enabled on this node",
		},
	)

	FlagEnableTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coriolis_flag_enable_total",
			Help: "Total number of enable() calls by outcome",
		},
		[]string{"outcome"},
	)

	FlagEnableDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coriolis_flag_enable_duration_seconds",
			Help:    "Time taken for enable() to return, by outcome",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	RegistryRebuildTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coriolis_registry_rebuild_total",
			Help: "Total number of registry snapshot rebuilds",
		},
	)

	// Peer RPC metrics
	PeerRPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coriolis_peerrpc_requests_total",
			Help: "Total number of peer RPC invocations by op and outcome",
		},
		[]string{"op", "outcome"},
	)

	PeerRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coriolis_peerrpc_duration_seconds",
			Help:    "Peer RPC round-trip duration by op",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Memory-pressure feedback controller metrics
	MemctlDesiredDuration = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_memctl_desired_duration_seconds",
			Help: "Current cluster-wide desired queue duration target (+Inf when memory pressure is low)",
		},
	)

	MemctlRegisteredQueues = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_memctl_registered_queues",
			Help: "Number of queues currently registered with the controller",
		},
	)

	MemctlMemoryRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "coriolis_memctl_memory_ratio",
			Help: "Ratio of used memory to the controller's working memory budget",
		},
	)

	MemctlPushesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "coriolis_memctl_pushes_total",
			Help: "Total number of push-back targets sent to queues",
		},
	)

	// Domain event broker metrics
	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coriolis_events_dropped_total",
			Help: "Total number of domain events dropped because the broker's or a subscriber's buffer was full, by event type",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(
		PeersTotal,
		RaftLeader,
		RaftApplyDuration,
		FlagsSupported,
		FlagsEnabled,
		FlagEnableTotal,
		FlagEnableDuration,
		RegistryRebuildTotal,
		PeerRPCRequestsTotal,
		PeerRPCDuration,
		MemctlDesiredDuration,
		MemctlRegisteredQueues,
		MemctlMemoryRatio,
		MemctlPushesTotal,
		EventsDroppedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
