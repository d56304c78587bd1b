// Package metrics exposes Prometheus instrumentation for the fan-out
// service: connection counts, per-route request counters, fan-out
// latency, and dropped-frame counts. The teacher repository carries no
// metrics package of its own; this one is grounded on the promauto usage
// in adred-codev-ws_poc's go-server/internal/metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus collector the service registers. It is
// safe for concurrent use: every field is a prometheus collector, which is
// already safe for concurrent use internally.
type Metrics struct {
	connectionsTotal  prometheus.Counter
	connectionsActive prometheus.Gauge
	connectionsClosed prometheus.Counter

	shardCount      prometheus.Gauge
	shardLoad       *prometheus.GaugeVec
	upgradeRejected prometheus.Counter

	routeRequests *prometheus.CounterVec
	routeErrors   *prometheus.CounterVec
	routeLatency  *prometheus.HistogramVec

	fanoutLatency  *prometheus.HistogramVec
	framesDelivered prometheus.Counter
	framesDropped   *prometheus.CounterVec

	storedMessagesPersisted prometheus.Counter
	storedMessagesReplayed  prometheus.Counter
}

// New registers every collector against the default Prometheus registry.
// Constructing more than one Metrics in the same process will panic on
// duplicate registration, matching promauto's own behavior — callers
// should build exactly one per process, in cmd/server/main.go.
func New() *Metrics {
	return &Metrics{
		connectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_connections_total",
			Help: "Total number of peer connections accepted.",
		}),
		connectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sinkr_connections_active",
			Help: "Number of currently live peer connections across all shards.",
		}),
		connectionsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_connections_closed_total",
			Help: "Total number of peer connections closed.",
		}),

		shardCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "sinkr_shards",
			Help: "Number of worker shards currently allocated by the coordinator.",
		}),
		shardLoad: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sinkr_shard_connections",
			Help: "Connection count reported by each shard.",
		}, []string{"shard_id"}),
		upgradeRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_upgrade_rejected_total",
			Help: "Total number of WebSocket upgrades rejected (rate limited, shard selection failed).",
		}),

		routeRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sinkr_route_requests_total",
			Help: "Total number of source requests processed, by route.",
		}, []string{"route"}),
		routeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sinkr_route_errors_total",
			Help: "Total number of source requests that returned an error, by route and error code.",
		}, []string{"route", "error"}),
		routeLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinkr_route_latency_seconds",
			Help:    "Request handling latency, by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		fanoutLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sinkr_fanout_latency_seconds",
			Help:    "Latency of the coordinator's cross-shard fan-out, by operation kind.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"kind"}),
		framesDelivered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_frames_delivered_total",
			Help: "Total number of sink frames successfully written.",
		}),
		framesDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "sinkr_frames_dropped_total",
			Help: "Total number of sink frames that failed to send, by reason.",
		}, []string{"reason"}),

		storedMessagesPersisted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_stored_messages_persisted_total",
			Help: "Total number of channel messages persisted for replay.",
		}),
		storedMessagesReplayed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "sinkr_stored_messages_replayed_total",
			Help: "Total number of stored messages replayed to a sink.",
		}),
	}
}

func (m *Metrics) ConnectionOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

func (m *Metrics) ConnectionClosed() {
	m.connectionsClosed.Inc()
	m.connectionsActive.Dec()
}

func (m *Metrics) SetShardCount(n int) { m.shardCount.Set(float64(n)) }

func (m *Metrics) SetShardLoad(shardID string, count int) {
	m.shardLoad.WithLabelValues(shardID).Set(float64(count))
}

func (m *Metrics) UpgradeRejected() { m.upgradeRejected.Inc() }

func (m *Metrics) RouteHandled(route string, err error, duration time.Duration) {
	m.routeRequests.WithLabelValues(route).Inc()
	m.routeLatency.WithLabelValues(route).Observe(duration.Seconds())
	if err != nil {
		m.routeErrors.WithLabelValues(route, err.Error()).Inc()
	}
}

func (m *Metrics) FanoutObserved(kind string, duration time.Duration) {
	m.fanoutLatency.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *Metrics) FrameDelivered() { m.framesDelivered.Inc() }

func (m *Metrics) FrameDropped(reason string) { m.framesDropped.WithLabelValues(reason).Inc() }

func (m *Metrics) StoredMessagePersisted() { m.storedMessagesPersisted.Inc() }

func (m *Metrics) StoredMessageReplayed() { m.storedMessagesReplayed.Inc() }
