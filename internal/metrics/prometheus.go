package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for a ring node
type Metrics struct {
	// Protocol traffic
	MessagesReceivedTotal *prometheus.CounterVec
	MessagesSentTotal     *prometheus.CounterVec
	SendErrorsTotal       *prometheus.CounterVec
	DecodeErrorsTotal     prometheus.Counter
	SelfJoinsTotal        prometheus.Counter
	HandleDuration        prometheus.Histogram

	// Membership
	ForwardsTotal    *prometheus.CounterVec
	InsertsTotal     *prometheus.CounterVec
	NeighbourPresent *prometheus.GaugeVec
	BoundaryNode     prometheus.Gauge
	LeavesTotal      prometheus.Counter

	// Pipeline
	InboxDepth prometheus.Gauge

	// Gossip metrics
	GossipMembersTotal     prometheus.Gauge
	NeighbourFailuresTotal prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production.
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	labels := prometheus.Labels{"node": nodeID}
	factory := promauto.With(reg)

	return &Metrics{
		MessagesReceivedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "messages_received_total",
			Help:        "Total number of decoded protocol messages by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		MessagesSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "messages_sent_total",
			Help:        "Total number of protocol messages sent by kind",
			ConstLabels: labels,
		}, []string{"kind"}),
		SendErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "send_errors_total",
			Help:        "Total number of protocol messages that could not be sent",
			ConstLabels: labels,
		}, []string{"kind"}),
		DecodeErrorsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "decode_errors_total",
			Help:        "Total number of dropped malformed datagrams",
			ConstLabels: labels,
		}),
		SelfJoinsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "self_joins_total",
			Help:        "Total number of rejected joins targeting the local hash",
			ConstLabels: labels,
		}),
		HandleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "ringnode",
			Subsystem:   "protocol",
			Name:        "handle_duration_seconds",
			Help:        "Histogram of envelope handling durations",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to 2.6s
		}),

		ForwardsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "ring",
			Name:        "forwards_total",
			Help:        "Total number of insertion searches forwarded to a neighbour",
			ConstLabels: labels,
		}, []string{"side"}),
		InsertsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "ring",
			Name:        "inserts_total",
			Help:        "Total number of neighbour assignments by side and origin",
			ConstLabels: labels,
		}, []string{"side", "origin"}),
		NeighbourPresent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "ringnode",
			Subsystem:   "ring",
			Name:        "neighbour_present",
			Help:        "Whether the neighbour slot is set (1) or empty (0)",
			ConstLabels: labels,
		}, []string{"side"}),
		BoundaryNode: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ringnode",
			Subsystem:   "ring",
			Name:        "boundary",
			Help:        "Whether this node is adjacent to the keyspace seam",
			ConstLabels: labels,
		}),
		LeavesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "ring",
			Name:        "leaves_total",
			Help:        "Total number of leave notifications performed",
			ConstLabels: labels,
		}),

		InboxDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ringnode",
			Subsystem:   "listener",
			Name:        "inbox_depth",
			Help:        "Envelopes waiting for the ring node",
			ConstLabels: labels,
		}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   "ringnode",
			Subsystem:   "gossip",
			Name:        "members_total",
			Help:        "Number of members in the gossip cluster",
			ConstLabels: labels,
		}),
		NeighbourFailuresTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   "ringnode",
			Subsystem:   "gossip",
			Name:        "neighbour_failures_total",
			Help:        "Total number of ring neighbours reported gone by gossip",
			ConstLabels: labels,
		}),
	}
}

// RecordReceived records a decoded inbound message
func (m *Metrics) RecordReceived(kind string, duration float64) {
	m.MessagesReceivedTotal.WithLabelValues(kind).Inc()
	m.HandleDuration.Observe(duration)
}

// RecordSent records an outbound message
func (m *Metrics) RecordSent(kind string) {
	m.MessagesSentTotal.WithLabelValues(kind).Inc()
}

// RecordSendError records an outbound message that failed
func (m *Metrics) RecordSendError(kind string) {
	m.SendErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordDecodeError records a dropped datagram
func (m *Metrics) RecordDecodeError() {
	m.DecodeErrorsTotal.Inc()
}

// RecordSelfJoin records a rejected self-join
func (m *Metrics) RecordSelfJoin() {
	m.SelfJoinsTotal.Inc()
}

// RecordForward records a REQINS hop
func (m *Metrics) RecordForward(side string) {
	m.ForwardsTotal.WithLabelValues(side).Inc()
}

// RecordInsert records a neighbour assignment
func (m *Metrics) RecordInsert(side, origin string) {
	m.InsertsTotal.WithLabelValues(side, origin).Inc()
}

// RecordLeave records a leave with notifications
func (m *Metrics) RecordLeave() {
	m.LeavesTotal.Inc()
}

// UpdateNeighbours updates neighbour presence gauges
func (m *Metrics) UpdateNeighbours(hasLeft, hasRight, boundary bool) {
	m.NeighbourPresent.WithLabelValues("left").Set(boolToFloat(hasLeft))
	m.NeighbourPresent.WithLabelValues("right").Set(boolToFloat(hasRight))
	m.BoundaryNode.Set(boolToFloat(boundary))
}

// UpdateInboxDepth updates the listener channel depth
func (m *Metrics) UpdateInboxDepth(depth int) {
	m.InboxDepth.Set(float64(depth))
}

// UpdateGossipStats updates gossip statistics
func (m *Metrics) UpdateGossipStats(totalMembers int) {
	m.GossipMembersTotal.Set(float64(totalMembers))
}

// RecordNeighbourFailure records a neighbour that gossip reported gone
func (m *Metrics) RecordNeighbourFailure() {
	m.NeighbourFailuresTotal.Inc()
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
