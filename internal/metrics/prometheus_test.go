package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_IsolatedRegistries(t *testing.T) {
	// two nodes in one process must not collide
	m1 := NewMetrics("a", prometheus.NewRegistry())
	m2 := NewMetrics("b", prometheus.NewRegistry())

	m1.RecordSelfJoin()
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.SelfJoinsTotal))
	assert.Equal(t, 0.0, testutil.ToFloat64(m2.SelfJoinsTotal))
}

func TestMetrics_Recorders(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("node-1", reg)

	m.RecordReceived("join", 0.001)
	m.RecordReceived("join", 0.002)
	m.RecordSent("ins")
	m.RecordSendError("ins")
	m.RecordDecodeError()
	m.RecordForward("right")
	m.RecordInsert("left", "routed")
	m.RecordLeave()
	m.UpdateNeighbours(true, false, true)
	m.UpdateInboxDepth(3)
	m.UpdateGossipStats(5)
	m.RecordNeighbourFailure()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MessagesReceivedTotal.WithLabelValues("join")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesSentTotal.WithLabelValues("ins")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendErrorsTotal.WithLabelValues("ins")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DecodeErrorsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ForwardsTotal.WithLabelValues("right")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InsertsTotal.WithLabelValues("left", "routed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LeavesTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NeighbourPresent.WithLabelValues("left")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.NeighbourPresent.WithLabelValues("right")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BoundaryNode))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InboxDepth))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.GossipMembersTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NeighbourFailuresTotal))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
	for _, f := range families {
		assert.Contains(t, f.GetName(), "ringnode_")
	}
}
