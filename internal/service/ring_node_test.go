package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/devrev/pairdb/ringnode/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	addrA = model.NewAddress("127.0.0.1", 5001)
	addrB = model.NewAddress("127.0.0.1", 5002)
	addrC = model.NewAddress("127.0.0.1", 5003)
	addrD = model.NewAddress("127.0.0.1", 5004)
	addrE = model.NewAddress("127.0.0.1", 5005)
	// addrX collides with addrA
	addrX = model.NewAddress("127.0.0.1", 5099)
)

// tableHash pins ring positions so scenarios stay readable
func tableHash(t map[model.Address]model.Hash) model.HashFunc {
	return func(a model.Address) model.Hash {
		if h, ok := t[a]; ok {
			return h
		}
		return model.XXHash(a)
	}
}

var testHash = tableHash(map[model.Address]model.Hash{
	addrA: 10,
	addrB: 20,
	addrC: 15,
	addrD: 30,
	addrE: 5,
	addrX: 10,
})

type sentPacket struct {
	to      model.Address
	payload string
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentPacket
	err  error
}

func (s *recordingSender) SendTo(to model.Address, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentPacket{to: to, payload: string(payload)})
	return nil
}

func (s *recordingSender) packets() []sentPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentPacket(nil), s.sent...)
}

// simNetwork delivers datagrams between in-process ring nodes in a
// controllable order
type simNetwork struct {
	hash    model.HashFunc
	nodes   map[model.Address]*RingNode
	queue   []simPacket
	dropped map[model.Address]bool
}

type simPacket struct {
	to  model.Address
	env protocol.Envelope
}

type simSender struct {
	net  *simNetwork
	from model.Address
}

func (s *simSender) SendTo(to model.Address, payload []byte) error {
	if s.net.dropped[to] {
		return fmt.Errorf("host unreachable: %s", to)
	}
	s.net.queue = append(s.net.queue, simPacket{
		to:  to,
		env: protocol.NewEnvelope(s.from, string(payload)),
	})
	return nil
}

func newSimNetwork(hash model.HashFunc) *simNetwork {
	return &simNetwork{
		hash:    hash,
		nodes:   make(map[model.Address]*RingNode),
		dropped: make(map[model.Address]bool),
	}
}

func (n *simNetwork) addNode(addr model.Address) *RingNode {
	node := NewRingNode(&RingNodeConfig{Address: addr, Hash: n.hash}, &simSender{net: n, from: addr}, nil, nil)
	n.nodes[addr] = node
	return node
}

// pump delivers queued datagrams until the network is quiet.
// pick chooses which queued datagram goes next.
func (n *simNetwork) pump(t *testing.T, pick func(queued int) int) {
	t.Helper()
	for steps := 0; len(n.queue) > 0; steps++ {
		require.Less(t, steps, 10000, "network did not quiesce")

		i := pick(len(n.queue))
		p := n.queue[i]
		n.queue = append(n.queue[:i], n.queue[i+1:]...)

		if node, ok := n.nodes[p.to]; ok {
			_ = node.HandleEnvelope(p.env)
		}
	}
}

func fifo(int) int { return 0 }

func lifo(queued int) int { return queued - 1 }

func (n *simNetwork) join(t *testing.T, joiner, entry model.Address, pick func(int) int) {
	t.Helper()
	require.NoError(t, n.nodes[joiner].InitiateJoin(entry))
	n.pump(t, pick)
}

func assertNeighbours(t *testing.T, node *RingNode, left, right model.Address) {
	t.Helper()
	topo := node.Topology()
	require.NotNil(t, topo.Left, "left of %s", topo.Self.Address)
	require.NotNil(t, topo.Right, "right of %s", topo.Self.Address)
	assert.Equal(t, left, topo.Left.Address, "left of %s", topo.Self.Address)
	assert.Equal(t, right, topo.Right.Address, "right of %s", topo.Self.Address)
}

func assertIsolated(t *testing.T, node *RingNode) {
	t.Helper()
	topo := node.Topology()
	assert.Nil(t, topo.Left)
	assert.Nil(t, topo.Right)
	assert.Equal(t, model.RingStateIsolated, topo.State)
}

// assertSingleCycle checks that the right pointers visit every node once in
// increasing hash order, wrapping exactly once
func assertSingleCycle(t *testing.T, net *simNetwork) {
	t.Helper()

	nodes := make([]*RingNode, 0, len(net.nodes))
	for _, n := range net.nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Self().Hash < nodes[j].Self().Hash })

	wraps := 0
	for i, n := range nodes {
		next := nodes[(i+1)%len(nodes)]
		prev := nodes[(i-1+len(nodes))%len(nodes)]
		assertNeighbours(t, n, prev.Self().Address, next.Self().Address)

		topo := n.Topology()
		if topo.Right != nil && topo.Right.Hash < topo.Self.Hash {
			wraps++
		}
	}
	assert.Equal(t, 1, wraps)
}

func TestRingNode_NewIsIsolated(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)

	assertIsolated(t, a)
	assert.True(t, a.IsBoundary())
	assert.Equal(t, model.Hash(10), a.Self().Hash)
}

func TestRingNode_InitConnectOnIsolatedNode(t *testing.T) {
	sender := &recordingSender{}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)

	err := a.HandleEnvelope(protocol.NewEnvelope(addrB, "INIT CONNECT"))
	require.NoError(t, err)

	assertNeighbours(t, a, addrB, addrB)
	assert.Equal(t, []sentPacket{
		{to: addrB, payload: "JOIN:LFT:127.0.0.1:5001"},
		{to: addrB, payload: "JOIN:RGT:127.0.0.1:5001"},
	}, sender.packets())
}

func TestRingNode_TwoNodeRing(t *testing.T) {
	for name, pick := range map[string]func(int) int{"in order": fifo, "reversed": lifo} {
		t.Run(name, func(t *testing.T) {
			net := newSimNetwork(testHash)
			a := net.addNode(addrA)
			b := net.addNode(addrB)

			net.join(t, addrB, addrA, pick)

			assertNeighbours(t, a, addrB, addrB)
			assertNeighbours(t, b, addrA, addrA)
			assert.Equal(t, model.RingStateLinked, a.Topology().State)
		})
	}
}

func TestRingNode_ThreeNodeRing(t *testing.T) {
	for _, entry := range []model.Address{addrA, addrB} {
		for name, pick := range map[string]func(int) int{"in order": fifo, "reversed": lifo} {
			t.Run(fmt.Sprintf("via %s %s", entry, name), func(t *testing.T) {
				net := newSimNetwork(testHash)
				a := net.addNode(addrA)
				b := net.addNode(addrB)
				c := net.addNode(addrC)

				net.join(t, addrB, addrA, fifo)
				net.join(t, addrC, entry, pick)

				assertNeighbours(t, a, addrB, addrC)
				assertNeighbours(t, c, addrA, addrB)
				assertNeighbours(t, b, addrC, addrA)
			})
		}
	}
}

func TestRingNode_ThreeNodeRingDirectMessages(t *testing.T) {
	sender := &recordingSender{}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)
	require.NoError(t, a.HandleEnvelope(protocol.NewEnvelope(addrB, "INIT CONNECT")))
	sender.sent = nil

	require.NoError(t, a.HandleEnvelope(protocol.NewEnvelope(addrC, "INIT CONNECT")))

	assertNeighbours(t, a, addrB, addrC)
	assert.Equal(t, []sentPacket{
		{to: addrC, payload: "JOIN:LFT:127.0.0.1:5001"},
		{to: addrC, payload: "INS:RGT:127.0.0.1:5002"},
	}, sender.packets())
}

func TestRingNode_JoinAcrossSeam(t *testing.T) {
	tests := []struct {
		name   string
		joiner model.Address
		entry  model.Address
	}{
		{name: "highest via lower entry", joiner: addrD, entry: addrA},
		{name: "highest via boundary", joiner: addrD, entry: addrB},
		{name: "lowest via higher entry", joiner: addrE, entry: addrB},
		{name: "lowest via boundary", joiner: addrE, entry: addrA},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newSimNetwork(testHash)
			net.addNode(addrA)
			net.addNode(addrB)
			net.addNode(tt.joiner)

			net.join(t, addrB, addrA, fifo)
			net.join(t, tt.joiner, tt.entry, fifo)

			assertSingleCycle(t, net)
		})
	}
}

func TestRingNode_ManySequentialJoins(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	net := newSimNetwork(model.XXHash)

	first := model.NewAddress("10.0.0.1", 7000)
	net.addNode(first)
	members := []model.Address{first}

	for i := 2; i <= 24; i++ {
		addr := model.NewAddress(fmt.Sprintf("10.0.0.%d", i), 7000)
		net.addNode(addr)

		entry := members[rng.Intn(len(members))]
		net.join(t, addr, entry, fifo)
		members = append(members, addr)

		assertSingleCycle(t, net)
	}
}

func TestRingNode_DuplicateInitConnectIsNoop(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	b := net.addNode(addrB)
	net.join(t, addrB, addrA, fifo)

	require.NoError(t, b.InitiateJoin(addrA))
	require.Len(t, net.queue, 1)
	net.pump(t, fifo)

	assert.Empty(t, net.queue)
	assertNeighbours(t, a, addrB, addrB)
	assertNeighbours(t, b, addrA, addrA)
}

func TestRingNode_InsIsIdempotent(t *testing.T) {
	sender := &recordingSender{}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)
	require.NoError(t, a.HandleEnvelope(protocol.NewEnvelope(addrB, "JOIN:RGT:127.0.0.1:5002")))

	before := a.Topology()
	require.NoError(t, a.HandleEnvelope(protocol.NewEnvelope(addrC, "INS:RGT:127.0.0.1:5002")))

	assert.Empty(t, sender.packets())
	assert.Equal(t, before.Left, a.Topology().Left)
	assert.Equal(t, before.Right, a.Topology().Right)
}

func TestRingNode_JoinDirectiveBackfills(t *testing.T) {
	sender := &recordingSender{}
	c := NewRingNode(&RingNodeConfig{Address: addrC, Hash: testHash}, sender, nil, nil)

	require.NoError(t, c.HandleEnvelope(protocol.NewEnvelope(addrA, "JOIN:LFT:127.0.0.1:5001")))
	assertNeighbours(t, c, addrA, addrA)

	// a second directive replaces only its own slot
	require.NoError(t, c.HandleEnvelope(protocol.NewEnvelope(addrA, "JOIN:RGT:127.0.0.1:5002")))
	assertNeighbours(t, c, addrA, addrB)
	assert.Empty(t, sender.packets())
}

func TestRingNode_SelfJoinRejected(t *testing.T) {
	payloads := []string{
		"INIT CONNECT",
		"REQINS:RGT:127.0.0.1:5099",
		"INS:LFT:127.0.0.1:5099",
		"JOIN:LFT:127.0.0.1:5099",
	}

	for _, payload := range payloads {
		t.Run(payload, func(t *testing.T) {
			sender := &recordingSender{}
			a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)

			err := a.HandleEnvelope(protocol.NewEnvelope(addrX, payload))
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeSelfJoin, errors.GetCode(err))
			assertIsolated(t, a)
			assert.Empty(t, sender.packets())
		})
	}
}

func TestRingNode_MalformedMessageLeavesStateUntouched(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	net.addNode(addrB)
	net.join(t, addrB, addrA, fifo)

	for _, payload := range []string{"", "HELLO", "JOIN:UP:127.0.0.1:1", "INS:LFT:nope"} {
		err := a.HandleEnvelope(protocol.NewEnvelope(addrC, payload))
		require.Error(t, err, payload)
		assert.Equal(t, errors.ErrCodeDecode, errors.GetCode(err))
	}

	assert.Empty(t, net.queue)
	assertNeighbours(t, a, addrB, addrB)
}

func TestRingNode_SendFailureKeepsState(t *testing.T) {
	sender := &recordingSender{err: stderrors.New("network is unreachable")}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)

	err := a.HandleEnvelope(protocol.NewEnvelope(addrB, "INIT CONNECT"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSend, errors.GetCode(err))
	assertNeighbours(t, a, addrB, addrB)
}

func TestRingNode_Boundary(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	b := net.addNode(addrB)
	c := net.addNode(addrC)
	net.join(t, addrB, addrA, fifo)
	net.join(t, addrC, addrA, fifo)

	assert.True(t, a.IsBoundary())
	assert.True(t, b.IsBoundary())
	assert.False(t, c.IsBoundary())
	assert.False(t, c.Topology().Boundary)
}

func TestRingNode_LeaveThreeNodeRing(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	b := net.addNode(addrB)
	c := net.addNode(addrC)
	net.join(t, addrB, addrA, fifo)
	net.join(t, addrC, addrA, fifo)

	require.NoError(t, b.Leave())
	assertIsolated(t, b)
	delete(net.nodes, addrB)
	net.pump(t, fifo)

	assertNeighbours(t, a, addrC, addrC)
	assertNeighbours(t, c, addrA, addrA)
}

func TestRingNode_LeaveTwoNodeRing(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	b := net.addNode(addrB)
	net.join(t, addrB, addrA, fifo)

	require.NoError(t, a.Leave())
	delete(net.nodes, addrA)
	net.pump(t, fifo)

	assertIsolated(t, b)
}

func TestRingNode_LeaveRunsOnce(t *testing.T) {
	sender := &recordingSender{}
	c := NewRingNode(&RingNodeConfig{Address: addrC, Hash: testHash}, sender, nil, nil)
	require.NoError(t, c.HandleEnvelope(protocol.NewEnvelope(addrA, "JOIN:LFT:127.0.0.1:5001")))
	require.NoError(t, c.HandleEnvelope(protocol.NewEnvelope(addrA, "JOIN:RGT:127.0.0.1:5002")))

	require.NoError(t, c.Leave())
	require.NoError(t, c.Leave())

	assert.Equal(t, []sentPacket{
		{to: addrA, payload: "JOIN:RGT:127.0.0.1:5002"},
		{to: addrB, payload: "JOIN:LFT:127.0.0.1:5001"},
	}, sender.packets())
}

func TestRingNode_LeaveWithoutNeighbours(t *testing.T) {
	sender := &recordingSender{}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)

	require.NoError(t, a.Leave())
	assert.Empty(t, sender.packets())
}

func TestRingNode_RunLeavesOnCancel(t *testing.T) {
	sender := &recordingSender{}
	c := NewRingNode(&RingNodeConfig{Address: addrC, Hash: testHash}, sender, nil, nil)

	inbox := make(chan protocol.Envelope, 4)
	inbox <- protocol.NewEnvelope(addrA, "JOIN:LFT:127.0.0.1:5001")
	inbox <- protocol.NewEnvelope(addrA, "JOIN:RGT:127.0.0.1:5002")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, inbox) }()

	require.Eventually(t, func() bool {
		return c.Topology().State == model.RingStateLinked
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, c.Running())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ring node did not stop")
	}

	assert.False(t, c.Running())
	assert.Len(t, sender.packets(), 2)
	assertIsolated(t, c)
}

func TestRingNode_RunStopsOnClosedInbox(t *testing.T) {
	sender := &recordingSender{}
	a := NewRingNode(&RingNodeConfig{Address: addrA, Hash: testHash}, sender, nil, nil)

	inbox := make(chan protocol.Envelope, 4)
	inbox <- protocol.NewEnvelope(addrB, "garbage")
	inbox <- protocol.NewEnvelope(addrB, "INIT CONNECT")
	close(inbox)

	err := a.Run(context.Background(), inbox)
	require.NoError(t, err)

	// two JOINs for the backfill, then two leave notifications
	packets := sender.packets()
	require.Len(t, packets, 4)
	assert.Equal(t, "JOIN:RGT:127.0.0.1:5002", packets[2].payload)
	assert.Equal(t, "JOIN:LFT:127.0.0.1:5002", packets[3].payload)
}

func TestRingNode_ForwardToUnreachableNeighbour(t *testing.T) {
	net := newSimNetwork(testHash)
	a := net.addNode(addrA)
	net.addNode(addrB)
	net.join(t, addrB, addrA, fifo)

	net.dropped[addrB] = true
	err := a.HandleEnvelope(protocol.NewEnvelope(addrD, "INIT CONNECT"))
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeSend, errors.GetCode(err))
	assertNeighbours(t, a, addrB, addrB)
}
