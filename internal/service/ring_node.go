package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/metrics"
	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/devrev/pairdb/ringnode/internal/protocol"
	"github.com/devrev/pairdb/ringnode/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// insertOrigin records why a neighbour slot is being assigned
type insertOrigin int

const (
	// originRouted is a first-party routing decision of this node
	originRouted insertOrigin = iota
	// originCommit comes from an INS message
	originCommit
	// originJoin comes from a JOIN directive and never produces traffic
	originJoin
)

func (o insertOrigin) String() string {
	switch o {
	case originRouted:
		return "routed"
	case originCommit:
		return "commit"
	default:
		return "join"
	}
}

// RingNodeConfig holds ring node configuration
type RingNodeConfig struct {
	Address model.Address
	Hash    model.HashFunc
}

// RingNode is the local ring member.
//
// All membership state (left, right, departed) is owned by the goroutine
// running Run, or by the caller driving HandleEnvelope directly. Other
// goroutines read the Topology snapshot instead.
type RingNode struct {
	own     model.Neighbour
	hash    model.HashFunc
	sender  transport.Sender
	metrics *metrics.Metrics
	logger  *zap.Logger

	left     *model.Neighbour
	right    *model.Neighbour
	departed bool

	topology atomic.Pointer[model.Topology]
	running  atomic.Bool
}

// NewRingNode creates an isolated ring member at cfg.Address
func NewRingNode(cfg *RingNodeConfig, sender transport.Sender, m *metrics.Metrics, logger *zap.Logger) *RingNode {
	hash := cfg.Hash
	if hash == nil {
		hash = model.XXHash
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.NewMetrics(cfg.Address.String(), prometheus.NewRegistry())
	}

	n := &RingNode{
		own:     model.NewNeighbour(cfg.Address, hash),
		hash:    hash,
		sender:  sender,
		metrics: m,
		logger: logger.With(
			zap.String("self", cfg.Address.String()),
			zap.Stringer("self_hash", hash(cfg.Address))),
	}
	n.publish()
	return n
}

// Self returns the local member's identity
func (n *RingNode) Self() model.Neighbour {
	return n.own
}

// Topology returns the latest published snapshot. Safe for any goroutine.
func (n *RingNode) Topology() *model.Topology {
	return n.topology.Load()
}

// Running reports whether the processing loop is active
func (n *RingNode) Running() bool {
	return n.running.Load()
}

// IsBoundary reports whether this node sits next to the keyspace seam
func (n *RingNode) IsBoundary() bool {
	return model.IsBoundary(n.own.Hash, n.left, n.right)
}

// InitiateJoin asks the member at entry to admit this node
func (n *RingNode) InitiateJoin(entry model.Address) error {
	n.logger.Info("Requesting to join ring", zap.String("entry", entry.String()))
	return n.send(entry, protocol.InitConnect())
}

// Run consumes envelopes until ctx is cancelled or the inbox is closed,
// then leaves the ring. Per-message errors are reported and never stop the
// loop.
func (n *RingNode) Run(ctx context.Context, inbox <-chan protocol.Envelope) error {
	n.running.Store(true)
	defer n.running.Store(false)

	n.logger.Info("Ring node started")

	for {
		select {
		case <-ctx.Done():
			n.logger.Info("Shutdown signal received, leaving ring")
			n.leaveAndReport()
			return nil

		case env, ok := <-inbox:
			if !ok {
				n.logger.Warn("Treating closed listener channel as shutdown", zap.Error(errors.ChannelClosed()))
				n.leaveAndReport()
				return nil
			}

			n.metrics.UpdateInboxDepth(len(inbox))
			if err := n.HandleEnvelope(env); err != nil {
				n.report(env, err)
			}
		}
	}
}

// HandleEnvelope decodes one envelope and applies it to the membership state.
// It is the single entry point that mutates ring state.
func (n *RingNode) HandleEnvelope(env protocol.Envelope) error {
	start := time.Now()

	msg, err := env.Message()
	if err != nil {
		n.metrics.RecordDecodeError()
		return err
	}

	switch msg.Kind {
	case protocol.KindInitConnect:
		err = n.join(env.Source)
	case protocol.KindJoin:
		err = n.handleJoin(msg)
	case protocol.KindReqIns:
		err = n.handleReqIns(msg)
	case protocol.KindIns:
		err = n.handleIns(msg)
	}

	n.publish()
	n.metrics.RecordReceived(msg.Kind.Label(), time.Since(start).Seconds())
	return err
}

// Leave hands the two neighbours over to each other. It runs at most once;
// with fewer than two neighbours nothing is sent.
func (n *RingNode) Leave() error {
	if n.departed {
		return nil
	}
	n.departed = true
	defer n.publish()

	if n.left == nil || n.right == nil {
		n.logger.Info("Leaving ring without notifications",
			zap.Bool("has_left", n.left != nil),
			zap.Bool("has_right", n.right != nil))
		n.left, n.right = nil, nil
		return nil
	}

	left, right := *n.left, *n.right
	n.logger.Info("Leaving ring",
		zap.String("left", left.Address.String()),
		zap.String("right", right.Address.String()))

	var errs error
	errs = multierr.Append(errs, n.send(left.Address, protocol.Join(model.SideRight, right.Address)))
	errs = multierr.Append(errs, n.send(right.Address, protocol.Join(model.SideLeft, left.Address)))

	n.left, n.right = nil, nil
	n.metrics.RecordLeave()
	return errs
}

// join admits a candidate that contacted this node directly
func (n *RingNode) join(candidateAddr model.Address) error {
	candidate := model.NewNeighbour(candidateAddr, n.hash)

	switch {
	case candidate.Hash == n.own.Hash:
		n.metrics.RecordSelfJoin()
		return errors.SelfJoin(candidateAddr.String(), uint64(candidate.Hash))
	case candidate.Hash > n.own.Hash:
		return n.route(model.SideRight, candidate)
	default:
		return n.route(model.SideLeft, candidate)
	}
}

// route searches for the candidate's slot starting with the neighbour on side.
// The arc between this node and that neighbour wraps across the seam when
// this node is a boundary node, which lets it close the ring itself instead
// of forwarding the search forever.
func (n *RingNode) route(side model.Side, candidate model.Neighbour) error {
	nb := n.neighbour(side)
	if nb == nil {
		return n.insert(side, candidate, originRouted)
	}

	if candidate.Hash == nb.Hash {
		n.logger.Debug("Candidate already present",
			zap.String("candidate", candidate.Address.String()),
			zap.Stringer("side", side))
		return nil
	}

	var inside bool
	if side == model.SideRight {
		inside = model.Between(n.own.Hash, candidate.Hash, nb.Hash)
	} else {
		inside = model.Between(nb.Hash, candidate.Hash, n.own.Hash)
	}
	if inside {
		return n.insert(side, candidate, originRouted)
	}

	n.logger.Debug("Forwarding insertion search",
		zap.String("candidate", candidate.Address.String()),
		zap.Stringer("candidate_hash", candidate.Hash),
		zap.String("to", nb.Address.String()),
		zap.Stringer("side", side),
		zap.Bool("boundary", n.IsBoundary()))
	n.metrics.RecordForward(side.String())
	return n.send(nb.Address, protocol.ReqIns(side, candidate.Address))
}

// insert assigns candidate to the slot on side.
//
// Re-assigning the neighbour already held is a no-op without traffic. When
// the node had no neighbours at all the other slot is filled with the same
// peer, which turns a one-node ring into a two-node ring.
func (n *RingNode) insert(side model.Side, candidate model.Neighbour, origin insertOrigin) error {
	current := n.neighbour(side)
	if current != nil && current.Hash == candidate.Hash {
		if current.Address != candidate.Address {
			n.logger.Warn("Hash collision between distinct addresses, keeping current neighbour",
				zap.String("current", current.Address.String()),
				zap.String("candidate", candidate.Address.String()),
				zap.Stringer("hash", candidate.Hash))
		}
		return nil
	}

	backfill := current == nil && n.neighbour(side.Opposite()) == nil
	n.setNeighbour(side, candidate)
	if backfill {
		n.setNeighbour(side.Opposite(), candidate)
	}

	n.metrics.RecordInsert(side.String(), origin.String())
	n.logger.Info("Neighbour updated",
		zap.Stringer("side", side),
		zap.String("neighbour", candidate.Address.String()),
		zap.Stringer("neighbour_hash", candidate.Hash),
		zap.Stringer("origin", origin),
		zap.Bool("backfill", backfill))

	var errs error
	switch origin {
	case originCommit:
		errs = n.send(candidate.Address, protocol.Join(side.Opposite(), n.own.Address))

	case originRouted:
		errs = multierr.Append(errs, n.send(candidate.Address, protocol.Join(side.Opposite(), n.own.Address)))
		if backfill {
			errs = multierr.Append(errs, n.send(candidate.Address, protocol.Join(side, n.own.Address)))
		}
		if current != nil {
			// the candidate links to the displaced neighbour on its far side
			errs = multierr.Append(errs, n.send(candidate.Address, protocol.Ins(side, current.Address)))
		}
	}
	return errs
}

// handleJoin applies a JOIN directive. A directive naming this node itself
// means the ring collapsed around it and the slot is cleared.
func (n *RingNode) handleJoin(msg protocol.Message) error {
	if msg.Addr == n.own.Address {
		if n.neighbour(msg.Side) != nil {
			n.logger.Info("Neighbour slot cleared", zap.Stringer("side", msg.Side))
			n.clearNeighbour(msg.Side)
		}
		return nil
	}

	nb := model.NewNeighbour(msg.Addr, n.hash)
	if nb.Hash == n.own.Hash {
		n.metrics.RecordSelfJoin()
		return errors.SelfJoin(msg.Addr.String(), uint64(nb.Hash))
	}
	return n.insert(msg.Side, nb, originJoin)
}

func (n *RingNode) handleReqIns(msg protocol.Message) error {
	candidate := model.NewNeighbour(msg.Addr, n.hash)
	if candidate.Hash == n.own.Hash {
		n.metrics.RecordSelfJoin()
		return errors.SelfJoin(msg.Addr.String(), uint64(candidate.Hash))
	}
	return n.route(msg.Side, candidate)
}

func (n *RingNode) handleIns(msg protocol.Message) error {
	nb := model.NewNeighbour(msg.Addr, n.hash)
	if nb.Hash == n.own.Hash {
		n.metrics.RecordSelfJoin()
		return errors.SelfJoin(msg.Addr.String(), uint64(nb.Hash))
	}
	return n.insert(msg.Side, nb, originCommit)
}

func (n *RingNode) send(to model.Address, msg protocol.Message) error {
	kind := msg.Kind.Label()
	if err := n.sender.SendTo(to, msg.Encode()); err != nil {
		n.metrics.RecordSendError(kind)
		return errors.SendFailed(to.String(), msg.String(), err)
	}

	n.metrics.RecordSent(kind)
	n.logger.Debug("Sent protocol message",
		zap.String("to", to.String()),
		zap.Stringer("message", msg))
	return nil
}

func (n *RingNode) neighbour(side model.Side) *model.Neighbour {
	if side == model.SideLeft {
		return n.left
	}
	return n.right
}

func (n *RingNode) setNeighbour(side model.Side, nb model.Neighbour) {
	if side == model.SideLeft {
		n.left = &nb
	} else {
		n.right = &nb
	}
}

func (n *RingNode) clearNeighbour(side model.Side) {
	if side == model.SideLeft {
		n.left = nil
	} else {
		n.right = nil
	}
}

// publish stores a fresh snapshot for readers outside the loop
func (n *RingNode) publish() {
	t := model.NewTopology(n.own, n.left, n.right)
	n.topology.Store(t)
	n.metrics.UpdateNeighbours(t.Left != nil, t.Right != nil, t.Boundary)
}

func (n *RingNode) leaveAndReport() {
	if err := n.Leave(); err != nil {
		n.logger.Warn("Leave notifications incomplete", zap.Error(err))
	}
}

// report emits the diagnostic for a per-message failure
func (n *RingNode) report(env protocol.Envelope, err error) {
	fields := []zap.Field{
		zap.String("source", env.Source.String()),
		zap.String("code", errors.GetCode(err).String()),
		zap.Error(err),
	}

	switch errors.GetCode(err) {
	case errors.ErrCodeDecode:
		n.logger.Warn("Dropping malformed message", fields...)
	case errors.ErrCodeSelfJoin:
		n.logger.Warn("Rejected join targeting own hash", fields...)
	case errors.ErrCodeSend:
		n.logger.Warn("Protocol message not delivered", fields...)
	default:
		n.logger.Error("Failed to handle message", fields...)
	}
}
