package service

import (
	"context"

	"github.com/devrev/pairdb/ringnode/internal/metrics"
	"github.com/devrev/pairdb/ringnode/internal/model"
	"github.com/devrev/pairdb/ringnode/internal/protocol"
	"github.com/devrev/pairdb/ringnode/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultInboxSize = 256

// RuntimeConfig holds runtime configuration
type RuntimeConfig struct {
	// Entry is the member to join through; nil starts a new ring
	Entry     *model.Address
	InboxSize int
	Listener  ListenerConfig
}

// Runtime runs the two units of a node, the listener and the ring node loop,
// over one shared socket
type Runtime struct {
	config   *RuntimeConfig
	conn     transport.PacketConn
	node     *RingNode
	listener *Listener
	inbox    chan protocol.Envelope
	logger   *zap.Logger
}

// NewRuntime wires a listener on conn to node. node must send through conn.
func NewRuntime(cfg *RuntimeConfig, conn transport.PacketConn, node *RingNode, m *metrics.Metrics, logger *zap.Logger) *Runtime {
	size := cfg.InboxSize
	if size <= 0 {
		size = defaultInboxSize
	}
	inbox := make(chan protocol.Envelope, size)

	return &Runtime{
		config:   cfg,
		conn:     conn,
		node:     node,
		listener: NewListener(cfg.Listener, conn, inbox, m, logger.Named("listener")),
		inbox:    inbox,
		logger:   logger,
	}
}

// Node returns the ring node driven by the runtime
func (r *Runtime) Node() *RingNode {
	return r.node
}

// InboxDepth returns the number of envelopes waiting for the ring node
func (r *Runtime) InboxDepth() int {
	return len(r.inbox)
}

// InboxCapacity returns the inbox buffer size
func (r *Runtime) InboxCapacity() int {
	return cap(r.inbox)
}

// HealthMetrics reports the figures the health checks are derived from
func (r *Runtime) HealthMetrics() model.HealthMetrics {
	return model.HealthMetrics{
		RingState:     r.node.Topology().State,
		InboxDepth:    len(r.inbox),
		InboxCapacity: cap(r.inbox),
		LoopRunning:   r.node.Running(),
	}
}

// Run blocks until ctx is cancelled or the listener stops. The ring node
// leaves the ring before Run returns and the socket is closed last.
func (r *Runtime) Run(ctx context.Context) error {
	defer func() {
		if err := r.conn.Close(); err != nil && !transport.IsClosed(err) {
			r.logger.Warn("Failed to close socket", zap.Error(err))
		}
	}()

	r.logger.Info("Starting ring node runtime",
		zap.String("address", r.conn.LocalAddress().String()),
		zap.Stringer("hash", r.node.Self().Hash),
		zap.Int("inbox_size", cap(r.inbox)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.listener.Run(gctx)
	})

	g.Go(func() error {
		if r.config.Entry != nil {
			if err := r.node.InitiateJoin(*r.config.Entry); err != nil {
				r.logger.Warn("Join request not sent", zap.Error(err))
			}
		}
		return r.node.Run(gctx, r.inbox)
	})

	err := g.Wait()
	r.logger.Info("Ring node runtime stopped", zap.Error(err))
	return err
}
