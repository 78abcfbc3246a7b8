package service

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/devrev/pairdb/ringnode/internal/errors"
	"github.com/devrev/pairdb/ringnode/internal/metrics"
	"github.com/devrev/pairdb/ringnode/internal/protocol"
	"github.com/devrev/pairdb/ringnode/internal/transport"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	maxReceiveBackoff   = time.Second
)

// ListenerConfig holds listener configuration
type ListenerConfig struct {
	BufferSize   int
	PollInterval time.Duration
}

// Listener turns received datagrams into envelopes for the ring node
type Listener struct {
	config  ListenerConfig
	reader  transport.PacketReader
	out     chan<- protocol.Envelope
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewListener creates a listener writing to out. The listener owns out and
// closes it when Run returns.
func NewListener(cfg ListenerConfig, reader transport.PacketReader, out chan<- protocol.Envelope, m *metrics.Metrics, logger *zap.Logger) *Listener {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = transport.DefaultBufferSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	return &Listener{
		config:  cfg,
		reader:  reader,
		out:     out,
		metrics: m,
		logger:  logger,
	}
}

// Run receives until ctx is cancelled or the socket is closed
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.out)

	buf := make([]byte, l.config.BufferSize)
	backoff := l.config.PollInterval

	l.logger.Info("Listener started",
		zap.Int("buffer_size", l.config.BufferSize),
		zap.Duration("poll_interval", l.config.PollInterval))

	for {
		if ctx.Err() != nil {
			l.logger.Info("Listener stopping")
			return nil
		}

		n, src, err := l.reader.ReadPacket(buf, time.Now().Add(l.config.PollInterval))
		if err != nil {
			switch {
			case transport.IsTimeout(err):
				continue
			case transport.IsClosed(err):
				l.logger.Info("Socket closed, listener stopping")
				return nil
			}

			l.logger.Warn("Receive failed", zap.Error(err), zap.Duration("backoff", backoff))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxReceiveBackoff)
			continue
		}
		backoff = l.config.PollInterval

		if !utf8.Valid(buf[:n]) {
			l.metrics.RecordDecodeError()
			l.logger.Warn("Dropping datagram",
				zap.String("source", src.String()),
				zap.Error(errors.DecodeFailed(string(buf[:n]), "payload is not valid UTF-8")))
			continue
		}

		env := protocol.NewEnvelope(src, string(buf[:n]))
		select {
		case l.out <- env:
		case <-ctx.Done():
			return nil
		}
	}
}
