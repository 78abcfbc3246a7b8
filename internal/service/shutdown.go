package service

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ShutdownCoordinator broadcasts a single stop signal to every unit of a node
type ShutdownCoordinator struct {
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	reason atomic.Pointer[string]
	logger *zap.Logger
}

// NewShutdownCoordinator creates a coordinator that also fires when parent is done
func NewShutdownCoordinator(parent context.Context, logger *zap.Logger) *ShutdownCoordinator {
	ctx, cancel := context.WithCancel(parent)
	return &ShutdownCoordinator{
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Trigger fires the signal. Only the first call has an effect; it returns
// true for that call.
func (s *ShutdownCoordinator) Trigger(reason string) bool {
	fired := false
	s.once.Do(func() {
		s.reason.Store(&reason)
		s.logger.Info("Shutdown triggered", zap.String("reason", reason))
		s.cancel()
		fired = true
	})
	return fired
}

// Done is closed once the signal has fired
func (s *ShutdownCoordinator) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Context is cancelled when the signal fires
func (s *ShutdownCoordinator) Context() context.Context {
	return s.ctx
}

// Reason returns the reason given to the first Trigger, or "" if the signal
// has not fired or came from the parent context
func (s *ShutdownCoordinator) Reason() string {
	if r := s.reason.Load(); r != nil {
		return *r
	}
	return ""
}

// NotifyOnSignals triggers shutdown on the first of sigs.
// The returned function stops listening.
func (s *ShutdownCoordinator) NotifyOnSignals(sigs ...os.Signal) func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)

	stop := make(chan struct{})
	var stopOnce sync.Once

	go func() {
		select {
		case sig := <-ch:
			s.Trigger("signal " + sig.String())
		case <-s.ctx.Done():
		case <-stop:
		}
		signal.Stop(ch)
	}()

	return func() { stopOnce.Do(func() { close(stop) }) }
}
