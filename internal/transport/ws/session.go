package ws

import (
	"context"
	"sync/atomic"
	"time"

	"meetscribe-server/internal/app/services"
	"meetscribe-server/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

// SessionHandler runs the application side of one websocket connection.
type SessionHandler interface {
	Serve(ctx context.Context) error
	Stop()
	ClientID() string
	Status() services.ConnectionStatus
}

// Session encapsulates the lifecycle of a single websocket connection.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Discard()
	}
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.ClientID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
		ctx:     sessionCtx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Status forwards to the handler.
func (s *Session) Status() services.ConnectionStatus {
	return s.handler.Status()
}

// Done is closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run serves the session and invokes onDone once exiting.
func (s *Session) Run(onDone func(error)) {
	runErr := s.handler.Serve(s.ctx)
	s.Close(runErr)
	close(s.done)
	if onDone != nil {
		onDone(runErr)
	}
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.cancel(reason)

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.handler.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-shutdownCtx.Done():
		s.logger.WarnTag("WebSocket", "session stop timed out", "client_id", s.id, "cause", context.Cause(shutdownCtx).Error())
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.WarnTag("WebSocket", "connection close failed", "client_id", s.id, "error", err.Error())
		}
	}
}
