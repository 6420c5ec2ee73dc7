package ws

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"meetscribe-server/internal/platform/logging"
	"meetscribe-server/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request, clientID string) (SessionHandler, error)

// TokenVerifier checks a handshake token and returns the client id it was
// issued for.
type TokenVerifier interface {
	VerifyToken(token string) (string, error)
}

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	maxFrameSize     int64
	path             string
	verifier         TokenVerifier
	builder          atomic.Value // HandlerBuilder

	baseMu  sync.RWMutex
	baseCtx context.Context
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	Path             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	MaxFrameSize     int64
	CheckOrigin      func(r *http.Request) bool
	// Verifier enables token checks when set.
	Verifier TokenVerifier
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	if logger == nil {
		logger = logging.Discard()
	}
	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	upgrader := &websocket.Upgrader{
		HandshakeTimeout: timeout,
		CheckOrigin:      opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
		writeTimeout:     opts.WriteTimeout,
		maxFrameSize:     opts.MaxFrameSize,
		path:             strings.TrimSuffix(opts.Path, "/"),
		verifier:         opts.Verifier,
		baseCtx:          context.Background(),
	}
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// SetBaseContext sets the parent context of every new session.
func (r *Router) SetBaseContext(ctx context.Context) {
	r.baseMu.Lock()
	r.baseCtx = ctx
	r.baseMu.Unlock()
}

func (r *Router) base() context.Context {
	r.baseMu.RLock()
	defer r.baseMu.RUnlock()
	return r.baseCtx
}

// ServeHTTP upgrades the HTTP connection and launches a new websocket session.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	handshakeCtx, cancel := context.WithTimeoutCause(req.Context(), r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	clientID, err := r.resolveClientID(req)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.auth.rejected", 1, nil)
		r.logger.WarnTag("WebSocket", "handshake rejected", "remote", req.RemoteAddr, "error", err.Error())
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	socket, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.upgrade.error", 1, nil)
		r.logger.ErrorTag("WebSocket", "upgrade failed", "remote", req.RemoteAddr, "error", err.Error())
		return
	}
	if r.maxFrameSize > 0 {
		socket.SetReadLimit(r.maxFrameSize)
	}
	observability.RecordMetric(spanCtx, "websocket.upgrade.success", 1, nil)

	conn := NewConnection(clientID, socket, r.writeTimeout)
	r.hub.Evict(clientID)

	handler, err := builder(conn, req, clientID)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(spanCtx, "websocket.connection.error", 1, map[string]string{"reason": "handler_creation_failed"})
		r.logger.ErrorTag("WebSocket", "failed to create session handler", "client_id", clientID, "error", errString(err))
		_ = conn.Close()
		return
	}

	session := NewSession(r.base(), handler, conn, r.logger)
	r.hub.Register(session)
	r.logger.InfoTag("WebSocket", "connection established", "client_id", clientID, "remote", conn.RemoteAddr())
	observability.RecordMetric(spanCtx, "websocket.connection.opened", 1, nil)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session)
		if runErr != nil {
			r.logger.WarnTag("WebSocket", "session ended with error", "client_id", clientID, "error", runErr.Error())
		}
		observability.RecordMetric(session.Context(), "websocket.connection.closed", 1, nil)
	})
}

// resolveClientID picks the client id from, in order, a verified token, the
// Client-Id header, the client_id query parameter and the path segment after
// the router path. A random id is used when none is given.
func (r *Router) resolveClientID(req *http.Request) (string, error) {
	if r.verifier != nil {
		token := req.Header.Get("Authorization")
		if token == "" {
			token = req.URL.Query().Get("token")
		}
		return r.verifier.VerifyToken(token)
	}

	if id := strings.TrimSpace(req.Header.Get("Client-Id")); id != "" {
		return id, nil
	}
	query := req.URL.Query()
	for _, key := range []string{"client_id", "client-id"} {
		if id := strings.TrimSpace(query.Get(key)); id != "" {
			return id, nil
		}
	}
	if rest, ok := strings.CutPrefix(req.URL.Path, r.path+"/"); ok {
		if id := strings.Trim(rest, "/"); id != "" && !strings.Contains(id, "/") {
			return id, nil
		}
	}
	return uuid.NewString(), nil
}

func errString(err error) string {
	if err == nil {
		return "nil handler"
	}
	return err.Error()
}
