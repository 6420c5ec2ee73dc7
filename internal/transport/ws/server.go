package ws

import (
	"context"
	"net"
	"net/http"

	"meetscribe-server/internal/platform/logging"
)

// ServerConfig stores the settings required to expose the websocket transport.
type ServerConfig struct {
	Addr string
	Path string
}

// Server coordinates the websocket router, hub and lifecycle management.
type Server struct {
	cfg     ServerConfig
	hub     *Hub
	router  *Router
	logger  *logging.Logger
	httpSrv *http.Server
}

// NewServer builds a websocket transport server.
func NewServer(cfg ServerConfig, router *Router, hub *Hub, logger *logging.Logger) *Server {
	if cfg.Path == "" {
		cfg.Path = "/"
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{
		cfg:    cfg,
		router: router,
		hub:    hub,
		logger: logger,
	}
}

// SetHandlerBuilder wires the handler construction callback.
func (s *Server) SetHandlerBuilder(builder HandlerBuilder) {
	s.router.SetHandlerBuilder(builder)
}

// Handler returns the mux serving Path and Path/{client_id}.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, s.router)
	if s.cfg.Path != "/" {
		mux.Handle(s.cfg.Path+"/", s.router)
	}
	return mux
}

// Start listens for websocket upgrades until ctx is cancelled. Sessions
// inherit ctx.
func (s *Server) Start(ctx context.Context) error {
	if s.httpSrv != nil {
		return nil
	}
	s.router.SetBaseContext(ctx)

	s.httpSrv = &http.Server{
		Addr:        s.cfg.Addr,
		Handler:     s.Handler(),
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()

	s.logger.InfoTag("WebSocket", "listening", "addr", s.cfg.Addr, "path", s.cfg.Path)

	err := s.httpSrv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the websocket server and active sessions.
func (s *Server) Stop() error {
	srv := s.httpSrv
	if srv == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, ErrSessionShutdown)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	s.hub.CloseAll(ErrSessionShutdown)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Count exposes the number of active sessions.
func (s *Server) Count() int {
	return s.hub.Count()
}

// Hub exposes the session hub.
func (s *Server) Hub() *Hub {
	return s.hub
}
