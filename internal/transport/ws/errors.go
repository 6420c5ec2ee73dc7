package ws

import "meetscribe-server/internal/platform/errors"

var (
	// ErrHandshakeTimeout indicates the websocket handshake exceeded the configured timeout.
	ErrHandshakeTimeout = errors.New(errors.KindTransport, "ws.handshake", "websocket handshake timed out")
	// ErrSessionShutdown is emitted when the server requests a session shutdown.
	ErrSessionShutdown = errors.New(errors.KindTransport, "ws.session", "websocket session shutdown")
	// ErrSessionReplaced closes a session whose client id reconnected.
	ErrSessionReplaced = errors.New(errors.KindTransport, "ws.session", "client reconnected")
	// ErrConnectionClosed is returned by writes after Close.
	ErrConnectionClosed = errors.New(errors.KindTransport, "ws.write", "connection already closed")
)
