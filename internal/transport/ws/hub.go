package ws

import (
	"sort"
	"sync"

	"meetscribe-server/internal/app/services"
	"meetscribe-server/internal/platform/logging"
)

// Hub tracks the active websocket sessions for a transport instance, one
// per client id.
type Hub struct {
	logger   *logging.Logger
	sessions sync.Map // map[string]*Session
}

// NewHub builds a fresh session hub.
func NewHub(logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Hub{logger: logger}
}

// Register adds a new session to the hub.
func (h *Hub) Register(session *Session) {
	if session == nil {
		return
	}
	h.sessions.Store(session.ID(), session)
}

// Unregister removes session if it is still the one registered for its id.
func (h *Hub) Unregister(session *Session) {
	if session == nil {
		return
	}
	h.sessions.CompareAndDelete(session.ID(), session)
}

// Evict closes the session registered for id, if any, and waits for it to
// release its streams.
func (h *Hub) Evict(id string) {
	value, ok := h.sessions.LoadAndDelete(id)
	if !ok {
		return
	}
	h.logger.InfoTag("WebSocket", "replacing existing session", "client_id", id)
	value.(*Session).Close(ErrSessionReplaced)
}

// CloseAll terminates all active sessions and waits for their shutdown.
func (h *Hub) CloseAll(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	var wg sync.WaitGroup
	h.sessions.Range(func(key, value any) bool {
		h.sessions.Delete(key)
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(reason)
		}(value.(*Session))
		return true
	})
	wg.Wait()
}

// Count exposes the number of active websocket sessions.
func (h *Hub) Count() int {
	n := 0
	h.sessions.Range(func(key, value any) bool {
		n++
		return true
	})
	return n
}

// Statuses snapshots every active session, ordered by client id.
func (h *Hub) Statuses() []services.ConnectionStatus {
	out := make([]services.ConnectionStatus, 0)
	h.sessions.Range(func(key, value any) bool {
		out = append(out, value.(*Session).Status())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}
