// Package push delivers conversation engine output to a connected chat
// client over a long-lived push channel (WebSocket), keyed by session id.
// Each session has at most one live connection; delivery to a session with
// no connection is dropped (the resolved state stays in the session store,
// readable through GET /session/{id}; a reconnect does not replay it).
package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	orcherrors "github.com/carebridge/orchestrator/internal/errors"
)

// Server-to-client envelope types. final_response is the only one the
// conversation engine emits today; typing/status/error are reserved for
// future use.
const (
	EventTypeFinalResponse = "final_response"
	EventTypeTyping        = "typing"
	EventTypeStatus        = "status"
	EventTypeError         = "error"
)

// Event is one push-channel message: a status update while an agent task is
// in flight, or the final response once it completes.
type Event struct {
	Type      string    `json:"type"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// EventData is the final_response payload: the resolved state of a
// dispatched task, applied to the session and delivered to the client in
// the same shape.
type EventData struct {
	SessionID            string   `json:"session_id"`
	Response             string   `json:"response"`
	Intent               string   `json:"intent,omitempty"`
	RequiresHumanHandoff bool     `json:"requires_human_handoff"`
	SuggestedActions     []string `json:"suggested_actions,omitempty"`
	Sources              []string `json:"sources,omitempty"`
	CorrelationID        string   `json:"correlation_id,omitempty"`
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	sendBufferSize = 32
)

// connection wraps one session's live WebSocket with a single writer
// goroutine, since *websocket.Conn forbids concurrent writers.
type connection struct {
	ws   *websocket.Conn
	send chan Event
	done chan struct{}
}

// Hub tracks the live connection for every attached session and serializes
// delivery per session.
type Hub struct {
	mu          sync.RWMutex
	connections map[string]*connection
	logger      *slog.Logger
}

// NewHub returns an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{connections: make(map[string]*connection), logger: logger}
}

// Attach registers ws as sessionID's live connection, replacing and closing
// any previous one with a "superseded" close frame (a reconnect supersedes a
// stale socket), and starts the
// connection's writer and reader-pump goroutines. It blocks until the
// connection closes or ctx is canceled.
func (h *Hub) Attach(ctx context.Context, sessionID string, ws *websocket.Conn) {
	conn := &connection{ws: ws, send: make(chan Event, sendBufferSize), done: make(chan struct{})}

	h.mu.Lock()
	if old, ok := h.connections[sessionID]; ok {
		close(old.done)
		old.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"), time.Now().Add(writeWait))
		old.ws.Close()
	}
	h.connections[sessionID] = conn
	h.mu.Unlock()

	defer h.Detach(sessionID, conn)

	go h.writePump(conn)
	go func() {
		select {
		case <-ctx.Done():
			conn.ws.Close()
		case <-conn.done:
		}
	}()
	h.readPump(ctx, sessionID, conn)
}

// Detach removes sessionID's connection if it is still exactly conn (a
// newer Attach for the same session must not be torn down by the old one's
// cleanup).
func (h *Hub) Detach(sessionID string, conn *connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if current, ok := h.connections[sessionID]; ok && current == conn {
		delete(h.connections, sessionID)
	}
	select {
	case <-conn.done:
	default:
		close(conn.done)
	}
	conn.ws.Close()
}

// Send delivers event to sessionID's live connection. Returns ErrNoConnection
// if the session has none attached — the caller (conversation engine) treats
// that as "deliver nothing, the client can read the session instead", not
// as a dispatch failure. A full send buffer drops the event and returns the
// same error.
func (h *Hub) Send(sessionID string, event Event) error {
	h.mu.RLock()
	conn, ok := h.connections[sessionID]
	h.mu.RUnlock()
	if !ok {
		return orcherrors.ErrNoConnection
	}

	select {
	case conn.send <- event:
		return nil
	default:
		h.logger.Warn("push: send buffer full, dropping event", "session_id", sessionID)
		return orcherrors.ErrNoConnection
	}
}

// Connected reports whether sessionID currently has a live connection.
func (h *Hub) Connected(sessionID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connections[sessionID]
	return ok
}

// Count returns the number of live connections, for metrics.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

func (h *Hub) writePump(conn *connection) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case event, ok := <-conn.send:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Warn("push: failed to encode event", "error", err)
				continue
			}
			if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			conn.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to detect client disconnects and keep pongs
// refreshing the read deadline; the push channel is otherwise
// server-to-client only.
func (h *Hub) readPump(ctx context.Context, sessionID string, conn *connection) {
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.done:
			return
		default:
		}
		if _, _, err := conn.ws.ReadMessage(); err != nil {
			return
		}
	}
}
