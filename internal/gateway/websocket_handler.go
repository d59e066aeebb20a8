package gateway

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/timesync"
)

// WebSocketHandler upgrades HTTP requests into tracked connections.
type WebSocketHandler struct {
	hub *Hub
}

// NewWebSocketHandler creates the upgrade handler for the hub.
func NewWebSocketHandler(hub *Hub) *WebSocketHandler {
	return &WebSocketHandler{hub: hub}
}

// HandleConnection upgrades the request and starts the connection's pumps.
// Each connection gets a fresh client ID and its own clock-sync state.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	sock, err := h.hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := &Conn{
		ID:          uuid.New().String(),
		sock:        sock,
		send:        make(chan []byte, h.hub.config.SendBufferSize),
		hub:         h.hub,
		ts:          timesync.New(h.hub.service.clock),
		ConnectedAt: time.Now(),
	}

	h.hub.register(conn)

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("client_id", conn.ID).
		Str("remote", r.RemoteAddr).
		Msg("websocket connection established")
}

// HandleStats reports connection counts.
func (h *WebSocketHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	total, streaming := h.hub.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"total_connections":%d,"streaming_clients":%d}`, total, streaming)
}

// RegisterRoutes registers the WebSocket routes on the mux.
func (h *WebSocketHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", h.HandleConnection)
	mux.HandleFunc("/ws/stats", h.HandleStats)
}
