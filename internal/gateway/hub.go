package gateway

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gazebridge/gazebridge/internal/timesync"
	"github.com/gazebridge/gazebridge/pkg/metrics"
)

// Hub tracks every live WebSocket connection and fans gaze frames out to
// the ones that subscribed to the stream.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*Conn]bool
	upgrader websocket.Upgrader
	config   ConnectionConfig
	service  *Service
}

// Conn is one client connection. Inbound messages are processed strictly in
// arrival order on the read pump; everything outbound funnels through the
// buffered send channel so ordering per connection is preserved.
type Conn struct {
	ID   string
	sock *websocket.Conn
	send chan []byte
	hub  *Hub
	ts   *timesync.TimeSync

	streaming   atomic.Bool
	ConnectedAt time.Time
}

// ConnectionConfig holds per-connection WebSocket tuning.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns defaults suitable for lab-network use.
// Validation points carry whole gaze sample batches, hence the generous
// message limit.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1 << 20,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		SendBufferSize:  256,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewHub creates a connection hub.
func NewHub(config ConnectionConfig) *Hub {
	return &Hub{
		conns: make(map[*Conn]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	h.conns[conn] = true
	total := len(h.conns)
	h.mu.Unlock()

	metrics.UpdateActiveConnections(total)
	log.Info().
		Str("client_id", conn.ID).
		Int("total_connections", total).
		Msg("connection registered")
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	if _, ok := h.conns[conn]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, conn)
	close(conn.send)
	total := len(h.conns)
	h.mu.Unlock()

	metrics.UpdateActiveConnections(total)
	h.service.onDisconnect(conn)
	log.Info().
		Str("client_id", conn.ID).
		Int("total_connections", total).
		Msg("connection unregistered")
}

// BroadcastGaze pushes an encoded gaze frame to every streaming connection.
// Runs on the tracker's producer goroutine: the hand-off never blocks, a
// full send buffer drops the frame for that connection only.
func (h *Hub) BroadcastGaze(frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.conns {
		if !conn.streaming.Load() {
			continue
		}
		select {
		case conn.send <- frame:
		default:
			metrics.RecordFrameDropped()
			log.Debug().Str("client_id", conn.ID).Msg("send buffer full, gaze frame dropped")
		}
	}
}

// Stats returns total and streaming connection counts.
func (h *Hub) Stats() (total, streaming int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns {
		total++
		if conn.streaming.Load() {
			streaming++
		}
	}
	return total, streaming
}

// CloseAll closes every connection during shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.sock.Close()
	}
}

// enqueue hands an encoded message to the connection's write pump without
// blocking the caller. The membership check under the hub lock keeps the
// send from racing unregister, which closes the channel under the same
// lock; a message for an already-gone connection is silently discarded.
func (c *Conn) enqueue(frame []byte) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	if !c.hub.conns[c] {
		return
	}
	select {
	case c.send <- frame:
	default:
		metrics.RecordFrameDropped()
		log.Warn().Str("client_id", c.ID).Msg("send buffer full, response dropped")
	}
}

// writePump drains the send channel onto the socket and keeps the
// connection alive with pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(c.hub.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.sock.Close()
		c.hub.unregister(c)
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if !ok {
				c.sock.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, frame); err != nil {
				log.Error().Err(err).Str("client_id", c.ID).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			c.sock.SetWriteDeadline(time.Now().Add(c.hub.config.WriteTimeout))
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("client_id", c.ID).Msg("ping failed")
				return
			}
		}
	}
}

// readPump processes inbound messages one at a time, in arrival order.
func (c *Conn) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.sock.Close()
	}()

	c.sock.SetReadLimit(c.hub.config.MaxMessageSize)
	c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	c.sock.SetPongHandler(func(string) error {
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().Err(err).Str("client_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}

		c.handleMessage(message)
		c.sock.SetReadDeadline(time.Now().Add(c.hub.config.ReadTimeout))
	}
}
