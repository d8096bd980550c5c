package display

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roadwatch/internal/core/domain"
	"roadwatch/pkg/utils"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

type Config struct {
	ClientBuffer int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// Message is what viewers receive.
type Message struct {
	Type   string               `json:"type"`
	Result *domain.FrameResult  `json:"result,omitempty"`
	Status *domain.StreamStatus `json:"status,omitempty"`
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// Hub fans FrameResults out to websocket viewers. Broadcast never blocks:
// a viewer whose buffer is full misses that frame.
type Hub struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	clients map[string]*client
	dropped uint64
}

func NewHub(cfg Config, logger *zap.SugaredLogger) *Hub {
	if cfg.ClientBuffer <= 0 {
		cfg.ClientBuffer = 16
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[string]*client),
	}
}

// HandleConnection upgrades the request and serves the viewer until it
// disconnects.
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Errorw("Websocket upgrade failed", "error", err)
		return
	}

	cl := &client{
		id:   utils.GenerateID("viewer"),
		conn: conn,
		send: make(chan []byte, h.cfg.ClientBuffer),
	}
	h.register(cl)
	h.logger.Infow("Display viewer connected", "viewer_id", cl.id, "remote", c.ClientIP())

	go h.writePump(cl)
	h.readPump(cl)

	h.unregister(cl)
	h.logger.Infow("Display viewer disconnected", "viewer_id", cl.id)
}

// Broadcast sends a frame result to every viewer.
func (h *Hub) Broadcast(result domain.FrameResult) {
	h.broadcast(Message{Type: "frame_result", Result: &result})
}

// BroadcastStatus sends a stream status update to every viewer.
func (h *Hub) BroadcastStatus(status domain.StreamStatus) {
	h.broadcast(Message{Type: "stream_status", Status: &status})
}

func (h *Hub) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Errorw("Failed to marshal display message", "type", msg.Type, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		select {
		case cl.send <- data:
		default:
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages skipped for slow viewers.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

// Close disconnects every viewer.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		cl.conn.Close()
	}
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	h.clients[cl.id] = cl
	h.mu.Unlock()
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl.id]; ok {
		delete(h.clients, cl.id)
		close(cl.send)
	}
	h.mu.Unlock()
}

// readPump discards viewer messages and keeps the read deadline moving on pongs.
func (h *Hub) readPump(cl *client) {
	readTimeout := 2 * h.cfg.PingInterval
	cl.conn.SetReadDeadline(time.Now().Add(readTimeout))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugw("Display viewer read error", "viewer_id", cl.id, "error", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(cl *client) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	for {
		select {
		case data, ok := <-cl.send:
			cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if !ok {
				cl.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.logger.Debugw("Display viewer write failed", "viewer_id", cl.id, "error", err)
				return
			}
		case <-ticker.C:
			cl.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
