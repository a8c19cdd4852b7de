package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"infracontrol/internal/models"
	"infracontrol/internal/utils"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Hub fans published snapshots out to every connected dashboard.
type Hub struct {
	clients    map[*websocket.Conn]bool
	broadcast  chan []byte
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	stop       chan struct{}
	stopOnce   sync.Once
	mutex      sync.RWMutex
	logger     *utils.Logger

	// current supplies the snapshot sent to a client right after it connects.
	current func() *models.Snapshot
}

func NewHub(logger *utils.Logger, current func() *models.Snapshot) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan []byte, 1),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		stop:       make(chan struct{}),
		logger:     logger,
		current:    current,
	}
}

func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mutex.Lock()
			h.clients[conn] = true
			h.mutex.Unlock()
			h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client connected")

		case conn := <-h.unregister:
			h.drop(conn)
			h.logger.Debug().Str("remote", conn.RemoteAddr().String()).Msg("websocket client disconnected")

		case message := <-h.broadcast:
			h.mutex.RLock()
			conns := make([]*websocket.Conn, 0, len(h.clients))
			for conn := range h.clients {
				conns = append(conns, conn)
			}
			h.mutex.RUnlock()
			for _, conn := range conns {
				if err := write(conn, message); err != nil {
					h.logger.Debug().Err(err).Msg("websocket write failed")
					h.drop(conn)
				}
			}

		case <-h.stop:
			h.mutex.Lock()
			for conn := range h.clients {
				_ = conn.Close()
				delete(h.clients, conn)
			}
			h.mutex.Unlock()
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stop) })
}

func (h *Hub) drop(conn *websocket.Conn) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		_ = conn.Close()
	}
}

func write(conn *websocket.Conn, message []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, message)
}

// Broadcast queues message for every client. When a previous message is
// still queued it is replaced.
func (h *Hub) Broadcast(message []byte) {
	for {
		select {
		case h.broadcast <- message:
			return
		case <-h.stop:
			return
		default:
		}
		select {
		case <-h.broadcast:
		default:
		}
	}
}

// BroadcastSnapshot encodes snap and broadcasts it.
func (h *Hub) BroadcastSnapshot(snap *models.Snapshot) {
	if snap == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode snapshot for websocket")
		return
	}
	h.Broadcast(data)
}

func (h *Hub) GetClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket() gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("websocket upgrade failed")
			return
		}

		if h.current != nil {
			if snap := h.current(); snap != nil {
				if data, err := json.Marshal(snap); err == nil {
					if err := write(conn, data); err != nil {
						_ = conn.Close()
						return
					}
				}
			}
		}

		select {
		case h.register <- conn:
		case <-h.stop:
			_ = conn.Close()
			return
		}

		defer func() {
			select {
			case h.unregister <- conn:
			case <-h.stop:
			}
		}()

		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					h.logger.Debug().Err(err).Msg("websocket read error")
				}
				break
			}
		}
	}
}
