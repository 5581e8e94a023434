package webmonitor

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbsj-sdds/stray-dog-monitor/streaming-server/internal/logger"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ViewerMessage is one frame pushed to websocket viewers.
type ViewerMessage struct {
	Camera string `json:"camera"`
	Image  string `json:"image"` // base64 JPEG
}

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub fans annotated frames out to websocket viewers. Each viewer has its own
// writer goroutine; a viewer that falls behind skips frames.
type Hub struct {
	mu      sync.RWMutex
	viewers map[*viewer]struct{}

	register   chan *viewer
	unregister chan *viewer
	broadcast  chan []byte
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		viewers:    make(map[*viewer]struct{}),
		register:   make(chan *viewer),
		unregister: make(chan *viewer),
		broadcast:  make(chan []byte, 4),
		done:       make(chan struct{}),
	}
}

// Run processes registrations and broadcasts until Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for v := range h.viewers {
				close(v.send)
				delete(h.viewers, v)
			}
			h.mu.Unlock()
			return

		case v := <-h.register:
			h.mu.Lock()
			h.viewers[v] = struct{}{}
			n := len(h.viewers)
			h.mu.Unlock()
			logger.Info("Hub", "Viewer connected. Total: %d", n)

		case v := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.viewers[v]; ok {
				delete(h.viewers, v)
				close(v.send)
			}
			n := len(h.viewers)
			h.mu.Unlock()
			logger.Info("Hub", "Viewer disconnected. Total: %d", n)

		case message := <-h.broadcast:
			h.mu.RLock()
			for v := range h.viewers {
				select {
				case v.send <- message:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Close stops Run and disconnects all viewers.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ViewerCount returns the number of connected viewers.
func (h *Hub) ViewerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast sends an annotated JPEG to every viewer. It never blocks.
func (h *Hub) Broadcast(camera string, jpeg []byte) {
	if h.ViewerCount() == 0 {
		return
	}
	message, err := json.Marshal(ViewerMessage{
		Camera: camera,
		Image:  base64.StdEncoding.EncodeToString(jpeg),
	})
	if err != nil {
		return
	}
	select {
	case h.broadcast <- message:
	case <-h.done:
	default:
	}
}

// ServeWS upgrades the request and registers the connection as a viewer.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Hub", "WebSocket upgrade error: %v", err)
		return
	}

	v := &viewer{conn: conn, send: make(chan []byte, 2)}
	select {
	case h.register <- v:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(v)
	h.readPump(v)
}

// readPump only watches for the close; viewers send nothing.
func (h *Hub) readPump(v *viewer) {
	defer func() {
		select {
		case h.unregister <- v:
		case <-h.done:
		}
	}()

	v.conn.SetReadLimit(512)
	_ = v.conn.SetReadDeadline(time.Now().Add(pongWait))
	v.conn.SetPongHandler(func(string) error {
		return v.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("Hub", "Viewer read error: %v", err)
			}
			return
		}
	}
}

func (h *Hub) writePump(v *viewer) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		v.conn.Close()
	}()

	for {
		select {
		case message, ok := <-v.send:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
