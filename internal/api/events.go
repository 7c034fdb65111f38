package api

import (
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cleverdesk/printing-agent/internal/spool"
)

// Hub fans spooler lifecycle events out to websocket clients (the desktop
// window subscribes here). Slow or broken clients are dropped.
type Hub struct {
	clients  map[*websocket.Conn]bool
	mu       sync.Mutex
	upgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
		upgrader: websocket.Upgrader{
			// Local agent, same CORS posture as the REST surface.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Watch consumes spooler events until the channel closes.
func (h *Hub) Watch(events <-chan spool.Event) {
	go func() {
		for ev := range events {
			h.broadcast(ev)
		}
	}()
}

func (h *Hub) Handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) broadcast(ev spool.Event) {
	msg := gin.H{
		"type": string(ev.Type),
		"job":  toJobView(ev.Job),
	}
	if ev.Err != "" {
		msg["error"] = ev.Err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			delete(h.clients, conn)
			conn.Close()
		}
	}
}

// ClientCount reports how many websocket clients are connected.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
