package dispatch_api

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BearBump/DispatchBox/internal/events"
	"github.com/gorilla/websocket"
)

const (
	clientBuffer = 64
	writeWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type client struct {
	ws       *websocket.Conn
	send     chan events.Event
	loadID   string
	driverID string
}

func (c *client) wants(ev events.Event) bool {
	if c.loadID != "" && ev.LoadID != c.loadID {
		return false
	}
	if c.driverID != "" && ev.DriverID != c.driverID {
		return false
	}
	return true
}

// Hub раздаёт события шины подключённым UI по websocket.
// Handle вызывается шиной синхронно, поэтому никогда не пишет в сокет сам:
// у каждого клиента свой буфер и писатель, медленный клиент теряет события.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	dropped atomic.Int64
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

// Handle — подписчик шины.
func (h *Hub) Handle(ev events.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// ServeHTTP: GET /v1/events/ws?loadId=&driverId=
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "error", err.Error())
		return
	}
	c := &client{
		ws:       ws,
		send:     make(chan events.Event, clientBuffer),
		loadID:   r.URL.Query().Get("loadId"),
		driverID: r.URL.Query().Get("driverId"),
	}
	h.add(c)
	slog.Info("ws client connected", "loadId", c.loadID, "driverId", c.driverID)

	done := make(chan struct{})
	go h.writeLoop(c, done)

	// читаем до отключения клиента, входящие сообщения игнорируем
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	h.remove(c)
	close(c.send)
	<-done
	_ = ws.Close()
	slog.Info("ws client disconnected", "loadId", c.loadID, "driverId", c.driverID)
}

func (h *Hub) writeLoop(c *client, done chan<- struct{}) {
	defer close(done)
	for ev := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteJSON(ev); err != nil {
			slog.Warn("ws write failed", "error", err.Error())
			_ = c.ws.Close()
			// дочитываем канал, чтобы Handle не блокировался до remove
			for range c.send {
			}
			return
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// Close рвёт все соединения; ServeHTTP каждого клиента доделает уборку сам.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_ = c.ws.Close()
	}
}
