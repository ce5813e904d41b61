// Package scoreboard streams score updates to display clients over websocket.
package scoreboard

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-padel/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
	sendBuffer     = 32
)

// Hub fans score updates out to every connected display.
type Hub struct {
	logger     *slog.Logger
	snapshot   func() protocol.Scoreboard
	origins    []string
	upgrader   websocket.Upgrader
	clients    map[*client]struct{}
	broadcast  chan frame
	register   chan *client
	unregister chan *client
	mu         sync.RWMutex
	done       chan struct{}
}

// frame is an encoded update tagged with the board sequence it carries.
type frame struct {
	seq  uint64
	data []byte
}

// NewHub builds a hub. snapshot supplies the scoreboard sent to a display
// when it connects. origins lists the browser origins allowed to connect;
// empty means same host only and "*" allows any.
func NewHub(snapshot func() protocol.Scoreboard, origins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		logger:     logger.With(slog.String("component", "scoreboard")),
		snapshot:   snapshot,
		origins:    origins,
		clients:    make(map[*client]struct{}),
		broadcast:  make(chan frame, 64),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Not a browser.
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(strings.TrimSuffix(allowed, "/"), origin) {
			return true
		}
	}
	if len(h.origins) > 0 {
		return false
	}
	u, err := url.Parse(origin)
	return err == nil && strings.EqualFold(u.Host, r.Host)
}

// Run serves the hub until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			// The snapshot is taken here so no broadcast can slip between it
			// and the client joining. Older queued frames are skipped by seq.
			board := h.snapshot()
			data, err := json.Marshal(protocol.ScoreUpdate{
				Intent:    "snapshot",
				Score:     board,
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				h.logger.Warn("failed to encode snapshot", slog.String("error", err.Error()))
				close(c.send)
				continue
			}
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			c.lastSeq = board.Seq
			c.send <- data
			h.logger.Debug("display connected", slog.Int("clients", count))
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("display disconnected", slog.Int("clients", count))
		case f := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				if f.seq <= c.lastSeq {
					continue
				}
				select {
				case c.send <- f.data:
					c.lastSeq = f.seq
				default:
					close(c.send)
					delete(h.clients, c)
					h.logger.Warn("dropped slow display")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish queues update for every display. It never blocks the caller.
func (h *Hub) Publish(update protocol.ScoreUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		h.logger.Warn("failed to encode score update", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- frame{seq: update.Score.Seq, data: data}:
	default:
		h.logger.Warn("scoreboard broadcast full, dropping update")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams updates until the display
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.writePump()
	c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	// lastSeq is owned by the Run loop.
	lastSeq uint64
}

// readPump only drains control frames; displays never send data.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer on the connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
