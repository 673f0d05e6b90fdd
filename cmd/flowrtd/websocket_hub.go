package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ezex-io/flowrt/logger"
	"github.com/ezex-io/flowrt/telemetry"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// websocketHub fans telemetry records out to every connected WebSocket
// observer, the external transport telemetry attaches sinks to.
type websocketHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

func newWebsocketHub() *websocketHub {
	return &websocketHub{conns: make(map[*websocket.Conn]struct{})}
}

func (h *websocketHub) serveHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("flowrtd: websocket upgrade failed", "error", err)

		return
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()

	go h.drainUntilClosed(conn)
}

// drainUntilClosed discards inbound frames; this is a push-only stream, but
// the read loop is what notices the client disconnecting.
func (h *websocketHub) drainUntilClosed(conn *websocket.Conn) {
	defer h.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *websocketHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()

	_ = conn.Close()
}

// deliver implements telemetry.Sink, broadcasting record as JSON to every
// connected observer. Never returns an error: a write failure just means the
// connection's own read loop will notice the disconnect and clean it up.
func (h *websocketHub) deliver(record telemetry.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return nil
	}

	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			go h.remove(c)
		}
	}

	return nil
}
