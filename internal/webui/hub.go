// Package webui is the optional local status-dashboard transport: a
// small HTTP+WebSocket server that mirrors every rig's status changes
// to any browser connected to it. It is read-only monitoring, not an
// alternate command path — the primary, spec-mandated client transport
// remains internal/jsonrpc's UDP JSON-RPC server. Adapted directly from
// api.WSHub (api/wshub.go): a mutex-guarded connection
// pool, a bounded per-connection outbound channel, and the
// close-unresponsive-socket backpressure policy applied to
// its own browser dashboard — left as-is here (unlike
// internal/subscription's drop-oldest rule) since this hub serves a
// convenience view with no delivery guarantee spec.md makes any promise
// about.
package webui

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeTimeout bounds how long WriteJSON waits for one slow connection
// before giving up on it, the same 3-second budget WSHub
// uses.
const writeTimeout = 3 * time.Second

type wsConn struct {
	conn *websocket.Conn
	out  chan any
}

// Hub broadcasts JSON-encodable values to every connected browser
// client.
type Hub struct {
	mu   sync.Mutex
	pool map[*wsConn]struct{}
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{pool: map[*wsConn]struct{}{}}
}

// WriteJSON broadcasts v to every connected client, closing and
// dropping any client that doesn't drain its outbound queue within
// writeTimeout.
func (h *Hub) WriteJSON(v any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.pool {
		select {
		case c.out <- v:
		case <-time.After(writeTimeout):
			c.conn.Close()
			delete(h.pool, c)
		}
	}
}

// NumClients reports how many browser clients are currently connected.
func (h *Hub) NumClients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pool)
}

// Close disconnects every client. The Hub should not be used after
// calling Close.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.pool {
		c.conn.Close()
	}
	h.pool = nil
}

// Handle registers conn in the pool and blocks, relaying broadcast
// values to it, until the client disconnects or stops reading.
func (h *Hub) Handle(conn *websocket.Conn) {
	c := &wsConn{conn: conn, out: make(chan any, 8)}

	h.mu.Lock()
	h.pool[c] = struct{}{}
	h.mu.Unlock()

	quit := wsReadLoop(conn)
	defer func() {
		c.conn.Close()
		h.mu.Lock()
		delete(h.pool, c)
		h.mu.Unlock()
	}()

	for {
		select {
		case v := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteJSON(v); err != nil {
				return
			}
		case <-quit:
			return
		}
	}
}

// wsReadLoop discards every message a client sends and signals quit
// once the connection errors or closes, so Handle notices a dead peer
// even though the dashboard protocol is otherwise one-directional.
func wsReadLoop(conn *websocket.Conn) <-chan struct{} {
	quit := make(chan struct{})
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				close(quit)
				return
			}
		}
	}()
	return quit
}
