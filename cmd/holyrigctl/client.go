package main

import (
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// rpcError mirrors internal/jsonrpc.RpcError's wire shape; holyrigctl
// is a separate process talking the same JSON-RPC 2.0 over UDP
// protocol as a client, not a consumer of the daemon's internal types.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("%s (code %d)", e.Message, e.Code) }

// envelope decodes either shape the server sends: a response (has an
// id, possibly a result or an error) or a notification (has a method,
// no id), distinguished the same way internal/jsonrpc.Server's own
// Notification/Response structs differ on the wire.
type envelope struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type notification struct {
	Method string
	Params json.RawMessage
}

// client is a single UDP socket dialed at a running holyrigd, issuing
// synchronous request/response calls while a background reader
// demultiplexes server-pushed notifications onto a separate channel,
// the same split internal/jsonrpc.Server's own forward/serve goroutines
// keep on the daemon side.
type client struct {
	conn *net.UDPConn

	mu      sync.Mutex
	nextID  int64
	pending map[string]chan envelope

	Notifications chan notification
}

func dial(addr string) (*client, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, err
	}
	c := &client{
		conn:          conn,
		pending:       make(map[string]chan envelope),
		Notifications: make(chan notification, 16),
	}
	go c.readLoop()
	return c, nil
}

func (c *client) Close() error { return c.conn.Close() }

func (c *client) readLoop() {
	buf := make([]byte, 65507)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		var env envelope
		if err := json.Unmarshal(buf[:n], &env); err != nil {
			continue
		}
		if env.ID == nil {
			select {
			case c.Notifications <- notification{Method: env.Method, Params: env.Params}:
			default: // drop if nobody is draining; this is a REPL, not a guaranteed feed
			}
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[string(env.ID)]
		if ok {
			delete(c.pending, string(env.ID))
		}
		c.mu.Unlock()
		if ok {
			ch <- env
		}
	}
}

// Call sends method with params and waits up to timeout for the
// matching response, unmarshalling its result into out (which may be
// nil to discard it).
func (c *client) Call(timeout time.Duration, method string, params, out any) error {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	idBytes := []byte(strconv.FormatInt(id, 10))
	ch := make(chan envelope, 1)
	c.pending[string(idBytes)] = ch
	c.mu.Unlock()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return err
	}
	req := struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}{"2.0", idBytes, method, paramsJSON}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}

	select {
	case env := <-ch:
		if env.Error != nil {
			return env.Error
		}
		if out == nil || env.Result == nil {
			return nil
		}
		return json.Unmarshal(env.Result, out)
	case <-time.After(timeout):
		c.mu.Lock()
		delete(c.pending, string(idBytes))
		c.mu.Unlock()
		return fmt.Errorf("timed out waiting for a reply to %q", method)
	}
}
