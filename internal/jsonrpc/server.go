package jsonrpc

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"holyrig/internal/dispatch"
	"holyrig/internal/subscription"
)

// maxDatagramSize bounds a single JSON-RPC envelope's UDP payload;
// large enough for any request or status_update this protocol sends.
const maxDatagramSize = 65507

// connectivityPollInterval governs how often the Server polls
// Dispatcher.ListRigs() to detect connect/disconnect transitions for
// the supplemented device_connected/device_disconnected notifications.
const connectivityPollInterval = 2 * time.Second

// Server is the primary JSON-RPC 2.0 over UDP transport: one datagram
// in, one datagram out for requests; asynchronous status_update and
// device_connected/device_disconnected datagrams pushed to subscribed
// clients.
type Server struct {
	dispatcher *dispatch.Dispatcher

	mu        sync.Mutex
	rigAddrs  map[string]map[string]net.Addr // rigID -> addr.String() -> net.Addr
	lastState map[string]bool                // rigID -> last observed Connected()
}

// NewServer builds a Server routing requests to dispatcher.
func NewServer(dispatcher *dispatch.Dispatcher) *Server {
	return &Server{
		dispatcher: dispatcher,
		rigAddrs:   make(map[string]map[string]net.Addr),
		lastState:  make(map[string]bool),
	}
}

// Run binds addr and serves until ctx is canceled, mirroring the
// teacher's ListenAndServe: a receive loop in its own goroutine,
// selected against ctx.Done alongside a fatal-error channel.
func (s *Server) Run(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.Serve(ctx, conn)
}

// Serve runs the receive loop and the connectivity watcher over an
// already-bound conn, until ctx is canceled. Split out from Run so
// tests can bind an ephemeral port and discover its address before
// serving.
func (s *Server) Serve(ctx context.Context, conn net.PacketConn) error {
	errs := make(chan error, 1)
	go func() { errs <- s.serve(conn) }()
	go s.watchConnectivity(ctx, conn)

	select {
	case <-ctx.Done():
		conn.Close()
		return nil
	case err := <-errs:
		return err
	}
}

func (s *Server) serve(conn net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		data := append([]byte(nil), buf[:n]...)
		go s.handleDatagram(conn, addr, data)
	}
}

func (s *Server) handleDatagram(conn net.PacketConn, addr net.Addr, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		s.writeResponse(conn, addr, Response{JSONRPC: "2.0", Error: newError(CodeParseError, err)})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.writeResponse(conn, addr, Response{JSONRPC: "2.0", ID: req.ID, Error: &RpcError{
			Code: CodeInvalidRequest, Message: "not a well-formed JSON-RPC 2.0 request",
		}})
		return
	}

	result, rpcErr := s.dispatch(context.Background(), conn, addr, req)
	s.writeResponse(conn, addr, Response{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr})
}

func (s *Server) dispatch(ctx context.Context, conn net.PacketConn, addr net.Addr, req Request) (any, *RpcError) {
	switch req.Method {
	case "list_rigs":
		return s.dispatcher.ListRigs(), nil

	case "get_capabilities":
		var p getCapabilitiesParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RpcError{Code: CodeInvalidParams, Message: err.Error()}
		}
		s.trackSubscriber(p.RigID, addr) // connectivity-notification interest follows any mention of a rig id
		caps, err := s.dispatcher.GetCapabilities(p.RigID)
		if err != nil {
			return nil, mapError(err)
		}
		return caps, nil

	case "execute_command":
		var p executeCommandParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RpcError{Code: CodeInvalidParams, Message: err.Error()}
		}
		if err := s.dispatcher.ExecuteCommand(ctx, p.RigID, p.Command, p.Parameters); err != nil {
			return nil, mapError(err)
		}
		return struct {
			Success bool `json:"success"`
		}{true}, nil

	case "subscribe_status":
		var p subscribeStatusParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			return nil, &RpcError{Code: CodeInvalidParams, Message: err.Error()}
		}
		sub, err := s.dispatcher.SubscribeStatus(p.RigID, p.Fields)
		if err != nil {
			return nil, mapError(err)
		}
		s.trackSubscriber(p.RigID, addr)
		go s.forward(conn, addr, sub)
		return struct {
			SubscriptionID string `json:"subscription_id"`
		}{sub.ID()}, nil

	default:
		return nil, &RpcError{Code: CodeMethodNotFound, Message: "unknown method: " + req.Method}
	}
}

// forward drains sub's notifications and writes a status_update
// datagram to addr for each one, until the subscriber is unsubscribed
// (its channel closes).
func (s *Server) forward(conn net.PacketConn, addr net.Addr, sub *subscription.Subscriber) {
	for n := range sub.Notifications() {
		s.writeNotification(conn, addr, "status_update", statusUpdateParams{
			RigID:          n.RigID,
			SubscriptionID: n.SubscriptionID,
			Updates:        n.Updates,
		})
	}
}

// trackSubscriber records that addr has expressed interest in rigID,
// so connectivity transitions on that rig reach it too.
func (s *Server) trackSubscriber(rigID string, addr net.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rigAddrs[rigID] == nil {
		s.rigAddrs[rigID] = make(map[string]net.Addr)
	}
	s.rigAddrs[rigID][addr.String()] = addr
}

// watchConnectivity polls the Dispatcher's connectivity snapshot and
// broadcasts device_connected/device_disconnected to every address
// that has shown interest in that rig, per SPEC_FULL.md's supplemented
// rig-lifecycle notifications.
func (s *Server) watchConnectivity(ctx context.Context, conn net.PacketConn) {
	ticker := time.NewTicker(connectivityPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollConnectivity(conn)
		}
	}
}

func (s *Server) pollConnectivity(conn net.PacketConn) {
	current := s.dispatcher.ListRigs()

	s.mu.Lock()
	var changed []struct {
		rigID     string
		connected bool
		addrs     []net.Addr
	}
	for rigID, connected := range current {
		if s.lastState[rigID] == connected {
			continue
		}
		s.lastState[rigID] = connected
		addrs := make([]net.Addr, 0, len(s.rigAddrs[rigID]))
		for _, a := range s.rigAddrs[rigID] {
			addrs = append(addrs, a)
		}
		changed = append(changed, struct {
			rigID     string
			connected bool
			addrs     []net.Addr
		}{rigID, connected, addrs})
	}
	s.mu.Unlock()

	for _, c := range changed {
		method := "device_disconnected"
		if c.connected {
			method = "device_connected"
		}
		for _, addr := range c.addrs {
			s.writeNotification(conn, addr, method, deviceConnectionParams{RigID: c.rigID})
		}
	}
}

func (s *Server) writeResponse(conn net.PacketConn, addr net.Addr, resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.WriteTo(data, addr)
}

func (s *Server) writeNotification(conn net.PacketConn, addr net.Addr, method string, params any) {
	data, err := json.Marshal(Notification{JSONRPC: "2.0", Method: method, Params: params})
	if err != nil {
		return
	}
	conn.WriteTo(data, addr)
}
