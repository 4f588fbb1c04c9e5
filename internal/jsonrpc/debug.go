package jsonrpc

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"holyrig/internal/dispatch"
)

// DebugServer is the supplemented plaintext UDP debug interface:
// whitespace-delimited "<rig_id> <command> [param=value ...]" commands
// in, one human-readable reply line out. Grounded on
// original_source/holyrig/src/interfaces/udp_server.rs's
// parse_command/run_server, ported from its oneshot-channel-per-command
// idiom to a goroutine-per-datagram handler over the same Dispatcher
// the primary JSON-RPC Server uses — there is only one command-routing
// path, this is a second, simpler wire format over it.
type DebugServer struct {
	dispatcher *dispatch.Dispatcher
}

// NewDebugServer builds a DebugServer routing commands to dispatcher.
func NewDebugServer(dispatcher *dispatch.Dispatcher) *DebugServer {
	return &DebugServer{dispatcher: dispatcher}
}

// Run binds addr and serves plaintext debug commands until ctx is
// canceled.
func (d *DebugServer) Run(ctx context.Context, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return d.Serve(ctx, conn)
}

// Serve runs the receive loop over an already-bound conn, until ctx is
// canceled. Split out from Run so tests can bind an ephemeral port and
// discover its address before serving.
func (d *DebugServer) Serve(ctx context.Context, conn net.PacketConn) error {
	errs := make(chan error, 1)
	go func() { errs <- d.serve(conn) }()

	select {
	case <-ctx.Done():
		conn.Close()
		return nil
	case err := <-errs:
		return err
	}
}

func (d *DebugServer) serve(conn net.PacketConn) error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			return err
		}
		line := string(buf[:n])
		go d.handleLine(conn, addr, line)
	}
}

func (d *DebugServer) handleLine(conn net.PacketConn, addr net.Addr, line string) {
	reply := d.execute(line)
	conn.WriteTo([]byte(reply+"\n"), addr)
}

func (d *DebugServer) execute(line string) string {
	rigID, command, params, err := parseDebugCommand(line)
	if err != nil {
		return "ERROR: invalid command format - " + err.Error()
	}

	if command == "list" {
		connected := d.dispatcher.ListRigs()
		var b strings.Builder
		b.WriteString("Available rigs:")
		for _, id := range d.dispatcher.RigIDs() {
			fmt.Fprintf(&b, "\n%s: %v", id, connected[id])
		}
		return b.String()
	}

	if err := d.dispatcher.ExecuteCommand(context.Background(), rigID, command, params); err != nil {
		return fmt.Sprintf("Failed executing command %s on device %s: %v", command, rigID, err)
	}
	return fmt.Sprintf("Executed command %s on device %s", command, rigID)
}

// parseDebugCommand splits "<rig_id> <command> [param=value ...]" into
// its parts, guessing each param value's JSON-ish type the same way a
// human typing it would expect (integers, true/false, otherwise a
// literal string for enum members) since the wire format carries no
// type information of its own.
func parseDebugCommand(line string) (rigID, command string, params map[string]any, err error) {
	fields := strings.Fields(line)
	if len(fields) < 1 {
		return "", "", nil, fmt.Errorf("missing rig id")
	}
	rigID = fields[0]
	if rigID == "list" {
		return "", "list", nil, nil
	}
	if len(fields) < 2 {
		return "", "", nil, fmt.Errorf("missing command name")
	}
	command = fields[1]

	params = make(map[string]any)
	for _, field := range fields[2:] {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return "", "", nil, fmt.Errorf("invalid parameter %q, want key=value", field)
		}
		params[key] = guessDebugValue(value)
	}
	return rigID, command, params, nil
}

func guessDebugValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(n)
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
