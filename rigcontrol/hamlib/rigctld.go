// Copyright 2015 Martin Hebnes Pedersen (LA5NTA). All rights reserved.
// Use of this source code is governed by the MIT-license that can be
// found in the LICENSE file.

// Package hamlib bridges a rig to a running rigctld (hamlib's TCP CAT
// daemon) instead of a local serial port, for operators who already
// point some other client at rigctld and don't want to give up the
// port. It does not use rigctld's parsed VFO verbs (get_freq, set_ptt,
// ...): the engine drives its own binary CAT frames, so this instead
// rides rigctld's raw passthrough command, "W <hex> ", which hands the
// encoded bytes straight to the backend and returns the raw reply the
// same way. Adapted from the TCPRig client formerly here: keeps its
// dial-with-retry textproto.Conn shape, drops the VFO/get_freq/set_ptt
// API entirely.
package hamlib

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"sync"
	"time"

	"holyrig/internal/rig"
)

// DefaultAddr is rigctld's default listen address.
const DefaultAddr = "localhost:4532"

var dialTimeout = 5 * time.Second

// Open returns a rig.OpenFunc that dials addr (a running rigctld) on
// each (re)connect attempt, for use in place of rig.OpenSerial.
func Open(addr string) rig.OpenFunc {
	return func() (rig.Transport, error) {
		return dial(addr)
	}
}

// transport implements rig.Transport over rigctld's raw command
// passthrough. Write sends one command and remembers its textproto
// id; the matching Read claims that id's response line. A RigInstance
// never pipelines exchanges (it writes, then reads, then writes
// again), so one outstanding id at a time is enough.
type transport struct {
	addr string

	mu      sync.Mutex
	tcpConn net.Conn
	conn    *textproto.Conn

	pendingID uint
	hasReply  bool

	readDeadline  time.Time
	writeDeadline time.Time
}

func dial(addr string) (*transport, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("hamlib: dial %s: %w", addr, err)
	}
	return &transport{
		addr:    addr,
		tcpConn: conn,
		conn:    textproto.NewConn(conn),
	}, nil
}

func (t *transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}

func (t *transport) SetReadDeadline(tm time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.readDeadline = tm
	return nil
}

func (t *transport) SetWriteDeadline(tm time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeDeadline = tm
	return nil
}

// Write sends p as one raw rigctld command. rigctld's line protocol
// is newline-delimited, so p is hex-encoded to stay binary-safe even
// when the CAT frame itself contains 0x0A.
func (t *transport) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.writeDeadline.IsZero() {
		t.tcpConn.SetWriteDeadline(t.writeDeadline)
	}
	id, err := t.conn.Cmd("W %s", hex.EncodeToString(p))
	if err != nil {
		return 0, err
	}
	t.pendingID = id
	t.hasReply = true
	return len(p), nil
}

// Read blocks for the reply to the most recent Write and decodes it
// back into p.
func (t *transport) Read(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasReply {
		return 0, errors.New("hamlib: Read called before Write")
	}
	t.hasReply = false

	if !t.readDeadline.IsZero() {
		t.tcpConn.SetReadDeadline(t.readDeadline)
	}

	t.conn.StartResponse(t.pendingID)
	defer t.conn.EndResponse(t.pendingID)

	line, err := t.conn.ReadLine()
	if err != nil {
		return 0, err
	}
	if err := checkRPRT(line); err != nil {
		return 0, err
	}

	data, err := hex.DecodeString(line)
	if err != nil {
		return 0, fmt.Errorf("hamlib: malformed reply %q: %w", line, err)
	}
	return copy(p, data), nil
}

// checkRPRT reports an error if line is rigctld's "RPRT <code>" error
// line rather than a data line.
func checkRPRT(line string) error {
	if !strings.HasPrefix(line, "RPRT") {
		return nil
	}
	var code int
	fmt.Sscanf(line, "RPRT %d", &code)
	if code == 0 {
		return nil
	}
	return fmt.Errorf("hamlib: rigctld returned RPRT %d", code)
}
