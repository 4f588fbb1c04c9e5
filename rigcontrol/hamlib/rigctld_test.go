package hamlib

import (
	"bufio"
	"encoding/hex"
	"net"
	"strings"
	"testing"
	"time"
)

// fakeRigctld accepts one connection and echoes back whatever hex
// payload it's handed via a "W <hex>" command, simulating a backend
// that loops the CAT frame straight back.
func fakeRigctld(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			payload, ok := strings.CutPrefix(line, "W ")
			if !ok {
				conn.Write([]byte("RPRT -1\n"))
				continue
			}
			conn.Write([]byte(payload + "\n"))
		}
	}()
	return ln.Addr().String()
}

func TestTransport_WriteReadRoundtrip(t *testing.T) {
	addr := fakeRigctld(t)

	tp, err := dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tp.Close()

	tp.SetWriteDeadline(time.Now().Add(2 * time.Second))
	tp.SetReadDeadline(time.Now().Add(2 * time.Second))

	frame := []byte{0xFE, 0xFE, 0x94, 0xE0, 0x03, 0xFD}
	n, err := tp.Write(frame)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len(frame) {
		t.Fatalf("Write returned %d, want %d", n, len(frame))
	}

	buf := make([]byte, 64)
	n, err = tp.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if hex.EncodeToString(buf[:n]) != hex.EncodeToString(frame) {
		t.Fatalf("Read returned %x, want %x", buf[:n], frame)
	}
}

func TestTransport_ReadBeforeWriteErrors(t *testing.T) {
	addr := fakeRigctld(t)
	tp, err := dial(addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer tp.Close()

	if _, err := tp.Read(make([]byte, 8)); err == nil {
		t.Fatal("expected an error reading before any write")
	}
}

func TestCheckRPRT(t *testing.T) {
	if err := checkRPRT("RPRT 0"); err != nil {
		t.Fatalf("RPRT 0 should not be an error, got %v", err)
	}
	if err := checkRPRT("deadbeef"); err != nil {
		t.Fatalf("data line should not be an error, got %v", err)
	}
	if err := checkRPRT("RPRT -1"); err == nil {
		t.Fatal("expected an error for RPRT -1")
	}
}
