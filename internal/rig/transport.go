package rig

import (
	"io"
	"time"

	serial "github.com/albenik/go-serial/v2"
)

// Transport is the byte-duplex channel a RigInstance drives. spec.md
// scopes the concrete serial-port driver out as an external
// collaborator ("the core consumes a byte-duplex channel"); this
// interface is exactly that boundary, so tests can drive a RigInstance
// against an in-memory fake without a real port.
type Transport interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// OpenFunc opens (or reopens, on reconnection) the Transport for one
// configured rig.
type OpenFunc func() (Transport, error)

// OpenSerial returns an OpenFunc that dials a real serial port at path
// and baud, the same github.com/albenik/go-serial/v2 driver
// reaches indirectly through wl2k-go/hamlib's OpenSerialURI — promoted
// here to a direct dependency since the rig runtime owns the serial
// channel itself rather than delegating to hamlib.
func OpenSerial(path string, baud int) OpenFunc {
	return func() (Transport, error) {
		port, err := serial.Open(path,
			serial.WithBaudrate(baud),
			serial.WithDataBits(8),
			serial.WithParity(serial.NoParity),
			serial.WithStopBits(serial.OneStopBit),
		)
		if err != nil {
			return nil, err
		}
		return &serialTransport{port: port}, nil
	}
}

// serialTransport adapts *serial.Port's millisecond read-timeout API to
// Transport's net.Conn-style deadlines.
type serialTransport struct {
	port *serial.Port
}

func (s *serialTransport) Read(p []byte) (int, error)  { return s.port.Read(p) }
func (s *serialTransport) Write(p []byte) (int, error) { return s.port.Write(p) }
func (s *serialTransport) Close() error                { return s.port.Close() }

func (s *serialTransport) SetReadDeadline(t time.Time) error {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}
	return s.port.SetReadTimeout(int(d / time.Millisecond))
}

// SetWriteDeadline is a no-op: the underlying driver has no write-side
// timeout knob, and outbound CAT frames are a handful of bytes that
// never block long enough to matter against the per-exchange timeout.
func (s *serialTransport) SetWriteDeadline(t time.Time) error { return nil }
