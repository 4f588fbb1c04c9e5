package rig

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"holyrig/internal/codec"
	"holyrig/internal/model"
	"holyrig/internal/schema"
)

// fakeTransport is an in-memory Transport driven entirely by test code,
// so instance tests never touch github.com/albenik/go-serial/v2.
type fakeTransport struct {
	mu       sync.Mutex
	toRig    []byte // bytes most recently written by the RigInstance
	toHost   chan []byte
	closed   bool
	deadline time.Time
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{toHost: make(chan []byte, 16)}
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	f.toRig = append([]byte{}, p...)
	f.mu.Unlock()
	return len(p), nil
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	deadline := f.deadline
	f.mu.Unlock()

	var timeout <-chan time.Time
	if !deadline.IsZero() {
		timeout = time.After(time.Until(deadline))
	}
	select {
	case chunk, ok := <-f.toHost:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		return n, nil
	case <-timeout:
		return 0, &deadlineExceeded{}
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetReadDeadline(t time.Time) error {
	f.mu.Lock()
	f.deadline = t
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }

// queueReply makes the next Read(s) return buf, one byte at a time, so
// terminator-based replies are exercised the same way a real serial
// driver delivers them.
func (f *fakeTransport) queueReply(buf []byte) {
	for _, b := range buf {
		f.toHost <- []byte{b}
	}
}

type deadlineExceeded struct{}

func (*deadlineExceeded) Error() string   { return "i/o timeout" }
func (*deadlineExceeded) Timeout() bool   { return true }
func (*deadlineExceeded) Temporary() bool { return true }

func testSchema() *schema.Schema {
	return &schema.Schema{
		Version: 1,
		Kind:    "test_rig",
		Enums:   map[string]schema.EnumType{},
		Commands: map[string]schema.Signature{
			"set_freq": {{Name: "hz", Type: schema.Type{Kind: schema.KindInt}}},
		},
		CommandOrder: []string{"set_freq"},
		Status: schema.Signature{
			{Name: "freq", Type: schema.Type{Kind: schema.KindInt}},
		},
	}
}

func testModel(t *testing.T) *model.Model {
	t.Helper()
	ackMask := codec.ReplySpec{Kind: codec.ReplyValidationMask, Length: 1, Mask: []codec.Slot{codec.FixedSlot(0x06)}}

	cmd := codec.FrameTemplate{
		Pattern: []codec.Slot{codec.FixedSlot(0xFE), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot()},
		Reply:   ackMask,
		Bindings: map[string]codec.FieldSpec{
			"hz": {Index: 1, Length: 4, Format: codec.FormatIntBU, Multiply: codec.RationalFromInt(1)},
		},
	}

	statusReply := codec.ReplySpec{Kind: codec.ReplyFixedLength, Length: 5}
	statusPoll := model.StatusPoll{
		Template: codec.FrameTemplate{
			Pattern: []codec.Slot{codec.FixedSlot(0xFE), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot()},
			Reply:   statusReply,
		},
		Field: codec.FieldSpec{Index: 1, Length: 4, Format: codec.FormatIntBU, Multiply: codec.RationalFromInt(1)},
	}

	initFrame := codec.FrameTemplate{
		Pattern: []codec.Slot{codec.FixedSlot(0xFE), codec.FixedSlot(0x00)},
		Reply:   ackMask,
	}

	return &model.Model{
		SchemaKind:    "test_rig",
		SchemaVersion: 1,
		Enums:         map[string]map[string]int64{},
		Init:          []codec.FrameTemplate{initFrame},
		Commands:      map[string]codec.FrameTemplate{"set_freq": cmd},
		Status:        map[string]model.StatusPoll{"freq": statusPoll},
	}
}

func startInstance(t *testing.T, updates chan StatusUpdate, opts ...Option) (*RigInstance, *fakeTransport, context.CancelFunc) {
	t.Helper()
	ft := newFakeTransport()
	open := func() (Transport, error) { return ft, nil }
	r := New("rig0", testModel(t), testSchema(), open, updates, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	return r, ft, cancel
}

func waitForState(t *testing.T, r *RigInstance, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", r.State(), want)
}

func TestRigInstance_InitThenOnline(t *testing.T) {
	r, ft, cancel := startInstance(t, nil, WithPollInterval(time.Hour))
	defer cancel()

	ft.queueReply([]byte{0x06})
	waitForState(t, r, Online)
}

func TestRigInstance_InitFailsRetriesThenNotResponding(t *testing.T) {
	// S5: init frame fails to match its reply 3 times in a row -> NotResponding.
	r, _, cancel := startInstance(t, nil, WithInitRetries(3), WithPollInterval(time.Hour), WithExchangeTimeout(20*time.Millisecond))
	defer cancel()

	// Never queue a reply: every attempt times out against its exchange
	// deadline, exhausting all 3 retries and their backoff.
	waitForState(t, r, NotResponding)
	if r.Connected() {
		t.Fatalf("Connected() = true in NotResponding")
	}
}

func TestRigInstance_ExecuteCommand(t *testing.T) {
	r, ft, cancel := startInstance(t, nil, WithPollInterval(time.Hour))
	defer cancel()

	ft.queueReply([]byte{0x06}) // init ack
	waitForState(t, r, Online)

	done := make(chan error, 1)
	go func() {
		done <- r.Execute(context.Background(), "set_freq", map[string]int64{"hz": 14074000})
	}()
	ft.queueReply([]byte{0x06}) // command ack

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not complete")
	}
}

func TestRigInstance_ExecuteUnknownCommand(t *testing.T) {
	r, ft, cancel := startInstance(t, nil, WithPollInterval(time.Hour))
	defer cancel()

	ft.queueReply([]byte{0x06})
	waitForState(t, r, Online)

	err := r.Execute(context.Background(), "nonexistent", nil)
	if err != ErrUnsupportedCommand {
		t.Fatalf("Execute(unknown) = %v, want ErrUnsupportedCommand", err)
	}
}

func TestRigInstance_PollPublishesStatusChange(t *testing.T) {
	updates := make(chan StatusUpdate, 4)
	r, ft, cancel := startInstance(t, updates, WithPollInterval(5*time.Millisecond))
	defer cancel()

	ft.queueReply([]byte{0x06}) // init ack
	waitForState(t, r, Online)

	// Status reply: 0xFE + 4-byte big-endian encoding of 7040000 (0x006B6C00).
	ft.queueReply([]byte{0xFE, 0x00, 0x6B, 0x6C, 0x00})

	select {
	case u := <-updates:
		if u.RigID != "rig0" {
			t.Fatalf("RigID = %q, want rig0", u.RigID)
		}
		if v, ok := u.Values["freq"]; !ok || v != int64(7040000) {
			t.Fatalf("Values[freq] = %v, want 7040000", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status update published")
	}

	if got := r.Status()["freq"]; got != int64(7040000) {
		t.Fatalf("Status()[freq] = %v, want 7040000", got)
	}
}

func TestRigInstance_Disable(t *testing.T) {
	r, ft, cancel := startInstance(t, nil, WithPollInterval(time.Hour))
	defer cancel()

	ft.queueReply([]byte{0x06})
	waitForState(t, r, Online)

	r.Disable()
	if err := r.Execute(context.Background(), "set_freq", map[string]int64{"hz": 1}); err != ErrDisabled {
		t.Fatalf("Execute after Disable = %v, want ErrDisabled", err)
	}
}
