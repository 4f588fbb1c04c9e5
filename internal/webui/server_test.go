package webui

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"holyrig/internal/codec"
	"holyrig/internal/dispatch"
	"holyrig/internal/model"
	"holyrig/internal/rig"
	"holyrig/internal/schema"
	"holyrig/internal/subscription"
)

type fakeTransport struct{ toHost chan []byte }

func (f *fakeTransport) Write(p []byte) (int, error) { return len(p), nil }
func (f *fakeTransport) Read(p []byte) (int, error) {
	chunk, ok := <-f.toHost
	if !ok {
		return 0, io.EOF
	}
	return copy(p, chunk), nil
}
func (f *fakeTransport) Close() error                       { return nil }
func (f *fakeTransport) SetReadDeadline(t time.Time) error  { return nil }
func (f *fakeTransport) SetWriteDeadline(t time.Time) error { return nil }

func testDispatcher(t *testing.T) (*dispatch.Dispatcher, *fakeTransport) {
	t.Helper()
	sch := &schema.Schema{
		Version:      1,
		Kind:         "test_rig",
		Commands:     map[string]schema.Signature{},
		CommandOrder: nil,
		Status: schema.Signature{
			{Name: "freq", Type: schema.Type{Kind: schema.KindInt}},
		},
	}
	ack := codec.ReplySpec{Kind: codec.ReplyFixedLength, Length: 5}
	pollTpl := codec.FrameTemplate{
		Pattern: []codec.Slot{codec.FixedSlot(0xFE), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot(), codec.UnknownSlot()},
		Reply:   ack,
	}
	field := codec.FieldSpec{Index: 1, Length: 4, Format: codec.FormatIntBU, Multiply: codec.RationalFromInt(1)}
	mdl := &model.Model{
		SchemaKind:    "test_rig",
		SchemaVersion: 1,
		Enums:         map[string]map[string]int64{},
		Commands:      map[string]codec.FrameTemplate{},
		Status:        map[string]model.StatusPoll{"freq": {Template: pollTpl, Field: field}},
	}

	ft := &fakeTransport{toHost: make(chan []byte, 16)}
	open := func() (rig.Transport, error) { return ft, nil }
	updates := make(chan rig.StatusUpdate, 4)
	r := rig.New("rig0", mdl, sch, open, updates, rig.WithPollInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go r.Run(ctx)

	mgr := subscription.New(4)
	go mgr.Run(ctx, updates)

	handle := &dispatch.RigHandle{Rig: r, Schema: sch, Model: mdl}
	return dispatch.New(map[string]*dispatch.RigHandle{"rig0": handle}, mgr), ft
}

func TestServer_ListRigsHTTP(t *testing.T) {
	d, _ := testDispatcher(t)
	s := NewServer(d)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/rigs")
	if err != nil {
		t.Fatalf("GET /api/rigs: %v", err)
	}
	defer resp.Body.Close()

	var got map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got["rig0"]; !ok {
		t.Fatalf("result missing rig0: %#v", got)
	}
}

func TestServer_CapabilitiesHTTP_UnknownRig(t *testing.T) {
	d, _ := testDispatcher(t)
	s := NewServer(d)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/api/rigs/missing/capabilities")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestServer_WebSocketReceivesStatusUpdate(t *testing.T) {
	d, ft := testDispatcher(t)
	s := NewServer(d)
	ts := httptest.NewServer(s.router)
	t.Cleanup(ts.Close)

	s.subscribeAll()
	t.Cleanup(s.unsubscribeAll)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	// Status reply: 0xFE + big-endian 7040000 (0x006B6C00).
	ft.toHost <- []byte{0xFE, 0x00, 0x6B, 0x6C, 0x00}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "status_update") {
		t.Fatalf("message = %q, want it to mention status_update", data)
	}
}

func TestHub_WriteJSONBroadcastsToAllClients(t *testing.T) {
	h := NewHub()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		h.Handle(conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	deadline := time.Now().Add(time.Second)
	for h.NumClients() != 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if h.NumClients() != 1 {
		t.Fatalf("NumClients() = %d, want 1", h.NumClients())
	}

	h.WriteJSON(struct{ Ping bool }{true})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if !strings.Contains(string(data), "Ping") {
		t.Fatalf("message = %q, want it to mention Ping", data)
	}
}
