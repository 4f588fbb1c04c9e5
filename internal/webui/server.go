package webui

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"holyrig/internal/dispatch"
	"holyrig/internal/subscription"
)

// Server is the dashboard's HTTP+WebSocket frontend over a Dispatcher,
// structured the way an api.Handler wraps an App: a
// mux.Router plus a hub, with ListenAndServe's graceful-shutdown
// idiom lifted from api/api.go.
type Server struct {
	dispatcher *dispatch.Dispatcher
	hub        *Hub
	router     *mux.Router

	subs []*subscription.Subscriber
}

// NewServer builds a Server that reflects dispatcher's rigs.
func NewServer(dispatcher *dispatch.Dispatcher) *Server {
	s := &Server{dispatcher: dispatcher, hub: NewHub()}
	s.router = mux.NewRouter()
	s.router.HandleFunc("/api/rigs", s.listRigsHandler).Methods("GET")
	s.router.HandleFunc("/api/rigs/{id}/capabilities", s.capabilitiesHandler).Methods("GET")
	s.router.HandleFunc("/ws", s.wsHandler)
	return s
}

// ListenAndServe subscribes to every configured rig's full status set,
// forwards updates to the dashboard hub, and serves addr until ctx is
// canceled — mirroring api.ListenAndServe's accept-loop/error-channel/
// ctx.Done shutdown shape.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.subscribeAll()
	defer s.unsubscribeAll()

	srv := &http.Server{Addr: addr, Handler: s.router}
	errs := make(chan error, 1)
	go func() { errs <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.hub.Close()
		return nil
	case err := <-errs:
		return err
	}
}

func (s *Server) subscribeAll() {
	for _, rigID := range s.dispatcher.RigIDs() {
		caps, err := s.dispatcher.GetCapabilities(rigID)
		if err != nil {
			continue
		}
		fields := make([]string, 0, len(caps.StatusFields))
		for f := range caps.StatusFields {
			fields = append(fields, f)
		}
		sub, err := s.dispatcher.SubscribeStatus(rigID, fields)
		if err != nil {
			continue
		}
		s.subs = append(s.subs, sub)
		go s.forward(rigID, sub)
	}
}

func (s *Server) unsubscribeAll() {
	for _, sub := range s.subs {
		s.dispatcher.Unsubscribe(sub)
	}
}

func (s *Server) forward(rigID string, sub *subscription.Subscriber) {
	for n := range sub.Notifications() {
		s.hub.WriteJSON(struct {
			StatusUpdate struct {
				RigID   string         `json:"rig_id"`
				Updates map[string]any `json:"updates"`
			} `json:"status_update"`
		}{struct {
			RigID   string         `json:"rig_id"`
			Updates map[string]any `json:"updates"`
		}{rigID, n.Updates}})
	}
}

func (s *Server) listRigsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dispatcher.ListRigs())
}

func (s *Server) capabilitiesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	caps, err := s.dispatcher.GetCapabilities(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, caps)
}

func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}
	s.hub.Handle(conn)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
