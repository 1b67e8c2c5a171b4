package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/otpad/otpad/internal/ot"
	"github.com/otpad/otpad/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server wires the document hubs to their HTTP and websocket surface.
type Server struct {
	registry *Registry
	broker   Broker
	snaps    store.SnapshotStore
	users    store.UserStore
	secret   []byte
	interval time.Duration

	mu   sync.Mutex
	hubs map[string]*Hub
}

func New(snaps store.SnapshotStore, users store.UserStore, broker Broker, secret []byte, snapshotInterval time.Duration) *Server {
	return &Server{
		registry: NewRegistry(),
		broker:   broker,
		snaps:    snaps,
		users:    users,
		secret:   secret,
		interval: snapshotInterval,
		hubs:     make(map[string]*Hub),
	}
}

// hub returns the live hub for docID, opening the document (loading its
// persisted snapshot and starting the run loop) on first use.
func (s *Server) hub(docID string) (*Hub, error) {
	s.mu.Lock()
	if h, ok := s.hubs[docID]; ok {
		s.mu.Unlock()
		return h, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, found, err := s.snaps.Load(ctx, docID)
	if err != nil {
		return nil, err
	}
	var text string
	var rev int
	if found {
		text, rev = snap.Text, snap.Rev
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.hubs[docID]; ok {
		return h, nil
	}
	coord := s.registry.GetOrCreate(docID, func() (string, int) { return text, rev })
	h := newHub(coord, s.broker, s.snaps, s.interval)
	s.hubs[docID] = h
	go h.run()
	return h, nil
}

// Router builds the HTTP surface: the websocket endpoint, the submission
// and resync APIs, and the auth endpoints.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws/{docid}", s.middleware(s.ws))
	r.HandleFunc("/api/docs/{docid}/ops", s.middleware(s.submitOp)).Methods("POST")
	r.HandleFunc("/api/docs/{docid}/snapshot", s.middleware(s.snapshot)).Methods("GET")
	r.HandleFunc("/login", s.login).Methods("POST")
	r.HandleFunc("/register", s.register).Methods("POST")
	return r
}

// Run serves the router until ctx is canceled, then drains: the listener
// shuts down gracefully and every open document persists a final snapshot.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Handler:           s.Router(),
		Addr:              addr,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.StopAll()
	return err
}

// StopAll stops every hub, persisting final snapshots.
func (s *Server) StopAll() {
	s.mu.Lock()
	hubs := make([]*Hub, 0, len(s.hubs))
	for _, h := range s.hubs {
		hubs = append(hubs, h)
	}
	s.mu.Unlock()
	for _, h := range hubs {
		h.Stop()
	}
}

func (s *Server) ws(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docid"]
	if docID == "" {
		http.Error(w, "missing document id", http.StatusBadRequest)
		return
	}
	h, err := s.hub(docID)
	if err != nil {
		log.Printf("open doc %s: %v", docID, err)
		http.Error(w, "document unavailable", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println(err)
		return
	}

	sess := newSession(h, conn)
	h.register <- sess
	go sess.writePump()
	sess.readPump()
}

// submitOp is the HTTP submission API: accepts a submission (operation
// sequence plus the client's base revision) and returns the committed form
// and new revision, or a typed error.
func (s *Server) submitOp(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docid"]
	h, err := s.hub(docID)
	if err != nil {
		http.Error(w, "document unavailable", http.StatusInternalServerError)
		return
	}

	var body struct {
		Ops     []ot.Operation `json:"ops"`
		BaseRev int            `json:"base_rev"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Ops) == 0 {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	cm, err := h.Submit(body.Ops, body.BaseRev)
	if err != nil {
		writeSubmitError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"commit": cm,
		"rev":    cm.Rev,
	})
}

// snapshot is the resync API: returns the canonical (text, revision) pair,
// or, with ?since=REV, the commits after REV when they are still retained.
func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	docID := mux.Vars(r)["docid"]
	h, err := s.hub(docID)
	if err != nil {
		http.Error(w, "document unavailable", http.StatusInternalServerError)
		return
	}

	if since := r.URL.Query().Get("since"); since != "" {
		rev, err := strconv.Atoi(since)
		if err != nil {
			http.Error(w, "bad since revision", http.StatusBadRequest)
			return
		}
		commits, err := h.coord.Since(rev)
		if err != nil {
			writeSubmitError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"commits": commits, "rev": h.coord.Revision()})
		return
	}

	text, rev := h.coord.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "rev": rev})
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var stale *StaleClientError
	var invalid *ot.ValidationError
	switch {
	case errors.As(err, &stale):
		writeJSON(w, http.StatusConflict, map[string]any{"code": "stale", "error": err.Error()})
	case errors.As(err, &invalid):
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "invalid", "error": err.Error()})
	case errors.Is(err, ErrCorrupt), errors.Is(err, ErrClosed):
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"code": "corrupt", "error": err.Error()})
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("write response: %v", err)
	}
}

