package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"uwb-engine/fusion"
)

// State is what the HTTP API reports.
type State interface {
	Latest() (fusion.Result, bool)
	Anchors() []fusion.Anchor
}

type Server struct {
	Hub   *Hub
	state State
}

func NewServer(state State) *Server {
	return &Server{
		Hub:   NewHub(),
		state: state,
	}
}

// Handler routes /ws, /api/position, /api/anchors and, when staticDir is
// set, static files under /.
func (s *Server) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})

	mux.HandleFunc("/api/position", func(w http.ResponseWriter, r *http.Request) {
		res, ok := s.state.Latest()
		if !ok {
			http.Error(w, "no position yet", http.StatusNotFound)
			return
		}
		writeJSON(w, res)
	})

	mux.HandleFunc("/api/anchors", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.state.Anchors())
	})

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context, port int, staticDir string) error {
	go s.Hub.Run()
	defer s.Hub.Stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(staticDir),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(sctx)
	}()

	log.Printf("web: listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: encode response: %v", err)
	}
}
