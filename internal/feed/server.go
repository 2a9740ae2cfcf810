package feed

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SnapshotFunc returns the current state of every session, sent to each
// websocket client on connect so the board starts populated.
type SnapshotFunc func() []Event

// Server exposes the hub over a websocket endpoint at /events.
type Server struct {
	hub      *Hub
	snapshot SnapshotFunc
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewServer creates a websocket feed server.
func NewServer(hub *Hub, snapshot SnapshotFunc, log zerolog.Logger) *Server {
	return &Server{
		hub:      hub,
		snapshot: snapshot,
		log:      log.With().Str("component", "feed").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origins are not checked; the feed listens on whatever
			// address RELAY_LISTEN_ADDR names.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Run serves until the context is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	s.log.Info().Str("addr", addr).Msg("event feed listening")

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// handleEvents upgrades the connection and streams hub events as JSON.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Initial snapshot so the client renders immediately.
	if s.snapshot != nil {
		for _, e := range s.snapshot() {
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		}
	}

	ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(ch)

	// Reader goroutine: surfaces client disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(e); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
