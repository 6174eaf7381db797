// Package web implements the ops HTTP server: health and state
// endpoints plus a WebSocket that streams the live event bus.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurhq/murmur/internal/buildinfo"
	"github.com/murmurhq/murmur/internal/events"
)

// StateSource supplies the live state snapshot for GET /state. The
// concrete adapter is wired in main.go to avoid coupling this package
// to the agent loop.
type StateSource interface {
	Snapshot() map[string]any
}

// Server is the ops HTTP server.
type Server struct {
	address string
	port    int
	bus     *events.Bus
	state   StateSource
	logger  *slog.Logger
	server  *http.Server

	upgrader websocket.Upgrader
}

// New creates a Server but does not listen. Call [Server.Start].
func New(address string, port int, bus *events.Bus, state StateSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		bus:     bus,
		state:   state,
		logger:  logger.With("component", "web"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Ops endpoint on a trusted network; no origin policy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Start runs the server. It blocks until the listener fails or
// Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /state", s.handleState)
	mux.HandleFunc("GET /events", s.handleEvents)

	s.server = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:     s.withLogging(mux),
		ReadTimeout: 30 * time.Second,
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting ops server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":  "ok",
		"version": buildinfo.Version,
		"uptime":  buildinfo.Uptime().Truncate(time.Second).String(),
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]any{}
	if s.state != nil {
		snapshot = s.state.Snapshot()
	}
	snapshot["build"] = buildinfo.Info()
	snapshot["event_subscribers"] = s.bus.SubscriberCount()
	s.writeJSON(w, snapshot)
}

// handleEvents upgrades to WebSocket and streams bus events as JSON,
// one message per event, until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine notices the client going away; the stream loop
	// below exits on its signal.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Usually a client disconnect mid-response.
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}
