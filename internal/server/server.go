package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"companiond/internal/bus"
	"companiond/internal/protocol"
	"companiond/internal/session"
)

// ============================================================================
// Observer server - websocket event feed plus status routes
// ============================================================================

// envelope is the JSON wrapper every observer message travels in.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// StateSource exposes the publisher's flattened snapshot.
type StateSource interface {
	Snapshot() protocol.StateUpdate
}

// StatusSource exposes the session's current status.
type StatusSource interface {
	Status() session.Status
}

// Config tunes the observer server.
type Config struct {
	Listen       string
	SendBuf      int
	BroadcastBuf int
}

// Server serves the observer endpoints and relays bus events to attached
// websocket clients.
type Server struct {
	logger *slog.Logger
	bus    *bus.Bus
	state  StateSource
	status StatusSource
	hub    *Hub
	listen string

	upgrader websocket.Upgrader
}

// New constructs an observer server. Run starts it.
func New(logger *slog.Logger, b *bus.Bus, state StateSource, status StatusSource, cfg Config) *Server {
	return &Server{
		logger: logger,
		bus:    b,
		state:  state,
		status: status,
		hub:    NewHub(logger, HubConfig{SendBuf: cfg.SendBuf, BroadcastBuf: cfg.BroadcastBuf}),
		listen: cfg.Listen,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Observers are local tooling; no origin restrictions.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWS)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Run serves HTTP and relays bus events until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	go s.relayEvents(ctx)

	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("observer server listening", "addr", s.listen)
		errCh <- srv.ListenAndServe()
	}()

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

// relayEvents forwards every bus event to the hub as a typed envelope.
func (s *Server) relayEvents(ctx context.Context) {
	sub := s.bus.Subscribe(0)
	defer sub.Cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			now := time.Now().UTC()
			msg, err := json.Marshal(envelope{Type: ev.EventType(), Ts: &now, Data: ev})
			if err != nil {
				s.logger.Error("marshal observer event failed", "type", ev.EventType(), "error", err)
				continue
			}
			s.hub.BroadcastBytes(msg)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("observer upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Seed the new observer with the current snapshot before it sees the
	// live feed.
	now := time.Now().UTC()
	if init, err := json.Marshal(envelope{Type: "state_init", Ts: &now, Data: s.state.Snapshot()}); err == nil {
		client.send <- init
	}

	s.hub.register <- client

	// The pumps outlive this handler; they exit when the hub closes the
	// send channel or the socket drops.
	go client.writePump()
	go client.readPump()
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// statusResponse is the /status document.
type statusResponse struct {
	Name         string               `json:"name"`
	Version      string               `json:"version"`
	Session      string               `json:"session"`
	Peer         string               `json:"peer,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	Capabilities []string             `json:"capabilities"`
	State        protocol.StateUpdate `json:"state"`
}

// Version is stamped by the build; the default marks dev builds.
var Version = "dev"

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := s.status.Status()

	resp := statusResponse{
		Name:    "companiond",
		Version: Version,
		Session: st.Kind.String(),
		Peer:    st.Peer,
		Reason:  st.Reason,
		Capabilities: []string{
			"play", "pause", "next", "previous",
			"seek_to", "set_volume", "request_state",
		},
		State: s.state.Snapshot(),
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("write status response failed", "error", err)
	}
}
