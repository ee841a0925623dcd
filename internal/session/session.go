package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"companiond/internal/bus"
	"companiond/internal/metrics"
	"companiond/internal/transport"
)

// ============================================================================
// Session manager - connection lifecycle and the single writer
// ============================================================================
//
// Exactly one session is live at a time. The manager owns the transport
// handle exclusively; everything else reaches the link through Send and
// the status events on the bus.
//
// State machine:
//
//   Disconnected --Start--> Connecting --ok--> Connected(peer)
//   Connecting --dial failure--> Failed(reason)
//   Connected --Stop | read-loop error--> Disconnected
//
// Start from Connecting/Connected is a no-op. Teardown is idempotent: a
// racing read-loop failure and explicit Stop publish Disconnected once.
// ============================================================================

// StatusKind enumerates session states.
type StatusKind int

const (
	Disconnected StatusKind = iota
	Connecting
	Connected
	Failed
)

func (k StatusKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is one point in the session lifecycle. Peer is set while
// Connected; Reason is set for Failed.
type Status struct {
	Kind   StatusKind
	Peer   string
	Reason string
}

// FrameHandler consumes decoded inbound frames, in arrival order.
type FrameHandler func(frame []byte)

// Manager owns the active connection.
type Manager struct {
	logger    *slog.Logger
	bus       *bus.Bus
	transport transport.Transport
	handler   FrameHandler

	mu     sync.Mutex
	status Status
	conn   transport.Conn

	writeMu sync.Mutex
}

// NewManager constructs a disconnected manager. handler receives every
// inbound frame; it must not block indefinitely.
func NewManager(logger *slog.Logger, b *bus.Bus, t transport.Transport, handler FrameHandler) *Manager {
	return &Manager{
		logger:    logger,
		bus:       b,
		transport: t,
		handler:   handler,
		status:    Status{Kind: Disconnected},
	}
}

// Status returns the current session status.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// setStatusLocked records and publishes a transition. Callers hold m.mu.
func (m *Manager) setStatusLocked(s Status) {
	m.status = s
	metrics.ConnectionStatus.Set(float64(s.Kind))
	m.logger.Info("session status", "status", s.Kind.String(), "peer", s.Peer, "reason", s.Reason)
	m.bus.Publish(bus.StatusChanged{
		State:  s.Kind.String(),
		Peer:   s.Peer,
		Reason: s.Reason,
		At:     time.Now().UTC(),
	})
}

// Start opens a connection to target. It is a no-op while a connection
// attempt is in flight or a session is live. A dial failure surfaces as a
// Failed status and as the returned error; it is never retried here.
func (m *Manager) Start(ctx context.Context, target string) error {
	m.mu.Lock()
	if m.status.Kind == Connecting || m.status.Kind == Connected {
		m.mu.Unlock()
		m.logger.Debug("start ignored, session already active", "status", m.status.Kind.String())
		return nil
	}
	m.setStatusLocked(Status{Kind: Connecting})
	m.mu.Unlock()

	conn, err := m.transport.Open(ctx, target)

	m.mu.Lock()
	if m.status.Kind != Connecting {
		// Stopped while dialing; discard whatever we got.
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return nil
	}
	if err != nil {
		m.setStatusLocked(Status{Kind: Failed, Reason: err.Error()})
		m.mu.Unlock()
		return fmt.Errorf("session start: %w", err)
	}

	m.conn = conn
	m.setStatusLocked(Status{Kind: Connected, Peer: conn.Peer()})
	m.mu.Unlock()

	go m.readLoop(conn)
	return nil
}

// readLoop consumes the connection's receive sequence until it ends, then
// tears the session down. One loop per connection, for its whole life.
func (m *Manager) readLoop(conn transport.Conn) {
	for frame := range conn.Receive() {
		metrics.FramesReceived.Inc()
		m.bus.Publish(bus.RawInbound{Frame: frame, At: time.Now().UTC()})
		m.handler(frame)
	}

	reason := ""
	if err := conn.Err(); err != nil {
		reason = err.Error()
		m.logger.Warn("session read loop ended", "error", err)
	}
	m.teardown(conn, reason)
}

// Stop closes the active session. Stopping an already-disconnected
// manager is a no-op: no error, no duplicate status event.
func (m *Manager) Stop() {
	m.mu.Lock()
	conn := m.conn
	if conn == nil {
		// Possibly mid-Connecting: flip to Disconnected so the pending
		// dial result gets discarded.
		if m.status.Kind == Connecting {
			m.setStatusLocked(Status{Kind: Disconnected})
		}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.teardown(conn, "")
}

// teardown closes conn and publishes Disconnected exactly once per
// session, no matter how many paths race into it.
func (m *Manager) teardown(conn transport.Conn, reason string) {
	_ = conn.Close()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn {
		// Another path already tore this session down.
		return
	}
	m.conn = nil
	_ = reason // recorded via logs; Disconnected carries no reason on the wire
	m.setStatusLocked(Status{Kind: Disconnected})
}

// Send writes one encoded frame to the peer. It is the single serialized
// writer of the channel; concurrent callers queue on the write mutex.
// Sending while disconnected fails fast with transport.ErrNotConnected.
//
// A broken write is terminal for the session: the connection is closed,
// which ends the read loop and publishes the one Disconnected transition.
func (m *Manager) Send(frame []byte) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return transport.ErrNotConnected
	}

	m.writeMu.Lock()
	err := conn.Send(frame)
	m.writeMu.Unlock()
	if err == nil {
		metrics.FramesSent.Inc()
		return nil
	}
	if !errors.Is(err, transport.ErrNotConnected) {
		m.logger.Warn("session send failed, closing connection", "error", err)
		_ = conn.Close()
	}
	return err
}
