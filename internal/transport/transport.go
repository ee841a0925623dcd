package transport

import (
	"context"
	"errors"
)

// ============================================================================
// Transport adapter - the physical link boundary
// ============================================================================
//
// A Transport opens one duplex channel to a peer. Two shapes exist:
//   - stream: a continuous byte pipe (TCP / unix socket), framed by the
//     newline codec inside the adapter's receive loop
//   - message: discrete pre-chunked messages (websocket) with a maximum
//     payload size, reassembled above it
//
// Either way the engine sees the same Conn surface: whole frames out of
// Receive, whole frames into Send.
// ============================================================================

// ErrNotConnected is returned by Send after the channel has gone away.
// Sends never block waiting for a future connection.
var ErrNotConnected = errors.New("transport: not connected")

// Conn is one established channel. Receive yields complete frames (newline
// stripped, chunks reassembled) until the link drops, then closes; Err then
// reports the terminal error, nil for a clean close. Close is idempotent.
type Conn interface {
	Send(frame []byte) error
	Receive() <-chan []byte
	Err() error
	Close() error
	Peer() string
}

// Transport establishes connections. Open blocks until the channel is up
// or ctx is done; it never retries on its own.
type Transport interface {
	Open(ctx context.Context, target string) (Conn, error)
}
