package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"companiond/internal/protocol"
)

// StreamTransport dials a byte-pipe peer. Targets look like
// "tcp://host:port", "unix:///run/peer.sock", or a bare "host:port"
// (treated as tcp).
type StreamTransport struct {
	Logger *slog.Logger

	// RecvBuf is the receive channel capacity; zero gets a default.
	RecvBuf int
}

func splitTarget(target string) (network, address string, err error) {
	if target == "" {
		return "", "", errors.New("empty target")
	}
	if network, address, ok := strings.Cut(target, "://"); ok {
		switch network {
		case "tcp", "unix":
			return network, address, nil
		default:
			return "", "", fmt.Errorf("unsupported scheme %q", network)
		}
	}
	return "tcp", target, nil
}

// Open dials the target and starts the receive loop.
func (t *StreamTransport) Open(ctx context.Context, target string) (Conn, error) {
	network, address, err := splitTarget(target)
	if err != nil {
		return nil, fmt.Errorf("open stream transport: %w", err)
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("open stream transport: %w", err)
	}

	recvBuf := t.RecvBuf
	if recvBuf <= 0 {
		recvBuf = 64
	}

	c := &streamConn{
		nc:     nc,
		peer:   address,
		frames: make(chan []byte, recvBuf),
		logger: t.Logger,
	}
	go c.readLoop()
	return c, nil
}

type streamConn struct {
	nc     net.Conn
	peer   string
	frames chan []byte
	logger *slog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	closed bool
	err    error

	closeOnce sync.Once
}

func (c *streamConn) Peer() string { return c.peer }

func (c *streamConn) Receive() <-chan []byte { return c.frames }

func (c *streamConn) readLoop() {
	dec := protocol.NewLineDecoder(c.nc)
	for {
		frame, err := dec.Next()
		if err != nil {
			c.finish(err)
			return
		}
		c.frames <- frame
	}
}

// finish records the terminal read error and closes the frame channel.
// A local Close surfaces as a clean end, same as a peer EOF.
func (c *streamConn) finish(err error) {
	c.mu.Lock()
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || c.closed {
		c.err = nil
	} else {
		c.err = err
	}
	c.closed = true
	c.mu.Unlock()
	close(c.frames)
}

func (c *streamConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *streamConn) Send(frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.nc.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrNotConnected
		}
		return fmt.Errorf("stream send: %w", err)
	}
	return nil
}

func (c *streamConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.nc.Close()
	})
	return nil
}
