package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"companiond/internal/protocol"
)

// WSTransport dials a websocket peer ("ws://host:port/path"). The channel
// carries discrete messages; frames above MaxPayload are split into
// numbered chunks and reassembled on receive.
type WSTransport struct {
	Logger *slog.Logger

	// MaxPayload is the largest single message to send; zero gets
	// protocol.DefaultMaxPayload.
	MaxPayload int

	// HandshakeTimeout bounds the dial; zero gets 2s.
	HandshakeTimeout time.Duration

	// RecvBuf is the receive channel capacity; zero gets a default.
	RecvBuf int
}

// Open dials the target and starts the receive loop.
func (t *WSTransport) Open(ctx context.Context, target string) (Conn, error) {
	timeout := t.HandshakeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := websocket.Dialer{HandshakeTimeout: timeout}

	wc, _, err := d.DialContext(ctx, target, nil)
	if err != nil {
		return nil, fmt.Errorf("open ws transport: %w", err)
	}

	maxPayload := t.MaxPayload
	if maxPayload <= 0 {
		maxPayload = protocol.DefaultMaxPayload
	}
	recvBuf := t.RecvBuf
	if recvBuf <= 0 {
		recvBuf = 64
	}

	c := &wsConn{
		wc:         wc,
		peer:       target,
		maxPayload: maxPayload,
		frames:     make(chan []byte, recvBuf),
		logger:     t.Logger,
	}
	go c.readLoop()
	return c, nil
}

type wsConn struct {
	wc         *websocket.Conn
	peer       string
	maxPayload int
	frames     chan []byte
	logger     *slog.Logger

	writeMu sync.Mutex
	seq     uint32

	mu     sync.Mutex
	closed bool
	err    error

	closeOnce sync.Once
}

func (c *wsConn) Peer() string { return c.peer }

func (c *wsConn) Receive() <-chan []byte { return c.frames }

func (c *wsConn) readLoop() {
	var ra protocol.Reassembler
	for {
		_, msg, err := c.wc.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}

		frame, done, err := ra.Add(msg)
		if err != nil {
			// A corrupt chunk poisons one logical message, not the link.
			if c.logger != nil {
				c.logger.Warn("ws chunk reassembly failed", "error", err)
			}
			continue
		}
		if !done {
			continue
		}
		c.frames <- bytes.TrimRight(frame, "\r\n")
	}
}

func (c *wsConn) finish(err error) {
	c.mu.Lock()
	switch {
	case c.closed,
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, net.ErrClosed):
		c.err = nil
	default:
		c.err = err
	}
	c.closed = true
	c.mu.Unlock()
	close(c.frames)
}

func (c *wsConn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *wsConn) Send(frame []byte) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.seq++
	msgs, err := protocol.SplitFrame(c.seq, frame, c.maxPayload)
	if err != nil {
		return fmt.Errorf("ws send: %w", err)
	}
	for _, msg := range msgs {
		if err := c.wc.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent) {
				return ErrNotConnected
			}
			return fmt.Errorf("ws send: %w", err)
		}
	}
	return nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		_ = c.wc.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = c.wc.Close()
	})
	return nil
}
