package transport

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"companiond/internal/protocol"
)

// wsEcho is a test peer: it records every reassembled frame it receives
// and can push frames (chunked or not) back to the client.
type wsEcho struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	conn *websocket.Conn
	got  [][]byte
}

func (e *wsEcho) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()

	var ra protocol.Reassembler
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, done, err := ra.Add(msg)
		if err != nil || !done {
			continue
		}
		e.mu.Lock()
		e.got = append(e.got, append([]byte(nil), frame...))
		e.mu.Unlock()
	}
}

func (e *wsEcho) received() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]byte(nil), e.got...)
}

func (e *wsEcho) push(t *testing.T, msgs [][]byte) {
	t.Helper()
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		t.Fatalf("no server connection yet")
	}
	for _, msg := range msgs {
		if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.Fatalf("server push: %v", err)
		}
	}
}

func startWSPeer(t *testing.T) (*wsEcho, string) {
	t.Helper()
	echo := &wsEcho{}
	srv := httptest.NewServer(http.HandlerFunc(echo.handler))
	t.Cleanup(srv.Close)
	return echo, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSTransport_SmallFrameSingleMessage(t *testing.T) {
	echo, url := startWSPeer(t)

	tr := &WSTransport{Logger: slog.Default(), MaxPayload: 512}
	conn, err := tr.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	frame := []byte(`{"type":"stateUpdate","is_playing":true}` + "\n")
	if err := conn.Send(frame); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := echo.received(); len(got) == 1 {
			if !bytes.Equal(got[0], frame) {
				t.Fatalf("peer got %q, want %q", got[0], frame)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for peer to receive frame")
}

func TestWSTransport_LargeFrameChunkedAndReassembled(t *testing.T) {
	echo, url := startWSPeer(t)

	tr := &WSTransport{Logger: slog.Default(), MaxPayload: 128}
	conn, err := tr.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	// Well over the 128-byte payload limit.
	big := []byte(`{"type":"stateUpdate","track":"` + strings.Repeat("x", 600) + `"}` + "\n")
	if err := conn.Send(big); err != nil {
		t.Fatalf("send: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if got := echo.received(); len(got) == 1 {
			if !bytes.Equal(got[0], big) {
				t.Fatalf("reassembled frame differs from original")
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for reassembled frame")
}

func TestWSTransport_ReceivesChunkedInbound(t *testing.T) {
	echo, url := startWSPeer(t)

	tr := &WSTransport{Logger: slog.Default(), MaxPayload: 128}
	conn, err := tr.Open(context.Background(), url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	// Prompt the server to latch its connection.
	if err := conn.Send([]byte(`{"command":"request_state"}` + "\n")); err != nil {
		t.Fatalf("send: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(echo.received()) == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	payload := []byte(`{"command":"play","payload":{"note":"` + strings.Repeat("y", 500) + `"}}` + "\n")
	msgs, err := protocol.SplitFrame(42, payload, 128)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(msgs) < 2 {
		t.Fatalf("test expects a chunked frame, got %d message(s)", len(msgs))
	}
	echo.push(t, msgs)

	select {
	case frame := <-conn.Receive():
		want := bytes.TrimRight(payload, "\n")
		if !bytes.Equal(frame, want) {
			t.Fatalf("received frame differs from pushed payload")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for reassembled inbound frame")
	}
}

func TestWSTransport_DialFailure(t *testing.T) {
	tr := &WSTransport{Logger: slog.Default(), HandshakeTimeout: 200 * time.Millisecond}
	if _, err := tr.Open(context.Background(), "ws://127.0.0.1:1/nope"); err == nil {
		t.Fatalf("expected dial failure")
	}
}
