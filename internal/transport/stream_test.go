package transport

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"
)

func TestSplitTarget(t *testing.T) {
	cases := []struct {
		target  string
		network string
		address string
		wantErr bool
	}{
		{"tcp://127.0.0.1:8765", "tcp", "127.0.0.1:8765", false},
		{"unix:///run/peer.sock", "unix", "/run/peer.sock", false},
		{"127.0.0.1:8765", "tcp", "127.0.0.1:8765", false},
		{"udp://127.0.0.1:9", "", "", true},
		{"", "", "", true},
	}

	for _, tc := range cases {
		network, address, err := splitTarget(tc.target)
		if tc.wantErr {
			if err == nil {
				t.Errorf("splitTarget(%q) expected error", tc.target)
			}
			continue
		}
		if err != nil {
			t.Errorf("splitTarget(%q) failed: %v", tc.target, err)
			continue
		}
		if network != tc.network || address != tc.address {
			t.Errorf("splitTarget(%q) = (%q, %q), want (%q, %q)",
				tc.target, network, address, tc.network, tc.address)
		}
	}
}

// startLineServer accepts one connection and returns it to the test.
func startLineServer(t *testing.T) (net.Listener, <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()
	return ln, accepted
}

func TestStreamTransport_ReceiveSplitsLines(t *testing.T) {
	ln, accepted := startLineServer(t)

	tr := &StreamTransport{Logger: slog.Default()}
	conn, err := tr.Open(context.Background(), "tcp://"+ln.Addr().String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	peer := <-accepted
	defer peer.Close()

	// Two frames in one write, plus a partial that never completes.
	if _, err := peer.Write([]byte(`{"command":"play"}` + "\n" + `{"command":"pause"}` + "\n" + `{"comm`)); err != nil {
		t.Fatalf("peer write: %v", err)
	}

	want := []string{`{"command":"play"}`, `{"command":"pause"}`}
	for _, w := range want {
		select {
		case frame := <-conn.Receive():
			if string(frame) != w {
				t.Fatalf("frame = %q, want %q", frame, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for frame %q", w)
		}
	}

	// Peer drops mid-line: the partial frame is discarded and the channel
	// closes with no error (EOF is a clean end).
	peer.Close()
	select {
	case frame, ok := <-conn.Receive():
		if ok {
			t.Fatalf("unexpected frame after close: %q", frame)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for channel close")
	}
	if err := conn.Err(); err != nil {
		t.Fatalf("clean peer close should leave no error, got %v", err)
	}
}

func TestStreamTransport_SendReachesPeer(t *testing.T) {
	ln, accepted := startLineServer(t)

	tr := &StreamTransport{Logger: slog.Default()}
	conn, err := tr.Open(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()

	peer := <-accepted
	defer peer.Close()

	if err := conn.Send([]byte(`{"type":"stateUpdate"}` + "\n")); err != nil {
		t.Fatalf("send: %v", err)
	}

	peer.SetReadDeadline(time.Now().Add(time.Second))
	line, err := bufio.NewReader(peer).ReadString('\n')
	if err != nil {
		t.Fatalf("peer read: %v", err)
	}
	if line != `{"type":"stateUpdate"}`+"\n" {
		t.Fatalf("peer got %q", line)
	}
}

func TestStreamTransport_SendAfterCloseFailsFast(t *testing.T) {
	ln, accepted := startLineServer(t)

	tr := &StreamTransport{Logger: slog.Default()}
	conn, err := tr.Open(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	peer := <-accepted
	defer peer.Close()

	conn.Close()
	if err := conn.Send([]byte("x\n")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("send after close = %v, want ErrNotConnected", err)
	}
}

func TestStreamTransport_LocalCloseEndsCleanly(t *testing.T) {
	ln, accepted := startLineServer(t)

	tr := &StreamTransport{Logger: slog.Default()}
	conn, err := tr.Open(context.Background(), ln.Addr().String())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	peer := <-accepted
	defer peer.Close()

	conn.Close()

	select {
	case _, ok := <-conn.Receive():
		if ok {
			t.Fatalf("unexpected frame after local close")
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for channel close")
	}
	if err := conn.Err(); err != nil {
		t.Fatalf("local close should be clean, got %v", err)
	}
}

func TestStreamTransport_DialFailure(t *testing.T) {
	tr := &StreamTransport{Logger: slog.Default()}

	// A listener that is immediately closed leaves a port nothing accepts on.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := tr.Open(context.Background(), addr); err == nil {
		t.Fatalf("expected dial failure")
	}
}
