//go:build linux || darwin

package poll

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func startLoop(t *testing.T, cfg Config, h Handler) (*Loop, string) {
	t.Helper()
	ln, err := Listen(cfg)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	l, err := NewLoop(ln, h, cfg)
	if err != nil {
		ln.Close()
		t.Fatalf("NewLoop: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		ln.Close()
	})
	return l, net.JoinHostPort("127.0.0.1", strconv.Itoa(int(ln.Addr().Port())))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func dial(t *testing.T, addr string) *net.TCPConn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	return c.(*net.TCPConn)
}

func readAll(t *testing.T, c net.Conn) []byte {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	b, err := io.ReadAll(c)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return b
}

func TestServeChunkedRequest(t *testing.T) {
	rec := newRecorder()
	l, addr := startLoop(t, testConfig(), rec)

	c := dial(t, addr)
	defer c.Close()
	request := "GET / HTTP/1.1\r\n\r\n"
	for _, part := range []string{request[:6], request[6:12], request[12:]} {
		if _, err := c.Write([]byte(part)); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(time.Millisecond)
	}
	if err := c.CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}

	if got := string(readAll(t, c)); got != string(DefaultTerminalResponse) {
		t.Fatalf("response %q", got)
	}
	waitFor(t, "connection reaped", func() bool { return l.Stats().Closed[ReasonEOF] == 1 })
	if got := string(rec.bytes(1)); got != request {
		t.Fatalf("ingested %q, want %q", got, request)
	}
	if reasons := rec.completeReasons(1); len(reasons) != 1 || reasons[0] != ReasonEOF {
		t.Fatalf("complete reasons %v", reasons)
	}
}

func TestServeHalfCloseWithoutBytes(t *testing.T) {
	rec := newRecorder()
	l, addr := startLoop(t, testConfig(), rec)

	c := dial(t, addr)
	defer c.Close()
	if err := c.CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}
	if got := string(readAll(t, c)); got != string(DefaultTerminalResponse) {
		t.Fatalf("response %q", got)
	}
	waitFor(t, "connection reaped", func() bool { return l.Stats().TotalClosed() == 1 })
	if n := rec.callCount(1); n != 0 {
		t.Fatalf("ingest called %d times", n)
	}
}

func TestServeManyClients(t *testing.T) {
	const clients = 600
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rl); err != nil || rl.Cur < 2*clients+100 {
		t.Skipf("descriptor limit too low for %d clients", clients)
	}

	cfg := testConfig()
	cfg.Backlog = 1024
	rec := newRecorder()
	l, addr := startLoop(t, cfg, rec)

	conns := make([]*net.TCPConn, clients)
	want := make(map[uint16]byte, clients)
	for i := range conns {
		c := dial(t, addr)
		defer c.Close()
		conns[i] = c
		want[uint16(c.LocalAddr().(*net.TCPAddr).Port)] = byte(i)
		if _, err := c.Write([]byte{byte(i)}); err != nil {
			t.Fatalf("client %d write: %v", i, err)
		}
	}

	waitFor(t, "all clients tracked", func() bool { return l.Stats().Live == clients })
	waitFor(t, "all bytes ingested", func() bool { return l.Stats().BytesIngested == clients })

	for i, c := range conns {
		if err := c.CloseWrite(); err != nil {
			t.Fatalf("client %d close write: %v", i, err)
		}
	}
	waitFor(t, "all clients closed", func() bool { return l.Stats().Closed[ReasonEOF] == clients })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.peers) != clients {
		t.Fatalf("opened %d connections, want %d", len(rec.peers), clients)
	}
	for id, peer := range rec.peers {
		b, ok := want[peer.Port()]
		if !ok {
			t.Fatalf("conn %d from unknown peer %s", id, peer)
		}
		if got := rec.data[id]; len(got) != 1 || got[0] != b {
			t.Fatalf("conn %d from %s ingested %v, want [%d]", id, peer, got, b)
		}
	}
}

func TestServeRequestTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRequestSize = 4096
	rec := newRecorder()
	l, addr := startLoop(t, cfg, rec)

	c := dial(t, addr)
	defer c.Close()
	// The server may reset the connection while the tail is in flight.
	_, _ = c.Write(pattern(10000))

	waitFor(t, "too-large close", func() bool { return l.Stats().Closed[ReasonTooLarge] == 1 })
	if got := rec.bytes(1); len(got) > cfg.MaxRequestSize {
		t.Fatalf("ingested %d bytes past the %d byte limit", len(got), cfg.MaxRequestSize)
	}
}

func TestServeAbruptClose(t *testing.T) {
	cfg := testConfig()
	cfg.ClosePolicy = CloseAbrupt
	l, addr := startLoop(t, cfg, newRecorder())

	c := dial(t, addr)
	defer c.Close()
	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.CloseWrite(); err != nil {
		t.Fatalf("close write: %v", err)
	}
	if got := readAll(t, c); len(got) != 0 {
		t.Fatalf("abrupt close sent %q", got)
	}
	waitFor(t, "connection reaped", func() bool { return l.Stats().Closed[ReasonEOF] == 1 })
}

func TestListenPortInUse(t *testing.T) {
	first, err := Listen(testConfig())
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer first.Close()

	cfg := testConfig()
	cfg.Port = int(first.Addr().Port())
	second, err := Listen(cfg)
	if err == nil {
		second.Close()
		t.Fatal("second Listen on the same port succeeded")
	}
	var bindErr *BindError
	if !errors.As(err, &bindErr) || bindErr.Port != cfg.Port {
		t.Fatalf("expected *BindError for port %d, got %v", cfg.Port, err)
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		t.Fatalf("expected EADDRINUSE, got %v", err)
	}
}
