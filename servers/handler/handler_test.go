package handler

import (
	"bytes"
	"errors"
	"net/netip"
	"strings"
	"testing"

	"github.com/fatih/color"

	"github.com/goceleris/pollmux/servers/poll"
)

func TestPrinter(t *testing.T) {
	color.NoColor = true
	var out bytes.Buffer
	p := NewPrinter(&out)

	p.Open(7, netip.MustParseAddrPort("127.0.0.1:4000"))
	for _, part := range []string{"GET / ", "HTTP/1.1\r\n\r\n"} {
		if err := p.Ingest(7, []byte(part)); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}

	want := "--- #7 127.0.0.1:4000\nGET / HTTP/1.1\r\n\r\n"
	if out.String() != want {
		t.Fatalf("printed %q, want %q", out.String(), want)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestPrinterWriteFailureRejects(t *testing.T) {
	if err := NewPrinter(failingWriter{}).Ingest(1, []byte("x")); err == nil {
		t.Fatal("expected write error")
	}
}

func TestRequestGate(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		wantErr error
	}{
		{"whole request", []string{"GET / HTTP/1.1\r\nHost: x\r\n\r\n"}, nil},
		{"split across crlf", []string{"POST /a HTTP/1.0\r", "\n", "\r\n"}, nil},
		{"byte at a time", strings.Split("GET /x HTTP/1.1\r\n\r\n", ""), nil},
		{"body after headers ignored", []string{"PUT / HTTP/1.1\r\n\r\n", strings.Repeat("z", 100)}, nil},
		{"lowercase method", []string{"get / HTTP/1.1\r\n"}, ErrBadRequestLine},
		{"missing version", []string{"GET /\r\n"}, ErrBadRequestLine},
		{"bad version", []string{"GET / HTTP/one\r\n"}, ErrBadRequestLine},
		{"extra space", []string{"GET  / HTTP/1.1\r\n"}, ErrBadRequestLine},
		{"empty line", []string{"\r\n\r\n"}, ErrBadRequestLine},
		{"headers too large", []string{"GET / HTTP/1.1\r\n", strings.Repeat("h", 64)}, ErrHeaderTooLarge},
		{"no line end within limit", []string{strings.Repeat("G", 65)}, ErrHeaderTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewRequestGate(64)
			g.Open(1, netip.AddrPort{})
			var err error
			for _, c := range tt.chunks {
				if err = g.Ingest(1, []byte(c)); err != nil {
					break
				}
			}
			if tt.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRequestGateForgetsOnComplete(t *testing.T) {
	g := NewRequestGate(0)
	g.Open(1, netip.AddrPort{})
	_ = g.Ingest(2, []byte("GET"))
	if g.Tracked() != 2 {
		t.Fatalf("tracked %d, want 2", g.Tracked())
	}
	g.Complete(1, poll.ReasonEOF)
	g.Complete(2, poll.ReasonRejected)
	if g.Tracked() != 0 {
		t.Fatalf("tracked %d after complete", g.Tracked())
	}
}

type countingHandler struct {
	opens, ingests, completes int
	err                       error
}

func (h *countingHandler) Open(poll.ConnID, netip.AddrPort) { h.opens++ }

func (h *countingHandler) Ingest(poll.ConnID, []byte) error {
	h.ingests++
	return h.err
}

func (h *countingHandler) Complete(poll.ConnID, poll.CloseReason) { h.completes++ }

func TestChainStopsAtFirstError(t *testing.T) {
	failing := &countingHandler{err: errors.New("no")}
	after := &countingHandler{}
	plain := poll.HandlerFunc(func(poll.ConnID, []byte) error { return nil })
	c := Chain{plain, failing, after}

	c.Open(1, netip.AddrPort{})
	if err := c.Ingest(1, []byte("x")); err == nil {
		t.Fatal("expected error from chain")
	}
	c.Complete(1, poll.ReasonRejected)

	if failing.opens != 1 || after.opens != 1 {
		t.Fatalf("opens %d,%d", failing.opens, after.opens)
	}
	if after.ingests != 0 {
		t.Fatalf("handler after the failing one ingested %d times", after.ingests)
	}
	if failing.completes != 1 || after.completes != 1 {
		t.Fatalf("completes %d,%d", failing.completes, after.completes)
	}
}
