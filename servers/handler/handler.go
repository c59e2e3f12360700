// Package handler provides request-byte consumers for the poll server.
package handler

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/fatih/color"

	"github.com/goceleris/pollmux/servers/poll"
)

// DefaultHeaderLimit is the RequestGate header limit used by cmd/server.
const DefaultHeaderLimit = 8192

var (
	// ErrBadRequestLine rejects a connection whose first line is not
	// "METHOD SP target SP HTTP/x.y".
	ErrBadRequestLine = errors.New("malformed request line")

	// ErrHeaderTooLarge rejects a connection whose header section runs past
	// the gate limit.
	ErrHeaderTooLarge = errors.New("request header too large")
)

var (
	crlf     = []byte("\r\n")
	crlfcrlf = []byte("\r\n\r\n")
)

// Printer copies every ingested range to w, announcing each connection on
// open.
type Printer struct {
	w io.Writer
}

// NewPrinter returns a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) Open(id poll.ConnID, peer netip.AddrPort) {
	fmt.Fprintln(p.w, color.CyanString("--- #%d %s", id, peer))
}

func (p *Printer) Ingest(id poll.ConnID, b []byte) error {
	if _, err := p.w.Write(b); err != nil {
		return fmt.Errorf("print conn %d: %w", id, err)
	}
	return nil
}

type gateState struct {
	head      []byte
	lineValid bool
	done      bool
}

// RequestGate accumulates each connection's header section and rejects the
// connection as soon as its request line is malformed or the header section
// grows past the limit. Bytes after the blank line are not inspected.
type RequestGate struct {
	limit int
	conns map[poll.ConnID]*gateState
}

// NewRequestGate returns a gate with the given header limit in bytes.
// limit <= 0 selects DefaultHeaderLimit.
func NewRequestGate(limit int) *RequestGate {
	if limit <= 0 {
		limit = DefaultHeaderLimit
	}
	return &RequestGate{
		limit: limit,
		conns: make(map[poll.ConnID]*gateState),
	}
}

func (g *RequestGate) Open(id poll.ConnID, _ netip.AddrPort) {
	g.conns[id] = &gateState{}
}

func (g *RequestGate) Ingest(id poll.ConnID, p []byte) error {
	st := g.conns[id]
	if st == nil {
		st = &gateState{}
		g.conns[id] = st
	}
	if st.done {
		return nil
	}
	st.head = append(st.head, p...)

	if !st.lineValid {
		if i := bytes.Index(st.head, crlf); i >= 0 {
			if err := checkRequestLine(st.head[:i]); err != nil {
				return fmt.Errorf("conn %d: %w", id, err)
			}
			st.lineValid = true
		}
	}
	if i := bytes.Index(st.head, crlfcrlf); i >= 0 && i+len(crlfcrlf) <= g.limit {
		st.done = true
		st.head = nil
		return nil
	}
	if len(st.head) > g.limit {
		return fmt.Errorf("conn %d: %w: over %d bytes", id, ErrHeaderTooLarge, g.limit)
	}
	return nil
}

func (g *RequestGate) Complete(id poll.ConnID, _ poll.CloseReason) {
	delete(g.conns, id)
}

// Tracked returns the number of connections the gate holds state for.
func (g *RequestGate) Tracked() int { return len(g.conns) }

// checkRequestLine validates "METHOD SP target SP HTTP/d.d".
func checkRequestLine(line []byte) error {
	parts := bytes.Split(line, []byte(" "))
	if len(parts) != 3 {
		return fmt.Errorf("%w: %q", ErrBadRequestLine, line)
	}
	method, target, version := parts[0], parts[1], parts[2]
	if len(method) == 0 || len(target) == 0 {
		return fmt.Errorf("%w: %q", ErrBadRequestLine, line)
	}
	for _, c := range method {
		if c < 'A' || c > 'Z' {
			return fmt.Errorf("%w: method %q", ErrBadRequestLine, method)
		}
	}
	if len(version) != len("HTTP/1.1") || !bytes.HasPrefix(version, []byte("HTTP/")) ||
		!isDigit(version[5]) || version[6] != '.' || !isDigit(version[7]) {
		return fmt.Errorf("%w: version %q", ErrBadRequestLine, version)
	}
	return nil
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// Chain passes every event to each handler in order. Ingest stops at the
// first error, which is returned.
type Chain []poll.Handler

func (c Chain) Open(id poll.ConnID, peer netip.AddrPort) {
	for _, h := range c {
		if oh, ok := h.(poll.OpenHandler); ok {
			oh.Open(id, peer)
		}
	}
}

func (c Chain) Ingest(id poll.ConnID, p []byte) error {
	for _, h := range c {
		if err := h.Ingest(id, p); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) Complete(id poll.ConnID, reason poll.CloseReason) {
	for _, h := range c {
		if ch, ok := h.(poll.CompleteHandler); ok {
			ch.Complete(id, reason)
		}
	}
}
