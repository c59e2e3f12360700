package poll

import (
	"errors"
	"fmt"
	"io"
	"net/netip"
)

// ConnID identifies a connection for the lifetime of a Loop.
type ConnID uint64

// Phase is the lifecycle state of a connection.
type Phase uint8

const (
	PhaseAwaitingInput Phase = iota
	PhaseClosing
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingInput:
		return "awaiting-input"
	case PhaseClosing:
		return "closing"
	case PhaseClosed:
		return "closed"
	}
	return fmt.Sprintf("Phase(%d)", uint8(p))
}

// CloseReason records why a connection left PhaseAwaitingInput.
type CloseReason uint8

const (
	ReasonNone CloseReason = iota
	ReasonEOF
	ReasonFault
	ReasonTooLarge
	ReasonGrowthFailure
	ReasonRejected
	ReasonShutdown
	numReasons
)

func (r CloseReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEOF:
		return "eof"
	case ReasonFault:
		return "fault"
	case ReasonTooLarge:
		return "too-large"
	case ReasonGrowthFailure:
		return "growth-failure"
	case ReasonRejected:
		return "rejected"
	case ReasonShutdown:
		return "shutdown"
	}
	return fmt.Sprintf("CloseReason(%d)", uint8(r))
}

// MarshalText lets CloseReason key JSON objects by name.
func (r CloseReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// Conn is the per-connection state machine:
//
//	PhaseAwaitingInput -> PhaseClosing -> PhaseClosed
//
// It owns its socket and receive buffer. Invariant:
// cursor <= buf.Len() <= buf.Cap().
type Conn struct {
	id   ConnID
	peer netip.AddrPort
	sock Socket
	buf  *Buffer
	cfg  *Config

	phase     Phase
	cursor    int
	eof       bool
	reason    CloseReason
	err       error
	delivered int64
	closeErr  error
}

// NewConn wraps an accepted socket. On error the socket is left open for
// the caller to close.
func NewConn(id ConnID, sock Socket, peer netip.AddrPort, cfg *Config, opts ...BufferOption) (*Conn, error) {
	opts = append([]BufferOption{WithGrowth(cfg.Growth, cfg.GrowthChunk)}, opts...)
	buf, err := NewBuffer(cfg.InitialBufferSize, cfg.MaxRequestSize, opts...)
	if err != nil {
		return nil, fmt.Errorf("conn %d: %w", id, err)
	}
	return &Conn{
		id:   id,
		peer: peer,
		sock: sock,
		buf:  buf,
		cfg:  cfg,
	}, nil
}

func (c *Conn) ID() ConnID { return c.id }
func (c *Conn) Peer() netip.AddrPort { return c.peer }
func (c *Conn) Phase() Phase { return c.phase }
func (c *Conn) Reason() CloseReason { return c.reason }
func (c *Conn) Fd() int { return c.sock.Fd() }
func (c *Conn) Buffered() int { return c.buf.Len() }
func (c *Conn) BufferCap() int { return c.buf.Cap() }
func (c *Conn) Delivered() int64 { return c.delivered }
func (c *Conn) EOF() bool { return c.eof }

// Err returns the read fault or handler error that ended the connection.
func (c *Conn) Err() error { return c.err }

// CloseErr returns the error of the final socket close, if any.
func (c *Conn) CloseErr() error { return c.closeErr }

// Handle processes one readiness observation and returns the resulting
// phase. PhaseClosed means the socket has been closed and the connection
// must be removed from its table.
func (c *Conn) Handle(revents int16, h Handler) Phase {
	if c.phase == PhaseClosed {
		return PhaseClosed
	}
	if revents&EventInvalid != 0 {
		c.abort(ReasonFault, errors.New("descriptor not open"))
	} else if revents&(EventReadable|EventHangup|EventError) != 0 && c.phase == PhaseAwaitingInput {
		c.fill()
	}

	c.deliver(h)

	if c.eof && c.phase == PhaseAwaitingInput {
		c.phase = PhaseClosing
	}
	if c.phase == PhaseClosing {
		c.finish(h)
	}
	return c.phase
}

// Abort forces the connection through PhaseClosing to PhaseClosed.
func (c *Conn) Abort(reason CloseReason, h Handler) Phase {
	if c.phase == PhaseClosed {
		return PhaseClosed
	}
	c.abort(reason, nil)
	c.finish(h)
	return c.phase
}

// fill reads until the socket would block or reports EOF, growing the buffer
// whenever it is full.
func (c *Conn) fill() {
	for {
		if c.buf.Full() {
			if c.buf.AtLimit() {
				c.probe()
				return
			}
			if err := c.buf.Grow(); err != nil {
				if errors.Is(err, ErrRequestTooLarge) {
					c.abort(ReasonTooLarge, err)
				} else {
					c.abort(ReasonGrowthFailure, err)
				}
				return
			}
		}

		n, err := c.sock.Read(c.buf.Tail())
		if n > 0 {
			c.buf.Commit(n)
		}
		switch {
		case errors.Is(err, ErrWouldBlock):
			return
		case errors.Is(err, io.EOF), err == nil && n == 0:
			c.markEOF(ReasonEOF, nil)
			return
		case err != nil:
			c.markEOF(ReasonFault, err)
			return
		}
	}
}

// probe runs when the buffer is full at its limit. A one byte read tells a
// peer that is done (EOF) from one that is sending more than the limit; the
// extra byte is discarded.
func (c *Conn) probe() {
	var one [1]byte
	n, err := c.sock.Read(one[:])
	switch {
	case n > 0:
		c.abort(ReasonTooLarge, ErrRequestTooLarge)
	case errors.Is(err, ErrWouldBlock):
	case err == nil, errors.Is(err, io.EOF):
		c.markEOF(ReasonEOF, nil)
	default:
		c.markEOF(ReasonFault, err)
	}
}

func (c *Conn) deliver(h Handler) {
	if h == nil || c.reason == ReasonRejected || c.cursor >= c.buf.Len() {
		return
	}
	end := c.buf.Len()
	p := c.buf.View(c.cursor, end)
	c.cursor = end
	c.delivered += int64(len(p))
	if err := h.Ingest(c.id, p); err != nil {
		c.abort(ReasonRejected, err)
	}
}

func (c *Conn) markEOF(reason CloseReason, err error) {
	c.eof = true
	c.setReason(reason, err)
}

func (c *Conn) abort(reason CloseReason, err error) {
	c.setReason(reason, err)
	if c.phase == PhaseAwaitingInput {
		c.phase = PhaseClosing
	}
}

func (c *Conn) setReason(reason CloseReason, err error) {
	if c.reason == ReasonNone {
		c.reason = reason
		c.err = err
	}
}

// finish performs the closing side effect and closes the socket.
func (c *Conn) finish(h Handler) {
	if ch, ok := h.(CompleteHandler); ok {
		ch.Complete(c.id, c.reason)
	}
	c.buf.Release()
	switch {
	case c.cfg.ClosePolicy == CloseAbrupt:
		_ = c.sock.CloseWrite()
	case c.reason != ReasonFault:
		c.writeResponse()
	}
	c.closeErr = c.sock.Close()
	c.phase = PhaseClosed
}

// writeResponse makes a best effort to send the terminal response on a
// non-blocking socket. It gives up at the first error, including
// ErrWouldBlock.
func (c *Conn) writeResponse() {
	p := c.cfg.TerminalResponse
	for len(p) > 0 {
		n, err := c.sock.Write(p)
		if err != nil || n <= 0 {
			return
		}
		p = p[n:]
	}
}
