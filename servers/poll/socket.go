package poll

import "net/netip"

// Socket is a connected non-blocking stream socket. It is owned by exactly
// one Conn, which closes it exactly once.
//
// Read returns ErrWouldBlock when nothing is pending and io.EOF when the
// peer has shut down its write side.
type Socket interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	CloseWrite() error
	Close() error
	Fd() int
}

// Accepted is one connection produced by an Acceptor.
type Accepted struct {
	Sock Socket
	Peer netip.AddrPort
}

// Acceptor drains pending connections without blocking. Errors for
// individual attempts are returned joined; they never stop the drain early
// unless retrying immediately would spin.
type Acceptor interface {
	AcceptAll(dst []Accepted) ([]Accepted, error)
}
