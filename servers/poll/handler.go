package poll

import "net/netip"

// Handler consumes request bytes as they arrive. Ingest is called once per
// newly available contiguous range; p is only valid during the call. A
// non-nil error closes the connection with ReasonRejected.
type Handler interface {
	Ingest(id ConnID, p []byte) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(id ConnID, p []byte) error

// Ingest calls f(id, p).
func (f HandlerFunc) Ingest(id ConnID, p []byte) error { return f(id, p) }

// OpenHandler is implemented by handlers that want to know about new
// connections before their first bytes.
type OpenHandler interface {
	Open(id ConnID, peer netip.AddrPort)
}

// CompleteHandler is implemented by handlers that want the end-of-request
// signal. Complete runs once, when the connection stops accepting input and
// before its socket is closed.
type CompleteHandler interface {
	Complete(id ConnID, reason CloseReason)
}
