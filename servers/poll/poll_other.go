//go:build !linux && !darwin

package poll

import (
	"errors"
	"net/netip"
)

var errUnsupported = errors.New("poll servers are only supported on Linux and macOS")

// Descriptor mirrors the poll(2) entry layout on unsupported platforms so the
// portable parts of the package still build.
type Descriptor struct {
	Fd      int32
	Events  int16
	Revents int16
}

const (
	EventReadable int16 = 0x1
	EventError    int16 = 0x8
	EventHangup   int16 = 0x10
	EventInvalid  int16 = 0x20
)

func newSysPoller() (Poller, error) { return nil, errUnsupported }

// Listener is unavailable on this platform.
type Listener struct{}

// Listen always fails with a *BindError on this platform.
func Listen(cfg Config) (*Listener, error) {
	return nil, &BindError{Port: cfg.Port, Op: "socket", Err: errUnsupported}
}

func (l *Listener) Addr() netip.AddrPort { return netip.AddrPort{} }

func (l *Listener) Fd() int { return -1 }

func (l *Listener) AcceptAll(dst []Accepted) ([]Accepted, error) { return dst, errUnsupported }

func (l *Listener) Close() error { return errUnsupported }
