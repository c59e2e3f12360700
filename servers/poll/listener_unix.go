//go:build linux || darwin

package poll

import (
	"errors"
	"net/netip"

	"golang.org/x/sys/unix"
)

// maxAcceptFaults bounds how many failed accepts one drain tolerates before
// yielding to the poll step.
const maxAcceptFaults = 16

// Listener owns the non-blocking IPv4 listening socket.
type Listener struct {
	fd   int
	addr netip.AddrPort
}

// Listen creates, binds and marks non-blocking a TCP socket on cfg.Port
// (all interfaces). Port 0 picks a free port; see Addr. Every failure is a
// *BindError.
func Listen(cfg Config) (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, &BindError{Port: cfg.Port, Op: "socket", Err: err}
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (*Listener, error) {
		_ = unix.Close(fd)
		return nil, &BindError{Port: cfg.Port, Op: op, Err: err}
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fail("setsockopt", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrInet4{Port: cfg.Port}); err != nil {
		return fail("bind", err)
	}
	backlog := cfg.Backlog
	if backlog <= 0 {
		backlog = DefaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return &Listener{fd: fd, addr: addrPort(sa)}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() netip.AddrPort { return l.addr }

// Fd returns the listening descriptor.
func (l *Listener) Fd() int { return l.fd }

// AcceptAll drains the accept queue until it would block, appending each
// connection to dst. Accepted descriptors are non-blocking and
// close-on-exec. Failed attempts are reported as joined *AcceptError values;
// a descriptor that could not be prepared is closed.
func (l *Listener) AcceptAll(dst []Accepted) ([]Accepted, error) {
	var errs []error
	for faults := 0; faults < maxAcceptFaults; {
		nfd, sa, err := unix.Accept(l.fd)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return dst, errors.Join(errs...)
			case unix.EINTR:
				continue
			case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
				// The pending connection stays queued; retrying now would spin.
				errs = append(errs, &AcceptError{Op: "accept", Err: err})
				return dst, errors.Join(errs...)
			}
			errs = append(errs, &AcceptError{Op: "accept", Err: err})
			faults++
			continue
		}

		unix.CloseOnExec(nfd)
		if err := unix.SetNonblock(nfd, true); err != nil {
			_ = unix.Close(nfd)
			errs = append(errs, &AcceptError{Op: "set nonblock", Err: err})
			faults++
			continue
		}
		dst = append(dst, Accepted{Sock: newFDSocket(nfd), Peer: addrPort(sa)})
	}
	return dst, errors.Join(errs...)
}

// Close closes the listening socket.
func (l *Listener) Close() error {
	return unix.Close(l.fd)
}

func addrPort(sa unix.Sockaddr) netip.AddrPort {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(a.Addr), uint16(a.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(a.Addr).Unmap(), uint16(a.Port))
	}
	return netip.AddrPort{}
}
