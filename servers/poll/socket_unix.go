//go:build linux || darwin

package poll

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fdSocket is a raw non-blocking socket descriptor.
type fdSocket struct {
	fd     int
	closed bool
}

func newFDSocket(fd int) *fdSocket { return &fdSocket{fd: fd} }

func (s *fdSocket) Fd() int { return s.fd }

func (s *fdSocket) Read(p []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		case n == 0 && len(p) > 0:
			return 0, io.EOF
		}
		return n, nil
	}
}

func (s *fdSocket) Write(p []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return 0, ErrWouldBlock
		case err != nil:
			return 0, err
		}
		return n, nil
	}
}

func (s *fdSocket) CloseWrite() error {
	if s.closed {
		return os.ErrClosed
	}
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close releases the descriptor. Only the first call reaches close(2).
func (s *fdSocket) Close() error {
	if s.closed {
		return os.ErrClosed
	}
	s.closed = true
	return unix.Close(s.fd)
}
