//go:build linux || darwin

package poll

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Descriptor is the poll(2) entry of one connection: socket, interest mask
// and observed events.
type Descriptor = unix.PollFd

// Event bits of Descriptor.Events and Descriptor.Revents.
const (
	EventReadable int16 = unix.POLLIN
	EventError    int16 = unix.POLLERR
	EventHangup   int16 = unix.POLLHUP
	EventInvalid  int16 = unix.POLLNVAL
)

type sysPoller struct{}

func newSysPoller() (Poller, error) { return sysPoller{}, nil }

// Wait blocks in poll(2) for at most timeout, rounded up to whole
// milliseconds. An interrupted call reports zero events.
func (sysPoller) Wait(fds []Descriptor, timeout time.Duration) (int, error) {
	n, err := unix.Poll(fds, pollMillis(timeout))
	if err == unix.EINTR {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("poll %d descriptors: %w", len(fds), err)
	}
	return n, nil
}
