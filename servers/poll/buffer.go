package poll

import (
	"errors"
	"fmt"
	"math"
)

// GrowthPolicy decides the next capacity of a full Buffer.
type GrowthPolicy int

const (
	// GrowDouble doubles the capacity.
	GrowDouble GrowthPolicy = iota
	// GrowChunked adds min(chunk, capacity): doubling while small, then
	// fixed increments.
	GrowChunked
)

func (p GrowthPolicy) String() string {
	switch p {
	case GrowDouble:
		return "double"
	case GrowChunked:
		return "chunked"
	}
	return fmt.Sprintf("GrowthPolicy(%d)", int(p))
}

// ParseGrowthPolicy maps a flag value to a GrowthPolicy.
func ParseGrowthPolicy(s string) (GrowthPolicy, error) {
	switch s {
	case "double", "":
		return GrowDouble, nil
	case "chunked":
		return GrowChunked, nil
	}
	return 0, fmt.Errorf("%w: unknown growth policy %q", ErrInvalidConfig, s)
}

func (p GrowthPolicy) next(old, chunk int) int {
	switch p {
	case GrowChunked:
		step := min(chunk, old)
		if old > math.MaxInt-step {
			return math.MaxInt
		}
		return old + step
	default:
		if old > math.MaxInt/2 {
			return math.MaxInt
		}
		return old * 2
	}
}

// Allocator returns a zeroed region of exactly size bytes.
type Allocator func(size int) ([]byte, error)

func makeAllocator(size int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("%w: %v", ErrGrowth, r)
		}
	}()
	return make([]byte, size), nil
}

// BufferOption configures a Buffer.
type BufferOption func(*Buffer)

// WithGrowth sets the growth policy. chunk is only used by GrowChunked.
func WithGrowth(p GrowthPolicy, chunk int) BufferOption {
	return func(b *Buffer) {
		b.policy = p
		b.chunk = chunk
	}
}

// WithAllocator replaces the allocator used for the initial region and for
// every growth.
func WithAllocator(a Allocator) BufferOption {
	return func(b *Buffer) { b.alloc = a }
}

// Buffer is an append-only receive buffer that grows up to a hard limit and
// never shrinks. Invariant: Len() <= Cap() <= Limit().
type Buffer struct {
	data   []byte // len(data) is the capacity
	n      int
	limit  int
	policy GrowthPolicy
	chunk  int
	alloc  Allocator
}

// NewBuffer allocates a buffer of initial bytes that may grow to limit.
// An initial size above the limit is clamped.
func NewBuffer(initial, limit int, opts ...BufferOption) (*Buffer, error) {
	if initial <= 0 || limit <= 0 {
		return nil, fmt.Errorf("%w: buffer sizes must be positive", ErrInvalidConfig)
	}
	b := &Buffer{
		limit:  limit,
		policy: GrowDouble,
		chunk:  DefaultGrowthChunk,
		alloc:  makeAllocator,
	}
	for _, opt := range opts {
		opt(b)
	}
	data, err := b.alloc(min(initial, limit))
	if err != nil {
		return nil, wrapGrowth(err)
	}
	b.data = data
	return b, nil
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return b.n }

// Cap returns the number of bytes allocated.
func (b *Buffer) Cap() int { return len(b.data) }

// Limit returns the hard maximum capacity.
func (b *Buffer) Limit() int { return b.limit }

// Full reports whether no free space remains before the next growth.
func (b *Buffer) Full() bool { return b.n == len(b.data) }

// AtLimit reports whether the buffer is full and cannot grow any more.
func (b *Buffer) AtLimit() bool { return b.Full() && len(b.data) >= b.limit }

// Tail returns the writable region after the written bytes. Bytes read into
// it become part of the buffer after Commit.
func (b *Buffer) Tail() []byte { return b.data[b.n:] }

// Commit marks k bytes of Tail as written.
func (b *Buffer) Commit(k int) {
	if k < 0 || b.n+k > len(b.data) {
		panic(fmt.Sprintf("poll: commit %d bytes with %d free", k, len(b.data)-b.n))
	}
	b.n += k
}

// View returns a read-only window of written bytes. The window is capped so
// appending to it cannot write into the buffer, and it is invalidated by the
// next Grow.
func (b *Buffer) View(from, to int) []byte {
	if from < 0 || to > b.n || from > to {
		panic(fmt.Sprintf("poll: view [%d:%d] of %d bytes", from, to, b.n))
	}
	return b.data[from:to:to]
}

// Grow reallocates to the next capacity of the growth policy, clamped to the
// limit. It returns ErrRequestTooLarge when the buffer is already at its
// limit and ErrGrowth when the allocator fails; in both cases the buffer is
// unchanged.
func (b *Buffer) Grow() error {
	old := len(b.data)
	if old >= b.limit {
		return ErrRequestTooLarge
	}
	size := max(min(b.policy.next(old, b.chunk), b.limit), old+1)
	data, err := b.alloc(size)
	if err != nil {
		return wrapGrowth(err)
	}
	if len(data) != size {
		return fmt.Errorf("%w: allocator returned %d bytes, want %d", ErrGrowth, len(data), size)
	}
	copy(data, b.data[:b.n])
	b.data = data
	return nil
}

// Append copies p into the buffer, growing as needed. If p does not fit
// under the limit nothing is written and ErrRequestTooLarge is returned.
func (b *Buffer) Append(p []byte) error {
	if b.n+len(p) > b.limit {
		return ErrRequestTooLarge
	}
	for len(b.data)-b.n < len(p) {
		if err := b.Grow(); err != nil {
			return err
		}
	}
	b.n += copy(b.data[b.n:], p)
	return nil
}

// Release drops the region. The buffer is empty with zero capacity
// afterwards.
func (b *Buffer) Release() {
	b.data = nil
	b.n = 0
}

func wrapGrowth(err error) error {
	if errors.Is(err, ErrGrowth) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrGrowth, err)
}
