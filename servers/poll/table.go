package poll

import "fmt"

const initialTableSize = 512

// Table keeps live connections and their poll descriptors in two dense,
// index-aligned slices sharing one length: conns[i] and descs[i] always
// describe the same connection. RemoveAt moves the last entry into the
// freed slot, so indices held outside the table are invalidated by removal.
type Table struct {
	conns []*Conn
	descs []Descriptor
	n     int
	limit int
}

// NewTable returns an empty table. limit bounds the number of simultaneous
// connections; 0 means unbounded.
func NewTable(limit int) *Table {
	size := initialTableSize
	if limit > 0 && limit < size {
		size = limit
	}
	return &Table{
		conns: make([]*Conn, 0, size),
		descs: make([]Descriptor, 0, size),
		limit: limit,
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int { return t.n }

// Full reports whether a bounded table has reached its limit.
func (t *Table) Full() bool { return t.limit > 0 && t.n >= t.limit }

// Insert appends a connection and its descriptor.
func (t *Table) Insert(c *Conn, d Descriptor) error {
	if t.Full() {
		return fmt.Errorf("%w: %d connections", ErrTableFull, t.limit)
	}
	t.conns = append(t.conns[:t.n], c)
	t.descs = append(t.descs[:t.n], d)
	t.n++
	return nil
}

// At returns the entry at index i. The descriptor pointer stays valid until
// the next Insert or RemoveAt.
func (t *Table) At(i int) (*Conn, *Descriptor) {
	t.check(i)
	return t.conns[i], &t.descs[i]
}

// RemoveAt removes index i in O(1) by relocating the last entry into slot i.
// Callers iterating forward must examine index i again afterwards.
func (t *Table) RemoveAt(i int) *Conn {
	t.check(i)
	last := t.n - 1
	removed := t.conns[i]
	if i != last {
		t.conns[i] = t.conns[last]
		t.descs[i] = t.descs[last]
	}
	t.conns[last] = nil
	t.descs[last] = Descriptor{}
	t.conns = t.conns[:last]
	t.descs = t.descs[:last]
	t.n = last
	return removed
}

// Descriptors returns the live descriptors for the poll call. The poller
// writes observed events into this slice in place.
func (t *Table) Descriptors() []Descriptor { return t.descs[:t.n] }

func (t *Table) check(i int) {
	if i < 0 || i >= t.n {
		panic(fmt.Sprintf("poll: table index %d out of range [0,%d)", i, t.n))
	}
}
