package poll

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Poller waits for readiness on a set of descriptors, writing observed
// events into each Revents field. It returns the number of descriptors with
// events.
type Poller interface {
	Wait(fds []Descriptor, timeout time.Duration) (int, error)
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithPoller replaces the poll(2) poller.
func WithPoller(p Poller) LoopOption {
	return func(l *Loop) { l.poller = p }
}

// WithBufferOptions applies opts to every connection's receive buffer.
func WithBufferOptions(opts ...BufferOption) LoopOption {
	return func(l *Loop) { l.bufOpts = append(l.bufOpts, opts...) }
}

// Loop is the single-goroutine connection multiplexer. Each Step drains the
// accept queue, polls every tracked connection with a bounded timeout,
// dispatches observed events and reaps closed connections. Everything except
// Stats must be used from the goroutine running the loop.
type Loop struct {
	cfg      Config
	acceptor Acceptor
	poller   Poller
	handler  Handler
	table    *Table
	log      *log.Logger
	stats    Stats
	bufOpts  []BufferOption

	nextID  ConnID
	pending []Accepted
}

// NewLoop validates cfg and builds a loop around acc. h may be nil, in
// which case connections are read and closed without ingestion.
func NewLoop(acc Acceptor, h Handler, cfg Config, opts ...LoopOption) (*Loop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	l := &Loop{
		cfg:      cfg,
		acceptor: acc,
		handler:  h,
		table:    NewTable(cfg.MaxConnections),
		log:      cfg.logger(),
		nextID:   1,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.poller == nil {
		p, err := newSysPoller()
		if err != nil {
			return nil, err
		}
		l.poller = p
	}
	return l, nil
}

// Run steps the loop until ctx is done, then closes every remaining
// connection. Poll failures are logged and retried on the next step, so Run
// always returns nil.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Printf("[LOOP] running: close=%s growth=%s limit=%d poll-timeout=%s",
		l.cfg.ClosePolicy, l.cfg.Growth, l.cfg.MaxRequestSize, l.cfg.PollTimeout)
	defer l.closeAll()

	for ctx.Err() == nil {
		if err := l.Step(); err != nil {
			l.log.Printf("[LOOP] %v", err)
			time.Sleep(l.cfg.PollTimeout)
		}
	}
	return nil
}

// Step runs one iteration. Connections accepted here are polled in the same
// iteration.
func (l *Loop) Step() error {
	l.acceptPending()

	n, err := l.poller.Wait(l.table.Descriptors(), l.cfg.PollTimeout)
	if err != nil {
		return fmt.Errorf("step: %w", err)
	}
	if n > 0 {
		l.dispatch()
	}
	return nil
}

// pollMillis converts a poll timeout to poll(2) milliseconds. Sub-millisecond
// timeouts round up so a positive timeout never becomes a non-blocking poll.
func pollMillis(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Millisecond - 1) / time.Millisecond)
}

// Len returns the number of tracked connections.
func (l *Loop) Len() int { return l.table.Len() }

// Stats returns a snapshot of the loop counters. Safe from any goroutine.
func (l *Loop) Stats() Snapshot { return l.stats.Snapshot() }

func (l *Loop) acceptPending() {
	var err error
	l.pending, err = l.acceptor.AcceptAll(l.pending[:0])
	if err != nil {
		l.logAcceptErrors(err)
	}
	for i := range l.pending {
		l.open(l.pending[i])
		l.pending[i] = Accepted{}
	}
}

func (l *Loop) open(a Accepted) {
	if l.table.Full() {
		l.drop(a, ErrTableFull)
		return
	}
	id := l.nextID
	c, err := NewConn(id, a.Sock, a.Peer, &l.cfg, l.bufOpts...)
	if err != nil {
		l.drop(a, err)
		return
	}
	if err := l.table.Insert(c, Descriptor{Fd: int32(a.Sock.Fd()), Events: EventReadable}); err != nil {
		l.drop(a, err)
		return
	}
	l.nextID++
	l.stats.accepted.Add(1)
	l.stats.live.Add(1)

	if oh, ok := l.handler.(OpenHandler); ok {
		oh.Open(id, a.Peer)
	}
	l.logAccept(c)
}

func (l *Loop) drop(a Accepted, reason error) {
	l.stats.dropped.Add(1)
	l.log.Printf("[ACCEPT] dropping %s: %v", a.Peer, reason)
	if err := a.Sock.Close(); err != nil {
		l.log.Printf("[ACCEPT] close %s: %v", a.Peer, err)
	}
}

// dispatch hands observed events to their connections in table order.
// Removing index i relocates the last entry into slot i, so i is examined
// again before moving on.
func (l *Loop) dispatch() {
	for i := 0; i < l.table.Len(); {
		c, d := l.table.At(i)
		revents := d.Revents
		if revents == 0 {
			i++
			continue
		}
		d.Revents = 0

		before := c.Delivered()
		phase := c.Handle(revents, l.handler)
		l.stats.ingested.Add(c.Delivered() - before)

		if phase == PhaseClosed {
			l.reap(i)
			continue
		}
		i++
	}
}

func (l *Loop) reap(i int) {
	c := l.table.RemoveAt(i)
	l.stats.live.Add(-1)
	l.stats.closed[c.Reason()].Add(1)
	l.logClose(c)
}

func (l *Loop) closeAll() {
	for i := l.table.Len() - 1; i >= 0; i-- {
		c, _ := l.table.At(i)
		c.Abort(ReasonShutdown, l.handler)
		l.reap(i)
	}
}
