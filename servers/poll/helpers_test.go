package poll

import (
	"io"
	"log"
	"net/netip"
	"sync"
	"time"
)

// fakeSocket serves reads from avail, then reports fault, EOF or
// ErrWouldBlock.
type fakeSocket struct {
	fd      int
	avail   []byte
	eof     bool
	fault   error
	reads   int
	written []byte

	shutdowns int
	closes    int
}

func (s *fakeSocket) feed(p []byte) { s.avail = append(s.avail, p...) }

func (s *fakeSocket) ready() bool {
	return len(s.avail) > 0 || s.eof || s.fault != nil
}

func (s *fakeSocket) Read(p []byte) (int, error) {
	s.reads++
	if len(s.avail) > 0 {
		n := copy(p, s.avail)
		s.avail = s.avail[n:]
		return n, nil
	}
	if s.fault != nil {
		return 0, s.fault
	}
	if s.eof {
		return 0, io.EOF
	}
	return 0, ErrWouldBlock
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *fakeSocket) CloseWrite() error {
	s.shutdowns++
	return nil
}

func (s *fakeSocket) Close() error {
	s.closes++
	return nil
}

func (s *fakeSocket) Fd() int { return s.fd }

// fakeAcceptor hands out queued connections on the next AcceptAll.
type fakeAcceptor struct {
	queue []Accepted
	err   error
}

func (a *fakeAcceptor) push(s *fakeSocket, port uint16) {
	a.queue = append(a.queue, Accepted{
		Sock: s,
		Peer: netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), port),
	})
}

func (a *fakeAcceptor) AcceptAll(dst []Accepted) ([]Accepted, error) {
	dst = append(dst, a.queue...)
	a.queue = nil
	err := a.err
	a.err = nil
	return dst, err
}

// fakePoller marks every descriptor whose fake socket has something to read.
type fakePoller struct {
	sockets map[int32]*fakeSocket
	waits   int
}

func newFakePoller() *fakePoller {
	return &fakePoller{sockets: make(map[int32]*fakeSocket)}
}

func (p *fakePoller) track(s *fakeSocket) *fakeSocket {
	p.sockets[int32(s.fd)] = s
	return s
}

func (p *fakePoller) Wait(fds []Descriptor, _ time.Duration) (int, error) {
	p.waits++
	n := 0
	for i := range fds {
		s, ok := p.sockets[fds[i].Fd]
		if ok && fds[i].Events&EventReadable != 0 && s.ready() {
			fds[i].Revents = EventReadable
			n++
		}
	}
	return n, nil
}

// recorder is a Handler that keeps everything it sees. It is safe for use
// from the loop goroutine and a test goroutine at once.
type recorder struct {
	mu        sync.Mutex
	data      map[ConnID][]byte
	calls     map[ConnID]int
	peers     map[ConnID]netip.AddrPort
	completes map[ConnID][]CloseReason
	reject    func(id ConnID, p []byte) error
}

func newRecorder() *recorder {
	return &recorder{
		data:      make(map[ConnID][]byte),
		calls:     make(map[ConnID]int),
		peers:     make(map[ConnID]netip.AddrPort),
		completes: make(map[ConnID][]CloseReason),
	}
}

func (r *recorder) Ingest(id ConnID, p []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[id] = append(r.data[id], p...)
	r.calls[id]++
	if r.reject != nil {
		return r.reject(id, p)
	}
	return nil
}

func (r *recorder) Open(id ConnID, peer netip.AddrPort) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[id] = peer
}

func (r *recorder) Complete(id ConnID, reason CloseReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completes[id] = append(r.completes[id], reason)
}

func (r *recorder) bytes(id ConnID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.data[id]...)
}

func (r *recorder) callCount(id ConnID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[id]
}

func (r *recorder) completeReasons(id ConnID) []CloseReason {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]CloseReason(nil), r.completes[id]...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Port = 0
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func pattern(n int) []byte {
	p := make([]byte, n)
	for i := range p {
		p[i] = byte('a' + i%26)
	}
	return p
}
