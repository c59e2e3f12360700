// Package bench drives raw TCP request sessions against a poll server.
//
// A session dials the target, writes the payload in a configured number of
// chunks separated by a gap, half-closes the connection and reads the
// response until the server closes its side.
package bench

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnexpectedResponse is recorded when Config.Expect is set and a session
// received something else.
var ErrUnexpectedResponse = errors.New("unexpected response")

// Config holds benchmark configuration.
type Config struct {
	Addr    string
	Payload []byte
	Chunks  int
	Gap     time.Duration
	Expect  []byte // nil = accept any response

	Sessions int // total sessions; 0 = run for Duration
	Duration time.Duration
	Workers  int
	Warmup   time.Duration

	DialTimeout time.Duration
	ReadTimeout time.Duration
}

// DefaultConfig returns sensible defaults for benchmarking.
func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:8080",
		Payload:     []byte("GET / HTTP/1.1\r\n\r\n"),
		Chunks:      1,
		Duration:    10 * time.Second,
		Workers:     8,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 10 * time.Second,
	}
}

// Benchmarker runs request sessions from concurrent workers.
type Benchmarker struct {
	config Config
	dialer net.Dialer

	sessions  atomic.Int64
	errors    atomic.Int64
	bytesSent atomic.Int64
	bytesRead atomic.Int64
	remaining atomic.Int64

	latencies *LatencyRecorder

	mu        sync.Mutex
	responses map[string]int64
	lastErr   error

	running atomic.Bool
	wg      sync.WaitGroup
}

// New creates a new Benchmarker with the given configuration.
func New(cfg Config) *Benchmarker {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Chunks <= 0 {
		cfg.Chunks = 1
	}
	return &Benchmarker{
		config:    cfg,
		dialer:    net.Dialer{Timeout: cfg.DialTimeout},
		latencies: NewLatencyRecorder(0),
		responses: make(map[string]int64),
	}
}

// Run executes the benchmark and returns results. With Config.Sessions set
// it stops after that many sessions, otherwise after Config.Duration.
func (b *Benchmarker) Run(ctx context.Context) (*Result, error) {
	if b.config.Sessions == 0 && b.config.Duration <= 0 {
		return nil, errors.New("bench: either sessions or duration must be set")
	}
	if b.config.Sessions == 0 && b.config.Warmup > 0 {
		b.warmup(ctx)
	}

	b.reset()
	b.running.Store(true)
	start := time.Now()

	for i := 0; i < b.config.Workers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}

	if b.config.Sessions == 0 {
		select {
		case <-ctx.Done():
		case <-time.After(b.config.Duration):
		}
		b.running.Store(false)
	}
	b.wg.Wait()
	b.running.Store(false)

	res := b.buildResult(time.Since(start))
	if res.Sessions == 0 && res.Errors > 0 {
		return res, fmt.Errorf("bench: every session failed: %w", b.firstError())
	}
	return res, ctx.Err()
}

func (b *Benchmarker) reset() {
	b.sessions.Store(0)
	b.errors.Store(0)
	b.bytesSent.Store(0)
	b.bytesRead.Store(0)
	b.remaining.Store(int64(b.config.Sessions))
	b.latencies.Reset()

	b.mu.Lock()
	clear(b.responses)
	b.lastErr = nil
	b.mu.Unlock()
}

func (b *Benchmarker) warmup(ctx context.Context) {
	warmupCtx, cancel := context.WithTimeout(ctx, b.config.Warmup)
	defer cancel()

	b.running.Store(true)
	for i := 0; i < max(b.config.Workers/2, 1); i++ {
		b.wg.Add(1)
		go b.worker(warmupCtx)
	}

	<-warmupCtx.Done()
	b.running.Store(false)
	b.wg.Wait()
}

// claim reports whether the worker may start another session.
func (b *Benchmarker) claim(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	if b.config.Sessions > 0 {
		return b.remaining.Add(-1) >= 0
	}
	return b.running.Load()
}

func (b *Benchmarker) worker(ctx context.Context) {
	defer b.wg.Done()

	for b.claim(ctx) {
		start := time.Now()
		resp, err := b.Session(ctx)
		latency := time.Since(start)

		if err != nil {
			b.errors.Add(1)
			b.recordError(err)
			continue
		}
		b.sessions.Add(1)
		b.bytesSent.Add(int64(len(b.config.Payload)))
		b.bytesRead.Add(int64(len(resp)))
		b.latencies.Record(latency)
		b.recordResponse(resp)
	}
}

// Session runs one request session and returns the full response.
func (b *Benchmarker) Session(ctx context.Context) ([]byte, error) {
	conn, err := b.dialer.DialContext(ctx, "tcp", b.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", b.config.Addr, err)
	}
	defer func() { _ = conn.Close() }()

	for i, chunk := range SplitPayload(b.config.Payload, b.config.Chunks) {
		if i > 0 && b.config.Gap > 0 {
			time.Sleep(b.config.Gap)
		}
		if _, err := conn.Write(chunk); err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", i, err)
		}
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			return nil, fmt.Errorf("close write: %w", err)
		}
	}

	if b.config.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(b.config.ReadTimeout))
	}
	resp, err := io.ReadAll(conn)
	if err != nil {
		return resp, fmt.Errorf("read response: %w", err)
	}
	if b.config.Expect != nil && !bytes.Equal(resp, b.config.Expect) {
		return resp, fmt.Errorf("%w: %q", ErrUnexpectedResponse, firstLine(resp))
	}
	return resp, nil
}

// SplitPayload cuts p into n contiguous chunks whose sizes differ by at most
// one byte. It returns fewer chunks when p is shorter than n, and a single
// empty chunk for an empty payload.
func SplitPayload(p []byte, n int) [][]byte {
	if n <= 1 || len(p) <= 1 {
		return [][]byte{p}
	}
	n = min(n, len(p))
	chunks := make([][]byte, 0, n)
	size, extra := len(p)/n, len(p)%n
	for i := 0; i < n; i++ {
		k := size
		if i < extra {
			k++
		}
		chunks = append(chunks, p[:k:k])
		p = p[k:]
	}
	return chunks
}

func (b *Benchmarker) recordResponse(resp []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses[firstLine(resp)]++
}

func (b *Benchmarker) recordError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastErr == nil {
		b.lastErr = err
	}
}

func (b *Benchmarker) firstError() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// firstLine returns the response status line, or "(empty)" for a close
// without payload.
func firstLine(resp []byte) string {
	if len(resp) == 0 {
		return "(empty)"
	}
	if i := bytes.Index(resp, []byte("\r\n")); i >= 0 {
		resp = resp[:i]
	}
	return string(resp)
}

func (b *Benchmarker) buildResult(elapsed time.Duration) *Result {
	sessions := b.sessions.Load()
	sent := b.bytesSent.Load()
	read := b.bytesRead.Load()

	b.mu.Lock()
	responses := make(map[string]int64, len(b.responses))
	for k, v := range b.responses {
		responses[k] = v
	}
	b.mu.Unlock()

	return &Result{
		Sessions:       sessions,
		Errors:         b.errors.Load(),
		Duration:       elapsed,
		BytesSent:      sent,
		BytesRead:      read,
		SessionsPerSec: float64(sessions) / elapsed.Seconds(),
		ThroughputBPS:  float64(sent) / elapsed.Seconds(),
		Responses:      responses,
		Latency:        b.latencies.Percentiles(),
	}
}
