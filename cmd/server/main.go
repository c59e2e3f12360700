// Package main runs the single-goroutine poll server.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goceleris/pollmux/servers/handler"
	"github.com/goceleris/pollmux/servers/poll"
)

func main() {
	defaults := poll.DefaultConfig()

	port := flag.Int("port", getEnvInt("PORT", defaults.Port), "Port to listen on (env PORT)")
	backlog := flag.Int("backlog", defaults.Backlog, "Listen backlog")
	initialBuffer := flag.Int("initial-buffer", defaults.InitialBufferSize, "Initial receive buffer size in bytes")
	maxRequest := flag.Int("max-request", defaults.MaxRequestSize, "Maximum buffered request size in bytes")
	growth := flag.String("growth", defaults.Growth.String(), "Buffer growth policy: double, chunked")
	growthChunk := flag.Int("growth-chunk", defaults.GrowthChunk, "Growth step cap in bytes for the chunked policy")
	maxConns := flag.Int("max-conns", defaults.MaxConnections, "Maximum simultaneous connections (0 = unbounded)")
	pollTimeout := flag.Duration("poll-timeout", defaults.PollTimeout, "Upper bound on one poll wait")
	closePolicy := flag.String("close", defaults.ClosePolicy.String(), "Close policy: graceful, abrupt")
	response := flag.String("response", "", "Terminal response for graceful closes, Go escapes allowed (default 404)")
	verbose := flag.Bool("verbose", false, "Log every accept and close")
	printBytes := flag.Bool("print", false, "Print received request bytes to stdout")
	gate := flag.Bool("gate", false, "Reject connections whose request line is malformed")
	gateLimit := flag.Int("gate-limit", handler.DefaultHeaderLimit, "Header size limit for -gate")
	statsInterval := flag.Duration("stats-interval", 0, "Log loop counters at this interval (0 = off)")
	flag.Parse()

	cfg := defaults
	cfg.Port = *port
	cfg.Backlog = *backlog
	cfg.InitialBufferSize = *initialBuffer
	cfg.MaxRequestSize = *maxRequest
	cfg.GrowthChunk = *growthChunk
	cfg.MaxConnections = *maxConns
	cfg.PollTimeout = *pollTimeout
	cfg.Verbose = *verbose

	var err error
	if cfg.Growth, err = poll.ParseGrowthPolicy(*growth); err != nil {
		log.Fatalf("Invalid -growth: %v", err)
	}
	if cfg.ClosePolicy, err = poll.ParseClosePolicy(*closePolicy); err != nil {
		log.Fatalf("Invalid -close: %v", err)
	}
	if *response != "" {
		s, err := strconv.Unquote(`"` + *response + `"`)
		if err != nil {
			log.Fatalf("Invalid -response: %v", err)
		}
		cfg.TerminalResponse = []byte(s)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	var chain handler.Chain
	if *gate {
		chain = append(chain, handler.NewRequestGate(*gateLimit))
	}
	if *printBytes {
		chain = append(chain, handler.NewPrinter(os.Stdout))
	}
	var h poll.Handler
	if len(chain) > 0 {
		h = chain
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received %s, shutting down", sig)
		cancel()
	}()

	if err := serve(ctx, cfg, h, *statsInterval); err != nil {
		var bindErr *poll.BindError
		if errors.As(err, &bindErr) {
			log.Fatalf("Failed to acquire port %d: %v", bindErr.Port, err)
		}
		log.Fatalf("Server error: %v", err)
	}
}

// reportStats logs loop counters every interval until ctx is done.
func reportStats(ctx context.Context, stats func() poll.Snapshot, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := stats()
			log.Printf("[STATS] live=%d accepted=%d closed=%d dropped=%d accept-errors=%d bytes=%d",
				s.Live, s.Accepted, s.TotalClosed(), s.Dropped, s.AcceptErrors, s.BytesIngested)
		}
	}
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid %s=%q: %v", key, v, err)
		}
		return n
	}
	return defaultValue
}
