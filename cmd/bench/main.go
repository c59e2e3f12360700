// Package main provides the load generator for the poll server.
package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/goceleris/pollmux/internal/bench"
	"github.com/goceleris/pollmux/internal/store"
)

func main() {
	defaults := bench.DefaultConfig()

	addr := flag.String("addr", defaults.Addr, "Server address")
	workers := flag.Int("workers", defaults.Workers, "Number of concurrent workers")
	sessions := flag.Int("sessions", 0, "Total sessions to run (0 = run for -duration)")
	duration := flag.Duration("duration", defaults.Duration, "Benchmark duration")
	warmup := flag.Duration("warmup", 0, "Warmup duration before measuring")
	payload := flag.String("payload", escape(defaults.Payload), "Request payload, Go escapes allowed")
	payloadSize := flag.Int("payload-size", 0, "Send this many filler bytes instead of -payload")
	chunks := flag.Int("chunks", 1, "Split each payload into this many writes")
	gap := flag.Duration("gap", 0, "Pause between chunk writes")
	expect := flag.String("expect", "", "Count any other response as an error, Go escapes allowed")
	dialTimeout := flag.Duration("dial-timeout", defaults.DialTimeout, "Dial timeout")
	readTimeout := flag.Duration("read-timeout", defaults.ReadTimeout, "Response read timeout")
	outputFile := flag.String("output", "", "Write the JSON report to this file instead of stdout")
	storeDir := flag.String("store", "", "BadgerDB directory for run history (empty = do not persist)")
	gcInterval := flag.Duration("store-gc", 5*time.Minute, "Value log GC interval for -store")
	list := flag.Int("list", 0, "Print the N most recent stored runs and exit (requires -store)")
	flag.Parse()

	var st *store.Store
	if *storeDir != "" {
		var err error
		st, err = store.New(*storeDir)
		if err != nil {
			log.Fatalf("Failed to open store: %v", err)
		}
		defer func() { _ = st.Close() }()
	}

	if *list > 0 {
		if st == nil {
			log.Fatal("-list requires -store")
		}
		if err := listRuns(st, *list); err != nil {
			log.Fatalf("Failed to list runs: %v", err)
		}
		return
	}

	cfg := defaults
	cfg.Addr = *addr
	cfg.Workers = *workers
	cfg.Sessions = *sessions
	cfg.Duration = *duration
	cfg.Warmup = *warmup
	cfg.Chunks = *chunks
	cfg.Gap = *gap
	cfg.DialTimeout = *dialTimeout
	cfg.ReadTimeout = *readTimeout
	if *payloadSize > 0 {
		cfg.Payload = bytes.Repeat([]byte("a"), *payloadSize)
	} else {
		cfg.Payload = unescape("-payload", *payload)
	}
	if *expect != "" {
		cfg.Expect = unescape("-expect", *expect)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, stopping...", sig)
		cancel()
	}()

	var runID string
	if st != nil {
		go st.RunGC(ctx, *gcInterval)

		run := store.NewRunFromConfig(cfg)
		if err := st.CreateRun(run); err != nil {
			log.Fatalf("Failed to record run: %v", err)
		}
		runID = run.ID
		log.Printf("Run %s", runID)
	}

	if cfg.Sessions > 0 {
		log.Printf("Benchmarking %s: %d sessions, %d workers, %d bytes in %d chunks",
			cfg.Addr, cfg.Sessions, cfg.Workers, len(cfg.Payload), cfg.Chunks)
	} else {
		log.Printf("Benchmarking %s: %s, %d workers, %d bytes in %d chunks",
			cfg.Addr, cfg.Duration, cfg.Workers, len(cfg.Payload), cfg.Chunks)
	}

	result, err := bench.New(cfg).Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		if st != nil {
			if ferr := st.FailRun(runID, err.Error()); ferr != nil {
				log.Printf("Failed to record failure: %v", ferr)
			}
		}
		log.Fatalf("Benchmark failed: %v", err)
	}
	if st != nil {
		if err := st.CompleteRun(runID, result); err != nil {
			log.Printf("Failed to record result: %v", err)
		}
	}

	data, err := bench.NewOutput(runID, cfg, result).ToJSON()
	if err != nil {
		log.Fatalf("Failed to encode results: %v", err)
	}
	if *outputFile == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.WriteFile(*outputFile, data, 0644); err != nil {
		log.Fatalf("Failed to write results: %v", err)
	}
	log.Printf("Results written to %s", *outputFile)
}

func escape(p []byte) string {
	q := strconv.Quote(string(p))
	return q[1 : len(q)-1]
}

func unescape(flagName, s string) []byte {
	out, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		log.Fatalf("Invalid %s: %v", flagName, err)
	}
	return []byte(out)
}

func listRuns(st *store.Store, limit int) error {
	runs, err := st.ListRuns("", limit)
	if err != nil {
		return err
	}
	for _, r := range runs {
		line := fmt.Sprintf("%s  %-9s  %s  %s", r.ID, r.Status, r.StartedAt.Format(time.RFC3339), r.Target)
		if r.Result != nil {
			s := r.Result.Summary()
			line += fmt.Sprintf("  sessions=%s errors=%s rate=%s/s p99=%s",
				s.Sessions, s.Errors, s.SessionsPerSec, s.Latency.P99)
		}
		if r.Error != "" {
			line += "  error=" + r.Error
		}
		fmt.Println(line)
	}
	return nil
}
