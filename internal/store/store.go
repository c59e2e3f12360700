// Package store persists load-test run history in BadgerDB.
// Runs expire automatically after DataTTL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/goceleris/pollmux/internal/bench"
)

const (
	// TTL for run data (30 days)
	DataTTL = 30 * 24 * time.Hour

	prefixRun = "run:"
)

// Run states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ErrRunNotFound is returned for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// Store wraps BadgerDB with run-history operations.
type Store struct {
	db *badger.DB
}

// Run is one load-test run against a poll server.
type Run struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Status    string        `json:"status"`
	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at,omitempty"`
	Error     string        `json:"error,omitempty"`
	Workers   int           `json:"workers"`
	Sessions  int           `json:"sessions,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Payload   int           `json:"payload_bytes"`
	Chunks    int           `json:"chunks"`
	Gap       time.Duration `json:"gap"`

	Result *bench.Result `json:"result,omitempty"`
}

// New opens (or creates) a store in dataDir.
func New(dataDir string) (*Store, error) {
	opts := badger.DefaultOptions(dataDir)
	opts.SyncWrites = true
	return open(opts)
}

// NewInMemory opens a store that lives only as long as the process.
func NewInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true))
}

func open(opts badger.Options) (*Store, error) {
	opts.Logger = nil // Disable badger's internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC runs value log garbage collection every interval until ctx is done.
// A non-positive interval disables it.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
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
			err := s.db.RunValueLogGC(0.5)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				log.Printf("[STORE] GC error: %v", err)
			}
		}
	}
}

// NewRunFromConfig describes a run of cfg that starts now.
func NewRunFromConfig(cfg bench.Config) *Run {
	return &Run{
		Target:   cfg.Addr,
		Workers:  cfg.Workers,
		Sessions: cfg.Sessions,
		Duration: cfg.Duration,
		Payload:  len(cfg.Payload),
		Chunks:   cfg.Chunks,
		Gap:      cfg.Gap,
	}
}

// CreateRun assigns an ID when missing, fills defaults and saves the run.
func (s *Store) CreateRun(run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.Status == "" {
		run.Status = StatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	return s.saveRun(run)
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*Run, error) {
	var run Run
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixRun + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &run)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// CompleteRun records the result of a finished run.
func (s *Store) CompleteRun(id string, result *bench.Result) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	run.Status = StatusCompleted
	run.Result = result
	run.EndedAt = time.Now()
	return s.saveRun(run)
}

// FailRun marks a run as failed.
func (s *Store) FailRun(id, errorMsg string) error {
	run, err := s.GetRun(id)
	if err != nil {
		return err
	}
	run.Status = StatusFailed
	run.Error = errorMsg
	run.EndedAt = time.Now()
	return s.saveRun(run)
}

// ListRuns returns runs newest first, optionally filtered by status.
// limit <= 0 returns every run.
func (s *Store) ListRuns(status string, limit int) ([]*Run, error) {
	var runs []*Run

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefixRun)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var run Run
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &run)
			})
			if err != nil {
				continue
			}
			if status == "" || run.Status == status {
				runs = append(runs, &run)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(runs, func(a, b *Run) int {
		return b.StartedAt.Compare(a.StartedAt)
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// DeleteRun deletes a run.
func (s *Store) DeleteRun(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixRun + id))
	})
}

// saveRun saves a run with TTL.
func (s *Store) saveRun(run *Run) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(prefixRun+run.ID), data).WithTTL(DataTTL)
		return txn.SetEntry(entry)
	})
}
