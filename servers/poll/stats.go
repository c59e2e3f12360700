package poll

import "sync/atomic"

// Stats counts loop activity. The loop goroutine writes; any goroutine may
// take a Snapshot.
type Stats struct {
	accepted     atomic.Int64
	acceptErrors atomic.Int64
	dropped      atomic.Int64
	live         atomic.Int64
	ingested     atomic.Int64
	closed       [numReasons]atomic.Int64
}

// Snapshot is a point-in-time copy of Stats.
type Snapshot struct {
	Accepted      int64                 `json:"accepted"`
	AcceptErrors  int64                 `json:"accept_errors"`
	Dropped       int64                 `json:"dropped"`
	Live          int64                 `json:"live"`
	BytesIngested int64                 `json:"bytes_ingested"`
	Closed        map[CloseReason]int64 `json:"closed"`
}

// Snapshot copies the counters. Reasons that never occurred are omitted
// from Closed.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Accepted:      s.accepted.Load(),
		AcceptErrors:  s.acceptErrors.Load(),
		Dropped:       s.dropped.Load(),
		Live:          s.live.Load(),
		BytesIngested: s.ingested.Load(),
		Closed:        make(map[CloseReason]int64),
	}
	for r := range s.closed {
		if v := s.closed[r].Load(); v > 0 {
			snap.Closed[CloseReason(r)] = v
		}
	}
	return snap
}

// TotalClosed sums Closed over all reasons.
func (s Snapshot) TotalClosed() int64 {
	var total int64
	for _, v := range s.Closed {
		total += v
	}
	return total
}
