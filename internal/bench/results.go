package bench

import (
	"encoding/json"
	"time"

	"github.com/dustin/go-humanize"
)

// Result holds the benchmark results.
type Result struct {
	Sessions       int64            `json:"sessions"`
	Errors         int64            `json:"errors"`
	Duration       time.Duration    `json:"duration"`
	BytesSent      int64            `json:"bytes_sent"`
	BytesRead      int64            `json:"bytes_read"`
	SessionsPerSec float64          `json:"sessions_per_sec"`
	ThroughputBPS  float64          `json:"throughput_bps"`
	Responses      map[string]int64 `json:"responses"` // by status line
	Latency        Percentiles      `json:"latency"`
}

// Percentiles holds latency percentile values.
type Percentiles struct {
	Avg  time.Duration `json:"avg"`
	Min  time.Duration `json:"min"`
	Max  time.Duration `json:"max"`
	P50  time.Duration `json:"p50"`
	P90  time.Duration `json:"p90"`
	P99  time.Duration `json:"p99"`
	P999 time.Duration `json:"p99_9"`
}

// Output is the JSON document printed by cmd/bench.
type Output struct {
	RunID     string       `json:"run_id,omitempty"`
	Timestamp string       `json:"timestamp"`
	Target    string       `json:"target"`
	Config    OutputConfig `json:"config"`
	Summary   Summary      `json:"summary"`
	Result    *Result      `json:"result"`
}

// OutputConfig is the benchmark configuration as reported in Output.
type OutputConfig struct {
	Workers     int    `json:"workers"`
	Sessions    int    `json:"sessions,omitempty"`
	Duration    string `json:"duration,omitempty"`
	PayloadSize string `json:"payload_size"`
	Chunks      int    `json:"chunks"`
	Gap         string `json:"gap"`
}

// Summary is the human-readable rendering of a Result.
type Summary struct {
	Sessions       string        `json:"sessions"`
	Errors         string        `json:"errors"`
	SessionsPerSec string        `json:"sessions_per_sec"`
	TransferPerSec string        `json:"transfer_per_sec"`
	Latency        LatencyResult `json:"latency"`
}

// LatencyResult holds latency data in output format.
type LatencyResult struct {
	Avg  string `json:"avg,omitempty"`
	Max  string `json:"max,omitempty"`
	P50  string `json:"p50,omitempty"`
	P90  string `json:"p90,omitempty"`
	P99  string `json:"p99,omitempty"`
	P999 string `json:"p99.9,omitempty"`
}

// NewOutput assembles the report for one run.
func NewOutput(runID string, cfg Config, r *Result) *Output {
	out := &Output{
		RunID:     runID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Target:    cfg.Addr,
		Config: OutputConfig{
			Workers:     cfg.Workers,
			Sessions:    cfg.Sessions,
			PayloadSize: humanize.IBytes(uint64(len(cfg.Payload))),
			Chunks:      cfg.Chunks,
			Gap:         cfg.Gap.String(),
		},
		Summary: r.Summary(),
		Result:  r,
	}
	if cfg.Sessions == 0 {
		out.Config.Duration = cfg.Duration.String()
	}
	return out
}

// Summary formats counts and rates for people.
func (r *Result) Summary() Summary {
	return Summary{
		Sessions:       humanize.Comma(r.Sessions),
		Errors:         humanize.Comma(r.Errors),
		SessionsPerSec: humanize.CommafWithDigits(r.SessionsPerSec, 1),
		TransferPerSec: humanize.IBytes(uint64(r.ThroughputBPS)) + "/s",
		Latency: LatencyResult{
			Avg:  r.Latency.Avg.String(),
			Max:  r.Latency.Max.String(),
			P50:  r.Latency.P50.String(),
			P90:  r.Latency.P90.String(),
			P99:  r.Latency.P99.String(),
			P999: r.Latency.P999.String(),
		},
	}
}

// ToJSON serializes the output to JSON.
func (o *Output) ToJSON() ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}
