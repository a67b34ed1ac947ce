// Package harness drives an execution engine through repeated invocations
// of one entry point, checks that every invocation agrees with the first,
// and measures per-call latency.
package harness

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Result holds the structured output of a successful run.
type Result struct {
	RunID         string       `json:"run_id"`
	Engine        string       `json:"engine"`
	Entry         string       `json:"entry"`
	Value         uint32       `json:"value"`
	Repetitions   int          `json:"repetitions"`
	ElapsedNs     int64        `json:"elapsed_ns"`
	MeanLatencyNs int64        `json:"mean_latency_ns"`
	Stats         LatencyStats `json:"stats"`
	LatenciesNs   []int64      `json:"latencies_ns,omitempty"`
	Counter       uint64       `json:"counter"`
	ArenaBytes    uint64       `json:"arena_bytes"`
	MemoryDigest  string       `json:"memory_digest"`
}

// LatencyStats summarises the per-call samples.
type LatencyStats struct {
	MinNs    int64   `json:"min_ns"`
	MaxNs    int64   `json:"max_ns"`
	P50Ns    int64   `json:"p50_ns"`
	P99Ns    int64   `json:"p99_ns"`
	MeanNs   float64 `json:"mean_ns"`
	StddevNs float64 `json:"stddev_ns"`
}

// Elapsed returns the wall time of all repetitions.
func (r *Result) Elapsed() time.Duration { return time.Duration(r.ElapsedNs) }

// MeanLatency returns Elapsed divided by the repetition count.
func (r *Result) MeanLatency() time.Duration { return time.Duration(r.MeanLatencyNs) }

func toNanos(ds []time.Duration) []int64 {
	out := make([]int64, len(ds))
	for i, d := range ds {
		out[i] = d.Nanoseconds()
	}
	return out
}

func summarize(ds []time.Duration) LatencyStats {
	if len(ds) == 0 {
		return LatencyStats{}
	}

	xs := make([]float64, len(ds))
	for i, d := range ds {
		xs[i] = float64(d.Nanoseconds())
	}
	sort.Float64s(xs)

	s := LatencyStats{
		MinNs:  int64(xs[0]),
		MaxNs:  int64(xs[len(xs)-1]),
		P50Ns:  int64(stat.Quantile(0.5, stat.Empirical, xs, nil)),
		P99Ns:  int64(stat.Quantile(0.99, stat.Empirical, xs, nil)),
		MeanNs: stat.Mean(xs, nil),
	}

	if len(xs) > 1 {
		if sd := stat.StdDev(xs, nil); !math.IsNaN(sd) {
			s.StddevNs = sd
		}
	}

	return s
}
