// Package report formats benchmark results into comparison tables.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/weiihann/vcpubench/harness"
)

// Generate writes a markdown comparison table for the given results.
func Generate(w io.Writer, results []harness.Result) error {
	if len(results) == 0 {
		return fmt.Errorf("no results to report")
	}

	mismatched := checkValues(results)
	fastest := findFastest(results)

	fmt.Fprintln(w, "## Benchmark Results")
	fmt.Fprintln(w)

	if len(mismatched) == 0 {
		fmt.Fprintln(w, "Values: **all match**")
	} else {
		fmt.Fprintln(w, "Values: **MISMATCH**")

		for _, r := range results {
			if mismatched[r.Entry] {
				fmt.Fprintf(w, "  - %s/%s: %d\n", r.Engine, r.Entry, r.Value)
			}
		}
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Engine | Entry | Value | Elapsed | Mean | p50 "+
		"| p99 | Stddev | Slowdown |")
	fmt.Fprintln(w, "|--------|-------|-------|---------|------|-----"+
		"|-----|--------|----------|")

	for _, r := range results {
		slowdown := 1.0
		if f := fastest[r.Entry]; f > 0 && r.MeanLatencyNs > 0 {
			slowdown = float64(r.MeanLatencyNs) / float64(f)
		}

		fmt.Fprintf(w, "| %s | %s | %d | %s | %s | %s | %s | %s | %.2fx |\n",
			r.Engine,
			r.Entry,
			r.Value,
			formatNs(r.ElapsedNs),
			formatNs(r.MeanLatencyNs),
			formatNs(r.Stats.P50Ns),
			formatNs(r.Stats.P99Ns),
			formatNs(int64(r.Stats.StddevNs)),
			slowdown,
		)
	}

	fmt.Fprintln(w)

	fmt.Fprintln(w, "| Engine | Entry | Repetitions | Counter | Arena | Memory Digest |")
	fmt.Fprintln(w, "|--------|-------|-------------|---------|-------|---------------|")

	for _, r := range results {
		fmt.Fprintf(w, "| %s | %s | %d | %d | %s | %s |\n",
			r.Engine,
			r.Entry,
			r.Repetitions,
			r.Counter,
			formatBytes(r.ArenaBytes),
			shortDigest(r.MemoryDigest),
		)
	}

	return nil
}

// GenerateJSON writes results as JSON to w.
func GenerateJSON(w io.Writer, results []harness.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(results)
}

// ReadJSON parses results written by GenerateJSON.
func ReadJSON(r io.Reader) ([]harness.Result, error) {
	var results []harness.Result
	if err := json.NewDecoder(r).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}

	return results, nil
}

// checkValues returns the entries whose engines disagree on the value.
func checkValues(results []harness.Result) map[string]bool {
	first := make(map[string]uint32, len(results))
	mismatched := make(map[string]bool)

	for _, r := range results {
		v, ok := first[r.Entry]
		if !ok {
			first[r.Entry] = r.Value
			continue
		}
		if v != r.Value {
			mismatched[r.Entry] = true
		}
	}

	return mismatched
}

// findFastest returns the lowest mean latency per entry.
func findFastest(results []harness.Result) map[string]int64 {
	fastest := make(map[string]int64)

	for _, r := range results {
		if r.MeanLatencyNs <= 0 {
			continue
		}
		f, ok := fastest[r.Entry]
		if !ok {
			f = math.MaxInt64
		}
		if r.MeanLatencyNs < f {
			fastest[r.Entry] = r.MeanLatencyNs
		}
	}

	return fastest
}

func formatNs(ns int64) string {
	switch {
	case ns < 1_000:
		return fmt.Sprintf("%dns", ns)
	case ns < 1_000_000:
		return fmt.Sprintf("%.2fµs", float64(ns)/1e3)
	case ns < 1_000_000_000:
		return fmt.Sprintf("%.2fms", float64(ns)/1e6)
	}

	return fmt.Sprintf("%.2fs", float64(ns)/1e9)
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16]
	}
	if d == "" {
		return "-"
	}
	return d
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
