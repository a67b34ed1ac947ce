package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"

	"github.com/weiihann/vcpubench/harness"
)

// outcome is the part of a result that must be reproducible across runs.
// The engine counter is informational and left out.
type outcome struct {
	Value        uint32 `json:"value"`
	Repetitions  int    `json:"repetitions"`
	MemoryDigest string `json:"memory_digest"`
}

func outcomes(results []harness.Result) map[string]outcome {
	out := make(map[string]outcome, len(results))
	for _, r := range results {
		out[r.Engine+"/"+r.Entry] = outcome{
			Value:        r.Value,
			Repetitions:  r.Repetitions,
			MemoryDigest: r.MemoryDigest,
		}
	}
	return out
}

// Compare diffs two result sets, ignoring timings, run IDs and engine
// counters. It writes an ASCII diff to w and reports whether the sets agree.
func Compare(w io.Writer, a, b []harness.Result) (bool, error) {
	left, err := json.Marshal(outcomes(a))
	if err != nil {
		return false, fmt.Errorf("encode left: %w", err)
	}
	right, err := json.Marshal(outcomes(b))
	if err != nil {
		return false, fmt.Errorf("encode right: %w", err)
	}

	delta, err := gojsondiff.New().Compare(left, right)
	if err != nil {
		return false, fmt.Errorf("diff results: %w", err)
	}

	if !delta.Modified() {
		fmt.Fprintln(w, "Results: **all match**")
		return true, nil
	}

	var leftObj map[string]interface{}
	if err := json.Unmarshal(left, &leftObj); err != nil {
		return false, fmt.Errorf("decode left: %w", err)
	}

	diff, err := formatter.NewAsciiFormatter(leftObj, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
	}).Format(delta)
	if err != nil {
		return false, fmt.Errorf("format diff: %w", err)
	}

	fmt.Fprintln(w, "Results: **MISMATCH**")
	fmt.Fprintln(w)
	fmt.Fprint(w, diff)

	return false, nil
}
