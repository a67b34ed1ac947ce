package report

import (
	"bytes"
	"strings"
	"testing"

	"github.com/weiihann/vcpubench/harness"
)

func sampleResults() []harness.Result {
	return []harness.Result{
		{
			RunID:         "a",
			Engine:        "builtin",
			Entry:         "test_target2",
			Value:         46368,
			Repetitions:   10,
			ElapsedNs:     10_000,
			MeanLatencyNs: 1_000,
			Stats:         harness.LatencyStats{P50Ns: 900, P99Ns: 1_500, StddevNs: 120},
			LatenciesNs:   []int64{1000, 900, 1500},
			Counter:       10,
			ArenaBytes:    0x7C00000,
			MemoryDigest:  "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		},
		{
			RunID:         "b",
			Engine:        "unicorn",
			Entry:         "test_target2",
			Value:         46368,
			Repetitions:   10,
			ElapsedNs:     20_000,
			MeanLatencyNs: 2_000,
			LatenciesNs:   []int64{2000, 2100},
			Counter:       250,
			ArenaBytes:    0x7C00000,
			MemoryDigest:  "af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262",
		},
	}
}

func TestGenerateMatchingValues(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, sampleResults()); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "all match") {
		t.Error("expected 'all match' for matching values")
	}
	if !strings.Contains(output, "builtin") || !strings.Contains(output, "unicorn") {
		t.Error("expected both engines in output")
	}
	if !strings.Contains(output, "2.00x") {
		t.Error("expected 2.00x slowdown for unicorn (twice as slow)")
	}
	if !strings.Contains(output, "124 MB") {
		t.Error("expected arena size in output")
	}
	if !strings.Contains(output, "af1349b9f5f9a1a6 ") {
		t.Error("expected shortened digest in output")
	}
}

func TestGenerateMismatchedValues(t *testing.T) {
	results := sampleResults()
	results[1].Value = 7

	var buf bytes.Buffer
	if err := Generate(&buf, results); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "MISMATCH") {
		t.Error("expected MISMATCH for different values")
	}
	if !strings.Contains(output, "builtin/test_target2: 46368") {
		t.Error("expected builtin value in mismatch details")
	}
	if !strings.Contains(output, "unicorn/test_target2: 7") {
		t.Error("expected unicorn value in mismatch details")
	}
}

func TestGenerateDistinctEntriesDoNotMismatch(t *testing.T) {
	results := sampleResults()
	results[1].Entry = "test_target1"
	results[1].Value = 5050

	var buf bytes.Buffer
	if err := Generate(&buf, results); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if !strings.Contains(buf.String(), "all match") {
		t.Error("different entries must not be compared with each other")
	}
	if strings.Contains(buf.String(), "2.00x") {
		t.Error("slowdown must be relative to the same entry")
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := Generate(&buf, nil); err == nil {
		t.Error("expected error for empty results")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateJSON(&buf, sampleResults()); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	if !strings.Contains(buf.String(), `"memory_digest"`) {
		t.Error("expected snake_case keys in JSON")
	}

	parsed, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON failed: %v", err)
	}

	if len(parsed) != 2 {
		t.Fatalf("expected 2 results, got %d", len(parsed))
	}
	if parsed[1].Engine != "unicorn" || parsed[1].Counter != 250 {
		t.Errorf("second result = %+v", parsed[1])
	}
}

func TestReadJSONInvalid(t *testing.T) {
	if _, err := ReadJSON(strings.NewReader("{not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestGenerateChart(t *testing.T) {
	var buf bytes.Buffer
	if err := GenerateChart(&buf, sampleResults()); err != nil {
		t.Fatalf("GenerateChart failed: %v", err)
	}

	output := buf.String()

	if !strings.Contains(output, "<html") {
		t.Error("expected an HTML page")
	}
	if !strings.Contains(output, "builtin/test_target2") {
		t.Error("expected series name in chart")
	}
}

func TestGenerateChartNoSamples(t *testing.T) {
	results := sampleResults()
	for i := range results {
		results[i].LatenciesNs = nil
	}

	var buf bytes.Buffer
	if err := GenerateChart(&buf, results); err == nil {
		t.Error("expected error without latency samples")
	}
}

func TestCompareIgnoresTimings(t *testing.T) {
	a := sampleResults()
	b := sampleResults()
	b[0].RunID = "other"
	b[0].ElapsedNs *= 3
	b[0].LatenciesNs = []int64{1}

	var buf bytes.Buffer
	match, err := Compare(&buf, a, b)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if !match {
		t.Errorf("expected match, got diff:\n%s", buf.String())
	}
}

func TestCompareIgnoresCounters(t *testing.T) {
	a := sampleResults()
	b := sampleResults()
	b[0].Counter = 12345
	b[1].Counter = 0

	var buf bytes.Buffer
	match, err := Compare(&buf, a, b)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if !match {
		t.Errorf("counters alone must not fail a comparison, got:\n%s", buf.String())
	}
}

func TestCompareReportsDifferences(t *testing.T) {
	a := sampleResults()
	b := sampleResults()
	b[1].MemoryDigest = "0000"

	var buf bytes.Buffer
	match, err := Compare(&buf, a, b)
	if err != nil {
		t.Fatalf("Compare failed: %v", err)
	}

	if match {
		t.Fatal("expected mismatch")
	}
	if !strings.Contains(buf.String(), "MISMATCH") {
		t.Error("expected MISMATCH header")
	}
	if !strings.Contains(buf.String(), "memory_digest") {
		t.Error("expected the changed field in the diff")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input uint64
		want  string
	}{
		{0, "-"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1073741824, "1 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatNs(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0ns"},
		{999, "999ns"},
		{1500, "1.50µs"},
		{2_500_000, "2.50ms"},
		{1_000_000_000, "1.00s"},
	}

	for _, tt := range tests {
		got := formatNs(tt.input)
		if got != tt.want {
			t.Errorf("formatNs(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
