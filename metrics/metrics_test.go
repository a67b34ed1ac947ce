package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiihann/vcpubench/harness"
)

func TestObserveResult(t *testing.T) {
	c := New()
	c.ObserveResult(&harness.Result{
		Engine:        "builtin",
		Entry:         "test_target1",
		Repetitions:   3,
		MeanLatencyNs: 2_000,
		LatenciesNs:   []int64{1_000, 2_000, 3_000},
		Counter:       3,
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.RunsTotal.WithLabelValues("builtin", "test_target1", OutcomeSuccess)))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.EngineCounter.WithLabelValues("builtin", "test_target1")))
	assert.InDelta(t, 2e-6, testutil.ToFloat64(c.MeanLatency.WithLabelValues("builtin", "test_target1")), 1e-12)
	assert.Equal(t, 1, testutil.CollectAndCount(c.CallDuration))
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, OutcomeSuccess},
		{&harness.EngineFault{}, OutcomeFault},
		{fmt.Errorf("run: %w", &harness.ConsistencyViolation{}), OutcomeViolation},
		{&harness.ConfigError{Op: "validate", Err: errors.New("bad")}, OutcomeConfig},
		{errors.New("other"), OutcomeError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Outcome(tt.err))
	}
}

func TestWriteTextfile(t *testing.T) {
	c := New()
	c.ObserveFailure("builtin", "read_below_start", &harness.EngineFault{Address: 0x4FFFFF})

	path := filepath.Join(t.TempDir(), "vcpubench.prom")
	require.NoError(t, c.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	out := string(data)
	assert.True(t, strings.Contains(out, "vcpubench_runs_total"), out)
	assert.True(t, strings.Contains(out, `outcome="fault"`), out)
}

func TestWriteTextfileBadPath(t *testing.T) {
	c := New()
	assert.Error(t, c.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")))
}
