// Package metrics exposes benchmark outcomes as Prometheus metrics, written
// in textfile-collector format at the end of a run.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/weiihann/vcpubench/harness"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess   = "success"
	OutcomeFault     = "fault"
	OutcomeViolation = "violation"
	OutcomeConfig    = "config"
	OutcomeError     = "error"
)

// Collector holds all benchmark metrics on a private registry.
type Collector struct {
	Registry *prometheus.Registry

	CallDuration  *prometheus.HistogramVec
	RunsTotal     *prometheus.CounterVec
	EngineCounter *prometheus.GaugeVec
	MeanLatency   *prometheus.GaugeVec
}

// New creates a Collector.
func New() *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Collector{
		Registry: reg,

		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vcpubench_call_duration_seconds",
				Help:    "Duration of a single engine invocation in seconds",
				Buckets: prometheus.ExponentialBuckets(1e-8, 4, 14),
			},
			[]string{"engine", "entry"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vcpubench_runs_total",
				Help: "Benchmark runs by outcome",
			},
			[]string{"engine", "entry", "outcome"},
		),
		EngineCounter: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vcpubench_engine_counter",
				Help: "Engine-side counter observed after the run",
			},
			[]string{"engine", "entry"},
		),
		MeanLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "vcpubench_mean_latency_seconds",
				Help: "Elapsed time divided by repetitions",
			},
			[]string{"engine", "entry"},
		),
	}
}

// ObserveResult records a successful run.
func (c *Collector) ObserveResult(r *harness.Result) {
	hist := c.CallDuration.WithLabelValues(r.Engine, r.Entry)
	for _, ns := range r.LatenciesNs {
		hist.Observe(time.Duration(ns).Seconds())
	}

	c.RunsTotal.WithLabelValues(r.Engine, r.Entry, OutcomeSuccess).Inc()
	c.EngineCounter.WithLabelValues(r.Engine, r.Entry).Set(float64(r.Counter))
	c.MeanLatency.WithLabelValues(r.Engine, r.Entry).Set(r.MeanLatency().Seconds())
}

// ObserveFailure records a failed run.
func (c *Collector) ObserveFailure(engine, entry string, err error) {
	c.RunsTotal.WithLabelValues(engine, entry, Outcome(err)).Inc()
}

// Outcome classifies a run error.
func Outcome(err error) string {
	var (
		fault     *harness.EngineFault
		violation *harness.ConsistencyViolation
		cfgErr    *harness.ConfigError
	)

	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &fault):
		return OutcomeFault
	case errors.As(err, &violation):
		return OutcomeViolation
	case errors.As(err, &cfgErr):
		return OutcomeConfig
	}

	return OutcomeError
}

// WriteTextfile writes every metric to path atomically.
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.Registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
