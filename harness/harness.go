package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/weiihann/vcpubench/cpu"
	"github.com/weiihann/vcpubench/engine"
	"github.com/weiihann/vcpubench/vmem"
	"github.com/weiihann/vcpubench/workload"
)

// DefaultRepetitions is the repetition count used when none is configured.
const DefaultRepetitions = 10

// RunConfig holds parameters for a single benchmark run.
type RunConfig struct {
	Entry      string
	EntryPoint engine.EntryPoint

	MemoryStart uint32
	MemorySize  uint32
	PageSize    uint32

	StackPointer uint32
	Repetitions  int

	// Setup is applied once to the fresh arena and registers, before the
	// first repetition.
	Setup []workload.Operation
}

func (cfg RunConfig) validate() error {
	if cfg.Repetitions < 1 {
		return &ConfigError{Op: "validate", Err: fmt.Errorf(
			"repetitions must be at least 1, got %d", cfg.Repetitions)}
	}

	end := uint64(cfg.MemoryStart) + uint64(cfg.MemorySize)
	if end > engine.ArenaLimit {
		return &ConfigError{Op: "validate", Err: fmt.Errorf(
			"arena end 0x%x overlaps the return sentinel page", end)}
	}

	sp := uint64(cfg.StackPointer)
	if sp < uint64(cfg.MemoryStart)+engine.WordSize || sp > end {
		return &ConfigError{Op: "validate", Err: fmt.Errorf(
			"stack pointer 0x%x leaves no word inside arena [0x%x, 0x%x)",
			cfg.StackPointer, cfg.MemoryStart, end)}
	}

	return nil
}

// Runner drives one engine.
type Runner struct {
	Name   string
	Engine engine.Engine
	Logger *slog.Logger

	// Now samples the monotonic clock. Defaults to time.Now.
	Now func() time.Time

	// Observe, when set, is called on every repetition state transition.
	Observe func(iteration int, p Phase)
}

// NewRunner creates a Runner for the named engine.
func NewRunner(name string, eng engine.Engine, logger *slog.Logger) *Runner {
	return &Runner{
		Name:   name,
		Engine: eng,
		Logger: logger.With(slog.String("engine", name)),
		Now:    time.Now,
	}
}

// Run allocates the arena and CPU state, invokes the entry point
// cfg.Repetitions times and checks that every call produced the first
// call's result. It fails with *EngineFault, *ConsistencyViolation or
// *ConfigError; there are no retries.
func (r *Runner) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	var opts []vmem.Option
	if cfg.PageSize != 0 {
		opts = append(opts, vmem.WithPageSize(cfg.PageSize))
	}

	mem, err := vmem.New(cfg.MemoryStart, cfg.MemorySize, opts...)
	if err != nil {
		return nil, &ConfigError{Op: "map arena", Err: err}
	}
	defer mem.Close()

	st := cpu.New(mem)
	st.SetReg(cpu.ESP, cfg.StackPointer)

	if err := workload.Apply(st, cfg.Setup); err != nil {
		return nil, &ConfigError{Op: "apply setup", Err: err}
	}

	logger := r.Logger.With(slog.String("entry", cfg.Entry))
	logger.InfoContext(ctx, "starting run",
		slog.String("arena_start", fmt.Sprintf("0x%x", cfg.MemoryStart)),
		slog.String("arena_end", fmt.Sprintf("0x%x", mem.End())),
		slog.String("stack_pointer", fmt.Sprintf("0x%x", cfg.StackPointer)),
		slog.Int("repetitions", cfg.Repetitions),
	)

	now := r.Now
	if now == nil {
		now = time.Now
	}

	latencies := make([]time.Duration, 0, cfg.Repetitions)
	var expected uint32

	start := now()

	for i := 1; i <= cfg.Repetitions; i++ {
		r.transition(ctx, logger, i, PhaseIdle)

		if err := primeStack(st, cfg.StackPointer); err != nil {
			return nil, &ConfigError{Op: "prime stack", Err: err}
		}
		r.transition(ctx, logger, i, PhaseStackPrimed)

		st.ResetFault()

		t0 := now()
		r.Engine.Execute(st, cfg.EntryPoint)
		latencies = append(latencies, now().Sub(t0))

		r.transition(ctx, logger, i, PhaseInvoked)

		if st.Faulted() {
			r.transition(ctx, logger, i, PhaseFaulted)
			f := st.Fault()

			return nil, &EngineFault{
				Entry:     cfg.Entry,
				Iteration: i,
				Message:   f.Message,
				Address:   f.Address,
			}
		}

		v := st.Reg(cpu.Accumulator)
		if i == 1 {
			expected = v
			logger.InfoContext(ctx, "first result", slog.Uint64("value", uint64(v)))
		} else if v != expected {
			return nil, &ConsistencyViolation{
				Entry:     cfg.Entry,
				Iteration: i,
				Expected:  expected,
				Observed:  v,
			}
		}

		r.transition(ctx, logger, i, PhaseSucceeded)
	}

	elapsed := now().Sub(start)

	result := &Result{
		RunID:         uuid.NewString(),
		Engine:        r.Name,
		Entry:         cfg.Entry,
		Value:         expected,
		Repetitions:   cfg.Repetitions,
		ElapsedNs:     elapsed.Nanoseconds(),
		MeanLatencyNs: elapsed.Nanoseconds() / int64(cfg.Repetitions),
		LatenciesNs:   toNanos(latencies),
		Stats:         summarize(latencies),
		ArenaBytes:    uint64(mem.Size()),
		MemoryDigest:  mem.Digest(),
	}

	if c, ok := r.Engine.(engine.Counter); ok {
		result.Counter = c.Counter()
	}

	logger.InfoContext(ctx, "run finished",
		slog.Duration("elapsed", elapsed),
		slog.Duration("mean_latency", result.MeanLatency()),
		slog.Uint64("counter", result.Counter),
	)

	return result, nil
}

// primeStack emulates the call: ESP is reset to sp, decremented by one word
// and the return sentinel stored at the new top of stack.
func primeStack(st *cpu.State, sp uint32) error {
	st.SetReg(cpu.ESP, sp)
	if err := st.Push32(engine.MagicReturn); err != nil {
		return fmt.Errorf("write return sentinel below 0x%x: %w", sp, err)
	}
	return nil
}

func (r *Runner) transition(ctx context.Context, logger *slog.Logger, i int, p Phase) {
	if r.Observe != nil {
		r.Observe(i, p)
	}
	if logger.Enabled(ctx, slog.LevelDebug) {
		logger.DebugContext(ctx, "repetition", slog.Int("iteration", i), slog.String("phase", p.String()))
	}
}
