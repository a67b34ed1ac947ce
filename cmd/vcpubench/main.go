// Package main provides the CLI entry point for vcpubench, a harness that
// benchmarks 32-bit x86 execution engines against a bounded guest arena.
package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/weiihann/vcpubench/config"
	"github.com/weiihann/vcpubench/harness"
	"github.com/weiihann/vcpubench/metrics"
	"github.com/weiihann/vcpubench/report"
	"github.com/weiihann/vcpubench/workload"
)

// Exit codes for the run failure kinds. Any other error exits with 1.
const (
	exitFault     = 2
	exitViolation = 3
	exitConfig    = 4
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	root := newRootCmd(logger, level)
	if err := root.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

// reportError prints err in the form matching its kind and returns the
// process exit code.
func reportError(err error) int {
	var (
		fault     *harness.EngineFault
		violation *harness.ConsistencyViolation
		cfgErr    *harness.ConfigError
	)

	switch {
	case errors.As(err, &fault):
		fmt.Fprintf(os.Stderr, "Error: %s at 0x%x.\n", fault.Message, fault.Address)
		return exitFault
	case errors.As(err, &violation):
		fmt.Fprintf(os.Stderr, "Error: %v.\n", violation)
		return exitViolation
	case errors.As(err, &cfgErr):
		fmt.Fprintf(os.Stderr, "Error: %v.\n", cfgErr)
		return exitConfig
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func newRootCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	root := &cobra.Command{
		Use:   "vcpubench",
		Short: "Benchmark harness for 32-bit x86 execution engines",
		Long: `vcpubench invokes an entry point of an execution engine repeatedly
against a bounded guest address space, checks that every invocation returns
the same value and reports per-call latency.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	root.AddCommand(newRunCmd(logger, level))
	root.AddCommand(newEntriesCmd(logger))
	root.AddCommand(newDisasmCmd())
	root.AddCommand(newCompareCmd())

	return root
}

func newRunCmd(logger *slog.Logger, level *slog.LevelVar) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run entry points through an engine",
		Long: `Allocate the guest arena, apply the setup workload and invoke each
entry point the configured number of times, failing on the first fault or
inconsistent result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.ApplyFlags(cmd.Flags()); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return &harness.ConfigError{Op: "validate config", Err: err}
			}

			lvl, _ := config.ParseLevel(cfg.LogLevel)
			level.Set(lvl)

			return runBenchmark(cmd.Context(), logger, cfg)
		},
	}

	config.RegisterFlags(cmd.Flags())

	return cmd
}

func runBenchmark(ctx context.Context, logger *slog.Logger, cfg *config.Config) error {
	logger.InfoContext(ctx, "starting benchmark",
		slog.String("engine", cfg.Engine),
		slog.Any("entries", cfg.Entries),
		slog.Int("repetitions", cfg.Repetitions),
		slog.String("memory_start", cfg.MemoryStart.String()),
		slog.String("memory_end", cfg.MemoryEnd.String()),
		slog.String("stack_pointer", cfg.StackPointer.String()),
	)

	// Step 1: Resolve the engine and its entry table.
	backend, err := harness.ResolveEngine(cfg.Engine, cfg.Image, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	// Step 2: Load or generate the setup workload.
	setup, err := loadSetup(ctx, logger, cfg)
	if err != nil {
		return fmt.Errorf("load workload: %w", err)
	}

	// Step 3: Run each entry point sequentially.
	collector := metrics.New()
	runner := harness.NewRunner(backend.Name, backend.Engine, logger)
	results := make([]harness.Result, 0, len(cfg.Entries))

	runErr := func() error {
		for _, entry := range cfg.Entries {
			ep, ok := backend.Table.Lookup(entry)
			if !ok {
				err := &harness.ConfigError{Op: "lookup entry", Err: fmt.Errorf(
					"%s has no entry %q (available: %v)", backend.Name, entry, backend.Table.Names())}
				collector.ObserveFailure(backend.Name, entry, err)
				return err
			}

			result, err := runner.Run(ctx, harness.RunConfig{
				Entry:        entry,
				EntryPoint:   ep,
				MemoryStart:  uint32(cfg.MemoryStart),
				MemorySize:   cfg.MemorySize(),
				PageSize:     uint32(cfg.PageSize),
				StackPointer: uint32(cfg.StackPointer),
				Repetitions:  cfg.Repetitions,
				Setup:        setup,
			})
			if err != nil {
				collector.ObserveFailure(backend.Name, entry, err)
				return err
			}

			collector.ObserveResult(result)
			results = append(results, *result)
		}
		return nil
	}()

	// Step 4: Metrics are written on failure too, so the outcome is recorded.
	if cfg.MetricsFile != "" {
		if err := collector.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.WarnContext(ctx, "writing metrics failed", slog.Any("error", err))
		}
	}

	if runErr != nil {
		return runErr
	}

	// Step 5: Generate report.
	if cfg.JSON {
		if err := report.GenerateJSON(os.Stdout, results); err != nil {
			return fmt.Errorf("generate JSON report: %w", err)
		}
	} else {
		if err := report.Generate(os.Stdout, results); err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
	}

	if cfg.ChartFile != "" {
		if err := writeChart(cfg.ChartFile, results); err != nil {
			return err
		}
		logger.InfoContext(ctx, "chart written", slog.String("path", cfg.ChartFile))
	}

	logger.InfoContext(ctx, "benchmark complete")

	return nil
}

func loadSetup(
	ctx context.Context,
	logger *slog.Logger,
	cfg *config.Config,
) ([]workload.Operation, error) {
	if cfg.Workload != "" {
		f, err := os.Open(cfg.Workload)
		if err != nil {
			return nil, fmt.Errorf("open workload: %w", err)
		}
		defer f.Close()

		return workload.Read(f)
	}

	if cfg.PreloadSize == 0 && len(cfg.SeedRegisters) == 0 {
		return nil, nil
	}

	wcfg := workload.Config{
		Seed:         cfg.Seed,
		Base:         uint32(cfg.MemoryStart),
		Size:         int(cfg.PreloadSize),
		MinChunk:     16,
		MaxChunk:     4096,
		Distribution: cfg.Distribution,
		Registers:    cfg.SeedRegisters,
	}
	if cfg.ProtectPreload {
		wcfg.ProtectPage = uint32(cfg.PageSize)
	}

	gen := workload.NewGenerator(wcfg)

	var buf bytes.Buffer

	summary, err := gen.Generate(&buf)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	logger.InfoContext(ctx, "workload generated",
		slog.Int("operations", summary.TotalOperations),
		slog.Int("bytes", summary.BytesWritten),
		slog.Int("chunks", summary.Chunks),
		slog.Int("registers", summary.RegistersSet),
	)

	return workload.Read(&buf)
}

func writeChart(path string, results []harness.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart: %w", err)
	}

	if err := report.GenerateChart(f, results); err != nil {
		f.Close()
		return err
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close chart: %w", err)
	}

	return nil
}
