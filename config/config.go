// Package config holds the benchmark configuration. Values are layered as
// defaults, then a YAML file, then VCPUBENCH_* environment variables, then
// flags the user set explicitly.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"

	"github.com/weiihann/vcpubench/cpu"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "VCPUBENCH"

// LevelTrace is below slog.LevelDebug and enables per-repetition output.
const LevelTrace = slog.Level(-8)

// Config holds all run configuration.
type Config struct {
	Engine  string   `yaml:"engine" envconfig:"ENGINE"`
	Image   string   `yaml:"image" envconfig:"IMAGE"`
	Entries []string `yaml:"entries" envconfig:"ENTRIES"`

	MemoryStart  Addr `yaml:"memory_start" envconfig:"MEMORY_START"`
	MemoryEnd    Addr `yaml:"memory_end" envconfig:"MEMORY_END"`
	PageSize     Addr `yaml:"page_size" envconfig:"PAGE_SIZE"`
	StackPointer Addr `yaml:"stack_pointer" envconfig:"STACK_POINTER"`
	Repetitions  int  `yaml:"repetitions" envconfig:"REPETITIONS"`

	// Workload is a JSONL setup file. When empty and PreloadSize is set, a
	// setup is generated from Seed.
	Workload     string `yaml:"workload" envconfig:"WORKLOAD"`
	Seed         int64  `yaml:"seed" envconfig:"SEED"`
	PreloadSize  Addr   `yaml:"preload_size" envconfig:"PRELOAD_SIZE"`
	Distribution string `yaml:"distribution" envconfig:"DISTRIBUTION"`
	// SeedRegisters are given random values from Seed before the first call.
	SeedRegisters []string `yaml:"seed_registers" envconfig:"SEED_REGISTERS"`
	// ProtectPreload marks the generated preload read-only, rounded up to
	// whole pages. It requires PageSize.
	ProtectPreload bool `yaml:"protect_preload" envconfig:"PROTECT_PRELOAD"`

	LogLevel    string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	JSON        bool   `yaml:"json" envconfig:"JSON"`
	ChartFile   string `yaml:"chart_file" envconfig:"CHART_FILE"`
	MetricsFile string `yaml:"metrics_file" envconfig:"METRICS_FILE"`
}

// Default returns the default configuration: the arena
// [0x500000, 0x8100000) with the stack pointer at 0x508000.
func Default() *Config {
	return &Config{
		Engine:       "builtin",
		Entries:      []string{"test_target2"},
		MemoryStart:  0x500000,
		MemoryEnd:    0x8100000,
		StackPointer: 0x508000,
		Repetitions:  10,
		Seed:         1,
		Distribution: "uniform",
		LogLevel:     "info",
	}
}

// Load builds a Config from the defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Fields without a matching variable keep their current value.
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	return cfg, nil
}

// MemorySize returns the arena length.
func (c *Config) MemorySize() uint32 {
	return uint32(c.MemoryEnd - c.MemoryStart)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	switch {
	case c.Engine == "":
		return errors.New("engine must be set")
	case len(c.Entries) == 0:
		return errors.New("at least one entry must be set")
	case c.Repetitions < 1:
		return fmt.Errorf("repetitions must be at least 1, got %d", c.Repetitions)
	case c.MemoryEnd <= c.MemoryStart:
		return fmt.Errorf("memory end %s must be above memory start %s", c.MemoryEnd, c.MemoryStart)
	case uint64(c.StackPointer) < uint64(c.MemoryStart)+4 || c.StackPointer > c.MemoryEnd:
		return fmt.Errorf("stack pointer %s must be in [0x%x, %s]",
			c.StackPointer, uint64(c.MemoryStart)+4, c.MemoryEnd)
	case c.PageSize != 0 && c.PageSize&(c.PageSize-1) != 0:
		return fmt.Errorf("page size %s is not a power of two", c.PageSize)
	case uint64(c.PreloadSize) > uint64(c.MemorySize()):
		return fmt.Errorf("preload size %s exceeds the arena", c.PreloadSize)
	case c.ProtectPreload && c.PageSize == 0:
		return errors.New("protect preload needs a page size")
	}

	for _, name := range c.SeedRegisters {
		if _, err := cpu.ParseReg(name); err != nil {
			return fmt.Errorf("seed registers: %w", err)
		}
	}

	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// RegisterFlags defines a flag for every setting on fs, with the default
// values. Use ApplyFlags to copy the ones the user set into a Config.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.String("engine", d.Engine, "Execution engine (builtin, unicorn)")
	fs.String("image", d.Image, "Code image manifest for emulating engines")
	fs.StringSlice("entries", d.Entries, "Entry points to benchmark")

	start, end, sp, page, preload := d.MemoryStart, d.MemoryEnd, d.StackPointer, d.PageSize, d.PreloadSize
	fs.Var(&start, "memory-start", "First arena address")
	fs.Var(&end, "memory-end", "Address one past the arena")
	fs.Var(&sp, "stack-pointer", "Stack pointer before the return sentinel is pushed")
	fs.Var(&page, "page-size", "Page size for per-page permissions (0 = none)")
	fs.IntP("repetitions", "n", d.Repetitions, "Invocations per entry point")

	fs.String("workload", d.Workload, "Path to a JSONL setup file")
	fs.Int64("seed", d.Seed, "Seed for the generated preload")
	fs.Var(&preload, "preload-size", "Bytes of generated preload at the arena start (0 = none)")
	fs.String("distribution", d.Distribution, "Preload chunk distribution: power-law, uniform, exponential")
	fs.StringSlice("seed-registers", d.SeedRegisters, "Registers to give random values from the seed")
	fs.Bool("protect-preload", d.ProtectPreload, "Make the generated preload read-only (needs --page-size)")

	fs.String("log-level", d.LogLevel, "Log level: trace, debug, info, warn, error")
	fs.Bool("json", d.JSON, "Output results as JSON instead of a table")
	fs.String("chart", d.ChartFile, "Write an HTML latency chart to this path")
	fs.String("metrics-file", d.MetricsFile, "Write Prometheus metrics in textfile format to this path")
}

// ApplyFlags copies every flag set on the command line into c.
func (c *Config) ApplyFlags(fs *pflag.FlagSet) error {
	var err error

	fs.Visit(func(f *pflag.Flag) {
		if err != nil {
			return
		}

		switch f.Name {
		case "engine":
			c.Engine = f.Value.String()
		case "image":
			c.Image = f.Value.String()
		case "entries":
			c.Entries, err = fs.GetStringSlice(f.Name)
		case "memory-start":
			c.MemoryStart = *f.Value.(*Addr)
		case "memory-end":
			c.MemoryEnd = *f.Value.(*Addr)
		case "stack-pointer":
			c.StackPointer = *f.Value.(*Addr)
		case "page-size":
			c.PageSize = *f.Value.(*Addr)
		case "repetitions":
			c.Repetitions, err = fs.GetInt(f.Name)
		case "workload":
			c.Workload = f.Value.String()
		case "seed":
			c.Seed, err = fs.GetInt64(f.Name)
		case "preload-size":
			c.PreloadSize = *f.Value.(*Addr)
		case "distribution":
			c.Distribution = f.Value.String()
		case "seed-registers":
			c.SeedRegisters, err = fs.GetStringSlice(f.Name)
		case "protect-preload":
			c.ProtectPreload, err = fs.GetBool(f.Name)
		case "log-level":
			c.LogLevel = f.Value.String()
		case "json":
			c.JSON, err = fs.GetBool(f.Name)
		case "chart":
			c.ChartFile = f.Value.String()
		case "metrics-file":
			c.MetricsFile = f.Value.String()
		}
	})

	if err != nil {
		return fmt.Errorf("apply flags: %w", err)
	}

	return nil
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return 0, fmt.Errorf("unknown log level %q", s)
}

// Addr is a 32-bit guest address. It accepts decimal, 0x-prefixed hex and
// 0o/0b literals from YAML, the environment and flags.
type Addr uint32

func (a Addr) String() string { return "0x" + strconv.FormatUint(uint64(a), 16) }

// Set implements pflag.Value and envconfig.Setter.
func (a *Addr) Set(s string) error {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 32)
	if err != nil {
		return fmt.Errorf("parse address %q: %w", s, err)
	}
	*a = Addr(v)
	return nil
}

// Type implements pflag.Value.
func (a *Addr) Type() string { return "addr" }

func (a Addr) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Addr) UnmarshalText(b []byte) error { return a.Set(string(b)) }

// UnmarshalYAML takes the raw scalar so hex literals keep their meaning.
func (a *Addr) UnmarshalYAML(b []byte) error { return a.Set(string(b)) }
