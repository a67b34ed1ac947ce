package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/weiihann/vcpubench/config"
	"github.com/weiihann/vcpubench/harness"
	"github.com/weiihann/vcpubench/workload"
)

func testRoot(t *testing.T, args ...string) (*bytes.Buffer, error) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := newRootCmd(logger, new(slog.LevelVar))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	return &out, root.Execute()
}

func TestReportErrorExitCodes(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&harness.EngineFault{Message: "invalid memory access", Address: 0x4FFFFF}, exitFault},
		{fmt.Errorf("run: %w", &harness.ConsistencyViolation{Expected: 42, Observed: 7}), exitViolation},
		{&harness.ConfigError{Op: "validate", Err: errors.New("bad")}, exitConfig},
		{errors.New("boom"), 1},
	}

	for _, tt := range tests {
		if got := reportError(tt.err); got != tt.want {
			t.Errorf("reportError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRunBuiltinWritesMetrics(t *testing.T) {
	metricsPath := filepath.Join(t.TempDir(), "run.prom")

	_, err := testRoot(t, "run",
		"--entries", "test_target1,test_target2",
		"-n", "3",
		"--memory-end", "0x600000",
		"--preload-size", "0x1000",
		"--metrics-file", metricsPath,
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(data), `outcome="success"`) {
		t.Errorf("metrics missing success outcome:\n%s", data)
	}
}

func TestRunProtectedPreload(t *testing.T) {
	_, err := testRoot(t, "run",
		"--entries", "checksum",
		"-n", "2",
		"--memory-end", "0x600000",
		"--page-size", "0x1000",
		"--preload-size", "0x1800",
		"--protect-preload",
		"--seed-registers", "ebx,esi",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestLoadSetupSeedsRegistersAndProtects(t *testing.T) {
	cfg := config.Default()
	cfg.PageSize = 0x1000
	cfg.PreloadSize = 0x1800
	cfg.ProtectPreload = true
	cfg.SeedRegisters = []string{"ebx", "esi"}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops, err := loadSetup(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("loadSetup failed: %v", err)
	}

	var regs []string
	var protect *workload.Operation
	for i := range ops {
		switch ops[i].Op {
		case workload.OpSetReg:
			regs = append(regs, ops[i].Reg)
		case workload.OpProtect:
			protect = &ops[i]
		}
	}

	if len(regs) != 2 || regs[0] != "ebx" || regs[1] != "esi" {
		t.Errorf("seeded registers = %v, want [ebx esi]", regs)
	}
	if protect == nil {
		t.Fatal("expected a protect operation")
	}
	if protect.Size != 0x2000 || protect.Perm != "r" {
		t.Errorf("protect = %+v, want size 0x2000 perm r", *protect)
	}
}

func TestLoadSetupWithoutProtectionHasNoProtect(t *testing.T) {
	cfg := config.Default()
	cfg.PreloadSize = 0x100

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ops, err := loadSetup(context.Background(), logger, cfg)
	if err != nil {
		t.Fatalf("loadSetup failed: %v", err)
	}

	for _, op := range ops {
		if op.Op != workload.OpWrite {
			t.Errorf("unexpected %s operation", op.Op)
		}
	}
}

func TestRunBuiltinFault(t *testing.T) {
	_, err := testRoot(t, "run", "--entries", "read_below_start", "-n", "2", "--memory-end", "0x600000")

	var fault *harness.EngineFault
	if !errors.As(err, &fault) {
		t.Fatalf("expected *harness.EngineFault, got %v", err)
	}
	if fault.Address != 0x4FFFFF {
		t.Errorf("address = 0x%x, want 0x4fffff", fault.Address)
	}
}

func TestRunUnknownEntry(t *testing.T) {
	_, err := testRoot(t, "run", "--entries", "nope", "--memory-end", "0x600000")

	var cfgErr *harness.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *harness.ConfigError, got %v", err)
	}
}

func TestRunInvalidConfig(t *testing.T) {
	_, err := testRoot(t, "run", "--stack-pointer", "0x100")

	var cfgErr *harness.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *harness.ConfigError, got %v", err)
	}
}

func TestEntriesListsBuiltin(t *testing.T) {
	out, err := testRoot(t, "entries", "--engine", "builtin")
	if err != nil {
		t.Fatalf("entries failed: %v", err)
	}

	for _, name := range []string{"builtin", "test_target1", "test_target2", "checksum"} {
		if !strings.Contains(out.String(), name) {
			t.Errorf("entries output missing %q:\n%s", name, out)
		}
	}
}

func TestCompareCommand(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	b := filepath.Join(dir, "b.json")
	c := filepath.Join(dir, "c.json")

	write := func(path, body string) {
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write(a, `[{"engine":"builtin","entry":"x","value":1,"elapsed_ns":10}]`)
	write(b, `[{"engine":"builtin","entry":"x","value":1,"elapsed_ns":99}]`)
	write(c, `[{"engine":"builtin","entry":"x","value":2}]`)

	if _, err := testRoot(t, "compare", a, b); err != nil {
		t.Errorf("compare of equal results failed: %v", err)
	}

	if _, err := testRoot(t, "compare", a, c); !errors.Is(err, errResultsDiffer) {
		t.Errorf("expected errResultsDiffer, got %v", err)
	}
}
