package workload

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/weiihann/vcpubench/cpu"
	"github.com/weiihann/vcpubench/vmem"
)

func TestGenerateDeterministic(t *testing.T) {
	cfg := Config{
		Seed:         42,
		Base:         0x500000,
		Size:         4096,
		MinChunk:     16,
		MaxChunk:     256,
		Distribution: "uniform",
		Registers:    []string{"ebx", "esi"},
	}

	var buf1, buf2 bytes.Buffer

	gen1 := NewGenerator(cfg)
	sum1, err := gen1.Generate(&buf1)
	if err != nil {
		t.Fatalf("first generation failed: %v", err)
	}

	gen2 := NewGenerator(cfg)
	sum2, err := gen2.Generate(&buf2)
	if err != nil {
		t.Fatalf("second generation failed: %v", err)
	}

	if buf1.String() != buf2.String() {
		t.Error("images are not deterministic for same seed")
	}

	if sum1 != sum2 {
		t.Errorf("summaries differ: %+v vs %+v", sum1, sum2)
	}
}

func TestGenerateDifferentSeeds(t *testing.T) {
	cfg := Config{Seed: 1, Base: 0x500000, Size: 512, MinChunk: 64, MaxChunk: 64}

	var buf1, buf2 bytes.Buffer
	if _, err := NewGenerator(cfg).Generate(&buf1); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	cfg.Seed = 2
	if _, err := NewGenerator(cfg).Generate(&buf2); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	if buf1.String() == buf2.String() {
		t.Error("different seeds produced identical images")
	}
}

func TestGenerateCounts(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantBytes  int
		wantRegs   int
		wantChunks int
	}{
		{
			name: "fixed chunks",
			cfg: Config{
				Seed: 1, Base: 0x500000, Size: 1000,
				MinChunk: 100, MaxChunk: 100,
			},
			wantBytes:  1000,
			wantChunks: 10,
		},
		{
			name: "short tail chunk",
			cfg: Config{
				Seed: 2, Base: 0x500000, Size: 1050,
				MinChunk: 100, MaxChunk: 100, Registers: []string{"EDI"},
			},
			wantBytes:  1050,
			wantRegs:   1,
			wantChunks: 11,
		},
		{
			name: "power law",
			cfg: Config{
				Seed: 3, Base: 0x500000, Size: 4096,
				MinChunk: 8, MaxChunk: 512, Distribution: "power-law",
			},
			wantBytes:  4096,
			wantChunks: -1,
		},
		{
			name: "exponential",
			cfg: Config{
				Seed: 4, Base: 0x500000, Size: 4096,
				MinChunk: 8, MaxChunk: 512, Distribution: "exponential",
			},
			wantBytes:  4096,
			wantChunks: -1,
		},
		{
			name:       "empty",
			cfg:        Config{Seed: 5, Base: 0x500000},
			wantBytes:  0,
			wantChunks: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			gen := NewGenerator(tt.cfg)

			sum, err := gen.Generate(&buf)
			if err != nil {
				t.Fatalf("generation failed: %v", err)
			}

			if sum.BytesWritten != tt.wantBytes {
				t.Errorf("bytes: got %d, want %d", sum.BytesWritten, tt.wantBytes)
			}
			if sum.RegistersSet != tt.wantRegs {
				t.Errorf("registers: got %d, want %d", sum.RegistersSet, tt.wantRegs)
			}
			if tt.wantChunks >= 0 && sum.Chunks != tt.wantChunks {
				t.Errorf("chunks: got %d, want %d", sum.Chunks, tt.wantChunks)
			}
		})
	}
}

func TestGenerateUnknownRegister(t *testing.T) {
	gen := NewGenerator(Config{Seed: 1, Registers: []string{"rax"}})

	var buf bytes.Buffer
	if _, err := gen.Generate(&buf); err == nil {
		t.Error("expected error for unknown register")
	}
}

func TestGenerateValidJSONL(t *testing.T) {
	cfg := Config{
		Seed:        42,
		Base:        0x500000,
		Size:        300,
		MinChunk:    32,
		MaxChunk:    64,
		Registers:   []string{"ecx"},
		ProtectPage: 0x1000,
	}

	var buf bytes.Buffer
	gen := NewGenerator(cfg)
	if _, err := gen.Generate(&buf); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	scanner := bufio.NewScanner(&buf)
	lineNum := 0
	var last Operation

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		var op Operation
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			t.Errorf("line %d: invalid JSON: %v\nline: %s", lineNum, err, line)

			continue
		}

		switch op.Op {
		case OpWrite:
			if !strings.HasPrefix(op.Addr, "0x") {
				t.Errorf("line %d: addr missing 0x prefix: %s", lineNum, op.Addr)
			}
			if !strings.HasPrefix(op.Data, "0x") {
				t.Errorf("line %d: data missing 0x prefix: %s", lineNum, op.Data)
			}
		case OpSetReg:
			if op.Reg != "ecx" {
				t.Errorf("line %d: reg = %q, want ecx", lineNum, op.Reg)
			}
		case OpProtect:
			if op.Size != 0x1000 || op.Perm != "r" {
				t.Errorf("line %d: protect = %+v", lineNum, op)
			}
		default:
			t.Errorf("line %d: unknown op %q", lineNum, op.Op)
		}

		last = op
	}

	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}

	if last.Op != OpProtect {
		t.Errorf("last op = %q, want %q", last.Op, OpProtect)
	}
}

func TestReadApply(t *testing.T) {
	cfg := Config{
		Seed:        7,
		Base:        0x500000,
		Size:        0x1800,
		MinChunk:    100,
		MaxChunk:    300,
		Registers:   []string{"ebx"},
		ProtectPage: 0x1000,
	}

	var buf bytes.Buffer
	if _, err := NewGenerator(cfg).Generate(&buf); err != nil {
		t.Fatalf("generation failed: %v", err)
	}

	ops, err := Read(&buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	mem, err := vmem.New(0x500000, 0x10000, vmem.WithPageSize(0x1000))
	if err != nil {
		t.Fatalf("vmem.New failed: %v", err)
	}
	defer mem.Close()

	st := cpu.New(mem)
	if err := Apply(st, ops); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if st.Reg(cpu.EBX) == 0 {
		t.Error("ebx was not seeded")
	}

	if bytes.Equal(mem.Bytes()[:0x1800], make([]byte, 0x1800)) {
		t.Error("preload region is still zero")
	}
	if !bytes.Equal(mem.Bytes()[0x1800:0x2000], make([]byte, 0x800)) {
		t.Error("bytes past the preload region were written")
	}

	// Two pages are sealed, the third is not.
	err = mem.Write32(0x501000, 1)
	if !errors.Is(err, vmem.ErrPermissionDenied) {
		t.Errorf("write to sealed page: err = %v, want permission denied", err)
	}
	if err := mem.Write32(0x502000, 1); err != nil {
		t.Errorf("write past sealed pages: %v", err)
	}
}

func TestApplyRejects(t *testing.T) {
	mem, err := vmem.New(0x500000, 0x1000)
	if err != nil {
		t.Fatalf("vmem.New failed: %v", err)
	}
	defer mem.Close()

	tests := []struct {
		name string
		op   Operation
	}{
		{name: "unknown op", op: Operation{Op: "jump"}},
		{name: "write out of range", op: Operation{Op: OpWrite, Addr: "0x400000", Data: "0x00"}},
		{name: "bad data", op: Operation{Op: OpWrite, Addr: "0x500000", Data: "0xzz"}},
		{name: "bad register", op: Operation{Op: OpSetReg, Reg: "rip", Value: "0x1"}},
		{name: "bad value", op: Operation{Op: OpSetReg, Reg: "eax", Value: "nope"}},
		{name: "bad perm", op: Operation{Op: OpProtect, Addr: "0x500000", Size: 0x1000, Perm: "x"}},
		{name: "protect flat space", op: Operation{Op: OpProtect, Addr: "0x500000", Size: 0x1000, Perm: "r"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := Apply(cpu.New(mem), []Operation{tt.op}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestReadInvalidJSON(t *testing.T) {
	if _, err := Read(strings.NewReader("{\"op\":\"write\"}\nnot json\n")); err == nil {
		t.Error("expected error for invalid JSONL")
	}
}
