// Package workload generates deterministic JSONL preload images for the
// benchmark arena. An image consists of write, set_reg and protect
// operations that are applied once, before the first repetition, so every
// run of the same seed starts from the same memory and register state.
package workload

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	mrand "math/rand"
	"strconv"
	"strings"

	"github.com/weiihann/vcpubench/cpu"
)

// Operation kinds.
const (
	OpWrite   = "write"
	OpSetReg  = "set_reg"
	OpProtect = "protect"
)

// Operation represents a single setup step in the image.
type Operation struct {
	Op    string `json:"op"`
	Addr  string `json:"addr,omitempty"`
	Size  uint32 `json:"size,omitempty"`
	Data  string `json:"data,omitempty"`
	Reg   string `json:"reg,omitempty"`
	Value string `json:"value,omitempty"`
	Perm  string `json:"perm,omitempty"`
}

// Summary contains statistics about the generated image.
type Summary struct {
	TotalOperations int
	BytesWritten    int
	Chunks          int
	RegistersSet    int
}

// Config controls image generation parameters.
type Config struct {
	Seed         int64
	Base         uint32
	Size         int
	MinChunk     int
	MaxChunk     int
	Distribution string
	// Registers lists registers to seed with random values.
	Registers []string
	// ProtectPage, when non-zero, marks the page-rounded preload region
	// read-only.
	ProtectPage uint32
}

// Generator produces deterministic images from a Config.
type Generator struct {
	cfg Config
	rng *mrand.Rand
}

// NewGenerator creates a Generator from the given Config.
func NewGenerator(cfg Config) *Generator {
	if cfg.MinChunk <= 0 {
		cfg.MinChunk = 1
	}
	if cfg.MaxChunk < cfg.MinChunk {
		cfg.MaxChunk = cfg.MinChunk
	}

	return &Generator{
		cfg: cfg,
		rng: mrand.New(mrand.NewSource(cfg.Seed)),
	}
}

// Generate writes a JSONL image to w and returns a Summary.
func (g *Generator) Generate(w io.Writer) (Summary, error) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	var summary Summary

	// Fill the preload region with back-to-back chunks.
	addr := uint64(g.cfg.Base)
	end := addr + uint64(g.cfg.Size)

	for addr < end {
		n := uint64(g.chunkSize())
		if addr+n > end {
			n = end - addr
		}

		buf := make([]byte, n)
		g.rng.Read(buf)

		if err := enc.Encode(Operation{
			Op:   OpWrite,
			Addr: formatHex(addr),
			Data: "0x" + hex.EncodeToString(buf),
		}); err != nil {
			return summary, fmt.Errorf("encode write: %w", err)
		}

		addr += n
		summary.Chunks++
		summary.BytesWritten += int(n)
		summary.TotalOperations++
	}

	for _, name := range g.cfg.Registers {
		if _, err := cpu.ParseReg(name); err != nil {
			return summary, fmt.Errorf("seed register: %w", err)
		}

		if err := enc.Encode(Operation{
			Op:    OpSetReg,
			Reg:   strings.ToLower(name),
			Value: formatHex(uint64(g.rng.Uint32())),
		}); err != nil {
			return summary, fmt.Errorf("encode set_reg: %w", err)
		}

		summary.RegistersSet++
		summary.TotalOperations++
	}

	// Seal the preload region last so the writes above are permitted.
	if page := uint64(g.cfg.ProtectPage); page != 0 && g.cfg.Size > 0 {
		span := (uint64(g.cfg.Size) + page - 1) / page * page

		if err := enc.Encode(Operation{
			Op:   OpProtect,
			Addr: formatHex(uint64(g.cfg.Base)),
			Size: uint32(span),
			Perm: "r",
		}); err != nil {
			return summary, fmt.Errorf("encode protect: %w", err)
		}

		summary.TotalOperations++
	}

	return summary, nil
}

func (g *Generator) chunkSize() int {
	lo, hi := g.cfg.MinChunk, g.cfg.MaxChunk

	switch g.cfg.Distribution {
	case "power-law":
		alpha := 1.5
		u := g.rng.Float64()
		size := float64(lo) / math.Pow(1-u, 1/alpha)
		if size > float64(hi) {
			size = float64(hi)
		}
		return max(lo, int(size))

	case "exponential":
		lambda := math.Log(2) / math.Max(1, float64(hi)/4)
		u := g.rng.Float64()
		size := -math.Log(1-u) / lambda
		return int(math.Max(float64(lo), math.Min(size, float64(hi))))

	default:
		// Uniform, also for unknown distributions.
		return lo + g.rng.Intn(hi-lo+1)
	}
}

func formatHex(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}
