//go:build unicorn
// +build unicorn

// Package unicorn runs a 32-bit x86 code image in the unicorn emulator.
//
// The arena is mapped into the emulator directly over the address space's
// buffer, so guest memory is shared rather than copied. The arena buffer is
// mmap'd outside the Go heap, which is what makes handing it to C legal.
package unicorn

import (
	"fmt"
	"log/slog"
	"unsafe"

	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"

	"github.com/weiihann/vcpubench/codetable"
	"github.com/weiihann/vcpubench/cpu"
	"github.com/weiihann/vcpubench/engine"
	"github.com/weiihann/vcpubench/vmem"
)

const pageSize = 0x1000

var x86Regs = [cpu.NumRegs]int{
	cpu.EAX: uc.X86_REG_EAX,
	cpu.EBX: uc.X86_REG_EBX,
	cpu.ECX: uc.X86_REG_ECX,
	cpu.EDX: uc.X86_REG_EDX,
	cpu.ESI: uc.X86_REG_ESI,
	cpu.EDI: uc.X86_REG_EDI,
	cpu.EBP: uc.X86_REG_EBP,
	cpu.ESP: uc.X86_REG_ESP,
}

// Engine executes a codetable.Image. It is not safe for concurrent use.
type Engine struct {
	mu     uc.Unicorn
	img    *codetable.Image
	logger *slog.Logger

	arena     *vmem.AddressSpace
	arenaBase uint64
	arenaSize uint64

	faulted   bool
	faultAddr uint64
	blocks    uint64
}

var (
	_ engine.Engine  = (*Engine)(nil)
	_ engine.Counter = (*Engine)(nil)
)

// New creates an emulator with img mapped read+exec at img.Base.
func New(img *codetable.Image, logger *slog.Logger) (*Engine, error) {
	if err := img.Validate(); err != nil {
		return nil, fmt.Errorf("validate image: %w", err)
	}

	mu, err := uc.NewUnicorn(uc.ARCH_X86, uc.MODE_32)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}

	e := &Engine{mu: mu, img: img, logger: logger}

	if err := mu.MemMapProt(uint64(img.Base), img.MappedSize(), uc.PROT_READ|uc.PROT_EXEC); err != nil {
		mu.Close()
		return nil, fmt.Errorf("map code at 0x%x: %w", img.Base, err)
	}
	if err := mu.MemWrite(uint64(img.Base), img.Code); err != nil {
		mu.Close()
		return nil, fmt.Errorf("load code: %w", err)
	}

	if _, err := mu.HookAdd(uc.HOOK_MEM_INVALID, func(_ uc.Unicorn, access int,
		addr uint64, size int, value int64) bool {
		e.faulted = true
		e.faultAddr = addr
		return false
	}, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("add invalid memory hook: %w", err)
	}

	if _, err := mu.HookAdd(uc.HOOK_BLOCK, func(_ uc.Unicorn, addr uint64, size uint32) {
		e.blocks++
	}, 1, 0); err != nil {
		mu.Close()
		return nil, fmt.Errorf("add block hook: %w", err)
	}

	return e, nil
}

// Counter returns the number of basic blocks executed so far.
func (e *Engine) Counter() uint64 { return e.blocks }

// Execute runs the code at img.Base+entry until it returns to
// engine.MagicReturn.
func (e *Engine) Execute(st *cpu.State, entry engine.EntryPoint) {
	if int(entry) >= len(e.img.Code) {
		st.ReportFault(fmt.Sprintf("invalid entry point 0x%x", uint32(entry)), uint32(entry))
		return
	}

	if err := e.bind(st.Memory); err != nil {
		st.ReportFault(err.Error(), st.Memory.Start())
		return
	}

	for r, ucReg := range x86Regs {
		if err := e.mu.RegWrite(ucReg, uint64(st.Reg(cpu.Reg(r)))); err != nil {
			st.ReportFault(fmt.Sprintf("write %s: %v", cpu.Reg(r), err), 0)
			return
		}
	}

	e.faulted, e.faultAddr = false, 0

	begin := uint64(e.img.Base) + uint64(entry)
	runErr := e.mu.Start(begin, uint64(engine.MagicReturn))

	for r, ucReg := range x86Regs {
		v, err := e.mu.RegRead(ucReg)
		if err != nil {
			st.ReportFault(fmt.Sprintf("read %s: %v", cpu.Reg(r), err), 0)
			return
		}
		st.SetReg(cpu.Reg(r), uint32(v))
	}

	if runErr != nil {
		addr := e.faultAddr
		if !e.faulted {
			addr, _ = e.mu.RegRead(uc.X86_REG_EIP)
		}
		st.ReportFault(fmt.Sprintf("emulation failed: %v", runErr), uint32(addr))
	}
}

// bind maps mem into the emulator, replacing a previously bound arena.
func (e *Engine) bind(mem *vmem.AddressSpace) error {
	if e.arena == mem {
		return nil
	}

	if e.arena != nil {
		if err := e.mu.MemUnmap(e.arenaBase, e.arenaSize); err != nil {
			return fmt.Errorf("unmap previous arena: %w", err)
		}
		e.arena = nil
	}

	base, size := uint64(mem.Start()), uint64(mem.Size())
	if base%pageSize != 0 || size%pageSize != 0 {
		return fmt.Errorf("arena 0x%x+0x%x is not page aligned", base, size)
	}

	buf := mem.Bytes()
	if len(buf) == 0 {
		return fmt.Errorf("arena is closed")
	}

	if err := e.mu.MemMapPtr(base, size, uc.PROT_READ|uc.PROT_WRITE, unsafe.Pointer(&buf[0])); err != nil {
		return fmt.Errorf("map arena at 0x%x: %w", base, err)
	}

	if pages := mem.Pages(); pages != nil {
		ps := uint64(mem.PageSize())
		if ps%pageSize != 0 {
			e.mu.MemUnmap(base, size)
			return fmt.Errorf("page size 0x%x is smaller than the emulator page", ps)
		}

		for i, p := range pages {
			prot := protection(p)
			if prot == uc.PROT_READ|uc.PROT_WRITE {
				continue
			}
			if err := e.mu.MemProtect(base+uint64(i)*ps, ps, prot); err != nil {
				e.mu.MemUnmap(base, size)
				return fmt.Errorf("protect page %d: %w", i, err)
			}
		}
	}

	e.arena, e.arenaBase, e.arenaSize = mem, base, size

	e.logger.Debug("arena bound",
		slog.String("base", fmt.Sprintf("0x%x", base)),
		slog.String("size", fmt.Sprintf("0x%x", size)),
	)

	return nil
}

func protection(p vmem.PageEntry) int {
	prot := uc.PROT_NONE
	if p.CanRead {
		prot |= uc.PROT_READ
	}
	if p.CanWrite {
		prot |= uc.PROT_WRITE
	}
	return prot
}

// Close releases the emulator.
func (e *Engine) Close() error {
	if e.mu == nil {
		return nil
	}
	err := e.mu.Close()
	e.mu = nil
	return err
}
