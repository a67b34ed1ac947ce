// Package cpu holds the virtual CPU state handed to an execution engine: a
// 32-bit register file, the fault-report channel, and the address space the
// engine executes against.
package cpu

import (
	"fmt"
	"strings"

	"github.com/weiihann/vcpubench/vmem"
)

// Reg names one of the eight general-purpose registers.
type Reg uint8

const (
	EAX Reg = iota
	EBX
	ECX
	EDX
	ESI
	EDI
	EBP
	ESP

	NumRegs = 8
)

// Accumulator is the register an engine leaves its result in.
const Accumulator = EAX

var regNames = [NumRegs]string{"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp"}

func (r Reg) String() string {
	if int(r) < NumRegs {
		return regNames[r]
	}
	return fmt.Sprintf("reg(%d)", uint8(r))
}

// ParseReg resolves a register by name, case-insensitively.
func ParseReg(name string) (Reg, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, rn := range regNames {
		if rn == n {
			return Reg(i), nil
		}
	}
	return 0, fmt.Errorf("unknown register %q", name)
}

// Fault is the content of the fault-report channel. An empty Message means
// no fault.
type Fault struct {
	Message string
	Address uint32
}

func (f Fault) String() string {
	if f.Message == "" {
		return "no fault"
	}
	return fmt.Sprintf("%s at 0x%x", f.Message, f.Address)
}

// State is one virtual CPU. It is owned by a single goroutine; concurrent
// invocations each need their own State and address space.
type State struct {
	Memory *vmem.AddressSpace

	regs  [NumRegs]uint32
	fault Fault
}

// New returns a State bound to mem with every register zero.
func New(mem *vmem.AddressSpace) *State {
	return &State{Memory: mem}
}

// Reg returns the value of r.
func (s *State) Reg(r Reg) uint32 {
	if int(r) >= NumRegs {
		return 0
	}
	return s.regs[r]
}

// SetReg writes r. Writes to unknown registers are ignored.
func (s *State) SetReg(r Reg, v uint32) {
	if int(r) >= NumRegs {
		return
	}
	s.regs[r] = v
}

// RegByName returns the register called name.
func (s *State) RegByName(name string) (uint32, error) {
	r, err := ParseReg(name)
	if err != nil {
		return 0, err
	}
	return s.regs[r], nil
}

// SetRegByName writes the register called name.
func (s *State) SetRegByName(name string, v uint32) error {
	r, err := ParseReg(name)
	if err != nil {
		return err
	}
	s.regs[r] = v
	return nil
}

// Registers returns a copy of the register file, indexed by Reg.
func (s *State) Registers() [NumRegs]uint32 { return s.regs }

// ResetRegisters zeroes the register file.
func (s *State) ResetRegisters() { s.regs = [NumRegs]uint32{} }

// ResetFault clears the fault-report channel.
func (s *State) ResetFault() { s.fault = Fault{} }

// ReportFault populates the fault-report channel. An empty message is
// recorded as "fault" so that a report can never read as success.
func (s *State) ReportFault(msg string, addr uint32) {
	if msg == "" {
		msg = "fault"
	}
	s.fault = Fault{Message: msg, Address: addr}
}

// Fault returns the fault-report channel.
func (s *State) Fault() Fault { return s.fault }

// Faulted reports whether the channel holds a fault.
func (s *State) Faulted() bool { return s.fault.Message != "" }

// Push32 decrements ESP by one word and stores v there.
func (s *State) Push32(v uint32) error {
	sp := s.regs[ESP] - 4
	if err := s.Memory.Write32(sp, v); err != nil {
		return err
	}
	s.regs[ESP] = sp
	return nil
}

// Pop32 loads the word at ESP and increments ESP by one word.
func (s *State) Pop32() (uint32, error) {
	v, err := s.Memory.Read32(s.regs[ESP])
	if err != nil {
		return 0, err
	}
	s.regs[ESP] += 4
	return v, nil
}
