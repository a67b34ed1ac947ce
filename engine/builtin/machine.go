package builtin

import (
	"github.com/weiihann/vcpubench/cpu"
	"github.com/weiihann/vcpubench/engine"
)

// Machine is the view an entry point has of the CPU. The first failing
// operation is remembered and every later operation becomes a no-op, so
// entry point bodies can be written straight-line and check Err once.
type Machine struct {
	st    *cpu.State
	calls uint64
	err   error
}

// Err returns the first error raised by the machine.
func (m *Machine) Err() error { return m.err }

func (m *Machine) ok() bool { return m.err == nil }

// State returns the underlying CPU state.
func (m *Machine) State() *cpu.State { return m.st }

// Reg reads a register.
func (m *Machine) Reg(r cpu.Reg) uint32 { return m.st.Reg(r) }

// SetReg writes a register.
func (m *Machine) SetReg(r cpu.Reg, v uint32) {
	if m.ok() {
		m.st.SetReg(r, v)
	}
}

// Load reads a word from guest memory.
func (m *Machine) Load(addr uint32) uint32 {
	if !m.ok() {
		return 0
	}
	v, err := m.st.Memory.Read32(addr)
	if err != nil {
		m.err = err
	}
	return v
}

// Load8 reads a byte from guest memory.
func (m *Machine) Load8(addr uint32) uint8 {
	if !m.ok() {
		return 0
	}
	v, err := m.st.Memory.Read8(addr)
	if err != nil {
		m.err = err
	}
	return v
}

// Store writes a word to guest memory.
func (m *Machine) Store(addr, v uint32) {
	if !m.ok() {
		return
	}
	m.err = m.st.Memory.Write32(addr, v)
}

// Push emulates push.
func (m *Machine) Push(v uint32) {
	if m.ok() {
		m.err = m.st.Push32(v)
	}
}

// Pop emulates pop.
func (m *Machine) Pop() uint32 {
	if !m.ok() {
		return 0
	}
	v, err := m.st.Pop32()
	if err != nil {
		m.err = err
	}
	return v
}

// Enter sets up a frame with n word-sized locals: push ebp; mov ebp, esp;
// sub esp, 4*n.
func (m *Machine) Enter(n uint32) {
	m.Push(m.st.Reg(cpu.EBP))
	m.SetReg(cpu.EBP, m.st.Reg(cpu.ESP))
	m.SetReg(cpu.ESP, m.st.Reg(cpu.ESP)-engine.WordSize*n)
}

// Local returns the address of local slot i of the current frame.
func (m *Machine) Local(i uint32) uint32 {
	return m.st.Reg(cpu.EBP) - engine.WordSize*(i+1)
}

// Leave tears down the current frame: mov esp, ebp; pop ebp.
func (m *Machine) Leave() {
	m.SetReg(cpu.ESP, m.st.Reg(cpu.EBP))
	m.SetReg(cpu.EBP, m.Pop())
}

// Ret pops the return address. Returning anywhere but MagicReturn leaves
// the code table, which this engine reports as a fault at the stack slot.
func (m *Machine) Ret() error {
	sp := m.st.Reg(cpu.ESP)
	ret := m.Pop()
	if m.ok() && ret != engine.MagicReturn {
		m.err = &Fault{Msg: "return outside code table", Addr: sp}
	}
	return m.err
}
