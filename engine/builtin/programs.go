package builtin

import "github.com/weiihann/vcpubench/cpu"

// ChecksumWindow is the number of bytes at the start of the arena that the
// checksum entry point covers.
const ChecksumWindow = 4096

const adlerMod = 65521

// sumTo100 adds 1..100 with the counter and the total kept in stack locals.
func sumTo100(m *Machine) error {
	m.Enter(2)
	i, acc := m.Local(0), m.Local(1)

	m.Store(acc, 0)
	m.Store(i, 1)
	for m.ok() && m.Load(i) <= 100 {
		m.Store(acc, m.Load(acc)+m.Load(i))
		m.Store(i, m.Load(i)+1)
	}

	m.SetReg(cpu.EAX, m.Load(acc))
	m.Leave()
	return m.Ret()
}

// fibonacci24 computes fib(24) iteratively through stack locals.
func fibonacci24(m *Machine) error {
	m.Enter(3)
	a, b, k := m.Local(0), m.Local(1), m.Local(2)

	m.Store(a, 0)
	m.Store(b, 1)
	m.Store(k, 0)
	for m.ok() && m.Load(k) < 24 {
		next := m.Load(a) + m.Load(b)
		m.Store(a, m.Load(b))
		m.Store(b, next)
		m.Store(k, m.Load(k)+1)
	}

	m.SetReg(cpu.EAX, m.Load(a))
	m.Leave()
	return m.Ret()
}

// checksum returns the Adler-32 of the first ChecksumWindow bytes of the
// arena, read one byte at a time.
func checksum(m *Machine) error {
	base := m.State().Memory.Start()

	var a, b uint32 = 1, 0
	for off := uint32(0); m.ok() && off < ChecksumWindow; off++ {
		a = (a + uint32(m.Load8(base+off))) % adlerMod
		b = (b + a) % adlerMod
	}

	m.SetReg(cpu.EAX, b<<16|a)
	return m.Ret()
}

// readBelowStart touches the byte just below the arena.
func readBelowStart(m *Machine) error {
	m.SetReg(cpu.EAX, uint32(m.Load8(m.State().Memory.Start()-1)))
	return m.Ret()
}

// drift returns the invocation count, so consecutive calls disagree.
func drift(m *Machine) error {
	m.SetReg(cpu.EAX, uint32(m.calls))
	return m.Ret()
}
