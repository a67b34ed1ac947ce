// Package builtin provides a reference engine whose entry points are Go
// functions written against the calling contract: they build a frame on the
// simulated stack, keep their locals in guest memory, and finish with a ret
// that must land on engine.MagicReturn.
package builtin

import (
	"errors"
	"fmt"

	"github.com/weiihann/vcpubench/cpu"
	"github.com/weiihann/vcpubench/engine"
	"github.com/weiihann/vcpubench/vmem"
)

// Func is the body of an entry point.
type Func func(m *Machine) error

type entry struct {
	name string
	fn   Func
}

// Engine dispatches entry points to registered Funcs.
type Engine struct {
	entries []entry
	table   engine.MapTable
	calls   uint64
}

// New returns an engine with the standard entry points registered.
func New() *Engine {
	e := &Engine{table: engine.MapTable{}}

	e.Register("test_target1", sumTo100)
	e.Register("test_target2", fibonacci24)
	e.Register("checksum", checksum)
	e.Register("read_below_start", readBelowStart)
	e.Register("drift", drift)

	return e
}

// Register adds fn under name and returns its handle. Registering an
// existing name replaces the function behind the same handle.
func (e *Engine) Register(name string, fn Func) engine.EntryPoint {
	if ep, ok := e.table[name]; ok {
		e.entries[ep].fn = fn
		return ep
	}

	ep := engine.EntryPoint(len(e.entries))
	e.entries = append(e.entries, entry{name: name, fn: fn})
	e.table[name] = ep

	return ep
}

// Table returns the entry point table.
func (e *Engine) Table() engine.Table { return e.table }

// Counter returns the number of invocations so far.
func (e *Engine) Counter() uint64 { return e.calls }

// Execute runs the entry point identified by ep.
func (e *Engine) Execute(st *cpu.State, ep engine.EntryPoint) {
	e.calls++

	if int(ep) >= len(e.entries) {
		st.ReportFault(fmt.Sprintf("invalid entry point %d", ep), uint32(ep))
		return
	}

	m := &Machine{st: st, calls: e.calls}
	if err := e.entries[ep].fn(m); err != nil {
		reportFault(st, err)
	}
}

// Fault is an error raised by entry point code itself rather than by a
// memory access.
type Fault struct {
	Msg  string
	Addr uint32
}

func (f *Fault) Error() string { return fmt.Sprintf("%s at 0x%x", f.Msg, f.Addr) }

func reportFault(st *cpu.State, err error) {
	var ae *vmem.AccessError
	var f *Fault

	switch {
	case errors.As(err, &ae):
		st.ReportFault("invalid memory access: "+ae.Error(), ae.Addr)
	case errors.As(err, &f):
		st.ReportFault(f.Msg, f.Addr)
	default:
		st.ReportFault(err.Error(), st.Reg(cpu.ESP))
	}
}
