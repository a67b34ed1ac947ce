// Package engine defines the contract between the harness and a pluggable
// execution engine.
//
// An engine is invoked as Execute(state, entry). Before the call the driver
// decrements ESP by WordSize and stores MagicReturn at [ESP], emulating the
// return address pushed by a call instruction. The engine runs the code at
// entry until control would transfer to MagicReturn, then stops with the
// result in the accumulator (EAX). Abnormal termination is reported only
// through State.ReportFault; when the channel is populated the accumulator
// is undefined. The contract says nothing about timing.
package engine

import (
	"sort"

	"github.com/weiihann/vcpubench/cpu"
)

// MagicReturn is the sentinel return address marking the end of an
// emulated call. It lies in the last page below 4 GiB, which no arena the
// harness accepts may cover.
const MagicReturn uint32 = 0xFFFFF00D

// ArenaLimit is the highest end address an arena may have without covering
// the MagicReturn page.
const ArenaLimit uint64 = 0xFFFFF000

// WordSize is the machine word size in bytes.
const WordSize = 4

// EntryPoint is an opaque handle into an engine's code table. The harness
// never interprets it.
type EntryPoint uint32

// Engine executes code on behalf of the harness.
type Engine interface {
	Execute(st *cpu.State, entry EntryPoint)
}

// Counter is implemented by engines that keep an observation counter. The
// value is reported after a run and plays no part in consistency checks.
type Counter interface {
	Counter() uint64
}

// Table maps entry point names to handles.
type Table interface {
	Lookup(name string) (EntryPoint, bool)
	Names() []string
}

// MapTable is a Table backed by a map.
type MapTable map[string]EntryPoint

// Lookup returns the handle registered under name.
func (t MapTable) Lookup(name string) (EntryPoint, bool) {
	ep, ok := t[name]
	return ep, ok
}

// Names returns the registered names in sorted order.
func (t MapTable) Names() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
