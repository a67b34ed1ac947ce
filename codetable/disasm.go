package codetable

import (
	"fmt"
	"io"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble writes an Intel-syntax listing of the entry point called name.
// The listing stops after the first ret or after max instructions.
// Undecodable bytes are listed as (bad) and skipped one at a time.
func Disassemble(w io.Writer, img *Image, name string, max int) error {
	ep, ok := img.Lookup(name)
	if !ok {
		return fmt.Errorf("unknown entry point %q", name)
	}

	fmt.Fprintf(w, "%s:\n", name)

	off := int(ep)
	for n := 0; n < max && off < len(img.Code); n++ {
		pc := uint64(img.Base) + uint64(off)

		inst, err := x86asm.Decode(img.Code[off:], 32)
		if err != nil {
			fmt.Fprintf(w, "  %08x  %-24x  (bad)\n", pc, img.Code[off:off+1])
			off++
			continue
		}

		fmt.Fprintf(w, "  %08x  %-24x  %s\n",
			pc, img.Code[off:off+inst.Len], x86asm.IntelSyntax(inst, pc, nil))
		off += inst.Len

		if inst.Op == x86asm.RET {
			break
		}
	}

	return nil
}
