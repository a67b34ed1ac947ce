package workload

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/weiihann/vcpubench/cpu"
)

// Read parses a JSONL image.
func Read(r io.Reader) ([]Operation, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 64<<20)

	var ops []Operation
	line := 0

	for scanner.Scan() {
		line++
		if len(strings.TrimSpace(scanner.Text())) == 0 {
			continue
		}

		var op Operation
		if err := json.Unmarshal(scanner.Bytes(), &op); err != nil {
			return nil, fmt.Errorf("line %d: decode operation: %w", line, err)
		}
		ops = append(ops, op)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	return ops, nil
}

// Apply performs ops against st and its address space.
func Apply(st *cpu.State, ops []Operation) error {
	for i, op := range ops {
		if err := apply(st, op); err != nil {
			return fmt.Errorf("operation %d (%s): %w", i, op.Op, err)
		}
	}
	return nil
}

func apply(st *cpu.State, op Operation) error {
	switch op.Op {
	case OpWrite:
		addr, err := parseHex32(op.Addr)
		if err != nil {
			return err
		}
		data, err := hex.DecodeString(strings.TrimPrefix(op.Data, "0x"))
		if err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
		return st.Memory.WriteBytes(addr, data)

	case OpSetReg:
		v, err := parseHex32(op.Value)
		if err != nil {
			return err
		}
		return st.SetRegByName(op.Reg, v)

	case OpProtect:
		addr, err := parseHex32(op.Addr)
		if err != nil {
			return err
		}
		var canRead, canWrite bool
		switch op.Perm {
		case "rw":
			canRead, canWrite = true, true
		case "r":
			canRead = true
		case "none":
		default:
			return fmt.Errorf("unknown permission %q", op.Perm)
		}
		return st.Memory.Protect(addr, op.Size, canRead, canWrite)

	default:
		return fmt.Errorf("unknown op %q", op.Op)
	}
}

func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse %q: %w", s, err)
	}
	return uint32(v), nil
}
