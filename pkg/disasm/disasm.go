// Package disasm renders instruction and machine-code listings.
package disasm

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/chazu/bfjit/pkg/codegen"
	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
)

// Program returns a listing of program with each loop's partner index.
func Program(program []instr.Extended) (string, error) {
	m, err := jumps.Resolve(program)
	if err != nil {
		return "", err
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Program (%d instructions)", len(program)))
	t.AppendHeader(table.Row{"#", "Op", "Operand", "Jump"})

	for pc, e := range program {
		var operand, jump any
		if e.Kind != instr.KindRegular && e.Kind != instr.KindSetZero {
			operand = e.Arg
		}
		if c, ok := m.Close(pc); ok {
			jump = fmt.Sprintf("-> %d", c)
		} else if o, ok := m.Open(pc); ok {
			jump = fmt.Sprintf("<- %d", o)
		}
		op := e.Kind.String()
		if e.Kind == instr.KindRegular {
			op = e.Basic.String()
		}
		t.AppendRow(table.Row{pc, op, operand, jump})
	}
	return t.Render(), nil
}

// Machine returns a listing of assembled code, one row per instruction,
// with loop targets resolved from the relocated bytes.
func Machine(a *codegen.Assembly, program []instr.Extended) (string, error) {
	if len(program) != len(a.Offsets) {
		return "", fmt.Errorf("assembly has %d instructions, program has %d", len(a.Offsets), len(program))
	}
	linked, err := a.Link()
	if err != nil {
		return "", err
	}
	targets := make(map[int]int, len(a.Relocations))
	for _, r := range a.Relocations {
		disp := int32(binary.LittleEndian.Uint32(linked[r.Offset:]))
		targets[r.Offset] = r.Offset + codegen.PlaceholderSize + int(disp)
	}

	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Machine code (%d bytes)", len(linked)))
	t.AppendHeader(table.Row{"Offset", "Instruction", "Bytes", "Target"})

	prologueEnd := len(linked) - len(encEpilogue)
	if len(a.Offsets) > 0 {
		prologueEnd = a.Offsets[0]
	}
	t.AppendRow(table.Row{offset(0), "prologue", hex.EncodeToString(linked[:prologueEnd]), nil})

	for pc, start := range a.Offsets {
		end := len(linked) - len(encEpilogue)
		if pc+1 < len(a.Offsets) {
			end = a.Offsets[pc+1]
		}
		var target any
		for at, to := range targets {
			if at >= start && at < end {
				target = offset(to)
			}
		}
		t.AppendRow(table.Row{offset(start), program[pc], hex.EncodeToString(linked[start:end]), target})
	}

	epi := len(linked) - len(encEpilogue)
	t.AppendRow(table.Row{offset(epi), "epilogue", hex.EncodeToString(linked[epi:]), nil})
	return t.Render(), nil
}

var encEpilogue = (&codegen.Generator{}).Epilogue()

func offset(n int) string {
	return fmt.Sprintf("%#06x", n)
}
