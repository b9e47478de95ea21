package codegen

import (
	"errors"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
)

// Assembly is an unrelocated routine: the prologue, every instruction's
// bytes in program order, then the epilogue.
type Assembly struct {
	Code []byte

	// Offsets[i] is where instruction i starts in Code.
	Offsets []int

	// Relocations lists every placeholder in emission order.
	Relocations []Relocation

	// Jumps pairs loop placeholders by buffer offset.
	Jumps *jumps.Map
}

// Assemble runs the single emission pass. Brackets are validated after
// emission; on mismatch no Assembly is returned.
func (g *Generator) Assemble(base uintptr, program []instr.Extended) (*Assembly, error) {
	a := &Assembly{
		Code:    g.Prologue(base),
		Offsets: make([]int, len(program)),
	}
	r := jumps.NewResolver()

	for pc, e := range program {
		enc, err := g.Encode(e)
		if err != nil {
			return nil, err
		}
		start := len(a.Code)
		a.Offsets[pc] = start
		a.Code = append(a.Code, enc.Bytes...)

		if !enc.Relocatable() {
			continue
		}
		at := start + enc.Placeholder
		if e.Is(instr.JumpForward) {
			r.Open(at)
			a.Relocations = append(a.Relocations, Relocation{Offset: at, Kind: RelocForward})
			continue
		}
		if err := r.Close(at); err != nil {
			var me *jumps.MismatchError
			if errors.As(err, &me) {
				me.Position = pc
			}
			return nil, err
		}
		a.Relocations = append(a.Relocations, Relocation{Offset: at, Kind: RelocBackward})
	}
	a.Code = append(a.Code, g.Epilogue()...)

	m, err := r.Finish()
	if err != nil {
		var me *jumps.MismatchError
		if errors.As(err, &me) {
			me.Position = a.instructionAt(me.Position)
		}
		return nil, err
	}
	a.Jumps = m
	return a, nil
}

// instructionAt maps a buffer offset back to the instruction containing it.
func (a *Assembly) instructionAt(offset int) int {
	pc := -1
	for i, start := range a.Offsets {
		if start > offset {
			break
		}
		pc = i
	}
	return pc
}

// Link returns a relocated copy of the code, as the linker would write it.
func (a *Assembly) Link() ([]byte, error) {
	buf := append([]byte(nil), a.Code...)
	if err := Relocate(buf, a.Jumps); err != nil {
		return nil, err
	}
	return buf, nil
}
