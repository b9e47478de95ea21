// Package optimizer rewrites instruction sequences into a denser extended
// form. Two independent passes exist: run-length coalescing (Coalesce) and
// priority-ordered pattern fusion (Fuse). Both preserve program output as
// long as the data pointer stays on the tape; a pointer run is checked only
// at its net destination.
package optimizer

import (
	"slices"

	"github.com/chazu/bfjit/pkg/instr"
)

// Optimize lifts a basic program and applies both passes.
func Optimize(program []instr.Instruction) []instr.Extended {
	return Fuse(Coalesce(instr.Lift(program)))
}

// ---------------------------------------------------------------------------
// Pass A: run-length coalescing
// ---------------------------------------------------------------------------

// runClass groups the instructions that accumulate into one signed count.
type runClass uint8

const (
	runNone    runClass = iota
	runCell             // + - Add Sub
	runPointer          // > < ShiftRight ShiftLeft
)

// classify returns the run class of e and its signed contribution.
func classify(e instr.Extended) (runClass, int64) {
	switch e.Kind {
	case instr.KindRegular:
		switch e.Basic {
		case instr.Increment:
			return runCell, 1
		case instr.Decrement:
			return runCell, -1
		case instr.MoveRight:
			return runPointer, 1
		case instr.MoveLeft:
			return runPointer, -1
		}
	case instr.KindAdd:
		return runCell, int64(e.Arg)
	case instr.KindSub:
		return runCell, -int64(e.Arg)
	case instr.KindShiftRight:
		return runPointer, int64(e.Arg)
	case instr.KindShiftLeft:
		return runPointer, -int64(e.Arg)
	}
	return runNone, 0
}

// Coalesce merges every maximal run of cell arithmetic, and separately of
// pointer moves, into a single instruction. A run that sums to +1 or -1
// emits the plain instruction of that sign and a run that cancels out emits
// nothing. Cell counts are reduced modulo 256.
//
// When a run cancels, the runs on either side of it become adjacent and are
// merged, so applying Coalesce to its own output is a no-op.
func Coalesce(program []instr.Extended) []instr.Extended {
	out := make([]instr.Extended, 0, len(program))

	class := runNone
	var count int64

	flush := func() {
		if class != runNone {
			out = appendRun(out, class, count)
		}
		class, count = runNone, 0
	}

	for _, e := range program {
		c, delta := classify(e)
		if c == runNone {
			flush()
			out = append(out, e)
			continue
		}

		if c != class {
			flush()
			class = c
			// Reopen the previous run of this class if everything between
			// it and here cancelled out.
			if n := len(out); n > 0 {
				if prev, prevCount := classify(out[n-1]); prev == c {
					out = out[:n-1]
					count = prevCount
				}
			}
		}
		count += delta
	}
	flush()

	return out
}

// appendRun emits the instruction for a finished run.
func appendRun(out []instr.Extended, class runClass, count int64) []instr.Extended {
	switch class {
	case runCell:
		count %= 256
		switch {
		case count > 1:
			out = append(out, instr.Add(uint8(count)))
		case count < -1:
			out = append(out, instr.Sub(uint8(-count)))
		case count == 1:
			out = append(out, instr.Regular(instr.Increment))
		case count == -1:
			out = append(out, instr.Regular(instr.Decrement))
		}
	case runPointer:
		switch {
		case count > 1:
			out = append(out, instr.ShiftRight(uint32(count)))
		case count < -1:
			out = append(out, instr.ShiftLeft(uint32(-count)))
		case count == 1:
			out = append(out, instr.Regular(instr.MoveRight))
		case count == -1:
			out = append(out, instr.Regular(instr.MoveLeft))
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Pass B: pattern fusion
// ---------------------------------------------------------------------------

// Pattern replaces an exact instruction subsequence with one instruction.
type Pattern struct {
	Name        string
	Match       []instr.Extended
	Replacement instr.Extended
}

// Patterns is listed in decreasing priority order.
var Patterns = []Pattern{
	{
		Name: "clear-dec",
		Match: []instr.Extended{
			instr.Regular(instr.JumpForward),
			instr.Regular(instr.Decrement),
			instr.Regular(instr.JumpBackwards),
		},
		Replacement: instr.SetZero(),
	},
	{
		// The cell wraps through 255 back to zero.
		Name: "clear-inc",
		Match: []instr.Extended{
			instr.Regular(instr.JumpForward),
			instr.Regular(instr.Increment),
			instr.Regular(instr.JumpBackwards),
		},
		Replacement: instr.SetZero(),
	},
}

// Fuse applies every pattern in priority order. Each pattern gets one
// left-to-right scan with non-overlapping greedy matches, and its output is
// the input of the next pattern.
func Fuse(program []instr.Extended) []instr.Extended {
	out := slices.Clone(program)
	for _, p := range Patterns {
		out = fusePattern(out, p)
	}
	return out
}

func fusePattern(program []instr.Extended, p Pattern) []instr.Extended {
	n := len(p.Match)
	if n == 0 {
		return program
	}

	out := make([]instr.Extended, 0, len(program))
	for i := 0; i < len(program); {
		if i+n <= len(program) && slices.Equal(program[i:i+n], p.Match) {
			out = append(out, p.Replacement)
			i += n
			continue
		}
		// Mismatch: emit one instruction verbatim and restart the match at
		// the next position.
		out = append(out, program[i])
		i++
	}
	return out
}
