package vm

import (
	"errors"
	"fmt"
	"io"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/tape"
)

// ErrTapeBounds is returned when the data pointer leaves the tape.
var ErrTapeBounds = tape.ErrOutOfBounds

// ErrStepLimit is returned when a run exceeds its configured step budget.
var ErrStepLimit = errors.New("step limit exceeded")

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithStepLimit aborts a run after n dispatched instructions.
// Zero means unlimited.
func WithStepLimit(n uint64) Option {
	return func(it *Interpreter) { it.maxSteps = n }
}

// ---------------------------------------------------------------------------
// Interpreter: dispatch loop over extended instructions
// ---------------------------------------------------------------------------

// Interpreter executes instruction sequences against an in-process tape.
// It is not safe for concurrent use.
type Interpreter struct {
	tape  []byte     // cells, zero-initialized
	dp    int        // data pointer
	jumps *jumps.Map // resolved for the current run
	out   io.Writer

	maxSteps uint64
	steps    uint64 // dispatched during the last run
	single   [1]byte
}

// New creates an interpreter writing program output to out.
func New(out io.Writer, opts ...Option) *Interpreter {
	it := &Interpreter{
		tape: make([]byte, tape.Size),
		out:  out,
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

// ExecuteBasic runs an unoptimized program.
func (it *Interpreter) ExecuteBasic(program []instr.Instruction) error {
	return it.Execute(instr.Lift(program))
}

// Execute runs program from its first instruction. Brackets are matched
// before anything runs, so a mismatched program produces no output.
// The tape and data pointer carry over from previous runs until Clear.
func (it *Interpreter) Execute(program []instr.Extended) error {
	m, err := jumps.Resolve(program)
	if err != nil {
		return err
	}
	it.jumps = m
	it.steps = 0
	return it.run(program)
}

// run is the main dispatch loop.
func (it *Interpreter) run(program []instr.Extended) error {
	for ip := 0; ip < len(program); ip++ {
		if it.maxSteps > 0 {
			if it.steps >= it.maxSteps {
				return fmt.Errorf("%w after %d instructions", ErrStepLimit, it.steps)
			}
		}
		it.steps++

		e := program[ip]
		switch e.Kind {
		case instr.KindRegular:
			switch e.Basic {
			case instr.MoveRight:
				if err := it.move(ip, 1); err != nil {
					return err
				}
			case instr.MoveLeft:
				if err := it.move(ip, -1); err != nil {
					return err
				}
			case instr.Increment:
				it.tape[it.dp]++
			case instr.Decrement:
				it.tape[it.dp]--
			case instr.Output:
				it.single[0] = it.tape[it.dp]
				if _, err := it.out.Write(it.single[:]); err != nil {
					return fmt.Errorf("writing output: %w", err)
				}
			case instr.JumpForward:
				// Landing on the close bracket lets the ip++ step past it.
				if it.tape[it.dp] == 0 {
					ip, _ = it.jumps.Close(ip)
				}
			case instr.JumpBackwards:
				// Landing on the open bracket re-enters the body after ip++.
				if it.tape[it.dp] != 0 {
					ip, _ = it.jumps.Open(ip)
				}
			default:
				return fmt.Errorf("invalid instruction %v at %d", e.Basic, ip)
			}

		case instr.KindAdd:
			it.tape[it.dp] += uint8(e.Arg)

		case instr.KindSub:
			it.tape[it.dp] -= uint8(e.Arg)

		case instr.KindShiftRight:
			if err := it.move(ip, int64(e.Arg)); err != nil {
				return err
			}

		case instr.KindShiftLeft:
			if err := it.move(ip, -int64(e.Arg)); err != nil {
				return err
			}

		case instr.KindSetZero:
			it.tape[it.dp] = 0

		default:
			return fmt.Errorf("invalid instruction kind %v at %d", e.Kind, ip)
		}
	}
	return nil
}

// move shifts the data pointer, failing if it would leave the tape.
func (it *Interpreter) move(ip int, delta int64) error {
	next := int64(it.dp) + delta
	if next < 0 || next >= tape.Size {
		return &tape.BoundsError{Position: ip, Pointer: int(next)}
	}
	it.dp = int(next)
	return nil
}

// Clear resets the interpreter for another run: the tape is zeroed, the data
// pointer returns to cell 0 and the jump map is dropped.
func (it *Interpreter) Clear() {
	clear(it.tape)
	it.dp = 0
	it.jumps = nil
	it.steps = 0
}

// Cell returns the value under the data pointer.
func (it *Interpreter) Cell() byte {
	return it.tape[it.dp]
}

// DataPointer returns the current cell index.
func (it *Interpreter) DataPointer() int {
	return it.dp
}

// Tape returns the live tape. Callers must not retain it across runs.
func (it *Interpreter) Tape() []byte {
	return it.tape
}

// Steps returns how many instructions the last run dispatched.
func (it *Interpreter) Steps() uint64 {
	return it.steps
}
