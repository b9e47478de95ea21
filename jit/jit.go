// Package jit links generated machine code into executable memory and runs
// it on the calling goroutine.
//
// A Compiler owns an off-heap tape, the last assembled buffer and at most one
// executable region. Regions are never writable and executable at the same
// time: code is copied and relocated while the mapping is read-write, then
// the mapping is switched to read-execute.
//
// Native code cannot be preempted. While Execute runs, garbage collection
// and any other stop-the-world phase wait for it to return.
package jit

import (
	"errors"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/chazu/bfjit/pkg/codegen"
	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/optimizer"
	"github.com/chazu/bfjit/pkg/tape"
)

var log = commonlog.GetLogger("bfjit.jit")

var (
	// ErrNoProgram is returned by Execute before a successful Compile.
	ErrNoProgram = errors.New("no program compiled")

	// ErrMapping wraps failures to map, protect or unmap memory.
	ErrMapping = errors.New("memory mapping failed")

	// ErrTapeBounds is returned when generated code moves the data pointer
	// off the tape.
	ErrTapeBounds = tape.ErrOutOfBounds

	// ErrOutput is returned when the output write fails.
	ErrOutput = errors.New("output write failed")

	// ErrUnsupportedPlatform is returned where native execution is not
	// available.
	ErrUnsupportedPlatform = errors.New("jit requires linux/amd64")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("compiler closed")
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures a Compiler.
type Option func(*Compiler)

// WithOutputFD directs Output instructions to fd instead of stdout.
// The descriptor is baked into the code at compile time.
func WithOutputFD(fd uintptr) Option {
	return func(c *Compiler) { c.fd = int(fd) }
}

// ---------------------------------------------------------------------------
// Compiler
// ---------------------------------------------------------------------------

// Compiler assembles and runs programs. It is not safe for concurrent use.
type Compiler struct {
	fd  int
	gen *codegen.Generator

	tape   []byte // off-heap, tape.Size cells
	code   []byte // last assembled buffer, unrelocated
	jumps  *jumps.Map
	relocs []codegen.Relocation
	region []byte // executable mapping of code, relocated
	closed bool
}

// New allocates the tape. It fails with ErrUnsupportedPlatform where
// native execution is not available.
func New(opts ...Option) (*Compiler, error) {
	c := &Compiler{fd: int(os.Stdout.Fd())}
	for _, opt := range opts {
		opt(c)
	}
	c.gen = codegen.New(c.fd)

	t, err := mapTape(tape.Size)
	if err != nil {
		return nil, err
	}
	c.tape = t
	return c, nil
}

// Compile optimizes program and links it. See CompileOptimized.
func (c *Compiler) Compile(program []instr.Instruction) error {
	return c.CompileOptimized(optimizer.Optimize(program))
}

// CompileOptimized assembles program, validates its brackets, maps a fresh
// writable region exactly the size of the code, relocates loop placeholders
// inside it and makes it executable. A previously compiled region is
// unmapped only once the new one is ready; on error the old program stays
// runnable.
func (c *Compiler) CompileOptimized(program []instr.Extended) error {
	if c.closed {
		return ErrClosed
	}

	a, err := c.gen.Assemble(tapeBase(c.tape), program)
	if err != nil {
		return err
	}

	region, err := mapWritable(len(a.Code))
	if err != nil {
		return err
	}
	copy(region, a.Code)

	if err := codegen.Relocate(region, a.Jumps); err != nil {
		_ = unmap(region)
		return err
	}
	if err := protectExec(region); err != nil {
		_ = unmap(region)
		return err
	}

	if c.region != nil {
		if err := unmap(c.region); err != nil {
			log.Warningf("unmapping previous region: %s", err)
		}
	}
	c.region = region
	c.code = a.Code
	c.jumps = a.Jumps
	c.relocs = a.Relocations

	log.Debugf("compiled %d instructions into %d bytes, %d loops", len(program), len(a.Code), a.Jumps.Len())
	return nil
}

// Execute runs the compiled routine on the calling goroutine. Each run
// starts with the data pointer on cell 0; tape contents persist until Clear.
func (c *Compiler) Execute() error {
	if c.closed {
		return ErrClosed
	}
	if c.region == nil {
		return ErrNoProgram
	}

	switch status := invoke(c.region); status {
	case codegen.StatusOK:
		return nil
	case codegen.StatusOutOfBounds:
		return &tape.BoundsError{Position: -1, Pointer: -1}
	case codegen.StatusOutputError:
		return fmt.Errorf("%w: fd %d", ErrOutput, c.fd)
	default:
		return fmt.Errorf("jit: unexpected status %v", status)
	}
}

// Clear zeroes the tape and drops the jump map. The executable region is
// left alone.
func (c *Compiler) Clear() {
	if c.closed {
		return
	}
	clear(c.tape)
	c.jumps = nil
}

// Close unmaps the executable region and the tape.
func (c *Compiler) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.region != nil {
		errs = append(errs, unmap(c.region))
		c.region = nil
	}
	if c.tape != nil {
		errs = append(errs, unmap(c.tape))
		c.tape = nil
	}
	return errors.Join(errs...)
}

// Code returns a copy of the last assembled buffer before relocation.
func (c *Compiler) Code() []byte {
	return append([]byte(nil), c.code...)
}

// Relocations returns the placeholders of the last assembled buffer.
func (c *Compiler) Relocations() []codegen.Relocation {
	return append([]codegen.Relocation(nil), c.relocs...)
}

// Jumps returns the offset-keyed jump map of the last compile, or nil after
// Clear.
func (c *Compiler) Jumps() *jumps.Map {
	return c.jumps
}

// Tape returns the live tape.
func (c *Compiler) Tape() []byte {
	return c.tape
}
