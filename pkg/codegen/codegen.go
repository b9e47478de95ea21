// Package codegen maps instructions to x86-64 machine code.
//
// Generated routines follow one fixed register convention for their whole
// lifetime: r13 holds the data pointer and r12 holds the tape base. Both are
// loaded by the prologue. Routines return a Status in eax.
//
// Encoding is purely local: loop instructions are emitted with a zeroed
// 4-byte displacement that Relocate patches once the final layout is known.
package codegen

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/tape"
)

// ErrInvalidInstruction is returned by Encode for values outside the
// instruction set.
var ErrInvalidInstruction = errors.New("invalid instruction")

// ErrRelocation is returned when a placeholder cannot be patched.
var ErrRelocation = errors.New("relocation failed")

// Status is the value a generated routine leaves in eax.
type Status uint64

const (
	StatusOK          Status = 0
	StatusOutOfBounds Status = 1 // data pointer left the tape
	StatusOutputError Status = 2 // write(2) returned an error
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusOutOfBounds:
		return "out of bounds"
	case StatusOutputError:
		return "output error"
	default:
		return fmt.Sprintf("Status(%d)", uint64(s))
	}
}

// PlaceholderSize is the width of a loop displacement field.
const PlaceholderSize = 4

// sysWrite is the linux/amd64 write(2) syscall number.
const sysWrite = 1

// ---------------------------------------------------------------------------
// Fixed encodings
// ---------------------------------------------------------------------------

var (
	encIncPtr  = []byte{0x49, 0xFF, 0xC5}             // inc r13
	encDecPtr  = []byte{0x49, 0xFF, 0xCD}             // dec r13
	encIncCell = []byte{0x41, 0xFE, 0x45, 0x00}       // inc byte [r13]
	encDecCell = []byte{0x41, 0xFE, 0x4D, 0x00}       // dec byte [r13]
	encZero    = []byte{0x41, 0xC6, 0x45, 0x00, 0x00} // mov byte [r13], 0

	// movzx eax, byte [r13]; test al, al
	encLoadTest = []byte{0x41, 0x0F, 0xB6, 0x45, 0x00, 0x84, 0xC0}
	encJz       = []byte{0x0F, 0x84}
	encJnz      = []byte{0x0F, 0x85}

	encEpilogue = []byte{0x31, 0xC0, 0xC3} // xor eax, eax; ret
)

// LoopSize is the length of a loop instruction encoding. The displacement is
// its last four bytes, so a jump lands right after the target's placeholder.
var LoopSize = len(encLoadTest) + len(encJz) + PlaceholderSize

// ---------------------------------------------------------------------------
// Generator
// ---------------------------------------------------------------------------

// Encoding is the machine code for one instruction.
type Encoding struct {
	Bytes []byte

	// Placeholder is the offset of the rel32 field within Bytes, or -1 for
	// instructions that need no relocation.
	Placeholder int
}

// Relocatable reports whether the encoding carries a displacement field.
func (e Encoding) Relocatable() bool {
	return e.Placeholder >= 0
}

// Generator encodes instructions for one output descriptor.
type Generator struct {
	OutputFD int32
	TapeSize int32
}

// New creates a generator whose Output instructions write to fd.
func New(fd int) *Generator {
	return &Generator{OutputFD: int32(fd), TapeSize: tape.Size}
}

// Prologue loads the tape base into r13 and r12.
func (g *Generator) Prologue(base uintptr) []byte {
	buf := make([]byte, 0, 20)
	buf = append(buf, 0x49, 0xBD) // mov r13, imm64
	buf = binary.LittleEndian.AppendUint64(buf, uint64(base))
	buf = append(buf, 0x49, 0xBC) // mov r12, imm64
	buf = binary.LittleEndian.AppendUint64(buf, uint64(base))
	return buf
}

// Epilogue returns StatusOK.
func (g *Generator) Epilogue() []byte {
	return append([]byte(nil), encEpilogue...)
}

// Encode returns the machine code for e.
func (g *Generator) Encode(e instr.Extended) (Encoding, error) {
	if !e.Valid() {
		return Encoding{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, e)
	}

	switch e.Kind {
	case instr.KindRegular:
		return g.encodeRegular(e.Basic)
	case instr.KindAdd:
		return fixed([]byte{0x41, 0x80, 0x45, 0x00, uint8(e.Arg)}), nil // add byte [r13], imm8
	case instr.KindSub:
		return fixed([]byte{0x41, 0x80, 0x6D, 0x00, uint8(e.Arg)}), nil // sub byte [r13], imm8
	case instr.KindShiftRight:
		return fixed(g.withBoundsCheck(shift(e.Arg, false))), nil
	case instr.KindShiftLeft:
		return fixed(g.withBoundsCheck(shift(e.Arg, true))), nil
	case instr.KindSetZero:
		return fixed(clone(encZero)), nil
	}
	return Encoding{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, e)
}

func (g *Generator) encodeRegular(op instr.Instruction) (Encoding, error) {
	switch op {
	case instr.MoveRight:
		return fixed(g.withBoundsCheck(clone(encIncPtr))), nil
	case instr.MoveLeft:
		return fixed(g.withBoundsCheck(clone(encDecPtr))), nil
	case instr.Increment:
		return fixed(clone(encIncCell)), nil
	case instr.Decrement:
		return fixed(clone(encDecCell)), nil
	case instr.Output:
		return fixed(g.output()), nil
	case instr.JumpForward:
		return loop(encJz), nil
	case instr.JumpBackwards:
		return loop(encJnz), nil
	}
	return Encoding{}, fmt.Errorf("%w: %v", ErrInvalidInstruction, op)
}

// shift adds n to (or subtracts it from) r13 using the narrowest immediate
// that sign-extends correctly.
func shift(n uint32, left bool) []byte {
	var ext byte = 0xC5 // /0 add r13
	if left {
		ext = 0xED // /5 sub r13
	}
	switch {
	case n <= math.MaxInt8:
		return []byte{0x49, 0x83, ext, byte(n)}
	case n <= math.MaxInt32:
		return binary.LittleEndian.AppendUint32([]byte{0x49, 0x81, ext}, n)
	}
	buf := binary.LittleEndian.AppendUint64([]byte{0x48, 0xB8}, uint64(n)) // mov rax, imm64
	if left {
		return append(buf, 0x49, 0x29, 0xC5) // sub r13, rax
	}
	return append(buf, 0x49, 0x01, 0xC5) // add r13, rax
}

// withBoundsCheck appends the check that r13 - r12 < TapeSize, returning
// StatusOutOfBounds otherwise. Below-zero offsets compare as huge unsigned.
func (g *Generator) withBoundsCheck(move []byte) []byte {
	buf := append(move,
		0x4C, 0x89, 0xE8, // mov rax, r13
		0x4C, 0x29, 0xE0, // sub rax, r12
		0x48, 0x3D, // cmp rax, imm32
	)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.TapeSize))
	return append(buf,
		0x72, 0x06, // jb +6
		0xB8, byte(StatusOutOfBounds), 0x00, 0x00, 0x00, // mov eax, 1
		0xC3, // ret
	)
}

// output emits write(fd, r13, 1), returning StatusOutputError on failure.
func (g *Generator) output() []byte {
	buf := []byte{0x48, 0xC7, 0xC0, sysWrite, 0x00, 0x00, 0x00} // mov rax, SYS_write
	buf = append(buf, 0x48, 0xC7, 0xC7)                          // mov rdi, imm32
	buf = binary.LittleEndian.AppendUint32(buf, uint32(g.OutputFD))
	return append(buf,
		0x4C, 0x89, 0xEE, // mov rsi, r13
		0x48, 0xC7, 0xC2, 0x01, 0x00, 0x00, 0x00, // mov rdx, 1
		0x0F, 0x05, // syscall
		0x48, 0x85, 0xC0, // test rax, rax
		0x79, 0x06, // jns +6
		0xB8, byte(StatusOutputError), 0x00, 0x00, 0x00, // mov eax, 2
		0xC3, // ret
	)
}

func loop(branch []byte) Encoding {
	buf := make([]byte, 0, LoopSize)
	buf = append(buf, encLoadTest...)
	buf = append(buf, branch...)
	placeholder := len(buf)
	buf = append(buf, 0, 0, 0, 0)
	return Encoding{Bytes: buf, Placeholder: placeholder}
}

func fixed(b []byte) Encoding {
	return Encoding{Bytes: b, Placeholder: -1}
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}

// ---------------------------------------------------------------------------
// Relocation
// ---------------------------------------------------------------------------

// RelocKind says which end of a loop a placeholder belongs to.
type RelocKind uint8

const (
	RelocForward  RelocKind = iota // jz at '['
	RelocBackward                  // jnz at ']'
)

func (k RelocKind) String() string {
	switch k {
	case RelocForward:
		return "forward"
	case RelocBackward:
		return "backward"
	default:
		return fmt.Sprintf("RelocKind(%d)", k)
	}
}

// Relocation records one placeholder in an assembled buffer.
type Relocation struct {
	Offset int // buffer offset of the rel32 field
	Kind   RelocKind
}

// Displacements returns the forward and backward rel32 values linking the
// placeholders at open and close.
func Displacements(open, close int) (forward, backward int32, err error) {
	d := int64(close) - int64(open)
	if d < math.MinInt32 || d > math.MaxInt32 {
		return 0, 0, fmt.Errorf("%w: displacement %d does not fit rel32", ErrRelocation, d)
	}
	return int32(d), int32(-d), nil
}

// Relocate patches every loop pair in m. Map positions are placeholder
// offsets within buf.
func Relocate(buf []byte, m *jumps.Map) error {
	for _, p := range m.Pairs() {
		fwd, back, err := Displacements(p.Open, p.Close)
		if err != nil {
			return err
		}
		if err := patch(buf, p.Open, fwd); err != nil {
			return err
		}
		if err := patch(buf, p.Close, back); err != nil {
			return err
		}
	}
	return nil
}

func patch(buf []byte, offset int, disp int32) error {
	if offset < 0 || offset+PlaceholderSize > len(buf) {
		return fmt.Errorf("%w: placeholder at %d outside %d-byte buffer", ErrRelocation, offset, len(buf))
	}
	binary.LittleEndian.PutUint32(buf[offset:], uint32(disp))
	return nil
}
