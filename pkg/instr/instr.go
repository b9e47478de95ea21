package instr

import "fmt"

// Instruction is one of the seven wired source-level instructions.
type Instruction byte

const (
	MoveRight     Instruction = iota + 1 // >
	MoveLeft                             // <
	Increment                            // +
	Decrement                            // -
	Output                               // .
	JumpForward                          // [
	JumpBackwards                        // ]
)

// InputSymbol is the conventional read-one-byte symbol. It is reserved by
// the language but not wired to any instruction.
const InputSymbol = ','

var symbols = [...]byte{
	MoveRight:     '>',
	MoveLeft:      '<',
	Increment:     '+',
	Decrement:     '-',
	Output:        '.',
	JumpForward:   '[',
	JumpBackwards: ']',
}

var names = [...]string{
	MoveRight:     "MOVE_RIGHT",
	MoveLeft:      "MOVE_LEFT",
	Increment:     "INC",
	Decrement:     "DEC",
	Output:        "OUTPUT",
	JumpForward:   "JUMP_FORWARD",
	JumpBackwards: "JUMP_BACKWARDS",
}

// FromSymbol maps a source byte to its instruction.
func FromSymbol(c byte) (Instruction, bool) {
	switch c {
	case '>':
		return MoveRight, true
	case '<':
		return MoveLeft, true
	case '+':
		return Increment, true
	case '-':
		return Decrement, true
	case '.':
		return Output, true
	case '[':
		return JumpForward, true
	case ']':
		return JumpBackwards, true
	}
	return 0, false
}

// IsSymbol reports whether c is one of the eight conventional language
// symbols, including the unwired input symbol.
func IsSymbol(c byte) bool {
	_, ok := FromSymbol(c)
	return ok || c == InputSymbol
}

// Valid reports whether i is a defined instruction.
func (i Instruction) Valid() bool {
	return i >= MoveRight && i <= JumpBackwards
}

// Symbol returns the source character for i.
func (i Instruction) Symbol() byte {
	if !i.Valid() {
		return '?'
	}
	return symbols[i]
}

func (i Instruction) String() string {
	if !i.Valid() {
		return fmt.Sprintf("UNKNOWN(%d)", byte(i))
	}
	return names[i]
}

// IsJump returns true for the two bracket instructions.
func (i Instruction) IsJump() bool {
	return i == JumpForward || i == JumpBackwards
}

// Text renders a basic sequence back to source form.
func Text(program []Instruction) string {
	buf := make([]byte, len(program))
	for n, i := range program {
		buf[n] = i.Symbol()
	}
	return string(buf)
}
