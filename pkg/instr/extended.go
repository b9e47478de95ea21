package instr

import "fmt"

// Kind tags the variant held by an Extended instruction.
type Kind uint8

const (
	KindRegular    Kind = iota // Wrapped basic instruction
	KindAdd                    // Add <count:u8> to the current cell
	KindSub                    // Sub <count:u8> from the current cell
	KindShiftRight             // Move the pointer right by <count:u32>
	KindShiftLeft              // Move the pointer left by <count:u32>
	KindSetZero                // Write zero to the current cell
)

// KindInfo provides metadata about each kind for listings and validation.
type KindInfo struct {
	Name         string // Human-readable name
	OperandWidth int    // Operand width in bytes (0 = none)
}

var kindInfoTable = map[Kind]KindInfo{
	KindRegular:    {"REGULAR", 0},
	KindAdd:        {"ADD", 1},
	KindSub:        {"SUB", 1},
	KindShiftRight: {"SHIFT_RIGHT", 4},
	KindShiftLeft:  {"SHIFT_LEFT", 4},
	KindSetZero:    {"SET_ZERO", 0},
}

// GetKindInfo returns metadata for a kind.
// Returns a zero KindInfo with name "UNKNOWN" if the kind is not recognized.
func GetKindInfo(k Kind) KindInfo {
	if info, ok := kindInfoTable[k]; ok {
		return info
	}
	return KindInfo{Name: fmt.Sprintf("UNKNOWN(%d)", byte(k))}
}

func (k Kind) String() string {
	return GetKindInfo(k).Name
}

// Valid reports whether k is a defined kind.
func (k Kind) Valid() bool {
	_, ok := kindInfoTable[k]
	return ok
}

// Extended is either a wrapped basic instruction or a fused operation
// produced by the optimizer. The zero value is not a valid instruction.
// Extended values are comparable, which the pattern fuser relies on.
type Extended struct {
	Kind  Kind        `cbor:"1,keyasint"`
	Basic Instruction `cbor:"2,keyasint,omitempty"`
	Arg   uint32      `cbor:"3,keyasint,omitempty"`
}

// Regular wraps a basic instruction.
func Regular(i Instruction) Extended {
	return Extended{Kind: KindRegular, Basic: i}
}

// Add adds n (mod 256) to the current cell.
func Add(n uint8) Extended {
	return Extended{Kind: KindAdd, Arg: uint32(n)}
}

// Sub subtracts n (mod 256) from the current cell.
func Sub(n uint8) Extended {
	return Extended{Kind: KindSub, Arg: uint32(n)}
}

// ShiftRight moves the data pointer n cells to the right.
func ShiftRight(n uint32) Extended {
	return Extended{Kind: KindShiftRight, Arg: n}
}

// ShiftLeft moves the data pointer n cells to the left.
func ShiftLeft(n uint32) Extended {
	return Extended{Kind: KindShiftLeft, Arg: n}
}

// SetZero clears the current cell.
func SetZero() Extended {
	return Extended{Kind: KindSetZero}
}

// Is reports whether e wraps the basic instruction i.
func (e Extended) Is(i Instruction) bool {
	return e.Kind == KindRegular && e.Basic == i
}

// IsJump reports whether e is a bracket instruction.
func (e Extended) IsJump() bool {
	return e.Kind == KindRegular && e.Basic.IsJump()
}

// Count returns the operand of a fused instruction, 1 for a regular one.
func (e Extended) Count() uint32 {
	if e.Kind == KindRegular {
		return 1
	}
	return e.Arg
}

// Valid checks that the variant and its operand agree.
func (e Extended) Valid() bool {
	switch e.Kind {
	case KindRegular:
		return e.Basic.Valid() && e.Arg == 0
	case KindAdd, KindSub:
		return e.Basic == 0 && e.Arg <= 0xFF
	case KindShiftRight, KindShiftLeft:
		return e.Basic == 0
	case KindSetZero:
		return e.Basic == 0 && e.Arg == 0
	}
	return false
}

func (e Extended) String() string {
	switch e.Kind {
	case KindRegular:
		return e.Basic.String()
	case KindSetZero:
		return e.Kind.String()
	case KindAdd, KindSub, KindShiftRight, KindShiftLeft:
		return fmt.Sprintf("%s %d", e.Kind, e.Arg)
	}
	return e.Kind.String()
}

// Lift wraps every basic instruction as a Regular extended instruction.
func Lift(program []Instruction) []Extended {
	out := make([]Extended, len(program))
	for n, i := range program {
		out[n] = Regular(i)
	}
	return out
}
