// Package tape holds the memory model shared by both execution backends.
package tape

import (
	"errors"
	"fmt"
)

// Size is the number of cells on the tape.
const Size = 30000

// ErrOutOfBounds is returned when the data pointer leaves [0, Size).
var ErrOutOfBounds = errors.New("data pointer out of tape bounds")

// BoundsError reports where the data pointer left the tape.
// Position is the index of the offending instruction, or -1 when the
// backend cannot attribute the fault (compiled code).
type BoundsError struct {
	Position int
	Pointer  int
}

func (e *BoundsError) Error() string {
	if e.Position < 0 {
		return ErrOutOfBounds.Error()
	}
	return fmt.Sprintf("%s: pointer %d at instruction %d", ErrOutOfBounds, e.Pointer, e.Position)
}

func (e *BoundsError) Unwrap() error {
	return ErrOutOfBounds
}

// InBounds reports whether ptr addresses a cell.
func InBounds(ptr int) bool {
	return ptr >= 0 && ptr < Size
}
