// Package jumps matches loop brackets.
//
// Positions are opaque ints chosen by the caller: the interpreter uses
// instruction indices and the JIT uses byte offsets of displacement fields.
// Validation is eager: a Map is only produced once every bracket has been
// matched.
package jumps

import (
	"errors"
	"fmt"
	"slices"

	"github.com/chazu/bfjit/pkg/instr"
)

var (
	// ErrBracketMismatch is the parent of both mismatch kinds.
	ErrBracketMismatch = errors.New("bracket mismatch")

	// ErrUnmatchedOpen is returned for a '[' with no matching ']'.
	ErrUnmatchedOpen = fmt.Errorf("%w: unmatched opening bracket", ErrBracketMismatch)

	// ErrUnmatchedClose is returned for a ']' with no matching '['.
	ErrUnmatchedClose = fmt.Errorf("%w: unmatched closing bracket", ErrBracketMismatch)
)

// MismatchKind identifies which side of a loop is missing.
type MismatchKind uint8

const (
	UnmatchedOpen MismatchKind = iota
	UnmatchedClose
)

func (k MismatchKind) String() string {
	switch k {
	case UnmatchedOpen:
		return "unmatched open"
	case UnmatchedClose:
		return "unmatched close"
	default:
		return fmt.Sprintf("MismatchKind(%d)", k)
	}
}

// MismatchError reports an unbalanced bracket and where it was found.
type MismatchError struct {
	Kind     MismatchKind
	Position int
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Unwrap(), e.Position)
}

func (e *MismatchError) Unwrap() error {
	if e.Kind == UnmatchedClose {
		return ErrUnmatchedClose
	}
	return ErrUnmatchedOpen
}

// Map is the bidirectional open <-> close index.
type Map struct {
	forward  map[int]int // open -> close
	backward map[int]int // close -> open
}

// NewMap creates an empty map.
func NewMap() *Map {
	return &Map{
		forward:  make(map[int]int),
		backward: make(map[int]int),
	}
}

// Link records a matched pair.
func (m *Map) Link(open, close int) {
	m.forward[open] = close
	m.backward[close] = open
}

// Close returns the close position matched with open.
func (m *Map) Close(open int) (int, bool) {
	c, ok := m.forward[open]
	return c, ok
}

// Open returns the open position matched with close.
func (m *Map) Open(close int) (int, bool) {
	o, ok := m.backward[close]
	return o, ok
}

// Len returns the number of matched pairs.
func (m *Map) Len() int {
	return len(m.forward)
}

// Pair is one matched loop.
type Pair struct {
	Open  int
	Close int
}

// Pairs returns every matched pair ordered by open position.
func (m *Map) Pairs() []Pair {
	pairs := make([]Pair, 0, len(m.forward))
	for o, c := range m.forward {
		pairs = append(pairs, Pair{Open: o, Close: c})
	}
	slices.SortFunc(pairs, func(a, b Pair) int { return a.Open - b.Open })
	return pairs
}

// Reset drops every pair.
func (m *Map) Reset() {
	clear(m.forward)
	clear(m.backward)
}

// Resolver is a single-pass bracket matcher with an explicit stack of
// pending open positions.
type Resolver struct {
	stack []int
	m     *Map
}

// NewResolver creates a resolver with an empty map.
func NewResolver() *Resolver {
	return &Resolver{m: NewMap()}
}

// Open pushes a pending open bracket.
func (r *Resolver) Open(pos int) {
	r.stack = append(r.stack, pos)
}

// Close matches pos with the most recent pending open bracket.
// The resolver stays usable after an error so callers can keep collecting.
func (r *Resolver) Close(pos int) error {
	n := len(r.stack)
	if n == 0 {
		return &MismatchError{Kind: UnmatchedClose, Position: pos}
	}
	open := r.stack[n-1]
	r.stack = r.stack[:n-1]
	r.m.Link(open, pos)
	return nil
}

// Pending returns the open positions still waiting for a close, outermost
// first.
func (r *Resolver) Pending() []int {
	return slices.Clone(r.stack)
}

// Matched returns the pairs completed so far, whether or not the resolver
// will finish cleanly.
func (r *Resolver) Matched() *Map {
	return r.m
}

// Finish returns the completed map, or an error naming the outermost
// unmatched open bracket.
func (r *Resolver) Finish() (*Map, error) {
	if len(r.stack) > 0 {
		return nil, &MismatchError{Kind: UnmatchedOpen, Position: r.stack[0]}
	}
	return r.m, nil
}

// Resolve matches the brackets of program using instruction indices.
func Resolve(program []instr.Extended) (*Map, error) {
	r := NewResolver()
	for pc, e := range program {
		if e.Kind != instr.KindRegular {
			continue
		}
		switch e.Basic {
		case instr.JumpForward:
			r.Open(pc)
		case instr.JumpBackwards:
			if err := r.Close(pc); err != nil {
				return nil, err
			}
		}
	}
	return r.Finish()
}
