// Package lexer filters raw source bytes down to instructions.
//
// The lexer is a filter, not a validator: every byte that is not one of the
// seven wired symbols is dropped without error, including the reserved input
// symbol ','.
package lexer

import (
	"iter"

	"github.com/chazu/bfjit/pkg/instr"
)

// Tokenize returns a lazy sequence over the instructions in src.
// The sequence may be ranged over any number of times.
func Tokenize(src []byte) iter.Seq[instr.Instruction] {
	return func(yield func(instr.Instruction) bool) {
		for _, c := range src {
			i, ok := instr.FromSymbol(c)
			if !ok {
				continue
			}
			if !yield(i) {
				return
			}
		}
	}
}

// TokenizeWithOffsets is like Tokenize but also yields the byte offset of
// each instruction in src.
func TokenizeWithOffsets(src []byte) iter.Seq2[int, instr.Instruction] {
	return func(yield func(int, instr.Instruction) bool) {
		for off, c := range src {
			i, ok := instr.FromSymbol(c)
			if !ok {
				continue
			}
			if !yield(off, i) {
				return
			}
		}
	}
}

// TokenizeAll collects every instruction in src.
func TokenizeAll(src []byte) []instr.Instruction {
	out := make([]instr.Instruction, 0, len(src))
	for i := range Tokenize(src) {
		out = append(out, i)
	}
	return out
}
