// Package vm implements the reference interpreter.
//
// The interpreter walks a program of extended instructions over a fixed
// tape, one instruction per step:
//   - brackets are resolved before the first step, so an unbalanced program
//     produces no output
//   - cells wrap modulo 256
//   - leaving the tape stops the run with a BoundsError naming the
//     instruction; bounds apply to the moves of the program being run, so a
//     coalesced shift is checked once at its destination
//   - an optional step limit bounds runaway loops
//
// Output is byte-for-byte what the JIT produces for the same program. The
// optimizer preserves output for every program that stays on the tape; an
// excursion off the tape that a coalesced run cancels is no longer observed.
package vm
