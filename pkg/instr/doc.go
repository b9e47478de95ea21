// Package instr defines the instruction model shared by the optimizer and
// both execution backends.
//
// Two layers exist:
//
//   - Instruction: the seven wired source symbols (> < + - . [ ]). The
//     input symbol ',' is reserved by the language but never produced.
//
//   - Extended: a tagged value that either wraps an Instruction (KindRegular)
//     or carries a fused operation emitted by the optimizer (Add, Sub,
//     ShiftRight, ShiftLeft, SetZero). Fused forms replace a run of
//     primitive instructions with the same observable effect.
//
// Backends switch exhaustively over Kind and, for KindRegular, over the
// wrapped Instruction. Nothing in this package knows about registers,
// machine code or tapes.
package instr
