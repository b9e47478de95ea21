package vm

import (
	"bytes"
	"errors"
	"testing"

	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/lexer"
	"github.com/chazu/bfjit/pkg/optimizer"
	"github.com/chazu/bfjit/pkg/tape"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const helloWorld = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

func runOptimized(t *testing.T, src string, opts ...Option) ([]byte, *Interpreter, error) {
	t.Helper()
	var out bytes.Buffer
	it := New(&out, opts...)
	err := it.Execute(optimizer.Optimize(lexer.TokenizeAll([]byte(src))))
	return out.Bytes(), it, err
}

func runPlain(t *testing.T, src string) ([]byte, *Interpreter, error) {
	t.Helper()
	var out bytes.Buffer
	it := New(&out)
	err := it.ExecuteBasic(lexer.TokenizeAll([]byte(src)))
	return out.Bytes(), it, err
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestExecuteOutputsEight(t *testing.T) {
	out, _, err := runOptimized(t, "++++++++.")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(out, []byte{8}) {
		t.Errorf("output = %v, want [8]", out)
	}
}

func TestExecuteMultiplyLoop(t *testing.T) {
	out, _, err := runOptimized(t, "++++++++[>++++++++<-]>.")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !bytes.Equal(out, []byte{64}) {
		t.Errorf("output = %v, want [64]", out)
	}
}

func TestExecuteHelloWorld(t *testing.T) {
	out, _, err := runOptimized(t, helloWorld)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(out) != "Hello World!\n" {
		t.Errorf("output = %q", out)
	}
}

func TestCancelledRunLeavesCellZero(t *testing.T) {
	_, it, err := runOptimized(t, "+++---")
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if it.Cell() != 0 {
		t.Errorf("cell = %d, want 0", it.Cell())
	}
}

func TestSetZeroOnFive(t *testing.T) {
	program := optimizer.Optimize(lexer.TokenizeAll([]byte("+++++[-]")))
	fused := 0
	for _, e := range program {
		if e.Kind == instr.KindSetZero {
			fused++
		}
	}
	if fused != 1 || len(program) != 2 {
		t.Fatalf("optimized = %v, want [ADD 5 SET_ZERO]", program)
	}

	it := New(&bytes.Buffer{})
	if err := it.Execute(program[:1]); err != nil {
		t.Fatal(err)
	}
	if it.Cell() != 5 {
		t.Fatalf("cell = %d, want 5 before clearing", it.Cell())
	}
	if err := it.Execute(program[1:]); err != nil {
		t.Fatal(err)
	}
	if it.Cell() != 0 {
		t.Errorf("cell = %d, want 0", it.Cell())
	}
}

func TestCellArithmeticWraps(t *testing.T) {
	out, _, err := runOptimized(t, "-.")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{255}) {
		t.Errorf("output = %v, want [255]", out)
	}

	it := New(&bytes.Buffer{})
	if err := it.Execute([]instr.Extended{instr.Add(200), instr.Add(100)}); err != nil {
		t.Fatal(err)
	}
	if it.Cell() != 44 {
		t.Errorf("cell = %d, want 44", it.Cell())
	}
}

func TestSkippedLoopBody(t *testing.T) {
	out, _, err := runOptimized(t, "[.+.]+.")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out, []byte{1}) {
		t.Errorf("output = %v, want [1]", out)
	}
}

// ---------------------------------------------------------------------------
// Optimization preserves output
// ---------------------------------------------------------------------------

func TestOptimizedMatchesPlain(t *testing.T) {
	programs := []string{
		helloWorld,
		"++++++++[>++++++++<-]>.",
		"+++[>+++[>+<-]<-]>>.",
		"+[-]+++.[+].",
		">>+++<<[-]>>.<+>-.<<+-",
		"++>+++<[->+<]>.>++++++++++[<+++++>-]<.",
		"-[--->+<]>.",
	}
	for _, src := range programs {
		plain, _, err := runPlain(t, src)
		if err != nil {
			t.Fatalf("plain %q: %v", src, err)
		}
		opt, _, err := runOptimized(t, src)
		if err != nil {
			t.Fatalf("optimized %q: %v", src, err)
		}
		if !bytes.Equal(plain, opt) {
			t.Errorf("%q: plain %v != optimized %v", src, plain, opt)
		}
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestUnmatchedBracketsProduceNoOutput(t *testing.T) {
	tests := []struct {
		src  string
		want error
	}{
		{"+.[", jumps.ErrUnmatchedOpen},
		{"+.]", jumps.ErrUnmatchedClose},
		{"+.[[]", jumps.ErrUnmatchedOpen},
	}
	for _, tt := range tests {
		out, _, err := runOptimized(t, tt.src)
		if !errors.Is(err, tt.want) {
			t.Errorf("%q: err = %v, want %v", tt.src, err, tt.want)
		}
		if len(out) != 0 {
			t.Errorf("%q: produced output %v before failing", tt.src, out)
		}
	}
}

func TestMoveLeftOfTapeFails(t *testing.T) {
	out, it, err := runOptimized(t, "+.<")
	if !errors.Is(err, ErrTapeBounds) {
		t.Fatalf("err = %v, want ErrTapeBounds", err)
	}
	var be *tape.BoundsError
	if !errors.As(err, &be) || be.Pointer != -1 {
		t.Errorf("BoundsError = %+v", be)
	}
	if !bytes.Equal(out, []byte{1}) {
		t.Errorf("output before fault = %v, want [1]", out)
	}
	if it.DataPointer() != 0 {
		t.Errorf("data pointer moved to %d", it.DataPointer())
	}
}

// Bounds are checked against the moves actually executed. Coalescing folds
// an excursion off the tape into its net shift, so the optimized program
// runs where the plain one faults.
func TestBoundsFollowExecutedMoves(t *testing.T) {
	for _, src := range []string{"<>+.", "<<>>>+."} {
		out, _, err := runPlain(t, src)
		if !errors.Is(err, ErrTapeBounds) {
			t.Errorf("%q plain: err = %v, want ErrTapeBounds", src, err)
		}
		if len(out) != 0 {
			t.Errorf("%q plain: output = %v, want none", src, out)
		}

		out, _, err = runOptimized(t, src)
		if err != nil {
			t.Errorf("%q optimized: %v", src, err)
		}
		if !bytes.Equal(out, []byte{1}) {
			t.Errorf("%q optimized: output = %v, want [1]", src, out)
		}
	}
}

func TestShiftPastTapeEndFails(t *testing.T) {
	it := New(&bytes.Buffer{})
	err := it.Execute([]instr.Extended{instr.ShiftRight(tape.Size - 1), instr.Regular(instr.MoveRight)})
	if !errors.Is(err, ErrTapeBounds) {
		t.Fatalf("err = %v, want ErrTapeBounds", err)
	}
	if it.DataPointer() != tape.Size-1 {
		t.Errorf("data pointer = %d, want last cell", it.DataPointer())
	}
}

func TestStepLimit(t *testing.T) {
	_, it, err := runOptimized(t, "+[]", WithStepLimit(1000))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("err = %v, want ErrStepLimit", err)
	}
	if it.Steps() != 1000 {
		t.Errorf("Steps = %d, want 1000", it.Steps())
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("closed") }

func TestOutputErrorStopsRun(t *testing.T) {
	it := New(failingWriter{})
	if err := it.ExecuteBasic(lexer.TokenizeAll([]byte("+.+"))); err == nil {
		t.Fatal("expected write error")
	}
	if it.Cell() != 1 {
		t.Errorf("cell = %d, instructions after the failed write ran", it.Cell())
	}
}

// ---------------------------------------------------------------------------
// Reuse
// ---------------------------------------------------------------------------

func TestClearResetsState(t *testing.T) {
	_, it, err := runOptimized(t, ">>+++")
	if err != nil {
		t.Fatal(err)
	}
	it.Clear()
	if it.DataPointer() != 0 {
		t.Errorf("data pointer = %d after Clear", it.DataPointer())
	}
	for i, c := range it.Tape() {
		if c != 0 {
			t.Fatalf("cell %d = %d after Clear", i, c)
		}
	}

	var out bytes.Buffer
	it.out = &out
	if err := it.ExecuteBasic(lexer.TokenizeAll([]byte("++."))); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(out.Bytes(), []byte{2}) {
		t.Errorf("output after Clear = %v, want [2]", out.Bytes())
	}
}
