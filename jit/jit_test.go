//go:build linux && amd64

package jit

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/bfjit/pkg/codegen"
	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/lexer"
	"github.com/chazu/bfjit/vm"
)

const helloWorld = `++++++++[>++++[>++>+++>+++>+<<<<-]>+>+>->>+[<]<-]>>.>---.+++++++..+++.>>.<-.<.+++.------.--------.>>+.>++.`

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newCompiler returns a compiler writing to a temp file, and a reader for
// everything written so far.
func newCompiler(t *testing.T) (*Compiler, func() []byte) {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })

	c, err := New(WithOutputFD(f.Fd()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })

	read := func() []byte {
		b, err := os.ReadFile(f.Name())
		if err != nil {
			t.Fatal(err)
		}
		return b
	}
	return c, read
}

func compileSource(t *testing.T, c *Compiler, src string) {
	t.Helper()
	if err := c.Compile(lexer.TokenizeAll([]byte(src))); err != nil {
		t.Fatalf("Compile(%q): %v", src, err)
	}
}

// ---------------------------------------------------------------------------
// Execution
// ---------------------------------------------------------------------------

func TestExecuteScenarios(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []byte
	}{
		{"eight", "++++++++.", []byte{8}},
		{"multiply", "++++++++[>++++++++<-]>.", []byte{64}},
		{"hello", helloWorld, []byte("Hello World!\n")},
		{"cancelled run", "+++---.", []byte{0}},
		{"clear loop", "+++++[-].", []byte{0}},
		{"wrap", "-.", []byte{255}},
		{"skipped body", "[.+.]+.", []byte{1}},
		{"long shift", strings.Repeat(">", 300) + "+." + strings.Repeat("<", 300) + ".", []byte{1, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, read := newCompiler(t)
			compileSource(t, c, tt.src)
			if err := c.Execute(); err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if got := read(); !bytes.Equal(got, tt.want) {
				t.Errorf("output = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExecuteMatchesInterpreter(t *testing.T) {
	programs := []string{
		helloWorld,
		"+++[>+++[>+<-]<-]>>.",
		"++>+++<[->+<]>.>++++++++++[<+++++>-]<.",
		"-[--->+<]>.",
		"+[-]+++.[+].",
	}
	for _, src := range programs {
		var want bytes.Buffer
		if err := vm.New(&want).ExecuteBasic(lexer.TokenizeAll([]byte(src))); err != nil {
			t.Fatalf("interpreter %q: %v", src, err)
		}

		c, read := newCompiler(t)
		compileSource(t, c, src)
		if err := c.Execute(); err != nil {
			t.Fatalf("Execute %q: %v", src, err)
		}
		if got := read(); !bytes.Equal(got, want.Bytes()) {
			t.Errorf("%q: jit %v != interpreter %v", src, got, want.Bytes())
		}
	}
}

func TestExecuteBeforeCompile(t *testing.T) {
	c, _ := newCompiler(t)
	if err := c.Execute(); !errors.Is(err, ErrNoProgram) {
		t.Errorf("err = %v, want ErrNoProgram", err)
	}
}

func TestCompileMismatchKeepsPreviousProgram(t *testing.T) {
	c, read := newCompiler(t)
	compileSource(t, c, "+.")

	for src, want := range map[string]error{
		"+[":  jumps.ErrUnmatchedOpen,
		"+]":  jumps.ErrUnmatchedClose,
		"[[]": jumps.ErrUnmatchedOpen,
	} {
		if err := c.Compile(lexer.TokenizeAll([]byte(src))); !errors.Is(err, want) {
			t.Errorf("Compile(%q) err = %v, want %v", src, err, want)
		}
	}

	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := read(); !bytes.Equal(got, []byte{1}) {
		t.Errorf("output = %v, want [1]", got)
	}
}

func TestExecuteOutOfBounds(t *testing.T) {
	tests := []string{"<", "+.<.", ">+[>+]"}
	for _, src := range tests {
		c, _ := newCompiler(t)
		compileSource(t, c, src)
		err := c.Execute()
		if !errors.Is(err, ErrTapeBounds) {
			t.Errorf("%q: err = %v, want ErrTapeBounds", src, err)
		}
	}
}

func TestExecuteOutputError(t *testing.T) {
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	r.Close()
	defer w.Close()

	c, err := New(WithOutputFD(w.Fd()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	compileSource(t, c, "+.")

	// SIGPIPE on a non-stdout descriptor is turned into EPIPE by the runtime.
	if err := c.Execute(); !errors.Is(err, ErrOutput) {
		t.Errorf("err = %v, want ErrOutput", err)
	}
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

func TestTapePersistsUntilClear(t *testing.T) {
	c, read := newCompiler(t)
	compileSource(t, c, "+.")

	for range 3 {
		if err := c.Execute(); err != nil {
			t.Fatal(err)
		}
	}
	c.Clear()
	if c.Jumps() != nil {
		t.Error("Clear kept the jump map")
	}
	if err := c.Execute(); err != nil {
		t.Fatalf("Execute after Clear: %v", err)
	}
	if got := read(); !bytes.Equal(got, []byte{1, 2, 3, 1}) {
		t.Errorf("output = %v, want [1 2 3 1]", got)
	}
}

func TestRecompileReplacesProgram(t *testing.T) {
	c, read := newCompiler(t)
	compileSource(t, c, "++.")
	compileSource(t, c, "+++++.")
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := read(); !bytes.Equal(got, []byte{5}) {
		t.Errorf("output = %v, want [5]", got)
	}
}

func TestCodeAndRelocations(t *testing.T) {
	c, _ := newCompiler(t)
	compileSource(t, c, "+[>+<-]")

	code := c.Code()
	relocs := c.Relocations()
	if len(relocs) != 2 || relocs[0].Kind != codegen.RelocForward || relocs[1].Kind != codegen.RelocBackward {
		t.Fatalf("Relocations = %v", relocs)
	}
	for _, r := range relocs {
		if !bytes.Equal(code[r.Offset:r.Offset+4], []byte{0, 0, 0, 0}) {
			t.Errorf("Code() placeholder at %d is not zeroed", r.Offset)
		}
	}
	if end, ok := c.Jumps().Close(relocs[0].Offset); !ok || end != relocs[1].Offset {
		t.Errorf("Jumps().Close = %d, %v", end, ok)
	}
	if !bytes.HasSuffix(code, []byte{0x31, 0xC0, 0xC3}) {
		t.Errorf("code does not end with the epilogue: % x", code[len(code)-3:])
	}
}

func TestCompileOptimizedDirect(t *testing.T) {
	c, read := newCompiler(t)
	program := []instr.Extended{
		instr.Add(65),
		instr.Regular(instr.Output),
		instr.ShiftRight(200),
		instr.Add(66),
		instr.Regular(instr.Output),
		instr.ShiftLeft(200),
		instr.SetZero(),
		instr.Regular(instr.Output),
	}
	if err := c.CompileOptimized(program); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(); err != nil {
		t.Fatal(err)
	}
	if got := read(); !bytes.Equal(got, []byte{'A', 'B', 0}) {
		t.Errorf("output = %v", got)
	}
}

func TestClose(t *testing.T) {
	c, _ := newCompiler(t)
	compileSource(t, c, "+")
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Execute(); !errors.Is(err, ErrClosed) {
		t.Errorf("Execute after Close err = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
