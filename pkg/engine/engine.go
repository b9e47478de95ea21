// Package engine selects a backend and runs programs end to end.
//
// The same prepared program produces the same output under either backend.
// The JIT cannot enforce a step limit, so a limit steers the automatic
// backend choice to the interpreter.
package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/bfjit/jit"
	"github.com/chazu/bfjit/pkg/image"
	"github.com/chazu/bfjit/pkg/instr"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/lexer"
	"github.com/chazu/bfjit/pkg/optimizer"
	"github.com/chazu/bfjit/store"
	"github.com/chazu/bfjit/vm"
)

var log = commonlog.GetLogger("bfjit.engine")

// Backend names an execution strategy.
type Backend uint8

const (
	BackendAuto Backend = iota
	BackendJIT
	BackendInterpreter
)

func (b Backend) String() string {
	switch b {
	case BackendAuto:
		return "auto"
	case BackendJIT:
		return "jit"
	case BackendInterpreter:
		return "interpret"
	default:
		return fmt.Sprintf("Backend(%d)", b)
	}
}

// ParseBackend maps a configuration name to a Backend.
func ParseBackend(name string) (Backend, error) {
	switch name {
	case "", "auto":
		return BackendAuto, nil
	case "jit":
		return BackendJIT, nil
	case "interpret", "interpreter":
		return BackendInterpreter, nil
	}
	return 0, fmt.Errorf("unknown backend %q", name)
}

// Engine prepares and runs programs.
type Engine struct {
	Backend  Backend
	Optimize bool
	MaxSteps uint64       // interpreter only; zero means unlimited
	Cache    *store.Store // optional
}

// Prepared is a validated program ready to run.
type Prepared struct {
	Hash      image.Hash
	Program   []instr.Extended
	Optimized bool
	Cached    bool // loaded from the image cache
}

// Image wraps p for serialization.
func (p *Prepared) Image() *image.Image {
	return image.New(p.Hash, p.Program, p.Optimized)
}

// Result describes a completed run.
type Result struct {
	Backend  Backend
	Steps    uint64 // interpreter only
	Duration time.Duration
}

// Prepare lexes, optionally optimizes and validates src. With a cache, a
// stored image for the same source and optimization setting is reused and
// fresh programs are stored.
func (e *Engine) Prepare(src []byte) (*Prepared, error) {
	h := image.HashSource(src)

	if e.Cache != nil {
		img, err := e.Cache.Get(h)
		switch {
		case err == nil && img.Optimized == e.Optimize:
			log.Debugf("cache hit %s", h)
			return &Prepared{Hash: h, Program: img.Program, Optimized: img.Optimized, Cached: true}, nil
		case err != nil && !errors.Is(err, store.ErrNotFound):
			log.Warningf("cache lookup: %s", err)
		}
	}

	basic := lexer.TokenizeAll(src)
	var program []instr.Extended
	if e.Optimize {
		program = optimizer.Optimize(basic)
	} else {
		program = instr.Lift(basic)
	}
	if _, err := jumps.Resolve(program); err != nil {
		return nil, err
	}

	p := &Prepared{Hash: h, Program: program, Optimized: e.Optimize}
	if e.Cache != nil {
		if err := e.Cache.Put(p.Image()); err != nil {
			log.Warningf("cache store: %s", err)
		}
	}
	return p, nil
}

// PrepareImage validates a loaded image.
func (e *Engine) PrepareImage(img *image.Image) (*Prepared, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}
	return &Prepared{Hash: img.SourceHash, Program: img.Program, Optimized: img.Optimized}, nil
}

// Run prepares and executes src.
func (e *Engine) Run(src []byte, out io.Writer) (*Result, error) {
	p, err := e.Prepare(src)
	if err != nil {
		return nil, err
	}
	return e.Execute(p, out)
}

// Resolve returns the backend a run will actually use.
func (e *Engine) Resolve() Backend {
	switch e.Backend {
	case BackendJIT, BackendInterpreter:
		return e.Backend
	}
	if jit.Supported && e.MaxSteps == 0 {
		return BackendJIT
	}
	return BackendInterpreter
}

// Execute runs p, writing program output to out.
func (e *Engine) Execute(p *Prepared, out io.Writer) (*Result, error) {
	res := &Result{Backend: e.Resolve()}
	start := time.Now()

	var err error
	switch res.Backend {
	case BackendJIT:
		if e.MaxSteps > 0 {
			log.Warningf("step limit %d is not enforced by the jit", e.MaxSteps)
		}
		err = runJIT(p.Program, out)
	default:
		it := vm.New(out, vm.WithStepLimit(e.MaxSteps))
		err = it.Execute(p.Program)
		res.Steps = it.Steps()
	}

	res.Duration = time.Since(start)
	log.Debugf("%s run of %d instructions took %s", res.Backend, len(p.Program), res.Duration)
	return res, err
}

// runJIT compiles and runs program. Output goes straight to out when it is
// a file; otherwise it is collected in a scratch file and copied after the
// run, since native code writes to a raw descriptor.
func runJIT(program []instr.Extended, out io.Writer) error {
	f, direct := out.(*os.File)
	if !direct {
		var err error
		if f, err = newSink(); err != nil {
			return fmt.Errorf("creating output sink: %w", err)
		}
		defer f.Close()
	}

	c, err := jit.New(jit.WithOutputFD(f.Fd()))
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.CompileOptimized(program); err != nil {
		return err
	}
	runErr := c.Execute()

	if !direct {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Join(runErr, fmt.Errorf("rewinding output: %w", err))
		}
		if _, err := io.Copy(out, f); err != nil {
			return errors.Join(runErr, fmt.Errorf("copying output: %w", err))
		}
	}
	return runErr
}
