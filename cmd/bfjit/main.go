// bfjit CLI - runs brainfuck programs through the JIT or the interpreter
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tebeka/atexit"
	"github.com/tliron/commonlog"

	"github.com/chazu/bfjit/manifest"
	"github.com/chazu/bfjit/pkg/codegen"
	"github.com/chazu/bfjit/pkg/disasm"
	"github.com/chazu/bfjit/pkg/engine"
	"github.com/chazu/bfjit/pkg/image"
	"github.com/chazu/bfjit/server"
	"github.com/chazu/bfjit/store"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("bfjit")

func main() {
	forceJIT := flag.Bool("jit", false, "Force the JIT backend")
	forceInterp := flag.Bool("interpret", false, "Force the interpreter backend")
	optimize := flag.Bool("O", true, "Run the peephole optimizer")
	configDir := flag.String("config", "", "Directory holding bfjit.toml (default: search upward from .)")
	dump := flag.Bool("dump", false, "Print program and machine code listings instead of running")
	emit := flag.String("emit", "", "Write the prepared program image to `file` instead of running")
	timed := flag.Bool("time", false, "Report backend, steps and duration on stderr")
	verbose := flag.Bool("v", false, "Verbose output")
	serveMode := flag.Bool("serve", false, "Start the execution service (Connect, gRPC, gRPC-Web)")
	servePort := flag.Int("port", 0, "Execution service port (default from bfjit.toml)")
	lspMode := flag.Bool("lsp", false, "Start the language server on stdio")
	noCache := flag.Bool("no-cache", false, "Disable the image cache")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bfjit [options] file\n\n")
		fmt.Fprintf(os.Stderr, "Runs a brainfuck source file or a compiled %s image.\n\n", image.Extension)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bfjit hello.b                  # Run with the default backend\n")
		fmt.Fprintf(os.Stderr, "  bfjit -interpret -O=false a.b  # Plain interpreter, no optimizer\n")
		fmt.Fprintf(os.Stderr, "  bfjit -dump hello.b            # Show IR and machine code\n")
		fmt.Fprintf(os.Stderr, "  bfjit -emit hello.bfi hello.b  # Save a program image\n")
		fmt.Fprintf(os.Stderr, "  bfjit hello.bfi                # Run a saved image\n")
		fmt.Fprintf(os.Stderr, "\nServers:\n")
		fmt.Fprintf(os.Stderr, "  bfjit -serve -port 8420        # Execution service\n")
		fmt.Fprintf(os.Stderr, "  bfjit -lsp                     # Language server on stdio\n")
		fmt.Fprintf(os.Stderr, "\n-serve -jit requires [server] max-steps = 0: native runs cannot be\n")
		fmt.Fprintf(os.Stderr, "interrupted, so one looping request blocks the server.\n")
	}
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	m, err := loadManifest(*configDir)
	if err != nil {
		fail(err)
	}

	verbosity := m.Log.Verbosity
	if *verbose {
		verbosity += 2
	}
	commonlog.Configure(verbosity, m.LogFile())

	if *lspMode {
		if err := server.NewLSP().Run(); err != nil {
			fail(err)
		}
		atexit.Exit(0)
	}

	backend, err := selectBackend(m.Run.Backend, *forceJIT, *forceInterp)
	if err != nil {
		fail(err)
	}
	opt := m.OptimizeEnabled()
	if set["O"] {
		opt = *optimize
	}

	var cache *store.Store
	if m.Cache.Enabled && !*noCache {
		cache = openCache(m)
	}

	if *serveMode {
		addr := m.Server.Addr
		if *servePort != 0 {
			addr = fmt.Sprintf(":%d", *servePort)
		}
		srv, err := server.New(
			server.WithBackend(backend),
			server.WithOptimize(opt),
			server.WithMaxSteps(m.Server.MaxSteps),
			server.WithCache(cache),
		)
		if err != nil {
			fail(err)
		}
		atexit.Register(srv.Stop)
		if err := srv.ListenAndServe(addr); err != nil {
			fail(fmt.Errorf("server: %w", err))
		}
		atexit.Exit(0)
	}

	if flag.NArg() != 1 {
		flag.Usage()
		atexit.Exit(2)
	}

	e := &engine.Engine{
		Backend:  backend,
		Optimize: opt,
		MaxSteps: m.Run.MaxSteps,
		Cache:    cache,
	}
	p, err := prepare(e, flag.Arg(0))
	if err != nil {
		fail(err)
	}

	switch {
	case *emit != "":
		if err := writeImage(*emit, p); err != nil {
			fail(err)
		}
		log.Infof("wrote %s", *emit)
	case *dump:
		if err := dumpProgram(os.Stdout, p); err != nil {
			fail(err)
		}
	default:
		res, err := run(e, p)
		if err != nil {
			fail(err)
		}
		if *timed {
			fmt.Fprintf(os.Stderr, "%s: %d instructions in %s", res.Backend, len(p.Program), res.Duration)
			if res.Backend == engine.BackendInterpreter {
				fmt.Fprintf(os.Stderr, ", %d steps", res.Steps)
			}
			fmt.Fprintln(os.Stderr)
		}
	}
	atexit.Exit(0)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "bfjit: %v\n", err)
	atexit.Exit(1)
}

// loadManifest loads bfjit.toml from dir, or searches upward from the
// working directory when dir is empty. No file means defaults.
func loadManifest(dir string) (*manifest.Manifest, error) {
	if dir != "" {
		return manifest.Load(dir)
	}
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		return nil, err
	}
	if m == nil {
		return manifest.Default(), nil
	}
	return m, nil
}

// selectBackend applies the -jit and -interpret overrides to the configured
// backend name.
func selectBackend(name string, forceJIT, forceInterp bool) (engine.Backend, error) {
	switch {
	case forceJIT && forceInterp:
		return 0, errors.New("-jit and -interpret are mutually exclusive")
	case forceJIT:
		return engine.BackendJIT, nil
	case forceInterp:
		return engine.BackendInterpreter, nil
	}
	return engine.ParseBackend(name)
}

// openCache opens the configured image cache. Failure only disables caching.
func openCache(m *manifest.Manifest) *store.Store {
	path := m.CachePath()
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			log.Warningf("image cache disabled: %s", err)
			return nil
		}
	}
	s, err := store.Open(path)
	if err != nil {
		log.Warningf("image cache disabled: %s", err)
		return nil
	}
	atexit.Register(func() {
		if err := s.Close(); err != nil {
			log.Errorf("closing image cache: %s", err)
		}
	})
	return s
}

// prepare loads path as an image when it has the image extension and as
// source otherwise.
func prepare(e *engine.Engine, path string) (*engine.Prepared, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == image.Extension {
		img, err := image.Unmarshal(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return e.PrepareImage(img)
	}
	p, err := e.Prepare(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func writeImage(path string, p *engine.Prepared) error {
	data, err := image.Marshal(p.Image())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// dumpProgram writes the IR listing followed by the machine code listing.
// Machine code is assembled against a zero tape base; addresses differ from
// a real run only in the prologue.
func dumpProgram(w io.Writer, p *engine.Prepared) error {
	listing, err := disasm.Program(p.Program)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, listing)

	a, err := codegen.New(int(os.Stdout.Fd())).Assemble(0, p.Program)
	if err != nil {
		return err
	}
	machine, err := disasm.Machine(a, p.Program)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, machine)
	return nil
}

// run executes p on stdout. Interpreter output is buffered; the JIT writes
// to the descriptor itself.
func run(e *engine.Engine, p *engine.Prepared) (*engine.Result, error) {
	if e.Resolve() == engine.BackendJIT {
		return e.Execute(p, os.Stdout)
	}
	w := bufio.NewWriter(os.Stdout)
	res, err := e.Execute(p, w)
	if ferr := w.Flush(); err == nil {
		err = ferr
	}
	return res, err
}
