package server

import (
	"errors"
	"net/http"

	"github.com/tliron/commonlog"

	"github.com/chazu/bfjit/pkg/engine"
	"github.com/chazu/bfjit/store"
)

var log = commonlog.GetLogger("bfjit.server")

// ErrUnboundedJIT is returned by New when the JIT backend is forced while a
// step limit is set. Compiled code cannot count steps or be preempted, so a
// looping request would hold the worker and stall garbage collection.
var ErrUnboundedJIT = errors.New("jit backend cannot enforce a step limit; use auto or interpret, or set the limit to zero")

// ExecServer serves the execution service over Connect, gRPC and gRPC-Web
// on one port.
type ExecServer struct {
	worker *Worker
	mux    *http.ServeMux
}

// ServerOption configures an ExecServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	maxSteps uint64
	optimize bool
	backend  engine.Backend
	cache    *store.Store
}

// WithMaxSteps bounds every run. Zero removes the bound, which also lets
// runs use the JIT.
func WithMaxSteps(n uint64) ServerOption {
	return func(c *serverConfig) { c.maxSteps = n }
}

// WithOptimize toggles the optimizer.
func WithOptimize(on bool) ServerOption {
	return func(c *serverConfig) { c.optimize = on }
}

// WithBackend forces a backend.
func WithBackend(b engine.Backend) ServerOption {
	return func(c *serverConfig) { c.backend = b }
}

// WithCache shares an image cache across requests.
func WithCache(s *store.Store) ServerOption {
	return func(c *serverConfig) { c.cache = s }
}

// New creates an ExecServer.
func New(opts ...ServerOption) (*ExecServer, error) {
	cfg := &serverConfig{
		maxSteps: 100_000_000,
		optimize: true,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.backend == engine.BackendJIT && cfg.maxSteps > 0 {
		return nil, ErrUnboundedJIT
	}

	worker := NewWorker(&engine.Engine{
		Backend:  cfg.backend,
		Optimize: cfg.optimize,
		MaxSteps: cfg.maxSteps,
		Cache:    cfg.cache,
	})

	s := &ExecServer{
		worker: worker,
		mux:    http.NewServeMux(),
	}

	path, handler := NewExecServiceHandler(NewExecService(worker))
	s.mux.Handle(path, handler)
	return s, nil
}

// Handler returns the root handler, for embedding or tests.
func (s *ExecServer) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *ExecServer) ListenAndServe(addr string) error {
	log.Noticef("bfjit server listening on %s", addr)
	log.Noticef("  Connect: http://%s%s", addr, ExecuteProcedure)

	// gRPC needs HTTP/2; serve it in cleartext alongside HTTP/1.1.
	var protocols http.Protocols
	protocols.SetHTTP1(true)
	protocols.SetUnencryptedHTTP2(true)
	srv := &http.Server{
		Addr:      addr,
		Handler:   s.mux,
		Protocols: &protocols,
	}
	return srv.ListenAndServe()
}

// Stop shuts down the server.
func (s *ExecServer) Stop() {
	s.worker.Stop()
}
