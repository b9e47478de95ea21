package server

import (
	"context"
	"net/http/httptest"
	"os"
	"testing"

	"connectrpc.com/connect"

	"github.com/chazu/bfjit/pkg/engine"
)

// ---------------------------------------------------------------------------
// Shared test infrastructure for server package tests.
//
// One interpreter-backed worker is shared by every test that only runs
// programs. Tests that need different limits build their own server.
// ---------------------------------------------------------------------------

var testWorker *Worker

// TestMain starts the shared worker for all server tests.
func TestMain(m *testing.M) {
	testWorker = NewWorker(&engine.Engine{
		Backend:  engine.BackendInterpreter,
		Optimize: true,
		MaxSteps: 1_000_000,
	})

	code := m.Run()

	testWorker.Stop()
	os.Exit(code)
}

// newTestExecService creates an ExecService backed by the shared worker.
func newTestExecService() *ExecService {
	return NewExecService(testWorker)
}

// newTestServer creates an ExecServer stopped at the end of the test.
func newTestServer(t *testing.T, opts ...ServerOption) *ExecServer {
	t.Helper()
	s, err := New(opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Stop)
	return s
}

// newTestClient serves s over httptest and returns a client for it.
func newTestClient(t *testing.T, s *ExecServer, opts ...connect.ClientOption) *ExecClient {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return NewExecClient(ts.Client(), ts.URL, opts...)
}

// ---------------------------------------------------------------------------
// Request builder helpers.
// ---------------------------------------------------------------------------

func connectReq[T any](msg *T) *connect.Request[T] {
	return connect.NewRequest(msg)
}

func bg() context.Context {
	return context.Background()
}
