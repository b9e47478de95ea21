package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"
	"github.com/google/uuid"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/chazu/bfjit/pkg/codegen"
	"github.com/chazu/bfjit/pkg/disasm"
	"github.com/chazu/bfjit/pkg/engine"
	"github.com/chazu/bfjit/pkg/jumps"
	"github.com/chazu/bfjit/pkg/tape"
	"github.com/chazu/bfjit/vm"
)

const (
	// ExecServiceName is the fully-qualified name of the execution service.
	ExecServiceName = "bfjit.v1.ExecService"

	// ExecuteProcedure runs a program and returns its output.
	ExecuteProcedure = "/" + ExecServiceName + "/Execute"

	// DisassembleProcedure returns instruction and machine-code listings.
	DisassembleProcedure = "/" + ExecServiceName + "/Disassemble"

	// RunIDHeader carries the id assigned to each request.
	RunIDHeader = "Bfjit-Run-Id"

	// maxSourceBytes bounds request messages.
	maxSourceBytes = 1 << 20
)

// ExecService implements the execution service handlers.
type ExecService struct {
	worker *Worker
}

// NewExecService creates an ExecService.
func NewExecService(worker *Worker) *ExecService {
	return &ExecService{worker: worker}
}

// runOutcome is what the worker hands back for one Execute call.
type runOutcome struct {
	output []byte
	result *engine.Result
	err    error
}

// Execute runs the source in the request and returns everything it wrote.
func (s *ExecService) Execute(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[wrapperspb.BytesValue], error) {
	runID := uuid.NewString()
	src := req.Msg.GetValue()

	value, err := s.worker.Do(ctx, func(e *engine.Engine) any {
		var out bytes.Buffer
		res, err := e.Run(src, &out)
		return &runOutcome{output: out.Bytes(), result: res, err: err}
	})
	if err != nil {
		return nil, withRunID(connect.NewError(errorCode(err), err), runID)
	}

	outcome := value.(*runOutcome)
	if outcome.err != nil {
		log.Infof("run %s failed: %s", runID, outcome.err)
		return nil, withRunID(connect.NewError(errorCode(outcome.err), outcome.err), runID)
	}
	log.Infof("run %s: %d bytes in, %d bytes out, %s on %s",
		runID, len(src), len(outcome.output), outcome.result.Duration, outcome.result.Backend)

	resp := connect.NewResponse(wrapperspb.Bytes(outcome.output))
	resp.Header().Set(RunIDHeader, runID)
	return resp, nil
}

// Disassemble returns the optimized program and its machine code.
func (s *ExecService) Disassemble(
	ctx context.Context,
	req *connect.Request[wrapperspb.BytesValue],
) (*connect.Response[wrapperspb.StringValue], error) {
	runID := uuid.NewString()
	src := req.Msg.GetValue()

	value, err := s.worker.Do(ctx, func(e *engine.Engine) any {
		p, err := e.Prepare(src)
		if err != nil {
			return err
		}
		program, err := disasm.Program(p.Program)
		if err != nil {
			return err
		}
		a, err := codegen.New(1).Assemble(0, p.Program)
		if err != nil {
			return err
		}
		machine, err := disasm.Machine(a, p.Program)
		if err != nil {
			return err
		}
		return program + "\n" + machine
	})
	if err != nil {
		return nil, withRunID(connect.NewError(errorCode(err), err), runID)
	}
	if err, ok := value.(error); ok {
		return nil, withRunID(connect.NewError(errorCode(err), err), runID)
	}

	resp := connect.NewResponse(wrapperspb.String(value.(string)))
	resp.Header().Set(RunIDHeader, runID)
	return resp, nil
}

// errorCode maps run failures to Connect codes.
func errorCode(err error) connect.Code {
	switch {
	case errors.Is(err, jumps.ErrBracketMismatch):
		return connect.CodeInvalidArgument
	case errors.Is(err, vm.ErrStepLimit):
		return connect.CodeResourceExhausted
	case errors.Is(err, tape.ErrOutOfBounds):
		return connect.CodeOutOfRange
	case errors.Is(err, context.Canceled):
		return connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return connect.CodeDeadlineExceeded
	}
	return connect.CodeInternal
}

func withRunID(err *connect.Error, runID string) *connect.Error {
	err.Meta().Set(RunIDHeader, runID)
	return err
}

// NewExecServiceHandler builds an HTTP handler serving every procedure of
// the service. It returns the path to mount it on.
func NewExecServiceHandler(svc *ExecService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithReadMaxBytes(maxSourceBytes)}, opts...)

	execute := connect.NewUnaryHandler(ExecuteProcedure, svc.Execute, opts...)
	disassemble := connect.NewUnaryHandler(DisassembleProcedure, svc.Disassemble, opts...)

	return "/" + ExecServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case ExecuteProcedure:
			execute.ServeHTTP(w, r)
		case DisassembleProcedure:
			disassemble.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// ExecClient calls the execution service.
type ExecClient struct {
	execute     *connect.Client[wrapperspb.BytesValue, wrapperspb.BytesValue]
	disassemble *connect.Client[wrapperspb.BytesValue, wrapperspb.StringValue]
}

// NewExecClient creates a client for the service at baseURL.
func NewExecClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *ExecClient {
	baseURL = strings.TrimRight(baseURL, "/")
	return &ExecClient{
		execute:     connect.NewClient[wrapperspb.BytesValue, wrapperspb.BytesValue](httpClient, baseURL+ExecuteProcedure, opts...),
		disassemble: connect.NewClient[wrapperspb.BytesValue, wrapperspb.StringValue](httpClient, baseURL+DisassembleProcedure, opts...),
	}
}

// Execute runs src remotely.
func (c *ExecClient) Execute(ctx context.Context, src []byte) (*connect.Response[wrapperspb.BytesValue], error) {
	return c.execute.CallUnary(ctx, connect.NewRequest(wrapperspb.Bytes(src)))
}

// Disassemble fetches listings for src.
func (c *ExecClient) Disassemble(ctx context.Context, src []byte) (*connect.Response[wrapperspb.StringValue], error) {
	return c.disassemble.CallUnary(ctx, connect.NewRequest(wrapperspb.Bytes(src)))
}
