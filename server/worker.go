package server

import (
	"context"
	"fmt"

	"github.com/chazu/bfjit/pkg/engine"
)

// workRequest is a unit of work to be executed on the worker goroutine.
type workRequest struct {
	fn   func(*engine.Engine) any
	done chan workResult
}

// workResult holds the return value from an engine operation.
type workResult struct {
	value any
	err   error
}

// Worker serializes all program execution through a single goroutine.
// Runs share one engine and its image cache, and native code cannot be
// preempted, so handlers never execute programs directly.
type Worker struct {
	engine   *engine.Engine
	requests chan workRequest
	quit     chan struct{}
}

// NewWorker creates a Worker and starts the processing goroutine.
func NewWorker(e *engine.Engine) *Worker {
	w := &Worker{
		engine:   e,
		requests: make(chan workRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially on a dedicated goroutine.
func (w *Worker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the engine, recovering from panics.
func (w *Worker) execute(fn func(*engine.Engine) any) workResult {
	var result workResult
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.err = fmt.Errorf("%v", r)
			}
		}()
		result.value = fn(w.engine)
	}()
	return result
}

// Do submits a function for execution on the worker goroutine and blocks
// until it completes. Returns the result and any error (including panics).
// A canceled ctx abandons the wait; work already started still finishes.
func (w *Worker) Do(ctx context.Context, fn func(*engine.Engine) any) (any, error) {
	req := workRequest{
		fn:   fn,
		done: make(chan workResult, 1),
	}
	select {
	case w.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case result := <-req.done:
		return result.value, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine.
func (w *Worker) Stop() {
	close(w.quit)
}
