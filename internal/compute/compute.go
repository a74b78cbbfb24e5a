// Package compute runs code cell evaluations off the engine loop.
//
// The language runtimes themselves live behind the Executor interface. A
// Runner starts one evaluation per code cell; starting another evaluation
// of the same cell cancels the first. Results are posted back to the
// engine as a whole, so a cancelled or superseded run never changes the
// grid.
package compute

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/gridsync/internal/grid"
)

// CellReader reads the cells of a rectangle on a sheet, for code that
// references other cells.
type CellReader func(ctx context.Context, sheetID string, r grid.Rect) ([]grid.Entry, error)

// Request is one evaluation.
type Request struct {
	Pos       grid.SheetPos
	Language  grid.Language
	Code      string
	ReadCells CellReader
}

// Result is what an Executor returns. A non-empty Error marks the output as
// an evaluation error.
type Result struct {
	Values [][]grid.Value
	StdOut string
	StdErr string
	Error  string
}

// Executor evaluates code. It must return promptly once ctx is done.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// Poster receives finished evaluations. engine.Engine implements it.
type Poster interface {
	PostCodeResult(pos grid.SheetPos, code *grid.CodeCell) bool
}

type run struct {
	cancel context.CancelFunc
}

// Runner evaluates code cells concurrently, at most one run per cell.
type Runner struct {
	exec    Executor
	post    Poster
	read    CellReader
	timeout time.Duration

	mu      sync.Mutex
	running map[grid.SheetPos]*run
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout bounds each evaluation. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithCellReader sets the reader handed to executors.
func WithCellReader(read CellReader) Option {
	return func(r *Runner) {
		r.read = read
	}
}

// NewRunner returns a Runner posting results to post.
func NewRunner(exec Executor, post Poster, opts ...Option) *Runner {
	r := &Runner{
		exec:    exec,
		post:    post,
		running: make(map[grid.SheetPos]*run),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Recompute starts evaluating code for the cell at pos, cancelling any run
// already in flight for that cell. code must not be modified afterwards.
func (r *Runner) Recompute(pos grid.SheetPos, code *grid.CodeCell) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if prev, ok := r.running[pos]; ok {
		prev.cancel()
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if r.timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), r.timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	cur := &run{cancel: cancel}
	r.running[pos] = cur

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		r.evaluate(ctx, cur, pos, code)
	}()
}

func (r *Runner) evaluate(ctx context.Context, cur *run, pos grid.SheetPos, code *grid.CodeCell) {
	req := Request{Pos: pos, Language: code.Language, Code: code.Code, ReadCells: r.read}
	res, err := r.exec.Execute(ctx, req)

	r.mu.Lock()
	current := r.running[pos] == cur
	if current {
		delete(r.running, pos)
	}
	r.mu.Unlock()

	if !current || ctx.Err() == context.Canceled {
		slog.Debug("evaluation cancelled", "sheet_id", pos.SheetID, "pos", pos.Pos.String())
		return
	}

	out := &grid.CodeOutput{Values: res.Values, StdOut: res.StdOut, StdErr: res.StdErr, Error: res.Error}
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		out = &grid.CodeOutput{Error: fmt.Sprintf("#TIMEOUT after %s", r.timeout)}
	case err != nil:
		out = &grid.CodeOutput{StdErr: res.StdErr, Error: err.Error()}
	}

	result := code.Clone()
	result.Output = out
	result.SpillError = nil
	if !r.post.PostCodeResult(pos, result) {
		slog.Debug("evaluation result not accepted", "sheet_id", pos.SheetID, "pos", pos.Pos.String())
	}
}

// Cancel stops the evaluation of the cell at pos. The cell keeps its prior
// result. It reports whether a run was in flight.
func (r *Runner) Cancel(pos grid.SheetPos) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.running[pos]
	if !ok {
		return false
	}
	cur.cancel()
	delete(r.running, pos)
	return true
}

// Running returns the number of evaluations in flight.
func (r *Runner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.running)
}

// Close cancels every run and waits for them to finish.
func (r *Runner) Close() {
	r.mu.Lock()
	r.closed = true
	for pos, cur := range r.running {
		cur.cancel()
		delete(r.running, pos)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
