package compute

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
)

type posted struct {
	pos  grid.SheetPos
	code *grid.CodeCell
}

type chanPoster chan posted

func (c chanPoster) PostCodeResult(pos grid.SheetPos, code *grid.CodeCell) bool {
	c <- posted{pos: pos, code: code}
	return true
}

var at = grid.SheetPos{SheetID: "s1", Pos: grid.Pos{X: 1, Y: 2}}

func code(src string) *grid.CodeCell {
	return &grid.CodeCell{Language: grid.LanguagePython, Code: src, LastModified: "2024-05-01T00:00:00Z"}
}

func receive(t *testing.T, c chanPoster) posted {
	t.Helper()
	select {
	case p := <-c:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no result posted")
		return posted{}
	}
}

func TestRunner_PostsResult(t *testing.T) {
	out := make(chanPoster, 1)
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{Values: [][]grid.Value{{{Kind: grid.KindNumber, Text: "2"}}}, StdOut: "done"}, nil
	}), out)
	defer r.Close()

	r.Recompute(at, code("1+1"))
	p := receive(t, out)

	assert.Equal(t, at, p.pos)
	assert.Equal(t, "1+1", p.code.Code)
	assert.Equal(t, "2024-05-01T00:00:00Z", p.code.LastModified)
	require.NotNil(t, p.code.Output)
	assert.Equal(t, "done", p.code.Output.StdOut)
	assert.Equal(t, "2", p.code.Output.Values[0][0].Text)
}

func TestRunner_ExecutorErrorBecomesCellError(t *testing.T) {
	out := make(chanPoster, 1)
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{StdErr: "trace"}, errors.New("NameError: x is not defined")
	}), out)
	defer r.Close()

	r.Recompute(at, code("x"))
	p := receive(t, out)

	assert.Equal(t, "NameError: x is not defined", p.code.Output.Error)
	assert.Equal(t, "trace", p.code.Output.StdErr)
	assert.Equal(t, grid.KindError, p.code.Display().Kind)
}

func TestRunner_NewRunSupersedesOld(t *testing.T) {
	out := make(chanPoster, 2)
	started := make(chan struct{})
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		if req.Code == "slow" {
			close(started)
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{Values: [][]grid.Value{{{Kind: grid.KindText, Text: req.Code}}}}, nil
	}), out)

	r.Recompute(at, code("slow"))
	<-started
	r.Recompute(at, code("fast"))

	p := receive(t, out)
	assert.Equal(t, "fast", p.code.Code)

	r.Close()
	select {
	case extra := <-out:
		t.Fatalf("superseded run posted %q", extra.code.Code)
	default:
	}
}

func TestRunner_CancelPostsNothing(t *testing.T) {
	out := make(chanPoster, 1)
	started := make(chan struct{})
	var once sync.Once
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return Result{}, ctx.Err()
	}), out)

	r.Recompute(at, code("loop forever"))
	<-started
	assert.True(t, r.Cancel(at))
	assert.False(t, r.Cancel(at))

	r.Close()
	assert.Empty(t, out)
	assert.Equal(t, 0, r.Running())
}

func TestRunner_Timeout(t *testing.T) {
	out := make(chanPoster, 1)
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}), out, WithTimeout(20*time.Millisecond))
	defer r.Close()

	r.Recompute(at, code("while True: pass"))
	p := receive(t, out)

	assert.Contains(t, p.code.Output.Error, "#TIMEOUT")
}

func TestRunner_PassesCellReader(t *testing.T) {
	out := make(chanPoster, 1)
	reader := func(ctx context.Context, sheetID string, r grid.Rect) ([]grid.Entry, error) {
		return []grid.Entry{{Pos: r.Min, Cell: grid.NewCell("7")}}, nil
	}
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		cells, err := req.ReadCells(ctx, req.Pos.SheetID, grid.NewRect(0, 0, 0, 0))
		if err != nil {
			return Result{}, err
		}
		return Result{Values: [][]grid.Value{{{Kind: grid.KindNumber, Text: cells[0].Cell.Value}}}}, nil
	}), out, WithCellReader(reader))
	defer r.Close()

	r.Recompute(at, code("A1"))
	p := receive(t, out)
	assert.Equal(t, "7", p.code.Output.Values[0][0].Text)
}

func TestRunner_ClosedIgnoresNewWork(t *testing.T) {
	out := make(chanPoster, 1)
	r := NewRunner(ExecutorFunc(func(ctx context.Context, req Request) (Result, error) {
		return Result{}, nil
	}), out)
	r.Close()

	r.Recompute(at, code("1"))
	assert.Equal(t, 0, r.Running())
}
