package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/txn"
)

const sid = "s1"

type recordingBroadcaster struct {
	mu  sync.Mutex
	txs []*txn.Transaction
}

func (b *recordingBroadcaster) SendTransaction(tx *txn.Transaction) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txs = append(b.txs, tx)
}

func (b *recordingBroadcaster) sent() []*txn.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*txn.Transaction(nil), b.txs...)
}

// squareRecomputer "evaluates" every code cell to the string "ok:<code>".
type squareRecomputer struct {
	engine *Engine
}

func (r *squareRecomputer) Recompute(pos grid.SheetPos, code *grid.CodeCell) {
	go func() {
		result := code.Clone()
		result.Output = &grid.CodeOutput{Values: [][]grid.Value{{{Kind: grid.KindText, Text: "ok:" + code.Code}}}}
		r.engine.PostCodeResult(pos, result)
	}()
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	reg := sheet.NewDefault(sheet.WithIDGenerator(func() string { return sid }))
	ids := make([]string, 50)
	for i := range ids {
		ids[i] = fmt.Sprintf("tx-%d", i+1)
	}
	ctrl := txn.NewController(reg, txn.WithIDGenerator(txn.NewFixedGenerator(ids...)))
	return New(ctrl, opts...)
}

func run(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("engine did not stop")
		}
	})
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func setText(x, y int64, s string) txn.SetCells {
	return txn.SetCells{SheetID: sid, Cells: []grid.Entry{{Pos: grid.Pos{X: x, Y: y}, Cell: grid.NewCell(s)}}}
}

func valueAt(t *testing.T, e *Engine, x, y int64) string {
	t.Helper()
	var v string
	require.NoError(t, e.Read(testCtx(t), func(c *txn.Controller) {
		if cell := c.Registry().Cell(sid, grid.Pos{X: x, Y: y}); cell != nil {
			v = cell.Value
		}
	}))
	return v
}

func undoDepth(t *testing.T, e *Engine) int {
	t.Helper()
	var n int
	require.NoError(t, e.Read(testCtx(t), func(c *txn.Controller) { n = c.UndoDepth() }))
	return n
}

func TestEngine_SubmitUndoRedo(t *testing.T) {
	b := &recordingBroadcaster{}
	e := newTestEngine(t, WithBroadcaster(b))
	run(t, e)
	ctx := testCtx(t)

	res, err := e.Submit(ctx, "cursor", setText(0, 0, "Hello"), setText(1, 0, "World."))
	require.NoError(t, err)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, int64(1), res.Seq)
	assert.Equal(t, "Hello", valueAt(t, e, 0, 0))

	res, err = e.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Seq)
	assert.Equal(t, "", valueAt(t, e, 0, 0))

	_, err = e.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "World.", valueAt(t, e, 1, 0))

	sent := b.sent()
	require.Len(t, sent, 3, "command, undo and redo are broadcast")
	assert.Equal(t, "tx-1", sent[0].ID)
	assert.Equal(t, "cursor", sent[1].Cursor)
}

func TestEngine_UndoOnEmptyStack(t *testing.T) {
	e := newTestEngine(t)
	run(t, e)

	res, err := e.Undo(testCtx(t))
	require.NoError(t, err)
	assert.Nil(t, res.Transaction)
	assert.Equal(t, int64(0), e.Clock().Current())
}

func TestEngine_FailedCommandAborts(t *testing.T) {
	b := &recordingBroadcaster{}
	e := newTestEngine(t, WithBroadcaster(b))
	run(t, e)

	_, err := e.Submit(testCtx(t), "", setText(0, 0, "partial"), txn.SetSheetName{SheetID: "missing", Name: "x"})

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeCommandFailed, re.Code)
	assert.ErrorIs(t, err, sheet.ErrSheetNotFound)
	assert.Equal(t, "", valueAt(t, e, 0, 0))
	assert.Equal(t, 0, undoDepth(t, e))
	assert.Empty(t, b.sent())
}

func TestEngine_RemoteTransaction(t *testing.T) {
	b := &recordingBroadcaster{}
	applied := make(chan Applied, 4)
	e := newTestEngine(t, WithBroadcaster(b), WithListener(func(a Applied) { applied <- a }))
	run(t, e)

	ok := e.ApplyRemote("peer", 7, &txn.Transaction{ID: "remote-1", Operations: []txn.Operation{setText(5, 5, "X")}})
	require.True(t, ok)

	select {
	case a := <-applied:
		assert.Equal(t, EventTypeRemote, a.Type)
		assert.Equal(t, "peer", a.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("remote transaction not applied")
	}

	assert.Equal(t, "X", valueAt(t, e, 5, 5))
	assert.Equal(t, 0, undoDepth(t, e), "remote edits are not locally undoable")
	assert.Empty(t, b.sent(), "remote edits are not rebroadcast")
}

func TestEngine_RejectedRemoteKeepsRunning(t *testing.T) {
	e := newTestEngine(t)
	run(t, e)

	e.ApplyRemote("peer", 1, &txn.Transaction{ID: "bad", Operations: []txn.Operation{
		setText(0, 0, "never"),
		txn.DeleteSheet{SheetID: "missing"},
	}})

	_, err := e.Submit(testCtx(t), "", setText(1, 1, "after"))
	require.NoError(t, err)
	assert.Equal(t, "after", valueAt(t, e, 1, 1))
	assert.Equal(t, "", valueAt(t, e, 0, 0))
}

func TestEngine_CodeCellEvaluation(t *testing.T) {
	b := &recordingBroadcaster{}
	results := make(chan Applied, 4)
	e := newTestEngine(t, WithBroadcaster(b), WithListener(func(a Applied) {
		if a.Type == EventTypeCodeResult {
			results <- a
		}
	}))
	e.SetRecomputer(&squareRecomputer{engine: e})
	run(t, e)

	_, err := e.Submit(testCtx(t), "", txn.SetCodeCell{SheetID: sid, Pos: grid.Pos{X: 2, Y: 2}, Code: &grid.CodeCell{
		Language: grid.LanguagePython,
		Code:     "1+1",
	}})
	require.NoError(t, err)

	select {
	case <-results:
	case <-time.After(2 * time.Second):
		t.Fatal("code result not applied")
	}

	assert.Equal(t, "ok:1+1", valueAt(t, e, 2, 2))
	assert.Equal(t, 1, undoDepth(t, e), "results do not enter undo history")
	assert.Len(t, b.sent(), 2, "the edit and its result are broadcast")
}

func TestEngine_StaleCodeResultDropped(t *testing.T) {
	e := newTestEngine(t)
	run(t, e)
	ctx := testCtx(t)

	pos := grid.SheetPos{SheetID: sid, Pos: grid.Pos{X: 0, Y: 0}}
	_, err := e.Submit(ctx, "", txn.SetCodeCell{SheetID: sid, Pos: pos.Pos, Code: &grid.CodeCell{Language: grid.LanguagePython, Code: "new"}})
	require.NoError(t, err)

	stale := &grid.CodeCell{
		Language: grid.LanguagePython,
		Code:     "old",
		Output:   &grid.CodeOutput{Values: [][]grid.Value{{{Kind: grid.KindText, Text: "stale"}}}},
	}
	e.PostCodeResult(pos, stale)

	// a read queued after the result observes its outcome
	cell := ""
	require.NoError(t, e.Read(ctx, func(c *txn.Controller) {
		cell = c.Registry().Cell(sid, pos.Pos).Code.Code
	}))
	assert.Equal(t, "new", cell)
	assert.NotEqual(t, "stale", valueAt(t, e, 0, 0))
}

func TestEngine_ReadCells(t *testing.T) {
	e := newTestEngine(t)
	run(t, e)
	ctx := testCtx(t)

	_, err := e.Submit(ctx, "", setText(0, 0, "a"), setText(1, 1, "b"), setText(9, 9, "far"))
	require.NoError(t, err)

	cells, err := e.ReadCells(ctx, sid, grid.NewRect(0, 0, 2, 2))
	require.NoError(t, err)
	require.Len(t, cells, 2)
	assert.Equal(t, "a", cells[0].Cell.Value)
	assert.Equal(t, "b", cells[1].Cell.Value)

	_, err = e.ReadCells(ctx, "missing", grid.NewRect(0, 0, 1, 1))
	assert.ErrorIs(t, err, sheet.ErrSheetNotFound)
}

func TestEngine_StopRejectsWork(t *testing.T) {
	e := newTestEngine(t)
	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	e.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	_, err := e.Submit(testCtx(t), "", setText(0, 0, "x"))
	assert.ErrorIs(t, err, ErrStopped)
}

func TestEngine_RunReturnsOnCancel(t *testing.T) {
	e := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
