package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/txn"
)

// Broadcaster sends locally authored transactions to peers. It must not
// block the loop; implementations queue.
type Broadcaster interface {
	SendTransaction(tx *txn.Transaction)
}

// Recomputer evaluates code cells outside the loop and posts results back
// with PostCodeResult. It must not block the loop.
type Recomputer interface {
	Recompute(pos grid.SheetPos, code *grid.CodeCell)
}

// Applied describes one transaction the loop applied.
type Applied struct {
	Type        EventType
	Seq         int64
	Transaction *txn.Transaction
	Summary     txn.Summary

	// SessionID is the author of a remote transaction.
	SessionID string
}

// Result is the outcome of an event, returned by the synchronous helpers.
type Result struct {
	Seq         int64
	Transaction *txn.Transaction
	Summary     txn.Summary
	Err         error
}

// Engine is the single-writer dispatch loop around a txn.Controller.
//
// Thread-safety model:
//   - Enqueue and the helpers built on it: safe from any goroutine
//   - Run: must be called from exactly one goroutine
//   - the Controller: touched only by Run
type Engine struct {
	ctrl  *txn.Controller
	clock *Clock
	queue *eventQueue

	broadcaster Broadcaster
	recomputer  Recomputer
	listeners   []func(Applied)
	quota       *QuotaEnforcer
}

// Option configures an Engine.
type Option func(*Engine)

// WithBroadcaster sets where local transactions are sent.
func WithBroadcaster(b Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = b
	}
}

// WithRecomputer sets who evaluates code cells.
func WithRecomputer(r Recomputer) Option {
	return func(e *Engine) {
		e.recomputer = r
	}
}

// WithListener registers a function called on the loop after every applied
// transaction. It must not block.
func WithListener(fn func(Applied)) Option {
	return func(e *Engine) {
		e.listeners = append(e.listeners, fn)
	}
}

// WithMaxCascade sets how many times a code cell may be re-evaluated
// because of evaluation results between two edits. Default DefaultMaxCascade.
func WithMaxCascade(n int) Option {
	return func(e *Engine) {
		e.quota = NewQuotaEnforcer(n)
	}
}

// WithClock replaces the logical clock, for resuming a sequence.
func WithClock(c *Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// New creates an Engine that owns ctrl. After New, ctrl must only be used
// through the engine.
func New(ctrl *txn.Controller, opts ...Option) *Engine {
	e := &Engine{
		ctrl:  ctrl,
		clock: NewClock(),
		queue: newEventQueue(),
		quota: NewQuotaEnforcer(DefaultMaxCascade),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetBroadcaster replaces the broadcaster. It must be called before Run.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// SetRecomputer replaces the recomputer. It must be called before Run.
func (e *Engine) SetRecomputer(r Recomputer) { e.recomputer = r }

// Clock returns the engine's logical clock.
func (e *Engine) Clock() *Clock { return e.clock }

// QueueLen returns the number of pending events.
func (e *Engine) QueueLen() int { return e.queue.Len() }

// Enqueue submits an event for the Run loop. It returns false once the
// engine has stopped.
func (e *Engine) Enqueue(ev Event) bool {
	return e.queue.Enqueue(ev)
}

// Run processes events until ctx is cancelled or Stop is called.
//
// On event processing failure, the error is logged with full event context
// and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")
	defer e.failPending()

	for {
		event, ok := e.queue.TryDequeue()
		if ok {
			res := e.processEvent(event)
			if res.Err != nil {
				logEventError(event, res.Err)
			}
			if event.reply != nil {
				event.reply <- res
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("engine stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Close, which fires this case
			// immediately with an empty queue.
			if e.queue.Len() == 0 && e.queue.Closed() {
				slog.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the queue. Run returns once pending events are processed.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) failPending() {
	for _, ev := range e.queue.drain() {
		if ev.reply != nil {
			ev.reply <- Result{Err: ErrStopped}
		}
	}
}

// call enqueues ev and waits for its result.
func (e *Engine) call(ctx context.Context, ev Event) (Result, error) {
	ev.reply = make(chan Result, 1)
	if !e.queue.Enqueue(ev) {
		return Result{}, ErrStopped
	}
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-ev.reply:
		return res, res.Err
	}
}

// Submit applies ops as one local transaction and waits for the result. If
// any operation fails, the whole transaction is aborted.
func (e *Engine) Submit(ctx context.Context, cursor string, ops ...txn.Operation) (Result, error) {
	return e.call(ctx, Event{Type: EventTypeCommand, Command: &Command{Cursor: cursor, Operations: ops}})
}

// Undo reverts the latest local transaction. Result.Transaction is nil when
// there was nothing to undo.
func (e *Engine) Undo(ctx context.Context) (Result, error) {
	return e.call(ctx, Event{Type: EventTypeUndo})
}

// Redo reapplies the latest undone transaction.
func (e *Engine) Redo(ctx context.Context) (Result, error) {
	return e.call(ctx, Event{Type: EventTypeRedo})
}

// Read runs fn on the loop and waits for it to return. fn must not retain
// the controller.
func (e *Engine) Read(ctx context.Context, fn func(*txn.Controller)) error {
	_, err := e.call(ctx, Event{Type: EventTypeRead, Read: fn})
	return err
}

// ReadCells returns the cells of a rectangle, including spilled values. It
// is the cell reader handed to code evaluation.
func (e *Engine) ReadCells(ctx context.Context, sheetID string, r grid.Rect) ([]grid.Entry, error) {
	var (
		out []grid.Entry
		err error
	)
	readErr := e.Read(ctx, func(c *txn.Controller) {
		s, gerr := c.Registry().Get(sheetID)
		if gerr != nil {
			err = gerr
			return
		}
		for _, en := range s.Cells.CellsInRect(r) {
			out = append(out, grid.Entry{Pos: en.Pos, Cell: en.Cell.Clone()})
		}
	})
	if readErr != nil {
		return nil, readErr
	}
	return out, err
}

// ApplyRemote queues a transaction from another session. It does not wait.
func (e *Engine) ApplyRemote(sessionID string, seq int64, tx *txn.Transaction) bool {
	return e.queue.Enqueue(Event{Type: EventTypeRemote, Remote: &Remote{
		SessionID:   sessionID,
		SequenceNum: seq,
		Transaction: tx,
	}})
}

// PostCodeResult queues a finished evaluation. It does not wait.
func (e *Engine) PostCodeResult(pos grid.SheetPos, code *grid.CodeCell) bool {
	return e.queue.Enqueue(Event{Type: EventTypeCodeResult, CodeResult: &CodeResult{Pos: pos, Code: code}})
}

// processEvent routes an event to its handler. Called only from Run.
func (e *Engine) processEvent(event Event) Result {
	switch event.Type {
	case EventTypeCommand:
		if event.Command == nil {
			return Result{Err: fmt.Errorf("command event missing command data")}
		}
		return e.processCommand(event.Command)

	case EventTypeUndo:
		tx, sum, err := e.ctrl.Undo()
		return e.finishHistory(EventTypeUndo, tx, sum, err)

	case EventTypeRedo:
		tx, sum, err := e.ctrl.Redo()
		return e.finishHistory(EventTypeRedo, tx, sum, err)

	case EventTypeRemote:
		if event.Remote == nil || event.Remote.Transaction == nil {
			return Result{Err: fmt.Errorf("remote event missing transaction")}
		}
		return e.processRemote(event.Remote)

	case EventTypeCodeResult:
		if event.CodeResult == nil || event.CodeResult.Code == nil {
			return Result{Err: fmt.Errorf("code result event missing code")}
		}
		return e.processCodeResult(event.CodeResult)

	case EventTypeRead:
		if event.Read != nil {
			event.Read(e.ctrl)
		}
		return Result{}

	default:
		return Result{Err: fmt.Errorf("unknown event type: %d", event.Type)}
	}
}

func (e *Engine) processCommand(cmd *Command) Result {
	if len(cmd.Operations) == 0 {
		return Result{}
	}
	e.ctrl.StartTransaction(cmd.Cursor)
	for i, op := range cmd.Operations {
		if err := e.ctrl.Execute(op); err != nil {
			e.ctrl.Abort()
			return Result{Err: &RuntimeError{
				Code:    ErrCodeCommandFailed,
				Message: fmt.Sprintf("operation %d of %d", i+1, len(cmd.Operations)),
				Err:     err,
			}}
		}
	}
	tx, sum := e.ctrl.EndTransaction()
	if tx == nil {
		return Result{}
	}
	return e.applied(Applied{Type: EventTypeCommand, Transaction: tx, Summary: sum}, true)
}

func (e *Engine) finishHistory(typ EventType, tx *txn.Transaction, sum txn.Summary, err error) Result {
	if err != nil {
		return Result{Err: fmt.Errorf("%s: %w", typ, err)}
	}
	if tx == nil {
		return Result{}
	}
	return e.applied(Applied{Type: typ, Transaction: tx, Summary: sum}, true)
}

func (e *Engine) processRemote(r *Remote) Result {
	slog.Debug("applying remote transaction",
		"tx_id", r.Transaction.ID,
		"session_id", r.SessionID,
		"sequence_num", r.SequenceNum,
		"operations", len(r.Transaction.Operations),
	)
	sum, err := e.ctrl.ApplyRemote(r.Transaction)
	if err != nil {
		return Result{Err: &RuntimeError{
			Code:    ErrCodeRemoteRejected,
			Message: "remote transaction dropped",
			TxID:    r.Transaction.ID,
			Err:     err,
		}}
	}
	// The author evaluates its own code cells and broadcasts the results.
	return e.applied(Applied{
		Type:        EventTypeRemote,
		Transaction: r.Transaction,
		Summary:     sum,
		SessionID:   r.SessionID,
	}, false)
}

func (e *Engine) processCodeResult(cr *CodeResult) Result {
	s, err := e.ctrl.Registry().Get(cr.Pos.SheetID)
	if err != nil {
		return Result{Err: &RuntimeError{Code: ErrCodeStaleResult, Message: "sheet is gone", Err: err}}
	}
	current := s.Cells.Stored(cr.Pos.Pos)
	if current == nil || current.Code == nil ||
		current.Code.Code != cr.Code.Code || current.Code.Language != cr.Code.Language {
		return Result{Err: &RuntimeError{
			Code:    ErrCodeStaleResult,
			Message: fmt.Sprintf("code at %s %s changed during evaluation", cr.Pos.SheetID, cr.Pos.Pos),
		}}
	}

	op := txn.SetCodeCell{SheetID: cr.Pos.SheetID, Pos: cr.Pos.Pos, Code: cr.Code}
	tx, sum, err := e.ctrl.ApplyDetached([]txn.Operation{op}, "")
	if err != nil {
		return Result{Err: fmt.Errorf("apply code result: %w", err)}
	}
	return e.applied(Applied{Type: EventTypeCodeResult, Transaction: tx, Summary: sum}, true)
}

// applied stamps, broadcasts and schedules follow-up work for a transaction.
func (e *Engine) applied(a Applied, local bool) Result {
	a.Seq = e.clock.Next()

	slog.Info("transaction applied",
		"type", a.Type.String(),
		"seq", a.Seq,
		"tx_id", a.Transaction.ID,
		"sheets", a.Summary.SheetsModified,
	)

	if local && e.broadcaster != nil {
		e.broadcaster.SendTransaction(a.Transaction)
	}
	cascaded := a.Type == EventTypeCodeResult
	if !cascaded {
		e.quota.Reset()
	}
	if local {
		e.recompute(a.Summary.CellsToCompute, cascaded)
	}
	for _, fn := range e.listeners {
		fn(a)
	}
	return Result{Seq: a.Seq, Transaction: a.Transaction, Summary: a.Summary}
}

func (e *Engine) recompute(cells []grid.SheetPos, cascaded bool) {
	if e.recomputer == nil {
		return
	}
	for _, sp := range cells {
		if cascaded {
			if err := e.quota.Check(sp); err != nil {
				slog.Warn("code cell evaluation skipped", "error", err)
				continue
			}
		}
		s, err := e.ctrl.Registry().Get(sp.SheetID)
		if err != nil {
			continue
		}
		c := s.Cells.Stored(sp.Pos)
		if c == nil || c.Code == nil {
			continue
		}
		code := c.Code.Clone()
		code.Output = nil
		code.SpillError = nil
		e.recomputer.Recompute(sp, code)
	}
}

// logEventError logs an event processing failure with its context.
func logEventError(event Event, err error) {
	switch event.Type {
	case EventTypeRemote:
		attrs := []any{"error", err}
		if event.Remote != nil {
			attrs = append(attrs, "session_id", event.Remote.SessionID, "sequence_num", event.Remote.SequenceNum)
			if event.Remote.Transaction != nil {
				attrs = append(attrs, "tx_id", event.Remote.Transaction.ID)
			}
		}
		slog.Warn("remote transaction rejected", attrs...)

	case EventTypeCodeResult:
		if IsStaleResult(err) {
			slog.Debug("code result discarded", "error", err)
			return
		}
		slog.Error("code result processing failed", "error", err)

	case EventTypeCommand:
		ops := 0
		if event.Command != nil {
			ops = len(event.Command.Operations)
		}
		slog.Error("command failed", "error", err, "operations", ops)

	default:
		slog.Error("event processing failed",
			"error", err,
			"event_type", event.Type.String(),
		)
	}
}
