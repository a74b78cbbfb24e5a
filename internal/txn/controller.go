package txn

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/gridsync/internal/sheet"
)

// entry is one step of undo or redo history.
type entry struct {
	forward []Operation
	reverse []Operation
	cursor  string
}

type openTx struct {
	forward []Operation
	inverse [][]Operation
	cursor  string
	sum     *summaryBuilder
}

// Controller applies operations to a registry and keeps the undo and redo
// stacks.
type Controller struct {
	reg   *sheet.Registry
	ids   IDGenerator
	open  *openTx
	undo  []entry
	redo  []entry
	limit int
}

// Option configures a Controller.
type Option func(*Controller)

// WithIDGenerator sets the transaction ID generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(c *Controller) {
		c.ids = g
	}
}

// WithHistoryLimit caps the undo stack. Zero means unlimited.
func WithHistoryLimit(n int) Option {
	return func(c *Controller) {
		c.limit = n
	}
}

// NewController returns a controller over reg.
func NewController(reg *sheet.Registry, opts ...Option) *Controller {
	c := &Controller{
		reg: reg,
		ids: UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the controller mutates.
func (c *Controller) Registry() *sheet.Registry { return c.reg }

// InTransaction reports whether a transaction is open.
func (c *Controller) InTransaction() bool { return c.open != nil }

// HasUndo reports whether Undo would do anything.
func (c *Controller) HasUndo() bool { return len(c.undo) > 0 }

// HasRedo reports whether Redo would do anything.
func (c *Controller) HasRedo() bool { return len(c.redo) > 0 }

// UndoDepth returns the number of undoable transactions.
func (c *Controller) UndoDepth() int { return len(c.undo) }

// RedoDepth returns the number of redoable transactions.
func (c *Controller) RedoDepth() int { return len(c.redo) }

// StartTransaction opens a transaction. cursor is the author's serialized
// selection. Starting while another transaction is open is a programming
// error and panics.
func (c *Controller) StartTransaction(cursor string) {
	if c.open != nil {
		panic("txn: StartTransaction while a transaction is open")
	}
	c.open = &openTx{cursor: cursor, sum: newSummaryBuilder()}
}

// Execute applies op inside the open transaction. On error nothing was
// changed by op and the transaction stays open; the caller decides whether
// to continue or Abort. Execute without an open transaction panics.
func (c *Controller) Execute(op Operation) error {
	if c.open == nil {
		panic("txn: Execute without an open transaction")
	}
	inv, err := op.apply(&applier{reg: c.reg, sum: c.open.sum})
	if err != nil {
		return fmt.Errorf("%s: %w", op.Kind(), err)
	}
	c.open.forward = append(c.open.forward, op)
	c.open.inverse = append(c.open.inverse, inv)
	return nil
}

// EndTransaction closes the open transaction, pushes it onto the undo stack
// and clears redo. It returns the transaction to broadcast, or nil when no
// operation was executed.
func (c *Controller) EndTransaction() (*Transaction, Summary) {
	if c.open == nil {
		panic("txn: EndTransaction without an open transaction")
	}
	o := c.open
	c.open = nil
	if len(o.forward) == 0 {
		return nil, Summary{}
	}

	c.push(entry{forward: o.forward, reverse: reverseOf(o.inverse), cursor: o.cursor})
	c.redo = nil

	tx := &Transaction{ID: c.ids.Generate(), Operations: o.forward, Cursor: o.cursor}
	return tx, o.sum.build(o.cursor)
}

// Abort reverts and discards the open transaction.
func (c *Controller) Abort() {
	if c.open == nil {
		panic("txn: Abort without an open transaction")
	}
	o := c.open
	c.open = nil
	if _, _, err := c.transact(reverseOf(o.inverse)); err != nil {
		// The inverses were produced against the current state.
		panic(fmt.Sprintf("txn: abort failed: %v", err))
	}
}

// Undo reverts the most recent local transaction. It returns nil when the
// undo stack is empty.
func (c *Controller) Undo() (*Transaction, Summary, error) {
	return c.step(&c.undo, &c.redo, "undo")
}

// Redo reapplies the most recently undone transaction. It returns nil when
// the redo stack is empty.
func (c *Controller) Redo() (*Transaction, Summary, error) {
	return c.step(&c.redo, &c.undo, "redo")
}

func (c *Controller) step(from, to *[]entry, what string) (*Transaction, Summary, error) {
	if c.open != nil {
		panic("txn: " + what + " while a transaction is open")
	}
	if len(*from) == 0 {
		return nil, Summary{}, nil
	}
	e := (*from)[len(*from)-1]

	rev, sum, err := c.transact(e.reverse)
	if err != nil {
		// Remote edits can invalidate history, for example by deleting
		// the sheet it refers to. Such an entry can never apply again.
		*from = (*from)[:len(*from)-1]
		slog.Warn("dropping history entry that no longer applies",
			"action", what,
			"error", err,
		)
		return nil, Summary{}, fmt.Errorf("%s: %w", what, err)
	}
	*from = (*from)[:len(*from)-1]
	*to = append(*to, entry{forward: e.reverse, reverse: rev, cursor: e.cursor})

	tx := &Transaction{ID: c.ids.Generate(), Operations: e.reverse, Cursor: e.cursor}
	return tx, sum.build(e.cursor), nil
}

// ApplyRemote applies a transaction authored by another session. It does
// not touch the undo or redo stacks. The transaction is atomic: if any
// operation fails, everything it applied is reverted and the error returned.
func (c *Controller) ApplyRemote(tx *Transaction) (Summary, error) {
	if c.open != nil {
		return Summary{}, ErrTransactionOpen
	}
	_, sum, err := c.transact(tx.Operations)
	if err != nil {
		return Summary{}, fmt.Errorf("transaction %s: %w", tx.ID, err)
	}
	return sum.build(tx.Cursor), nil
}

// ApplyDetached applies locally generated operations, such as code
// evaluation results, outside the undo history. Like ApplyRemote it is
// atomic; unlike ApplyRemote it returns a transaction to broadcast.
func (c *Controller) ApplyDetached(ops []Operation, cursor string) (*Transaction, Summary, error) {
	if c.open != nil {
		return nil, Summary{}, ErrTransactionOpen
	}
	if len(ops) == 0 {
		return nil, Summary{}, nil
	}
	_, sum, err := c.transact(ops)
	if err != nil {
		return nil, Summary{}, err
	}
	tx := &Transaction{ID: c.ids.Generate(), Operations: ops, Cursor: cursor}
	return tx, sum.build(cursor), nil
}

// transact applies ops in order and returns the reverse list. On failure the
// already applied prefix is rolled back.
func (c *Controller) transact(ops []Operation) ([]Operation, *summaryBuilder, error) {
	sum := newSummaryBuilder()
	a := &applier{reg: c.reg, sum: sum}
	inverse := make([][]Operation, 0, len(ops))
	for i, op := range ops {
		inv, err := op.apply(a)
		if err != nil {
			c.rollback(inverse)
			return nil, nil, fmt.Errorf("operation %d (%s): %w", i, op.Kind(), err)
		}
		inverse = append(inverse, inv)
	}
	return reverseOf(inverse), sum, nil
}

func (c *Controller) rollback(inverse [][]Operation) {
	a := &applier{reg: c.reg, sum: newSummaryBuilder()}
	for _, op := range reverseOf(inverse) {
		if _, err := op.apply(a); err != nil {
			panic(fmt.Sprintf("txn: rollback of %s failed: %v", op.Kind(), err))
		}
	}
}

func (c *Controller) push(e entry) {
	c.undo = append(c.undo, e)
	if c.limit > 0 && len(c.undo) > c.limit {
		c.undo = slices.Delete(c.undo, 0, len(c.undo)-c.limit)
	}
}

// reverseOf concatenates per-operation inverses last-first.
func reverseOf(inverse [][]Operation) []Operation {
	var out []Operation
	for i := len(inverse) - 1; i >= 0; i-- {
		out = append(out, inverse[i]...)
	}
	return out
}
