// Package engine runs the grid's single-writer dispatch loop.
//
// Local commands, undo and redo, remote transactions, finished code
// evaluations and reads are all events on one FIFO queue. Engine.Run
// drains the queue in a single goroutine and is the only code that touches
// the txn.Controller and the sheets behind it, so the grid needs no locks
// and at most one transaction is ever being applied.
//
// Event Processing Flow:
//  1. Callers enqueue events from any goroutine (Submit, Undo, Redo,
//     ApplyRemote, PostCodeResult, Read).
//  2. Run dequeues one event at a time and applies it.
//  3. Local transactions, undos and redos are handed to the Broadcaster.
//  4. Code cells listed in a transaction summary are handed to the
//     Recomputer, which evaluates them elsewhere and posts results back.
//
// Errors while processing an event are logged with the event's context and
// the loop continues. Synchronous helpers also return the error to their
// caller.
package engine
