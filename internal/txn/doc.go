// Package txn implements the transaction log of a grid: reversible
// operations, atomic transactions, and the undo and redo stacks.
//
// Every Operation applies itself to a sheet.Registry and returns the exact
// operations that undo it. A transaction's reverse is the concatenation of
// its operations' inverses in reverse order, so undo followed by redo
// restores byte-identical state, including metadata captured when the
// operation was built (for example a code cell's LastModified).
//
// Only locally authored transactions enter the undo history. Remote
// transactions are applied with ApplyRemote and leave both stacks alone.
//
// Controller is not safe for concurrent use; it is owned by the engine's
// dispatch goroutine.
package txn
