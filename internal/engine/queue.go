package engine

import (
	"sync"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/txn"
)

// EventType distinguishes between event kinds.
type EventType int

const (
	// EventTypeCommand is a local edit: a list of operations applied as one
	// undoable transaction.
	EventTypeCommand EventType = iota + 1
	// EventTypeUndo reverts the latest local transaction.
	EventTypeUndo
	// EventTypeRedo reapplies the latest undone transaction.
	EventTypeRedo
	// EventTypeRemote is a transaction received from another session.
	EventTypeRemote
	// EventTypeCodeResult is a finished code cell evaluation.
	EventTypeCodeResult
	// EventTypeRead runs a function against the grid on the loop.
	EventTypeRead
)

func (t EventType) String() string {
	switch t {
	case EventTypeCommand:
		return "command"
	case EventTypeUndo:
		return "undo"
	case EventTypeRedo:
		return "redo"
	case EventTypeRemote:
		return "remote"
	case EventTypeCodeResult:
		return "code_result"
	case EventTypeRead:
		return "read"
	}
	return "unknown"
}

// Command is a local edit.
type Command struct {
	// Cursor is the author's serialized selection.
	Cursor     string
	Operations []txn.Operation
}

// Remote is a transaction authored by another session.
type Remote struct {
	SessionID   string
	SequenceNum int64
	Transaction *txn.Transaction
}

// CodeResult is a finished evaluation of the code cell at Pos. Code must be
// the cell as it was when evaluation started, with Output filled in.
type CodeResult struct {
	Pos  grid.SheetPos
	Code *grid.CodeCell
}

// Event is one unit of work for the Run loop. Exactly one payload field is
// set, matching Type.
type Event struct {
	Type       EventType
	Command    *Command
	Remote     *Remote
	CodeResult *CodeResult
	Read       func(*txn.Controller)

	reply chan Result
}

// eventQueue is a thread-safe unbounded FIFO queue for events.
//
// Network readers and UI callers enqueue from their own goroutines while the
// Run loop dequeues. The signal channel lets Run wait for work and for
// context cancellation in the same select.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	signal chan struct{} // buffered, size 1
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]Event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue. It returns false once the
// queue is closed.
func (q *eventQueue) Enqueue(e Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// buffer of 1 coalesces signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes the front event without blocking.
func (q *eventQueue) TryDequeue() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}

	e := q.events[0]

	// Release the slot's pointers (transactions, closures) for the GC.
	q.events[0] = Event{}

	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available. It is
// closed by Close.
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Closed reports whether Close has been called.
func (q *eventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops accepting events and wakes any waiter.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// drain removes every pending event, for failing their waiters on shutdown.
func (q *eventQueue) drain() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}
