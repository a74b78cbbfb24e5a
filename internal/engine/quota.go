package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/gridsync/internal/grid"
)

// DefaultMaxCascade is the default re-evaluation limit per code cell.
const DefaultMaxCascade = 64

// QuotaEnforcer counts, per code cell, the evaluations that were scheduled
// by other evaluation results rather than by an edit, and refuses them past
// a limit.
//
// A result can itself require evaluation: an output that evicts a spill,
// or a result posted without output. Such chains have no natural end, so
// every cell gets at most maxSteps cascaded evaluations. The counters are
// cleared whenever a command, undo, redo or remote transaction is applied.
//
// Owned by the Run loop; not safe for concurrent use.
type QuotaEnforcer struct {
	maxSteps int
	counts   map[grid.SheetPos]int
}

// NewQuotaEnforcer creates a quota enforcer with the given per-cell limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{
		maxSteps: maxSteps,
		counts:   make(map[grid.SheetPos]int),
	}
}

// Check counts one cascaded evaluation of pos and returns a
// StepsExceededError once the limit is passed.
func (q *QuotaEnforcer) Check(pos grid.SheetPos) error {
	q.counts[pos]++
	if n := q.counts[pos]; n > q.maxSteps {
		return &StepsExceededError{Pos: pos, Steps: n, Limit: q.maxSteps}
	}
	return nil
}

// Reset clears every counter.
func (q *QuotaEnforcer) Reset() {
	if len(q.counts) > 0 {
		clear(q.counts)
	}
}

// Current returns the cascaded evaluations counted for pos.
func (q *QuotaEnforcer) Current(pos grid.SheetPos) int {
	return q.counts[pos]
}

// MaxSteps returns the per-cell limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError reports a code cell whose cascaded evaluations passed
// the limit. The evaluation is skipped; the cell keeps its last result.
type StepsExceededError struct {
	Pos   grid.SheetPos
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("code cell %s %s exceeded cascade quota: %d evaluations > %d limit",
		e.Pos.SheetID, e.Pos.Pos, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
