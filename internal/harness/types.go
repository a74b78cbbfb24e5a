package harness

import (
	"github.com/roach88/gridsync/internal/sheet"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true if every expectation held and the sessions converged.
	Pass bool `json:"pass"`

	// Trace is the step-by-step log compared against golden files.
	Trace []string `json:"trace"`

	// Errors contains expectation failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State is the settled room after the last step.
	State *FinalState `json:"-"`
}

// FinalState is what each session and the server hold after the last step.
type FinalState struct {
	// Seq is the last sequence number in the log.
	Seq int64

	// Server is the grid rebuilt from the durable log.
	Server *sheet.Registry

	// Sessions holds a copy of each connected session's grid.
	Sessions map[string]*sheet.Registry

	UndoDepth map[string]int
	Players   map[string][]string

	// Offline lists sessions that ended outside the room, sorted.
	Offline []string
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []string{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends one trace line.
func (r *Result) AddTrace(line string) {
	r.Trace = append(r.Trace, line)
}
