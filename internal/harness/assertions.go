package harness

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
)

// AssertionError is returned when an expectation fails.
type AssertionError struct {
	Type     string // cells, undo_depth or players
	Session  string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Session != "" {
		fmt.Fprintf(&buf, " (session %s)", e.Session)
	}
	buf.WriteString("\n")
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	return buf.String()
}

// EvaluateExpectations checks expect against the settled state and
// returns one message per failure, in a stable order.
func EvaluateExpectations(state *FinalState, expect Expect) []string {
	var errs []string
	add := func(err error) {
		if err != nil {
			errs = append(errs, err.Error())
		}
	}

	sessions := make([]string, 0, len(state.Sessions))
	for id := range state.Sessions {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	for _, c := range expect.Cells {
		for _, id := range sessions {
			add(assertCell(id, state.Sessions[id], c))
		}
	}

	for _, id := range sortedKeys(expect.UndoDepth) {
		add(assertUndoDepth(id, state, expect.UndoDepth[id]))
	}
	for _, id := range sortedKeys(expect.Players) {
		add(assertPlayers(id, state, expect.Players[id]))
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assertCell checks one cell of one session's grid.
func assertCell(session string, reg *sheet.Registry, want CellExpect) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: "cells", Session: session, Expected: expected, Actual: actual}
	}
	pos := grid.Pos{X: want.X, Y: want.Y}
	where := pos.String()

	s := reg.First()
	if want.Sheet != "" {
		var ok bool
		s, ok = reg.ByName(want.Sheet)
		if !ok {
			return fail(fmt.Sprintf("sheet %q", want.Sheet), "no such sheet")
		}
		where = fmt.Sprintf("%q %s", want.Sheet, pos)
	}

	cell := s.Cells.Cell(pos)
	if want.Empty && !cell.IsEmpty() {
		return fail(where+" empty", fmt.Sprintf("%s %q", cell.Kind, cell.Value))
	}

	if want.Value != "" || want.Kind != "" {
		if cell.IsEmpty() {
			return fail(fmt.Sprintf("%s = %q", where, want.Value), "empty")
		}
		if want.Value != "" && cell.Value != want.Value {
			return fail(fmt.Sprintf("%s = %q", where, want.Value), fmt.Sprintf("%q", cell.Value))
		}
		if want.Kind != "" && string(cell.Kind) != want.Kind {
			return fail(fmt.Sprintf("%s kind %s", where, want.Kind), string(cell.Kind))
		}
	}

	if want.Bold != nil {
		if got := s.Cells.Format(pos).Bold; got != *want.Bold {
			return fail(fmt.Sprintf("%s bold=%t", where, *want.Bold), fmt.Sprintf("bold=%t", got))
		}
	}
	return nil
}

func assertUndoDepth(session string, state *FinalState, want int) error {
	got, ok := state.UndoDepth[session]
	if !ok {
		return &AssertionError{Type: "undo_depth", Session: session, Expected: fmt.Sprint(want), Actual: "unknown session"}
	}
	if got != want {
		return &AssertionError{Type: "undo_depth", Session: session, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)}
	}
	return nil
}

func assertPlayers(session string, state *FinalState, want []string) error {
	got, ok := state.Players[session]
	if !ok {
		return &AssertionError{
			Type:     "players",
			Session:  session,
			Expected: fmt.Sprintf("%v", want),
			Actual:   "session is not in the room",
		}
	}
	sorted := slices.Clone(want)
	slices.Sort(sorted)
	if !slices.Equal(got, sorted) {
		return &AssertionError{
			Type:     "players",
			Session:  session,
			Expected: fmt.Sprintf("%v", sorted),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}
