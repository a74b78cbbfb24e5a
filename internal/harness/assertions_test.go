package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
)

func registryWith(t *testing.T, cells map[grid.Pos]string, bold ...grid.Pos) *sheet.Registry {
	t.Helper()
	reg := sheet.NewForFile("f")
	s := reg.First()
	for p, v := range cells {
		s.Cells.SetCell(p, grid.NewCell(v))
	}
	for _, p := range bold {
		s.Cells.SetFormat(p, grid.Format{Bold: true})
	}
	return reg
}

func TestAssertionError_Format(t *testing.T) {
	err := &AssertionError{Type: "cells", Session: "bob", Expected: `(0,0) = "1"`, Actual: `"2"`}
	assert.Equal(t, "Assertion failed: cells (session bob)\n  Expected: (0,0) = \"1\"\n  Actual: \"2\"\n", err.Error())
}

func TestAssertCell(t *testing.T) {
	reg := registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "42", {X: 1, Y: 0}: "hi"}, grid.Pos{X: 1, Y: 0})

	tests := []struct {
		name    string
		want    CellExpect
		wantErr string
	}{
		{name: "value and kind", want: CellExpect{X: 0, Y: 0, Value: "42", Kind: "number"}},
		{name: "bold", want: CellExpect{X: 1, Y: 0, Value: "hi", Bold: boolPtr(true)}},
		{name: "empty", want: CellExpect{X: 5, Y: 5, Empty: true}},
		{name: "empty with bold", want: CellExpect{X: 9, Y: 9, Empty: true, Bold: boolPtr(false)}},
		{name: "wrong value", want: CellExpect{X: 0, Y: 0, Value: "41"}, wantErr: `Actual: "42"`},
		{name: "wrong kind", want: CellExpect{X: 1, Y: 0, Kind: "number"}, wantErr: "Actual: text"},
		{name: "missing", want: CellExpect{X: 3, Y: 3, Value: "x"}, wantErr: "Actual: empty"},
		{name: "not empty", want: CellExpect{X: 0, Y: 0, Empty: true}, wantErr: `Actual: number "42"`},
		{name: "not bold", want: CellExpect{X: 0, Y: 0, Bold: boolPtr(true)}, wantErr: "Actual: bold=false"},
		{name: "no sheet", want: CellExpect{Sheet: "Q9", X: 0, Y: 0}, wantErr: "no such sheet"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := assertCell("alice", reg, tt.want)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertCell_NamedSheet(t *testing.T) {
	reg := sheet.NewForFile("f")
	q2 := sheet.New("sheet-q2", "Q2", reg.OrderAfterLast())
	require.NoError(t, reg.Add(q2))
	q2.Cells.SetCell(grid.Pos{X: 2, Y: 2}, grid.NewCell("z"))

	assert.NoError(t, assertCell("alice", reg, CellExpect{Sheet: "q2", X: 2, Y: 2, Value: "z"}))
	assert.Error(t, assertCell("alice", reg, CellExpect{X: 2, Y: 2, Value: "z"}), "first sheet by default")
}

func TestEvaluateExpectations_ChecksEverySession(t *testing.T) {
	state := &FinalState{
		Sessions: map[string]*sheet.Registry{
			"alice": registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "1"}),
			"bob":   registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "2"}),
		},
		UndoDepth: map[string]int{"alice": 1, "bob": 0},
		Players:   map[string][]string{"alice": {"bob"}, "bob": {"alice"}},
	}

	errs := EvaluateExpectations(state, Expect{
		Cells:     []CellExpect{{X: 0, Y: 0, Value: "1"}},
		UndoDepth: map[string]int{"alice": 1, "bob": 1},
		Players:   map[string][]string{"bob": {"alice"}, "alice": {"bob"}},
	})
	require.Len(t, errs, 2)
	assert.Contains(t, errs[0], "cells (session bob)")
	assert.Contains(t, errs[1], "undo_depth (session bob)")
}

func TestAssertPlayers(t *testing.T) {
	state := &FinalState{Players: map[string][]string{"alice": {"bob", "carol"}}}

	assert.NoError(t, assertPlayers("alice", state, []string{"carol", "bob"}), "order does not matter")
	assert.Error(t, assertPlayers("alice", state, []string{"bob"}))

	err := assertPlayers("carol", state, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session is not in the room")
}

func TestDiverged(t *testing.T) {
	server := registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "1"})
	state := &FinalState{
		Server: server,
		Sessions: map[string]*sheet.Registry{
			"alice": registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "1"}),
			"bob":   registryWith(t, map[grid.Pos]string{{X: 0, Y: 0}: "9"}),
		},
	}
	diverged, err := Diverged(state)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob"}, diverged)
}

func TestRenderRegistry(t *testing.T) {
	reg := registryWith(t, map[grid.Pos]string{{X: 1, Y: 0}: "b", {X: 0, Y: 1}: "TRUE"}, grid.Pos{X: 0, Y: 0}, grid.Pos{X: 1, Y: 0})
	require.NoError(t, reg.Add(sheet.New("sheet-x", "X", reg.OrderAfterLast())))

	assert.Equal(t, []string{
		`"Sheet 1" (0,0) bold`,
		`"Sheet 1" (1,0) text "b" bold`,
		`"Sheet 1" (0,1) logical "TRUE"`,
		`"X" empty`,
	}, renderRegistry(reg))
}
