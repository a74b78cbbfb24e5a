package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gridsync/internal/grid"
)

func TestRun_Scenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
		})
	}
}

func soloScenario(steps ...Step) *Scenario {
	return &Scenario{
		Name:        "solo",
		Description: "one session",
		FileID:      "solo",
		Sessions:    []Session{{ID: "alice"}},
		Steps:       steps,
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRun_UndoRedo(t *testing.T) {
	result, err := Run(soloScenario(
		Step{Session: "alice", Action: ActionSet, X: 1, Y: 1, Value: "7"},
		Step{Session: "alice", Action: ActionUndo},
		Step{Session: "alice", Action: ActionRedo},
		Step{Session: "alice", Action: ActionRedo},
	))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, []string{
		"scenario solo",
		"file solo",
		"sessions alice",
		`step 1: alice set (1,1) "7" -> tx alice-0001 seq 1`,
		"step 2: alice undo -> tx alice-0002 seq 2",
		"step 3: alice redo -> tx alice-0003 seq 3",
		"step 4: alice redo -> no change",
		"final seq 3",
		`  "Sheet 1" (1,1) number "7"`,
		"  undo alice=1",
		"  players alice=[]",
		"  converged",
	}, result.Trace)
	assert.Equal(t, int64(3), result.State.Seq)
}

func TestRun_ClearAndFormatRect(t *testing.T) {
	fill := "#ffcc00"
	result, err := Run(soloScenario(
		Step{Session: "alice", Action: ActionSet, X: 0, Y: 0, Value: "a"},
		Step{Session: "alice", Action: ActionSet, X: 1, Y: 1, Value: "b"},
		Step{Session: "alice", Action: ActionFormat, X: 0, Y: 0, W: 2, H: 2, Italic: boolPtr(true), FillColor: &fill},
		Step{Session: "alice", Action: ActionClear, X: 0, Y: 0, W: 2, H: 1},
	))
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	reg := result.State.Sessions["alice"]
	first := reg.First()
	assert.True(t, first.Cells.Cell(grid.Pos{X: 0, Y: 0}).IsEmpty())
	assert.Equal(t, "b", first.Cells.Cell(grid.Pos{X: 1, Y: 1}).Value)
	f := first.Cells.Format(grid.Pos{X: 0, Y: 1})
	assert.True(t, f.Italic)
	assert.Equal(t, fill, f.FillColor)

	assert.Contains(t, result.Trace, "step 3: alice format (0,0)-(1,1) italic fill=#ffcc00 -> tx alice-0003 seq 3")
	assert.Contains(t, result.Trace, "step 4: alice clear (0,0)-(1,0) -> tx alice-0004 seq 4")
	assert.Contains(t, result.Trace, `  "Sheet 1" (1,1) text "b" italic fill=#ffcc00`)
}

func TestRun_FailedExpectationIsReported(t *testing.T) {
	s := soloScenario(Step{Session: "alice", Action: ActionSet, Value: "x"})
	s.Expect = Expect{
		Cells:     []CellExpect{{X: 0, Y: 0, Value: "y"}},
		UndoDepth: map[string]int{"alice": 3},
	}

	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "Assertion failed: cells (session alice)")
	assert.Contains(t, result.Errors[1], "Assertion failed: undo_depth")
}

func TestRun_UnexpectedRejection(t *testing.T) {
	result, err := Run(soloScenario(Step{Session: "alice", Action: ActionDeleteSheet}))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Trace, "step 1: alice delete_sheet -> rejected")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 1: alice delete_sheet rejected")
}

func TestRun_MissingRejection(t *testing.T) {
	result, err := Run(soloScenario(Step{Session: "alice", Action: ActionSet, Value: "ok", Reject: true}))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors, "step 1: alice set: expected rejection")
}

func TestRun_UnknownSheetStopsTheRun(t *testing.T) {
	_, err := Run(soloScenario(Step{Session: "alice", Action: ActionSet, Sheet: "Nope", Value: "1"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no sheet named "Nope"`)
}

func TestRun_LeaveTwiceStopsTheRun(t *testing.T) {
	_, err := Run(soloScenario(
		Step{Session: "alice", Action: ActionLeave},
		Step{Session: "alice", Action: ActionLeave},
	))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 2")
}

func TestRun_OfflineAtTheEnd(t *testing.T) {
	s := &Scenario{
		Name:        "offline_end",
		Description: "bob leaves with unsent work",
		FileID:      "offline_end",
		Sessions:    []Session{{ID: "alice"}, {ID: "bob"}},
		Steps: []Step{
			{Session: "bob", Action: ActionLeave},
			{Session: "bob", Action: ActionSet, Value: "draft"},
		},
		Expect: Expect{Players: map[string][]string{"alice": nil}},
	}
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	assert.Equal(t, []string{"bob"}, result.State.Offline)
	assert.Contains(t, result.Trace, `step 2: bob set (0,0) "draft" -> tx bob-0001 queued`)
	assert.Contains(t, result.Trace, `  "Sheet 1" empty`)
	assert.Contains(t, result.Trace, "  offline bob")
	assert.Contains(t, result.Trace, "  converged", "offline sessions are not compared")
}

func TestSheetID(t *testing.T) {
	assert.Equal(t, "sheet-q2", SheetID("Q2"))
	assert.Equal(t, "sheet-cash-flow", SheetID("  Cash   Flow "))
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, `set "Q2" (3,4) "x"`, describe(Step{Action: ActionSet, Sheet: "Q2", X: 3, Y: 4, Value: "x"}))
	assert.Equal(t, "clear (0,0)", describe(Step{Action: ActionClear}))
	assert.Equal(t, "format (1,1)-(2,1) -bold", describe(Step{Action: ActionFormat, X: 1, Y: 1, W: 2, Bold: boolPtr(false)}))
	assert.Equal(t, `add_sheet "Q3"`, describe(Step{Action: ActionAddSheet, Sheet: "ignored", Value: "Q3"}))
}
