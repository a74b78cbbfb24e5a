package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenario_ValidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
name: test_scenario
description: "Test scenario for validation"
sessions:
  - id: alice
    first_name: Alice
steps:
  - session: alice
    action: set
    x: 2
    y: 3
    value: hello
expect:
  cells:
    - { x: 2, y: 3, value: hello, kind: text }
  undo_depth: { alice: 1 }
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, "test_scenario", s.Name)
	assert.Equal(t, "test_scenario", s.FileID, "file id defaults to the name")
	require.Len(t, s.Steps, 1)
	assert.Equal(t, int64(2), s.Steps[0].X)
	assert.Equal(t, "hello", s.Steps[0].Value)
	assert.Equal(t, "Alice", s.Sessions[0].FirstName)
	assert.Equal(t, 1, s.Expect.UndoDepth["alice"])
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenario_RejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(`
name: typo
description: d
sessions: [{ id: a }]
step:
  - { session: a, action: undo }
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]",
			wantErr: "description is required",
		},
		{
			name:    "no sessions",
			yaml:    "name: n\ndescription: d\nsteps: [{session: a, action: undo}]",
			wantErr: "sessions list is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]",
			wantErr: "steps list is required",
		},
		{
			name:    "duplicate session",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}, {id: a}]\nsteps: [{session: a, action: undo}]",
			wantErr: `duplicate id "a"`,
		},
		{
			name:    "unknown step session",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: b, action: undo}]",
			wantErr: `steps[0]: unknown session "b"`,
		},
		{
			name:    "unknown action",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: paste}]",
			wantErr: `unknown action "paste"`,
		},
		{
			name:    "missing action",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a}]",
			wantErr: "steps[0]: action is required",
		},
		{
			name:    "empty format",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: format}]",
			wantErr: "format needs",
		},
		{
			name:    "unnamed sheet",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: add_sheet}]",
			wantErr: "add_sheet needs the sheet name",
		},
		{
			name:    "value on undo",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: undo, value: x}]",
			wantErr: "value is not used by undo",
		},
		{
			name:    "negative size",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: clear, w: -1}]",
			wantErr: "w and h must be non-negative",
		},
		{
			name:    "unknown undo session",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]\nexpect: {undo_depth: {z: 1}}",
			wantErr: `expect.undo_depth: unknown session "z"`,
		},
		{
			name:    "unknown player",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]\nexpect: {players: {a: [z]}}",
			wantErr: `expect.players[a]: unknown session "z"`,
		},
		{
			name:    "empty with value",
			yaml:    "name: n\ndescription: d\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]\nexpect: {cells: [{x: 0, y: 0, empty: true, value: v}]}",
			wantErr: "empty excludes value and kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseScenario_KeepsExplicitFileID(t *testing.T) {
	s, err := ParseScenario([]byte("name: n\ndescription: d\nfile_id: f-9\nsessions: [{id: a}]\nsteps: [{session: a, action: undo}]"))
	require.NoError(t, err)
	assert.Equal(t, "f-9", s.FileID)
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		_, err := LoadScenario(path)
		assert.NoError(t, err, path)
	}
}
