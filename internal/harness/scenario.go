package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted multiplayer session against one file.
// Every session joins the room before the first step, in declaration order.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// FileID is the room every session joins. Defaults to the name.
	FileID string `yaml:"file_id,omitempty"`

	Sessions []Session `yaml:"sessions"`
	Steps    []Step    `yaml:"steps"`

	// Expect is checked after the last step.
	Expect Expect `yaml:"expect"`
}

// Session is one simulated browser tab.
type Session struct {
	ID        string `yaml:"id"`
	UserID    string `yaml:"user,omitempty"`
	FirstName string `yaml:"first_name,omitempty"`
}

// Step is one user action. X and Y address a cell; W and H widen it to a
// rectangle for clear and format.
type Step struct {
	Session string `yaml:"session"`
	Action  string `yaml:"action"`

	// Sheet names the target sheet. Defaults to the first sheet.
	Sheet string `yaml:"sheet,omitempty"`

	X int64 `yaml:"x,omitempty"`
	Y int64 `yaml:"y,omitempty"`
	W int64 `yaml:"w,omitempty"`
	H int64 `yaml:"h,omitempty"`

	// Value is the input for set, and the new sheet name for add_sheet.
	Value string `yaml:"value,omitempty"`

	Bold      *bool   `yaml:"bold,omitempty"`
	Italic    *bool   `yaml:"italic,omitempty"`
	FillColor *string `yaml:"fill_color,omitempty"`

	// Reject marks a step the local grid is expected to refuse.
	Reject bool `yaml:"reject,omitempty"`
}

// Expect holds the checks run against the settled room.
type Expect struct {
	// Cells are checked on every session still in the room.
	Cells []CellExpect `yaml:"cells,omitempty"`

	// UndoDepth maps session ID to the expected undo stack depth.
	UndoDepth map[string]int `yaml:"undo_depth,omitempty"`

	// Players maps session ID to the session IDs it should see.
	Players map[string][]string `yaml:"players,omitempty"`
}

// CellExpect describes one cell. An empty Value with Empty set asserts the
// cell holds nothing.
type CellExpect struct {
	Sheet string `yaml:"sheet,omitempty"`
	X     int64  `yaml:"x"`
	Y     int64  `yaml:"y"`
	Value string `yaml:"value,omitempty"`
	Kind  string `yaml:"kind,omitempty"`
	Bold  *bool  `yaml:"bold,omitempty"`
	Empty bool   `yaml:"empty,omitempty"`
}

// Step actions.
const (
	ActionSet         = "set"
	ActionClear       = "clear"
	ActionFormat      = "format"
	ActionUndo        = "undo"
	ActionRedo        = "redo"
	ActionAddSheet    = "add_sheet"
	ActionDeleteSheet = "delete_sheet"
	ActionLeave       = "leave"
	ActionJoin        = "join"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict fields catch typos like "step:" for "steps:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.FileID == "" {
		scenario.FileID = scenario.Name
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sessions) == 0 {
		return fmt.Errorf("sessions list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	known := make(map[string]bool, len(s.Sessions))
	for i, sess := range s.Sessions {
		if sess.ID == "" {
			return fmt.Errorf("sessions[%d]: id is required", i)
		}
		if known[sess.ID] {
			return fmt.Errorf("sessions[%d]: duplicate id %q", i, sess.ID)
		}
		known[sess.ID] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, known); err != nil {
			return err
		}
	}

	for id := range s.Expect.UndoDepth {
		if !known[id] {
			return fmt.Errorf("expect.undo_depth: unknown session %q", id)
		}
	}
	for id, others := range s.Expect.Players {
		if !known[id] {
			return fmt.Errorf("expect.players: unknown session %q", id)
		}
		for _, o := range others {
			if !known[o] {
				return fmt.Errorf("expect.players[%s]: unknown session %q", id, o)
			}
		}
	}
	for i, c := range s.Expect.Cells {
		if c.Empty && (c.Value != "" || c.Kind != "") {
			return fmt.Errorf("expect.cells[%d]: empty excludes value and kind", i)
		}
	}
	return nil
}

func validateStep(index int, st *Step, sessions map[string]bool) error {
	if st.Session == "" {
		return fmt.Errorf("steps[%d]: session is required", index)
	}
	if !sessions[st.Session] {
		return fmt.Errorf("steps[%d]: unknown session %q", index, st.Session)
	}
	if st.W < 0 || st.H < 0 {
		return fmt.Errorf("steps[%d]: w and h must be non-negative", index)
	}

	switch st.Action {
	case ActionSet:
	case ActionClear, ActionUndo, ActionRedo, ActionDeleteSheet, ActionLeave, ActionJoin:
		if st.Value != "" {
			return fmt.Errorf("steps[%d]: value is not used by %s", index, st.Action)
		}
	case ActionFormat:
		if st.Bold == nil && st.Italic == nil && st.FillColor == nil {
			return fmt.Errorf("steps[%d]: format needs bold, italic or fill_color", index)
		}
	case ActionAddSheet:
		if st.Value == "" {
			return fmt.Errorf("steps[%d]: add_sheet needs the sheet name in value", index)
		}
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, st.Action)
	}
	return nil
}
