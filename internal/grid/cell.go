package grid

import (
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ValueKind classifies what a cell displays.
type ValueKind string

const (
	KindText    ValueKind = "text"
	KindNumber  ValueKind = "number"
	KindLogical ValueKind = "logical"
	KindError   ValueKind = "error"
	KindCode    ValueKind = "code"
)

// SpillErrorText is displayed by a code cell whose output could not spill.
const SpillErrorText = "#SPILL"

// Value is a single displayed value.
type Value struct {
	Kind ValueKind `json:"kind"`
	Text string    `json:"text"`
}

// ParseValue classifies user input. Text is NFC-normalized so that equal
// strings typed on different platforms compare and serialize identically.
func ParseValue(input string) Value {
	text := norm.NFC.String(input)
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return Value{Kind: KindText, Text: text}
	case strings.EqualFold(trimmed, "true"):
		return Value{Kind: KindLogical, Text: "TRUE"}
	case strings.EqualFold(trimmed, "false"):
		return Value{Kind: KindLogical, Text: "FALSE"}
	case strings.HasPrefix(trimmed, "#") && strings.HasSuffix(trimmed, "!"):
		return Value{Kind: KindError, Text: trimmed}
	}
	if _, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return Value{Kind: KindNumber, Text: trimmed}
	}
	return Value{Kind: KindText, Text: text}
}

// Cell is the stored content of one position.
//
// Code is set only on the origin of a code cell. Positions covered by the
// origin's spill hold no Cell of their own.
type Cell struct {
	Value string    `json:"value"`
	Kind  ValueKind `json:"kind"`
	Code  *CodeCell `json:"code,omitempty"`
}

// NewCell builds a plain value cell from user input.
func NewCell(input string) *Cell {
	v := ParseValue(input)
	return &Cell{Value: v.Text, Kind: v.Kind}
}

// NewCodeCell builds the origin cell for a code cell, deriving the displayed
// value from its output.
func NewCodeCell(cc *CodeCell) *Cell {
	v := cc.Display()
	return &Cell{Value: v.Text, Kind: v.Kind, Code: cc}
}

// IsEmpty reports whether c carries nothing worth storing.
func (c *Cell) IsEmpty() bool {
	return c == nil || (c.Value == "" && c.Code == nil)
}

// Clone returns a deep copy of c. Clone of nil is nil.
func (c *Cell) Clone() *Cell {
	if c == nil {
		return nil
	}
	out := *c
	out.Code = c.Code.Clone()
	return &out
}

// Language is the language a code cell is written in.
type Language string

const (
	LanguagePython  Language = "python"
	LanguageFormula Language = "formula"
	LanguageSQL     Language = "sql"
)

// CodeCell is the metadata of a code cell's origin.
type CodeCell struct {
	Language Language    `json:"language"`
	Code     string      `json:"code"`
	Output   *CodeOutput `json:"output,omitempty"`

	// LastModified is captured when the operation is built so that undo and
	// redo restore it verbatim.
	LastModified string `json:"last_modified,omitempty"`

	// SpillError lists the positions that blocked the output from spilling.
	SpillError []Pos `json:"spill_error,omitempty"`
}

// CodeOutput is the result contract of the code-execution collaborator.
type CodeOutput struct {
	// Values is row-major: Values[dy][dx].
	Values [][]Value `json:"values,omitempty"`
	StdOut string    `json:"std_out,omitempty"`
	StdErr string    `json:"std_err,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Size returns the output's width and height. Errors and empty outputs are 1x1.
func (o *CodeOutput) Size() (w, h int64) {
	if o == nil || o.Error != "" || len(o.Values) == 0 {
		return 1, 1
	}
	h = int64(len(o.Values))
	for _, row := range o.Values {
		w = max(w, int64(len(row)))
	}
	return max(w, 1), h
}

// Clone returns a deep copy of cc.
func (cc *CodeCell) Clone() *CodeCell {
	if cc == nil {
		return nil
	}
	out := *cc
	out.SpillError = slices.Clone(cc.SpillError)
	if cc.Output != nil {
		o := *cc.Output
		if cc.Output.Values != nil {
			o.Values = make([][]Value, len(cc.Output.Values))
			for i, row := range cc.Output.Values {
				o.Values[i] = slices.Clone(row)
			}
		}
		out.Output = &o
	}
	return &out
}

// Footprint is the rectangle size the code cell occupies on the sheet.
func (cc *CodeCell) Footprint() (w, h int64) {
	if cc == nil || len(cc.SpillError) > 0 {
		return 1, 1
	}
	return cc.Output.Size()
}

// ValueAt returns the output value at the given offset from the origin.
func (cc *CodeCell) ValueAt(dx, dy int64) (Value, bool) {
	if cc == nil || cc.Output == nil || dy < 0 || dx < 0 || dy >= int64(len(cc.Output.Values)) {
		return Value{}, false
	}
	row := cc.Output.Values[dy]
	if dx >= int64(len(row)) {
		return Value{}, false
	}
	return row[dx], true
}

// Display is what the origin position shows.
func (cc *CodeCell) Display() Value {
	switch {
	case len(cc.SpillError) > 0:
		return Value{Kind: KindError, Text: SpillErrorText}
	case cc.Output == nil:
		return Value{Kind: KindCode}
	case cc.Output.Error != "":
		return Value{Kind: KindError, Text: cc.Output.Error}
	}
	if v, ok := cc.ValueAt(0, 0); ok {
		return v
	}
	return Value{Kind: KindCode}
}
