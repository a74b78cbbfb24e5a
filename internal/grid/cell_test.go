package grid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		input string
		want  Value
	}{
		{"Hello", Value{Kind: KindText, Text: "Hello"}},
		{"42", Value{Kind: KindNumber, Text: "42"}},
		{" -1.5e3 ", Value{Kind: KindNumber, Text: "-1.5e3"}},
		{"true", Value{Kind: KindLogical, Text: "TRUE"}},
		{"False", Value{Kind: KindLogical, Text: "FALSE"}},
		{"#DIV/0!", Value{Kind: KindError, Text: "#DIV/0!"}},
		{"", Value{Kind: KindText, Text: ""}},
		// decomposed e + combining acute becomes the precomposed form
		{"cafe\u0301", Value{Kind: KindText, Text: "caf\u00e9"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseValue(tt.input))
		})
	}
}

func TestCell_IsEmpty(t *testing.T) {
	var nilCell *Cell
	assert.True(t, nilCell.IsEmpty())
	assert.True(t, (&Cell{}).IsEmpty())
	assert.True(t, NewCell("").IsEmpty())
	assert.False(t, NewCell("x").IsEmpty())
	assert.False(t, NewCodeCell(&CodeCell{Language: LanguagePython, Code: "1"}).IsEmpty())
}

func TestCell_CloneIsDeep(t *testing.T) {
	orig := NewCodeCell(&CodeCell{
		Language: LanguagePython,
		Code:     "[[1,2]]",
		Output:   &CodeOutput{Values: [][]Value{{{Kind: KindNumber, Text: "1"}, {Kind: KindNumber, Text: "2"}}}},
	})

	cp := orig.Clone()
	cp.Code.Output.Values[0][1].Text = "changed"
	cp.Code.Code = "other"

	assert.Equal(t, "2", orig.Code.Output.Values[0][1].Text)
	assert.Equal(t, "[[1,2]]", orig.Code.Code)
}

func TestCodeCell_Footprint(t *testing.T) {
	out := &CodeOutput{Values: [][]Value{
		{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		{{Text: "d"}},
	}}
	cc := &CodeCell{Output: out}

	w, h := cc.Footprint()
	assert.Equal(t, int64(3), w)
	assert.Equal(t, int64(2), h)

	cc.SpillError = []Pos{{X: 1, Y: 0}}
	w, h = cc.Footprint()
	assert.Equal(t, int64(1), w)
	assert.Equal(t, int64(1), h)
	assert.Equal(t, Value{Kind: KindError, Text: SpillErrorText}, cc.Display())
}

func TestCodeCell_DisplayError(t *testing.T) {
	cc := &CodeCell{Output: &CodeOutput{Error: "NameError: x"}}
	assert.Equal(t, Value{Kind: KindError, Text: "NameError: x"}, cc.Display())

	w, h := cc.Footprint()
	assert.Equal(t, int64(1), w)
	assert.Equal(t, int64(1), h)
}
