package xlsx

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/gridsync/internal/grid"
)

var borderStyles = map[string]int{
	"thin":   1,
	"dashed": 3,
	"dotted": 4,
	"thick":  5,
	"double": 6,
}

// toStyle converts a grid format to an excelize style.
func toStyle(f grid.Format) *excelize.Style {
	st := &excelize.Style{}
	if f.Bold || f.Italic || f.TextColor != "" {
		st.Font = &excelize.Font{Bold: f.Bold, Italic: f.Italic, Color: f.TextColor}
	}
	if f.FillColor != "" {
		st.Fill = excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{f.FillColor}}
	}
	if f.Align != "" || f.Wrap == grid.WrapWrap {
		st.Alignment = &excelize.Alignment{Horizontal: string(f.Align), WrapText: f.Wrap == grid.WrapWrap}
	}
	if f.NumericFormat != nil {
		code := numFmtCode(f.NumericFormat)
		st.CustomNumFmt = &code
	}
	if b := f.Borders; b != nil {
		for _, edge := range []struct {
			name   string
			border *grid.Border
		}{{"top", b.Top}, {"bottom", b.Bottom}, {"left", b.Left}, {"right", b.Right}} {
			if edge.border == nil {
				continue
			}
			style, ok := borderStyles[edge.border.Line]
			if !ok {
				style = borderStyles["thin"]
			}
			st.Border = append(st.Border, excelize.Border{Type: edge.name, Color: edge.border.Color, Style: style})
		}
	}
	return st
}

// fromStyle converts the attributes a grid format can carry back from an
// excelize style. Numeric formats are not read back.
func fromStyle(st *excelize.Style) grid.Format {
	var f grid.Format
	if st == nil {
		return f
	}
	if st.Font != nil {
		f.Bold = st.Font.Bold
		f.Italic = st.Font.Italic
		f.TextColor = normalizeColor(st.Font.Color)
	}
	if st.Fill.Type == "pattern" && st.Fill.Pattern == 1 && len(st.Fill.Color) > 0 {
		f.FillColor = normalizeColor(st.Fill.Color[0])
	}
	if st.Alignment != nil {
		switch grid.Align(st.Alignment.Horizontal) {
		case grid.AlignLeft, grid.AlignCenter, grid.AlignRight:
			f.Align = grid.Align(st.Alignment.Horizontal)
		}
		if st.Alignment.WrapText {
			f.Wrap = grid.WrapWrap
		}
	}
	for _, b := range st.Border {
		line := "thin"
		for name, style := range borderStyles {
			if style == b.Style {
				line = name
			}
		}
		edge := &grid.Border{Line: line, Color: normalizeColor(b.Color)}
		if f.Borders == nil {
			f.Borders = &grid.Borders{}
		}
		switch b.Type {
		case "top":
			f.Borders.Top = edge
		case "bottom":
			f.Borders.Bottom = edge
		case "left":
			f.Borders.Left = edge
		case "right":
			f.Borders.Right = edge
		}
	}
	return f
}

// numFmtCode renders a number format as an Excel format code.
func numFmtCode(nf *grid.NumericFormat) string {
	decimals := 2
	if nf.Decimals != nil {
		decimals = max(*nf.Decimals, 0)
	}
	base := "0"
	if nf.Commas || nf.Kind == "currency" {
		base = "#,##0"
	}
	if decimals > 0 {
		base += "." + strings.Repeat("0", decimals)
	}
	switch nf.Kind {
	case "currency":
		symbol := nf.Symbol
		if symbol == "" {
			symbol = "$"
		}
		return fmt.Sprintf(`"%s"%s`, symbol, base)
	case "percentage":
		return base + "%"
	case "exponential":
		return base + "E+00"
	default:
		return base
	}
}

// normalizeColor returns "#RRGGBB" for the color spellings excelize
// produces ("RRGGBB", "FFRRGGBB", "#rrggbb"), or "" for none.
func normalizeColor(c string) string {
	c = strings.ToUpper(strings.TrimPrefix(c, "#"))
	if len(c) == 8 {
		c = c[2:]
	}
	if len(c) != 6 {
		return ""
	}
	return "#" + c
}

// styleCache deduplicates excelize style IDs by format.
type styleCache struct {
	f   *excelize.File
	ids map[string]int
}

func newStyleCache(f *excelize.File) *styleCache {
	return &styleCache{f: f, ids: make(map[string]int)}
}

func (c *styleCache) id(format grid.Format) (int, error) {
	raw, err := json.Marshal(format)
	if err != nil {
		return 0, err
	}
	key := string(raw)
	if id, ok := c.ids[key]; ok {
		return id, nil
	}
	id, err := c.f.NewStyle(toStyle(format))
	if err != nil {
		return 0, fmt.Errorf("new style: %w", err)
	}
	c.ids[key] = id
	return id, nil
}
