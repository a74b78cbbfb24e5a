package xlsx

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
)

const (
	pixelsPerChar  = 7.0
	pointsPerPixel = 0.75
	maxNameLength  = 31
)

// Report counts what Export wrote.
type Report struct {
	Sheets  int
	Cells   int
	Formats int

	// Skipped counts cells and formats outside the workbook range.
	Skipped int
}

// Export writes reg as a workbook with one worksheet per sheet, in sheet
// order.
func Export(reg *sheet.Registry, w io.Writer) (Report, error) {
	f := excelize.NewFile()
	defer f.Close()

	var rep Report
	styles := newStyleCache(f)
	used := make(map[string]bool)
	defaultName := f.GetSheetName(0)

	for i, sh := range reg.Ordered() {
		name := uniqueName(sanitizeName(sh.Name), used)
		if i == 0 {
			if err := f.SetSheetName(defaultName, name); err != nil {
				return Report{}, fmt.Errorf("sheet %q: %w", sh.Name, err)
			}
		} else if _, err := f.NewSheet(name); err != nil {
			return Report{}, fmt.Errorf("sheet %q: %w", sh.Name, err)
		}
		if err := writeSheet(f, name, sh.Data(), styles, &rep); err != nil {
			return Report{}, fmt.Errorf("sheet %q: %w", sh.Name, err)
		}
		rep.Sheets++
	}
	f.SetActiveSheet(0)

	if err := f.Write(w); err != nil {
		return Report{}, fmt.Errorf("write workbook: %w", err)
	}
	return rep, nil
}

func writeSheet(f *excelize.File, name string, d sheet.Data, styles *styleCache, rep *Report) error {
	if d.Color != "" {
		color := strings.TrimPrefix(d.Color, "#")
		if err := f.SetSheetProps(name, &excelize.SheetPropsOptions{TabColorRGB: &color}); err != nil {
			return err
		}
	}

	for _, e := range d.Cells {
		ref, ok := cellName(e.Pos)
		if !ok {
			rep.Skipped++
			continue
		}
		if err := writeCell(f, name, ref, e.Cell); err != nil {
			return fmt.Errorf("%s: %w", ref, err)
		}
		rep.Cells++
	}

	for _, e := range d.Formats {
		ref, ok := cellName(e.Pos)
		if !ok {
			rep.Skipped++
			continue
		}
		id, err := styles.id(e.Format)
		if err != nil {
			return err
		}
		if err := f.SetCellStyle(name, ref, ref, id); err != nil {
			return fmt.Errorf("%s: %w", ref, err)
		}
		rep.Formats++
	}

	for _, c := range d.Columns {
		if c.Index < 0 || c.Index >= excelize.MaxColumns {
			continue
		}
		col, err := excelize.ColumnNumberToName(int(c.Index) + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(name, col, col, c.Size/pixelsPerChar); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}

	for _, r := range d.Rows {
		if r.Index < 0 || r.Index >= excelize.TotalRows {
			continue
		}
		if err := f.SetRowHeight(name, int(r.Index)+1, r.Size*pointsPerPixel); err != nil {
			return fmt.Errorf("row %d: %w", r.Index+1, err)
		}
	}
	return nil
}

// writeCell writes the displayed value of c. Formula cells also get their
// formula, with the displayed value as the cached result.
func writeCell(f *excelize.File, name, ref string, c *grid.Cell) error {
	if err := writeValue(f, name, ref, c); err != nil {
		return err
	}
	if c.Code != nil && c.Code.Language == grid.LanguageFormula {
		return f.SetCellFormula(name, ref, strings.TrimPrefix(c.Code.Code, "="))
	}
	return nil
}

func writeValue(f *excelize.File, name, ref string, c *grid.Cell) error {
	switch c.Kind {
	case grid.KindNumber:
		v, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return f.SetCellStr(name, ref, c.Value)
		}
		return f.SetCellFloat(name, ref, v, -1, 64)
	case grid.KindLogical:
		return f.SetCellBool(name, ref, c.Value == "TRUE")
	default:
		return f.SetCellStr(name, ref, c.Value)
	}
}

// cellName converts a grid position to an A1 reference.
func cellName(p grid.Pos) (string, bool) {
	if p.X < 0 || p.Y < 0 || p.X >= excelize.MaxColumns || p.Y >= excelize.TotalRows {
		return "", false
	}
	ref, err := excelize.CoordinatesToCellName(int(p.X)+1, int(p.Y)+1)
	if err != nil {
		return "", false
	}
	return ref, true
}

// sanitizeName makes name a legal worksheet name.
func sanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		switch r {
		case ':', '\\', '/', '?', '*', '[', ']':
			return '_'
		}
		return r
	}, name)
	name = strings.Trim(name, "'")
	if runes := []rune(name); len(runes) > maxNameLength {
		name = string(runes[:maxNameLength])
	}
	if name == "" {
		name = "Sheet"
	}
	return name
}

// uniqueName appends " (n)" until name is unused (case-insensitively).
func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[strings.ToLower(candidate)]; n++ {
		suffix := fmt.Sprintf(" (%d)", n)
		runes := []rune(name)
		if len(runes)+len(suffix) > maxNameLength {
			runes = runes[:maxNameLength-len(suffix)]
		}
		candidate = string(runes) + suffix
	}
	used[strings.ToLower(candidate)] = true
	return candidate
}
