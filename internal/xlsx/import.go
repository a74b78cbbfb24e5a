package xlsx

import (
	"fmt"
	"io"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
)

// Import reads a workbook into a new registry, one sheet per worksheet in
// workbook order. Values, formulas (as formula code cells with the cached
// value as output), fonts, fills, alignment, borders, tab colors and
// sizes within the data extent are read.
func Import(r io.Reader, opts ...sheet.Option) (*sheet.Registry, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	reg := sheet.NewRegistry(opts...)
	for _, name := range f.GetSheetList() {
		order := reg.OrderAfterLast()
		sh := sheet.New(reg.NewID(), name, order)
		if err := readSheet(f, name, sh); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
		if err := reg.Add(sh); err != nil {
			return nil, fmt.Errorf("sheet %q: %w", name, err)
		}
	}
	if reg.Len() == 0 {
		return nil, fmt.Errorf("open workbook: no worksheets")
	}
	return reg, nil
}

func readSheet(f *excelize.File, name string, sh *sheet.Sheet) error {
	props, err := f.GetSheetProps(name)
	if err != nil {
		return err
	}
	if props.TabColorRGB != nil {
		sh.Color = normalizeColor(*props.TabColorRGB)
	}

	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return err
	}
	shown, err := f.GetRows(name)
	if err != nil {
		return err
	}

	maxCols := 0
	for y, row := range raw {
		maxCols = max(maxCols, len(row))
		for x, value := range row {
			ref, err := excelize.CoordinatesToCellName(x+1, y+1)
			if err != nil {
				return err
			}
			pos := grid.Pos{X: int64(x), Y: int64(y)}

			if value != "" {
				c, err := readCell(f, name, ref, value, displayed(shown, x, y))
				if err != nil {
					return fmt.Errorf("%s: %w", ref, err)
				}
				sh.Cells.SetCell(pos, c)
			}

			styleID, err := f.GetCellStyle(name, ref)
			if err != nil || styleID == 0 {
				continue
			}
			st, err := f.GetStyle(styleID)
			if err != nil {
				return fmt.Errorf("%s style: %w", ref, err)
			}
			if format := fromStyle(st); !format.IsEmpty() {
				sh.Cells.SetFormat(pos, format)
			}
		}
	}

	// Sizes equal to those of the last column and row are the sheet defaults.
	defaultWidth, err := f.GetColWidth(name, lastColumn)
	if err != nil {
		return err
	}
	defaultHeight, err := f.GetRowHeight(name, excelize.TotalRows)
	if err != nil {
		return err
	}

	for x := 0; x < maxCols; x++ {
		col, err := excelize.ColumnNumberToName(x + 1)
		if err != nil {
			return err
		}
		width, err := f.GetColWidth(name, col)
		if err != nil {
			return err
		}
		if math.Abs(width-defaultWidth) < 1e-9 {
			continue
		}
		size := round2(width * pixelsPerChar)
		if _, err := sh.Columns.Set(int64(x), &size); err != nil {
			return fmt.Errorf("column %s: %w", col, err)
		}
	}

	for y := range raw {
		height, err := f.GetRowHeight(name, y+1)
		if err != nil {
			return err
		}
		if math.Abs(height-defaultHeight) < 1e-9 {
			continue
		}
		size := round2(height / pointsPerPixel)
		if _, err := sh.Rows.Set(int64(y), &size); err != nil {
			return fmt.Errorf("row %d: %w", y+1, err)
		}
	}
	return nil
}

const lastColumn = "XFD"

func readCell(f *excelize.File, name, ref, raw, shown string) (*grid.Cell, error) {
	value := raw
	if (shown == "TRUE" || shown == "FALSE") && (raw == "1" || raw == "0") {
		value = shown
	}

	formula, err := f.GetCellFormula(name, ref)
	if err != nil {
		return nil, err
	}
	if formula == "" {
		return grid.NewCell(value), nil
	}
	return grid.NewCodeCell(&grid.CodeCell{
		Language: grid.LanguageFormula,
		Code:     formula,
		Output:   &grid.CodeOutput{Values: [][]grid.Value{{grid.ParseValue(value)}}},
	}), nil
}

func displayed(rows [][]string, x, y int) string {
	if y >= len(rows) || x >= len(rows[y]) {
		return ""
	}
	return rows[y][x]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
