package sheet

import (
	"fmt"

	"github.com/roach88/gridsync/internal/grid"
)

// Sheet is one grid tab.
type Sheet struct {
	ID    string
	Name  string
	Color string
	Order string

	Cells   *grid.Store
	Columns *grid.Offsets
	Rows    *grid.Offsets
}

// New returns an empty sheet.
func New(id, name, order string) *Sheet {
	return &Sheet{
		ID:      id,
		Name:    name,
		Order:   order,
		Cells:   grid.NewStore(),
		Columns: grid.NewOffsets(grid.DefaultColumnWidth),
		Rows:    grid.NewOffsets(grid.DefaultRowHeight),
	}
}

// Data is the serializable content of a sheet. Slices are sorted row-major
// (cells, formats) or by index (sizes).
type Data struct {
	ID      string             `json:"id"`
	Name    string             `json:"name"`
	Color   string             `json:"color,omitempty"`
	Order   string             `json:"order"`
	Cells   []grid.Entry       `json:"cells,omitempty"`
	Formats []grid.FormatEntry `json:"formats,omitempty"`
	Columns []grid.SizeEntry   `json:"columns,omitempty"`
	Rows    []grid.SizeEntry   `json:"rows,omitempty"`
}

// Data returns a deep copy of the sheet's content.
func (s *Sheet) Data() Data {
	d := Data{
		ID:      s.ID,
		Name:    s.Name,
		Color:   s.Color,
		Order:   s.Order,
		Columns: s.Columns.Entries(),
		Rows:    s.Rows.Entries(),
	}
	for _, e := range s.Cells.Cells() {
		d.Cells = append(d.Cells, grid.Entry{Pos: e.Pos, Cell: e.Cell.Clone()})
	}
	for _, e := range s.Cells.Formats() {
		d.Formats = append(d.Formats, grid.FormatEntry{Pos: e.Pos, Format: e.Format.Clone()})
	}
	return d
}

// FromData rebuilds a sheet. The data is copied.
func FromData(d Data) (*Sheet, error) {
	if d.ID == "" {
		return nil, fmt.Errorf("sheet data: missing id")
	}
	if !ValidKey(d.Order) {
		return nil, fmt.Errorf("sheet %s: %w: %q", d.ID, ErrInvalidKey, d.Order)
	}
	s := New(d.ID, d.Name, d.Order)
	s.Color = d.Color
	for _, e := range d.Cells {
		s.Cells.SetCell(e.Pos, e.Cell.Clone())
	}
	for _, e := range d.Formats {
		s.Cells.SetFormat(e.Pos, e.Format.Clone())
	}
	for _, e := range d.Columns {
		if _, err := s.Columns.Set(e.Index, &e.Size); err != nil {
			return nil, fmt.Errorf("sheet %s column %d: %w", d.ID, e.Index, err)
		}
	}
	for _, e := range d.Rows {
		if _, err := s.Rows.Set(e.Index, &e.Size); err != nil {
			return nil, fmt.Errorf("sheet %s row %d: %w", d.ID, e.Index, err)
		}
	}
	return s, nil
}
