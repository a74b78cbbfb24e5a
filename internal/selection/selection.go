// Package selection models a user's cursor and selection on one sheet and
// its canonical wire form.
//
// A Selection is exactly one of: a list of rectangles (a single cell is a
// 1x1 rectangle), whole columns, whole rows, or the entire sheet. The cursor
// always lies inside the active selection.
package selection

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/roach88/gridsync/internal/grid"
)

// Kind is the active discriminant of a Selection.
type Kind string

const (
	KindRects   Kind = "rects"
	KindColumns Kind = "columns"
	KindRows    Kind = "rows"
	KindAll     Kind = "all"
)

// Selection is immutable; ChangePosition returns a new value.
type Selection struct {
	SheetID string
	Cursor  grid.Pos

	// KeyboardMove is where keyboard extension of the selection currently
	// ends. It is local state and not part of the wire form.
	KeyboardMove grid.Pos

	kind    Kind
	rects   []grid.Rect
	columns []int64
	rows    []int64
}

// New returns a single-cell selection at cursor.
func New(sheetID string, cursor grid.Pos) Selection {
	return Selection{
		SheetID:      sheetID,
		Cursor:       cursor,
		KeyboardMove: cursor,
		kind:         KindRects,
		rects:        []grid.Rect{grid.SingleRect(cursor)},
	}
}

// Kind returns the active discriminant.
func (s Selection) Kind() Kind {
	if s.kind == "" {
		return KindRects
	}
	return s.kind
}

// Rects returns the selected rectangles. Outside rectangle mode it returns
// the cursor cell.
func (s Selection) Rects() []grid.Rect {
	if s.Kind() != KindRects || len(s.rects) == 0 {
		return []grid.Rect{grid.SingleRect(s.Cursor)}
	}
	return slices.Clone(s.rects)
}

// Columns returns the selected columns in column mode.
func (s Selection) Columns() []int64 { return slices.Clone(s.columns) }

// Rows returns the selected rows in row mode.
func (s Selection) Rows() []int64 { return slices.Clone(s.rows) }

// IsSingleCell reports whether only the cursor cell is selected.
func (s Selection) IsSingleCell() bool {
	return s.Kind() == KindRects && len(s.Rects()) == 1 && s.Rects()[0] == grid.SingleRect(s.Cursor)
}

// Contains reports whether p is selected.
func (s Selection) Contains(p grid.Pos) bool {
	switch s.Kind() {
	case KindAll:
		return true
	case KindColumns:
		return slices.Contains(s.columns, p.X)
	case KindRows:
		return slices.Contains(s.rows, p.Y)
	}
	for _, r := range s.Rects() {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

// ColumnRow selects whole columns, whole rows or the entire sheet.
type ColumnRow struct {
	All     bool
	Columns []int64
	Rows    []int64
}

// Change is a partial update of a Selection. Nil fields are not part of the
// change.
type Change struct {
	CursorPosition       *grid.Pos
	MultiCursor          []grid.Rect
	ColumnRow            *ColumnRow
	KeyboardMovePosition *grid.Pos
}

// ChangePosition applies a change. Any change replaces the selection mode:
// a multi-cursor clears a column/row selection and vice versa, and a change
// naming neither collapses back to the cursor cell. When both are given the
// column/row selection wins.
func (s Selection) ChangePosition(c Change) Selection {
	out := Selection{SheetID: s.SheetID, Cursor: s.Cursor, KeyboardMove: s.KeyboardMove}
	if c.CursorPosition != nil {
		out.Cursor = *c.CursorPosition
		out.KeyboardMove = *c.CursorPosition
	}
	if c.KeyboardMovePosition != nil {
		out.KeyboardMove = *c.KeyboardMovePosition
	}

	switch {
	case c.ColumnRow != nil:
		out.setColumnRow(*c.ColumnRow)
	case len(c.MultiCursor) > 0:
		out.kind = KindRects
		out.rects = make([]grid.Rect, len(c.MultiCursor))
		for i, r := range c.MultiCursor {
			out.rects[i] = grid.NewRect(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
		}
	default:
		out.kind = KindRects
		out.rects = []grid.Rect{grid.SingleRect(out.Cursor)}
	}
	out.containCursor()
	return out
}

// setColumnRow picks one discriminant: all over columns over rows. An empty
// ColumnRow collapses to the cursor cell.
func (s *Selection) setColumnRow(cr ColumnRow) {
	switch {
	case cr.All:
		s.kind = KindAll
	case len(cr.Columns) > 0:
		s.kind = KindColumns
		s.columns = normalize(cr.Columns)
	case len(cr.Rows) > 0:
		s.kind = KindRows
		s.rows = normalize(cr.Rows)
	default:
		s.kind = KindRects
		s.rects = []grid.Rect{grid.SingleRect(s.Cursor)}
	}
}

func normalize(v []int64) []int64 {
	out := slices.Clone(v)
	slices.Sort(out)
	return slices.Compact(out)
}

// containCursor moves the cursor into the selection when it lies outside.
func (s *Selection) containCursor() {
	if s.Contains(s.Cursor) {
		return
	}
	switch s.kind {
	case KindColumns:
		s.Cursor.X = s.columns[0]
	case KindRows:
		s.Cursor.Y = s.rows[0]
	case KindRects:
		s.Cursor = s.rects[0].Min
	}
	s.KeyboardMove = s.Cursor
}

// Wire is the canonical serialized selection shared with the multiplayer
// protocol and persistence.
//
// Exactly one of All, Columns and Rows is set, or none of them for a
// rectangle selection. Rects is always present: the selected rectangles,
// or the cursor cell outside rectangle mode.
type Wire struct {
	SheetID string      `json:"sheet_id"`
	All     bool        `json:"all"`
	Columns []int64     `json:"columns"`
	Rows    []int64     `json:"rows"`
	Rects   []grid.Rect `json:"rects"`
	Cursor  *grid.Pos   `json:"cursor,omitempty"`
}

// Wire returns the wire form of s.
func (s Selection) Wire() Wire {
	cursor := s.Cursor
	w := Wire{SheetID: s.SheetID, Rects: s.Rects(), Cursor: &cursor}
	switch s.Kind() {
	case KindAll:
		w.All = true
	case KindColumns:
		w.Columns = s.Columns()
	case KindRows:
		w.Rows = s.Rows()
	}
	return w
}

// FromWire restores a Selection. All takes precedence over columns, and
// columns over rows. Without an explicit cursor, the cursor is the first
// rectangle's top-left cell.
func FromWire(w Wire) (Selection, error) {
	if len(w.Rects) == 0 {
		return Selection{}, fmt.Errorf("selection for sheet %s: no rects", w.SheetID)
	}
	cursor := w.Rects[0].Min
	if w.Cursor != nil {
		cursor = *w.Cursor
	}
	s := Selection{SheetID: w.SheetID, Cursor: cursor, KeyboardMove: cursor}
	switch {
	case w.All:
		s.kind = KindAll
	case len(w.Columns) > 0:
		s.setColumnRow(ColumnRow{Columns: w.Columns})
	case len(w.Rows) > 0:
		s.setColumnRow(ColumnRow{Rows: w.Rows})
	default:
		s.kind = KindRects
		s.rects = make([]grid.Rect, len(w.Rects))
		for i, r := range w.Rects {
			s.rects[i] = grid.NewRect(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y)
		}
	}
	s.containCursor()
	return s, nil
}

// Encode returns the JSON of the wire form. It is used as the cursor hint
// carried by transactions.
func (s Selection) Encode() string {
	b, err := json.Marshal(s.Wire())
	if err != nil {
		// Wire holds only integers and strings.
		panic(fmt.Sprintf("selection: encode: %v", err))
	}
	return string(b)
}

// Decode parses the output of Encode.
func Decode(data string) (Selection, error) {
	var w Wire
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return Selection{}, fmt.Errorf("decode selection: %w", err)
	}
	return FromWire(w)
}
