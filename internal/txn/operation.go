package txn

import (
	"fmt"
	"slices"

	"github.com/roach88/gridsync/internal/grid"
	"github.com/roach88/gridsync/internal/sheet"
)

// Operation is one reversible change to the grid. The set of operations is
// closed: every variant is declared in this file.
type Operation interface {
	// Kind is the wire name of the operation.
	Kind() string

	// apply performs the change and returns the operations that undo it,
	// to be applied in order. It either fully applies or returns an error
	// without mutating anything.
	apply(a *applier) ([]Operation, error)
}

type applier struct {
	reg *sheet.Registry
	sum *summaryBuilder
}

func (a *applier) sheet(id string) (*sheet.Sheet, error) {
	return a.reg.Get(id)
}

// SetCells writes cells at explicit positions. A nil or empty cell deletes
// the position. Cells are applied in order.
//
// Writing a non-empty cell over a spilled position evicts that spill: the
// origin keeps its code but displays a spill error and is queued for
// re-evaluation.
type SetCells struct {
	SheetID string       `json:"sheet_id"`
	Cells   []grid.Entry `json:"cells"`
}

func (SetCells) Kind() string { return "set_cells" }

func (op SetCells) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	var undo []grid.Entry
	for _, e := range op.Cells {
		undo = place(a, s, e.Pos, e.Cell.Clone(), undo)
	}
	requeueUnblocked(a, s)
	a.sum.sheet(s.ID)
	slices.Reverse(undo)
	return []Operation{SetCells{SheetID: s.ID, Cells: undo}}, nil
}

// place writes c at p, evicting any spill it lands on, and appends every
// overwritten stored cell to undo in the order it was replaced.
func place(a *applier, s *sheet.Sheet, p grid.Pos, c *grid.Cell, undo []grid.Entry) []grid.Entry {
	store := s.Cells
	if !c.IsEmpty() {
		if origin, ok := store.SpillOrigin(p); ok {
			oc := store.Stored(origin)
			evicted := oc.Clone()
			evicted.Code.SpillError = []grid.Pos{p}
			evicted = grid.NewCodeCell(evicted.Code)
			undo = append(undo, grid.Entry{Pos: origin, Cell: store.SetCell(origin, evicted)})
			a.sum.recompute(s.ID, origin)
		}
	}
	if c != nil && c.Code != nil {
		c = resolveSpill(store, p, c)
	}
	undo = append(undo, grid.Entry{Pos: p, Cell: store.SetCell(p, c)})
	return undo
}

// resolveSpill records the positions that keep a code cell's output from
// spilling. A cell that already carries a spill error is kept as given.
func resolveSpill(store *grid.Store, p grid.Pos, c *grid.Cell) *grid.Cell {
	if len(c.Code.SpillError) > 0 {
		return grid.NewCodeCell(c.Code)
	}
	w, h := c.Code.Output.Size()
	if w > 1 || h > 1 {
		if blockers := store.SpillBlockers(p, w, h); len(blockers) > 0 {
			c.Code.SpillError = blockers
		}
	}
	return grid.NewCodeCell(c.Code)
}

// requeueUnblocked queues every origin whose spill was blocked by a
// position that is free again.
func requeueUnblocked(a *applier, s *sheet.Sheet) {
	for _, origin := range s.Cells.Unblocked() {
		a.sum.recompute(s.ID, origin)
	}
}

// DeleteCells removes every stored cell in a rectangle of at most
// grid.MaxRegionCells positions.
type DeleteCells struct {
	SheetID string    `json:"sheet_id"`
	Rect    grid.Rect `json:"rect"`
}

func (DeleteCells) Kind() string { return "delete_cells" }

func (op DeleteCells) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	if !op.Rect.AreaAtMost(grid.MaxRegionCells) {
		return nil, fmt.Errorf("%w: %dx%d", grid.ErrRegionTooLarge, op.Rect.Width(), op.Rect.Height())
	}
	removed := s.Cells.DeleteRegion(op.Rect)
	requeueUnblocked(a, s)
	a.sum.sheet(s.ID)
	return []Operation{SetCells{SheetID: s.ID, Cells: removed}}, nil
}

// SetCodeCell writes the code cell at Pos. A code cell without output is
// queued for evaluation; one with output is an evaluation result.
type SetCodeCell struct {
	SheetID string         `json:"sheet_id"`
	Pos     grid.Pos       `json:"pos"`
	Code    *grid.CodeCell `json:"code"`
}

func (SetCodeCell) Kind() string { return "set_code_cell" }

func (op SetCodeCell) apply(a *applier) ([]Operation, error) {
	if op.Code == nil {
		return nil, fmt.Errorf("%w: set_code_cell without code", ErrInvalidOperation)
	}
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	cc := op.Code.Clone()
	undo := place(a, s, op.Pos, &grid.Cell{Code: cc}, nil)
	if cc.Output == nil {
		a.sum.recompute(s.ID, op.Pos)
	}
	requeueUnblocked(a, s)
	a.sum.sheet(s.ID)
	slices.Reverse(undo)
	return []Operation{SetCells{SheetID: s.ID, Cells: undo}}, nil
}

// SetFormats applies a format patch to every position of a rectangle.
type SetFormats struct {
	SheetID string           `json:"sheet_id"`
	Rect    grid.Rect        `json:"rect"`
	Patch   grid.FormatPatch `json:"patch"`
}

func (SetFormats) Kind() string { return "set_formats" }

func (op SetFormats) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	positions, err := op.Rect.Positions()
	if err != nil {
		return nil, err
	}
	undo := make([]grid.FormatEntry, 0, len(positions))
	for _, p := range positions {
		old := s.Cells.Format(p)
		s.Cells.SetFormat(p, op.Patch.Apply(old))
		undo = append(undo, grid.FormatEntry{Pos: p, Format: old})
	}
	a.sum.sheet(s.ID)
	slices.Reverse(undo)
	return []Operation{SetCellFormats{SheetID: s.ID, Formats: undo}}, nil
}

// SetCellFormats replaces the formats of explicit positions.
type SetCellFormats struct {
	SheetID string             `json:"sheet_id"`
	Formats []grid.FormatEntry `json:"formats"`
}

func (SetCellFormats) Kind() string { return "set_cell_formats" }

func (op SetCellFormats) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	undo := make([]grid.FormatEntry, 0, len(op.Formats))
	for _, e := range op.Formats {
		old := s.Cells.SetFormat(e.Pos, e.Format.Clone())
		undo = append(undo, grid.FormatEntry{Pos: e.Pos, Format: old})
	}
	a.sum.sheet(s.ID)
	slices.Reverse(undo)
	return []Operation{SetCellFormats{SheetID: s.ID, Formats: undo}}, nil
}

// AddSheet inserts a sheet with the given content.
type AddSheet struct {
	Sheet sheet.Data `json:"sheet"`
}

func (AddSheet) Kind() string { return "add_sheet" }

func (op AddSheet) apply(a *applier) ([]Operation, error) {
	s, err := sheet.FromData(op.Sheet)
	if err != nil {
		return nil, err
	}
	if err := a.reg.Add(s); err != nil {
		return nil, err
	}
	a.sum.sheetAdded(s.ID)
	return []Operation{DeleteSheet{SheetID: s.ID}}, nil
}

// DeleteSheet removes a sheet. The last sheet of a file cannot be removed.
type DeleteSheet struct {
	SheetID string `json:"sheet_id"`
}

func (DeleteSheet) Kind() string { return "delete_sheet" }

func (op DeleteSheet) apply(a *applier) ([]Operation, error) {
	if _, err := a.sheet(op.SheetID); err != nil {
		return nil, err
	}
	if a.reg.Len() == 1 {
		return nil, sheet.ErrLastSheet
	}
	s, err := a.reg.Remove(op.SheetID)
	if err != nil {
		return nil, err
	}
	a.sum.sheetRemoved(s.ID)
	return []Operation{AddSheet{Sheet: s.Data()}}, nil
}

// SetSheetName renames a sheet.
type SetSheetName struct {
	SheetID string `json:"sheet_id"`
	Name    string `json:"name"`
}

func (SetSheetName) Kind() string { return "set_sheet_name" }

func (op SetSheetName) apply(a *applier) ([]Operation, error) {
	old, err := a.reg.Rename(op.SheetID, op.Name)
	if err != nil {
		return nil, err
	}
	a.sum.sheetList = true
	return []Operation{SetSheetName{SheetID: op.SheetID, Name: old}}, nil
}

// SetSheetColor sets a sheet's tab color. An empty color clears it.
type SetSheetColor struct {
	SheetID string `json:"sheet_id"`
	Color   string `json:"color"`
}

func (SetSheetColor) Kind() string { return "set_sheet_color" }

func (op SetSheetColor) apply(a *applier) ([]Operation, error) {
	old, err := a.reg.SetColor(op.SheetID, op.Color)
	if err != nil {
		return nil, err
	}
	a.sum.sheetList = true
	return []Operation{SetSheetColor{SheetID: op.SheetID, Color: old}}, nil
}

// ReorderSheet moves a sheet to a new order key.
type ReorderSheet struct {
	SheetID string `json:"sheet_id"`
	Order   string `json:"order"`
}

func (ReorderSheet) Kind() string { return "reorder_sheet" }

func (op ReorderSheet) apply(a *applier) ([]Operation, error) {
	old, err := a.reg.Move(op.SheetID, op.Order)
	if err != nil {
		return nil, err
	}
	a.sum.sheetList = true
	return []Operation{ReorderSheet{SheetID: op.SheetID, Order: old}}, nil
}

// ResizeColumn sets a custom column width. A nil Size restores the default.
type ResizeColumn struct {
	SheetID string   `json:"sheet_id"`
	Column  int64    `json:"column"`
	Size    *float64 `json:"size"`
}

func (ResizeColumn) Kind() string { return "resize_column" }

func (op ResizeColumn) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	old, err := s.Columns.Set(op.Column, op.Size)
	if err != nil {
		return nil, err
	}
	a.sum.sheet(s.ID)
	return []Operation{ResizeColumn{SheetID: s.ID, Column: op.Column, Size: old}}, nil
}

// ResizeRow sets a custom row height. A nil Size restores the default.
type ResizeRow struct {
	SheetID string   `json:"sheet_id"`
	Row     int64    `json:"row"`
	Size    *float64 `json:"size"`
}

func (ResizeRow) Kind() string { return "resize_row" }

func (op ResizeRow) apply(a *applier) ([]Operation, error) {
	s, err := a.sheet(op.SheetID)
	if err != nil {
		return nil, err
	}
	old, err := s.Rows.Set(op.Row, op.Size)
	if err != nil {
		return nil, err
	}
	a.sum.sheet(s.ID)
	return []Operation{ResizeRow{SheetID: s.ID, Row: op.Row, Size: old}}, nil
}
