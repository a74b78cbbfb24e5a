package txn

import (
	"maps"
	"slices"
	"strings"

	"github.com/roach88/gridsync/internal/grid"
)

// Summary describes the effect of one applied transaction. The engine uses
// it to schedule code evaluation and to tell the renderer what to redraw.
type Summary struct {
	// SheetsModified lists the sheets whose cells, formats or sizes changed.
	SheetsModified []string `json:"sheets_modified,omitempty"`

	// SheetListModified is set when sheets were added, removed, renamed,
	// recolored or reordered.
	SheetListModified bool `json:"sheet_list_modified,omitempty"`

	// CellsToCompute lists code cells that need (re)evaluation.
	CellsToCompute []grid.SheetPos `json:"cells_to_compute,omitempty"`

	// Cursor is the selection hint of the transaction.
	Cursor string `json:"cursor,omitempty"`
}

type summaryBuilder struct {
	sheets      map[string]struct{}
	sheetList   bool
	compute     map[grid.SheetPos]struct{}
	removedList map[string]struct{}
}

func newSummaryBuilder() *summaryBuilder {
	return &summaryBuilder{
		sheets:      make(map[string]struct{}),
		compute:     make(map[grid.SheetPos]struct{}),
		removedList: make(map[string]struct{}),
	}
}

func (b *summaryBuilder) sheet(id string) {
	b.sheets[id] = struct{}{}
}

func (b *summaryBuilder) recompute(sheetID string, p grid.Pos) {
	b.compute[grid.SheetPos{SheetID: sheetID, Pos: p}] = struct{}{}
}

func (b *summaryBuilder) sheetRemoved(id string) {
	b.sheetList = true
	b.removedList[id] = struct{}{}
}

func (b *summaryBuilder) sheetAdded(id string) {
	b.sheetList = true
	delete(b.removedList, id)
}

func (b *summaryBuilder) build(cursor string) Summary {
	s := Summary{SheetListModified: b.sheetList, Cursor: cursor}
	for id := range b.sheets {
		if _, gone := b.removedList[id]; !gone {
			s.SheetsModified = append(s.SheetsModified, id)
		}
	}
	slices.Sort(s.SheetsModified)

	for sp := range maps.Keys(b.compute) {
		if _, gone := b.removedList[sp.SheetID]; !gone {
			s.CellsToCompute = append(s.CellsToCompute, sp)
		}
	}
	slices.SortFunc(s.CellsToCompute, func(a, b grid.SheetPos) int {
		if c := strings.Compare(a.SheetID, b.SheetID); c != 0 {
			return c
		}
		switch {
		case a.Pos == b.Pos:
			return 0
		case a.Pos.Less(b.Pos):
			return -1
		}
		return 1
	})
	return s
}
