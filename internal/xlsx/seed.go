package xlsx

import (
	"github.com/roach88/gridsync/internal/sheet"
	"github.com/roach88/gridsync/internal/txn"
)

// SeedOperations returns the operations that turn the initial grid of
// fileID (see sheet.NewForFile) into the content of reg. The first sheet of
// reg is poured into the file's default sheet; the others are added.
func SeedOperations(fileID string, reg *sheet.Registry) []txn.Operation {
	ordered := reg.Ordered()
	if len(ordered) == 0 {
		return nil
	}

	target := sheet.NewForFile(fileID).First()
	first := ordered[0].Data()

	var ops []txn.Operation
	if sheet.NormalizeName(first.Name) != target.Name {
		ops = append(ops, txn.SetSheetName{SheetID: target.ID, Name: first.Name})
	}
	if first.Color != "" {
		ops = append(ops, txn.SetSheetColor{SheetID: target.ID, Color: first.Color})
	}
	if len(first.Cells) > 0 {
		ops = append(ops, txn.SetCells{SheetID: target.ID, Cells: first.Cells})
	}
	if len(first.Formats) > 0 {
		ops = append(ops, txn.SetCellFormats{SheetID: target.ID, Formats: first.Formats})
	}
	for _, c := range first.Columns {
		size := c.Size
		ops = append(ops, txn.ResizeColumn{SheetID: target.ID, Column: c.Index, Size: &size})
	}
	for _, r := range first.Rows {
		size := r.Size
		ops = append(ops, txn.ResizeRow{SheetID: target.ID, Row: r.Index, Size: &size})
	}

	for _, sh := range ordered[1:] {
		ops = append(ops, txn.AddSheet{Sheet: sh.Data()})
	}
	return ops
}
