// Package xlsx converts grids to and from Excel workbooks.
//
// Grid positions are zero-based and signed; workbook cells are one-based.
// Position (x, y) maps to column x+1, row y+1. Cells outside the workbook's
// addressable range are skipped on export and counted in the report.
//
// Sizes are stored in pixels on the grid. Column widths are written in
// character units (7 px per character) and row heights in points (0.75 pt
// per pixel).
package xlsx
