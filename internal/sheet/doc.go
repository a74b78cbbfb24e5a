// Package sheet holds the sheets of a file and their ordering.
//
// Each Sheet owns one grid.Store plus column and row offset tables. The
// Registry keeps sheets by their immutable IDs and orders them by
// fractional keys (see KeyBetween) so that a sheet can be inserted or
// moved without renumbering its siblings. Sheet names are unique under
// Unicode case folding.
//
// Like the grid, a Registry is owned by a single goroutine.
package sheet
