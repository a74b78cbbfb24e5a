// Package snapshot serializes a whole grid deterministically.
//
// Two registries with the same content encode to the same bytes: sheets
// are written in display order, cells and formats row-major, column and
// row sizes by index, and HTML escaping is off. The content digest is
// therefore stable across processes and is what checkpoints and replay
// verification compare.
package snapshot
