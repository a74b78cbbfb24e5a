// Package grid implements the sparse cell storage behind a single sheet.
//
// A Store only holds entries for positions that carry a value or a format;
// an absent entry is indistinguishable from an empty cell. Coordinates are
// signed and unbounded in both directions.
//
// # Spills
//
// A code cell whose output is an array occupies more than its own position.
// The Store keeps a spill index (spanned position -> origin position) so a
// read at a spanned position resolves to the origin's output without the
// spanned cell owning anything. Back-references are coordinates, never
// pointers.
//
// # Bounds
//
// Data bounds and format bounds are cached. Inserts expand the cache in
// place. Deletes only invalidate it when the removed position touched an
// edge of the cached rectangle; the next read then recomputes exactly.
//
// # Offsets
//
// Offsets maps column or row indexes to custom sizes. Lookups in both
// directions (index -> screen position and back) are O(log n) in the number
// of customized indexes.
//
// Store and Offsets are not safe for concurrent use. The engine owns them
// from a single goroutine.
package grid
