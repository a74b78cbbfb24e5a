package grid

import "errors"

var (
	// ErrRegionTooLarge is returned when an operation would touch more cells
	// than MaxRegionCells.
	ErrRegionTooLarge = errors.New("region too large")

	// ErrInvalidSize is returned for non-positive column widths or row heights.
	ErrInvalidSize = errors.New("size must be positive")
)

// MaxRegionCells bounds the number of positions a single region operation
// may enumerate. The sheet itself is unbounded.
const MaxRegionCells = 1_000_000
