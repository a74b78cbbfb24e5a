package grid

import (
	"fmt"
	"math"
	"slices"
	"sort"
)

// Default sizes used when a column or row has no custom size.
const (
	DefaultColumnWidth = 100.0
	DefaultRowHeight   = 21.0
)

// SizeEntry is one custom column width or row height.
type SizeEntry struct {
	Index int64   `json:"index"`
	Size  float64 `json:"size"`
}

// Offsets maps column or row indices to screen sizes. Indices without a
// custom size use the default. Lookups in both directions are O(log n) in
// the number of custom sizes.
//
// Position 0 is the leading edge of index 0; negative indices have negative
// positions.
type Offsets struct {
	def     float64
	indices []int64
	sizes   []float64

	// prefix[k] is the sum of (sizes[j] - def) for j < k.
	prefix []float64
}

// NewOffsets returns an Offsets table with the given default size.
func NewOffsets(def float64) *Offsets {
	if def <= 0 {
		panic(fmt.Sprintf("grid: default size must be positive, got %v", def))
	}
	return &Offsets{def: def, prefix: []float64{0}}
}

// Default returns the default size.
func (o *Offsets) Default() float64 { return o.def }

// Size returns the size of index i.
func (o *Offsets) Size(i int64) float64 {
	if k, ok := o.find(i); ok {
		return o.sizes[k]
	}
	return o.def
}

// Custom returns the custom size of i, or nil when i uses the default.
func (o *Offsets) Custom(i int64) *float64 {
	if k, ok := o.find(i); ok {
		v := o.sizes[k]
		return &v
	}
	return nil
}

// Set assigns a custom size to i, or resets it to the default when size is
// nil. It returns the previous custom size (nil if there was none), which
// is exactly what a later Set needs to restore the prior state.
func (o *Offsets) Set(i int64, size *float64) (old *float64, err error) {
	if size != nil && (*size <= 0 || math.IsNaN(*size) || math.IsInf(*size, 0)) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSize, *size)
	}
	k, ok := o.find(i)
	switch {
	case ok && size == nil:
		v := o.sizes[k]
		old = &v
		o.indices = slices.Delete(o.indices, k, k+1)
		o.sizes = slices.Delete(o.sizes, k, k+1)
	case ok:
		v := o.sizes[k]
		old = &v
		o.sizes[k] = *size
	case size != nil:
		o.indices = slices.Insert(o.indices, k, i)
		o.sizes = slices.Insert(o.sizes, k, *size)
	default:
		return nil, nil
	}
	o.rebuild()
	return old, nil
}

// Entries returns every custom size in index order.
func (o *Offsets) Entries() []SizeEntry {
	out := make([]SizeEntry, len(o.indices))
	for k := range o.indices {
		out[k] = SizeEntry{Index: o.indices[k], Size: o.sizes[k]}
	}
	return out
}

// Position returns the leading edge of index i.
func (o *Offsets) Position(i int64) float64 {
	return o.cumulative(i) - o.cumulative(0)
}

// IndexAt returns the index whose span [Position(i), Position(i)+Size(i))
// contains pos.
func (o *Offsets) IndexAt(pos float64) int64 {
	a := pos + o.cumulative(0)
	// last entry whose start is <= a
	k := sort.Search(len(o.indices), func(k int) bool {
		return o.start(k) > a
	}) - 1
	if k < 0 {
		return int64(math.Floor(a / o.def))
	}
	if a < o.start(k)+o.sizes[k] {
		return o.indices[k]
	}
	return int64(math.Floor((a - o.prefix[k+1]) / o.def))
}

func (o *Offsets) find(i int64) (int, bool) {
	return slices.BinarySearch(o.indices, i)
}

// cumulative is the position of i measured from an arbitrary fixed origin.
func (o *Offsets) cumulative(i int64) float64 {
	k, _ := o.find(i)
	return float64(i)*o.def + o.prefix[k]
}

func (o *Offsets) start(k int) float64 {
	return float64(o.indices[k])*o.def + o.prefix[k]
}

func (o *Offsets) rebuild() {
	o.prefix = make([]float64, len(o.sizes)+1)
	for k, s := range o.sizes {
		o.prefix[k+1] = o.prefix[k] + s - o.def
	}
}
