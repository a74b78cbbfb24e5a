package grid

import (
	"fmt"
	"math"
)

// Pos is a cell coordinate. X is the column, Y the row.
type Pos struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// String returns "(x,y)".
func (p Pos) String() string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

// Less orders positions row-major: by Y, then X.
func (p Pos) Less(o Pos) bool {
	if p.Y != o.Y {
		return p.Y < o.Y
	}
	return p.X < o.X
}

// Rect is an inclusive rectangle of cells.
type Rect struct {
	Min Pos `json:"min"`
	Max Pos `json:"max"`
}

// NewRect builds a normalized rectangle from two corners in any order.
func NewRect(x0, y0, x1, y1 int64) Rect {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Rect{Min: Pos{X: x0, Y: y0}, Max: Pos{X: x1, Y: y1}}
}

// SingleRect returns the 1x1 rectangle at p.
func SingleRect(p Pos) Rect {
	return Rect{Min: p, Max: p}
}

// RectFromSize returns the rectangle anchored at p spanning w columns and h
// rows. w and h must be at least 1; the far edge stops at math.MaxInt64.
func RectFromSize(p Pos, w, h int64) Rect {
	return Rect{Min: p, Max: Pos{X: farEdge(p.X, w), Y: farEdge(p.Y, h)}}
}

func farEdge(start, n int64) int64 {
	if start > math.MaxInt64-(n-1) {
		return math.MaxInt64
	}
	return start + n - 1
}

// Width is the number of columns covered.
func (r Rect) Width() int64 { return r.Max.X - r.Min.X + 1 }

// Height is the number of rows covered.
func (r Rect) Height() int64 { return r.Max.Y - r.Min.Y + 1 }

// Contains reports whether p lies inside r.
func (r Rect) Contains(p Pos) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Interior reports whether p lies inside r without touching any edge.
func (r Rect) Interior(p Pos) bool {
	return p.X > r.Min.X && p.X < r.Max.X && p.Y > r.Min.Y && p.Y < r.Max.Y
}

// Intersects reports whether r and o share at least one cell.
func (r Rect) Intersects(o Rect) bool {
	return r.Min.X <= o.Max.X && o.Min.X <= r.Max.X && r.Min.Y <= o.Max.Y && o.Min.Y <= r.Max.Y
}

// Union returns the smallest rectangle covering r and o.
func (r Rect) Union(o Rect) Rect {
	return Rect{
		Min: Pos{X: min(r.Min.X, o.Min.X), Y: min(r.Min.Y, o.Min.Y)},
		Max: Pos{X: max(r.Max.X, o.Max.X), Y: max(r.Max.Y, o.Max.Y)},
	}
}

// Extend returns r grown to cover p.
func (r Rect) Extend(p Pos) Rect {
	return r.Union(SingleRect(p))
}

// AreaAtMost reports whether r covers no more than limit cells.
// It never overflows, even for rectangles spanning the whole int64 range.
func (r Rect) AreaAtMost(limit int64) bool {
	w, h := r.Width(), r.Height()
	if w <= 0 || h <= 0 {
		// overflowed or inverted
		return false
	}
	if w > limit || h > limit {
		return false
	}
	return w <= limit/h
}

// Positions enumerates r row-major. It fails with ErrRegionTooLarge when r
// covers more than MaxRegionCells.
func (r Rect) Positions() ([]Pos, error) {
	if !r.AreaAtMost(MaxRegionCells) {
		return nil, fmt.Errorf("%w: %dx%d", ErrRegionTooLarge, r.Width(), r.Height())
	}
	out := make([]Pos, 0, r.Width()*r.Height())
	r.each(func(p Pos) {
		out = append(out, p)
	})
	return out, nil
}

// each calls fn for every position of r, row-major. The loops stop on the
// last index rather than past it, so edges at math.MaxInt64 terminate.
func (r Rect) each(fn func(Pos)) {
	if r.Min.X > r.Max.X || r.Min.Y > r.Max.Y {
		return
	}
	for y := r.Min.Y; ; y++ {
		for x := r.Min.X; ; x++ {
			fn(Pos{X: x, Y: y})
			if x == r.Max.X {
				break
			}
		}
		if y == r.Max.Y {
			break
		}
	}
}

// String returns "(x0,y0)-(x1,y1)".
func (r Rect) String() string {
	return r.Min.String() + "-" + r.Max.String()
}

// SheetPos qualifies a position with the sheet it belongs to.
type SheetPos struct {
	SheetID string `json:"sheet_id"`
	Pos
}
