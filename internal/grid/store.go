package grid

import (
	"slices"
)

// Entry pairs a position with the cell stored there.
type Entry struct {
	Pos  Pos   `json:"pos"`
	Cell *Cell `json:"cell"`
}

// FormatEntry pairs a position with its format.
type FormatEntry struct {
	Pos    Pos    `json:"pos"`
	Format Format `json:"format"`
}

// boundsCache tracks the extent of a set of positions.
type boundsCache struct {
	rect  Rect
	empty bool
	dirty bool
}

func newBoundsCache() boundsCache {
	return boundsCache{empty: true}
}

func (b *boundsCache) add(r Rect) {
	if b.dirty {
		return
	}
	if b.empty {
		b.rect, b.empty = r, false
		return
	}
	b.rect = b.rect.Union(r)
}

// remove invalidates the cache unless p was strictly inside the bounds, in
// which case the extent cannot have changed.
func (b *boundsCache) remove(p Pos) {
	if b.dirty || b.empty {
		return
	}
	if b.rect.Interior(p) {
		return
	}
	b.dirty = true
}

// Store is the sparse cell storage of one sheet.
type Store struct {
	cells   map[Pos]*Cell
	formats map[Pos]Format
	spills  map[Pos]Pos      // spanned position -> origin
	blocked map[Pos]struct{} // origins carrying a spill error

	data   boundsCache
	styled boundsCache
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		cells:   make(map[Pos]*Cell),
		formats: make(map[Pos]Format),
		spills:  make(map[Pos]Pos),
		blocked: make(map[Pos]struct{}),
		data:    newBoundsCache(),
		styled:  newBoundsCache(),
	}
}

// Cell returns the cell at p, or nil when empty. A position covered by a
// spill returns a derived cell built from the origin's output.
//
// The returned cell must not be modified.
func (s *Store) Cell(p Pos) *Cell {
	if c, ok := s.cells[p]; ok {
		return c
	}
	origin, ok := s.spills[p]
	if !ok {
		return nil
	}
	oc := s.cells[origin]
	if oc == nil {
		return nil
	}
	v, ok := oc.Code.ValueAt(p.X-origin.X, p.Y-origin.Y)
	if !ok || v.Text == "" {
		return nil
	}
	return &Cell{Value: v.Text, Kind: v.Kind}
}

// Stored returns the cell owned by p itself, ignoring spills.
func (s *Store) Stored(p Pos) *Cell {
	return s.cells[p]
}

// SpillOrigin returns the origin of the spill covering p. Origins themselves
// are not reported.
func (s *Store) SpillOrigin(p Pos) (Pos, bool) {
	o, ok := s.spills[p]
	return o, ok
}

// SetCell stores c at p and returns the previous stored cell. An empty c
// deletes the entry. The Store takes ownership of c.
//
// If the old or new cell is a code origin, the spill index is updated to
// the new footprint. Callers must resolve conflicts with existing spills
// first (see SpillBlockers).
func (s *Store) SetCell(p Pos, c *Cell) *Cell {
	old := s.cells[p]
	if old != nil && old.Code != nil {
		s.unmarkSpill(p, old.Code)
		delete(s.blocked, p)
	}
	if c.IsEmpty() {
		delete(s.cells, p)
		if old != nil {
			s.data.remove(p)
		}
		return old
	}
	s.cells[p] = c
	s.data.add(SingleRect(p))
	if c.Code != nil {
		s.markSpill(p, c.Code)
		if len(c.Code.SpillError) > 0 {
			s.blocked[p] = struct{}{}
		}
	}
	return old
}

// Unblocked returns, row-major, the code origins whose spill error names a
// position that is now free: it holds no value and no other spill covers it.
// Their output could spill if they were evaluated again.
func (s *Store) Unblocked() []Pos {
	var out []Pos
	for origin := range s.blocked {
		for _, p := range s.cells[origin].Code.SpillError {
			if _, taken := s.cells[p]; taken {
				continue
			}
			if o, ok := s.spills[p]; ok && o != origin {
				continue
			}
			out = append(out, origin)
			break
		}
	}
	slices.SortFunc(out, comparePos)
	return out
}

func (s *Store) markSpill(origin Pos, cc *CodeCell) {
	w, h := cc.Footprint()
	if w == 1 && h == 1 {
		return
	}
	r := RectFromSize(origin, w, h)
	r.each(func(p Pos) {
		if p != origin {
			s.spills[p] = origin
		}
	})
	s.data.add(r)
}

func (s *Store) unmarkSpill(origin Pos, cc *CodeCell) {
	w, h := cc.Footprint()
	if w == 1 && h == 1 {
		return
	}
	RectFromSize(origin, w, h).each(func(p Pos) {
		if o, ok := s.spills[p]; ok && o == origin {
			delete(s.spills, p)
			s.data.remove(p)
		}
	})
}

// SpillBlockers returns the positions inside the w x h rectangle anchored
// at origin that already hold a value or belong to another spill. The
// origin itself never blocks.
func (s *Store) SpillBlockers(origin Pos, w, h int64) []Pos {
	var out []Pos
	RectFromSize(origin, w, h).each(func(p Pos) {
		if p == origin {
			return
		}
		if c, ok := s.cells[p]; ok && !c.IsEmpty() {
			out = append(out, p)
			return
		}
		if o, ok := s.spills[p]; ok && o != origin {
			out = append(out, p)
		}
	})
	return out
}

// DeleteRegion removes every stored cell inside r and returns them row-major.
// Spilled positions are not stored and are only cleared by removing their
// origin.
func (s *Store) DeleteRegion(r Rect) []Entry {
	removed := s.storedIn(r)
	for _, e := range removed {
		s.SetCell(e.Pos, nil)
	}
	return removed
}

// CellsInRect returns the non-empty cells inside r, including spilled
// values, ordered row-major.
func (s *Store) CellsInRect(r Rect) []Entry {
	out := s.storedIn(r)
	for p := range s.spills {
		if !r.Contains(p) {
			continue
		}
		if c := s.Cell(p); c != nil {
			out = append(out, Entry{Pos: p, Cell: c})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return comparePos(a.Pos, b.Pos) })
	return out
}

func (s *Store) storedIn(r Rect) []Entry {
	var out []Entry
	if r.AreaAtMost(int64(len(s.cells))) {
		r.each(func(p Pos) {
			if c, ok := s.cells[p]; ok {
				out = append(out, Entry{Pos: p, Cell: c})
			}
		})
		return out
	}
	for p, c := range s.cells {
		if r.Contains(p) {
			out = append(out, Entry{Pos: p, Cell: c})
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return comparePos(a.Pos, b.Pos) })
	return out
}

// Cells returns every stored cell ordered row-major.
func (s *Store) Cells() []Entry {
	out := make([]Entry, 0, len(s.cells))
	for p, c := range s.cells {
		out = append(out, Entry{Pos: p, Cell: c})
	}
	slices.SortFunc(out, func(a, b Entry) int { return comparePos(a.Pos, b.Pos) })
	return out
}

// Format returns the format at p. The zero Format means none.
func (s *Store) Format(p Pos) Format {
	return s.formats[p]
}

// SetFormat stores f at p and returns the previous format. An empty f
// deletes the entry.
func (s *Store) SetFormat(p Pos, f Format) Format {
	old, had := s.formats[p]
	if f.IsEmpty() {
		delete(s.formats, p)
		if had {
			s.styled.remove(p)
		}
		return old
	}
	s.formats[p] = f
	s.styled.add(SingleRect(p))
	return old
}

// Formats returns every stored format ordered row-major.
func (s *Store) Formats() []FormatEntry {
	out := make([]FormatEntry, 0, len(s.formats))
	for p, f := range s.formats {
		out = append(out, FormatEntry{Pos: p, Format: f})
	}
	slices.SortFunc(out, func(a, b FormatEntry) int { return comparePos(a.Pos, b.Pos) })
	return out
}

// CellCount is the number of stored cells.
func (s *Store) CellCount() int { return len(s.cells) }

// FormatCount is the number of stored formats.
func (s *Store) FormatCount() int { return len(s.formats) }

// Bounds returns the extent of the sheet's data. With includeFormats the
// extent also covers formatted positions that hold no value. ok is false for
// an empty sheet.
func (s *Store) Bounds(includeFormats bool) (r Rect, ok bool) {
	s.refresh()
	switch {
	case !includeFormats || s.styled.empty:
		return s.data.rect, !s.data.empty
	case s.data.empty:
		return s.styled.rect, true
	default:
		return s.data.rect.Union(s.styled.rect), true
	}
}

func (s *Store) refresh() {
	if s.data.dirty {
		s.data = newBoundsCache()
		for p := range s.cells {
			s.data.add(SingleRect(p))
		}
		for p := range s.spills {
			s.data.add(SingleRect(p))
		}
	}
	if s.styled.dirty {
		s.styled = newBoundsCache()
		for p := range s.formats {
			s.styled.add(SingleRect(p))
		}
	}
}

func comparePos(a, b Pos) int {
	switch {
	case a == b:
		return 0
	case a.Less(b):
		return -1
	default:
		return 1
	}
}
