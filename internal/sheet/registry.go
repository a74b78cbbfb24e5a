package sheet

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/gridsync/internal/grid"
)

// Registry is the ordered set of sheets in one file.
type Registry struct {
	sheets map[string]*Sheet
	names  map[string]string // folded name -> id
	fold   cases.Caser
	newID  func() string
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDGenerator overrides how NewID creates sheet IDs.
func WithIDGenerator(gen func() string) Option {
	return func(r *Registry) {
		r.newID = gen
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		sheets: make(map[string]*Sheet),
		names:  make(map[string]string),
		fold:   cases.Fold(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewDefault returns a registry holding a single empty "Sheet 1".
func NewDefault(opts ...Option) *Registry {
	r := NewRegistry(opts...)
	order, _ := KeyBetween("", "")
	if err := r.Add(New(r.NewID(), r.NextName(), order)); err != nil {
		panic(fmt.Sprintf("sheet: default registry: %v", err))
	}
	return r
}

// DefaultSheetID is the ID of the first sheet of a new file. It is derived
// from the file ID so that the server and every client start from the same
// grid before any transaction is applied.
func DefaultSheetID(fileID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("gridsync:file:"+fileID)).String()
}

// NewForFile returns the initial registry of a file: one empty "Sheet 1"
// with ID DefaultSheetID(fileID).
func NewForFile(fileID string, opts ...Option) *Registry {
	r := NewRegistry(opts...)
	order, _ := KeyBetween("", "")
	if err := r.Add(New(DefaultSheetID(fileID), r.NextName(), order)); err != nil {
		panic(fmt.Sprintf("sheet: file registry: %v", err))
	}
	return r
}

// NewID returns a fresh sheet ID.
func (r *Registry) NewID() string {
	return r.newID()
}

// NormalizeName trims and NFC-normalizes a sheet name.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (r *Registry) key(name string) string {
	return r.fold.String(NormalizeName(name))
}

// Len returns the number of sheets.
func (r *Registry) Len() int { return len(r.sheets) }

// Add inserts s. Its ID and case-folded name must be unused.
func (r *Registry) Add(s *Sheet) error {
	if _, ok := r.sheets[s.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSheet, s.ID)
	}
	name := NormalizeName(s.Name)
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if !ValidKey(s.Order) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, s.Order)
	}
	k := r.key(name)
	if _, ok := r.names[k]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	s.Name = name
	r.sheets[s.ID] = s
	r.names[k] = s.ID
	return nil
}

// Remove deletes the sheet with the given ID and returns it.
func (r *Registry) Remove(id string) (*Sheet, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	delete(r.sheets, id)
	delete(r.names, r.key(s.Name))
	return s, nil
}

// Get returns the sheet with the given ID.
func (r *Registry) Get(id string) (*Sheet, error) {
	s, ok := r.sheets[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSheetNotFound, id)
	}
	return s, nil
}

// ByName finds a sheet by name, ignoring case.
func (r *Registry) ByName(name string) (*Sheet, bool) {
	id, ok := r.names[r.key(name)]
	if !ok {
		return nil, false
	}
	return r.sheets[id], true
}

// Ordered returns the sheets by order key. Equal keys, which concurrent
// peers can produce, are ordered by ID so every replica agrees.
func (r *Registry) Ordered() []*Sheet {
	out := make([]*Sheet, 0, len(r.sheets))
	for _, s := range r.sheets {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *Sheet) int {
		if c := cmp.Compare(a.Order, b.Order); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// First returns the first sheet in order, or nil when empty.
func (r *Registry) First() *Sheet {
	ordered := r.Ordered()
	if len(ordered) == 0 {
		return nil
	}
	return ordered[0]
}

// Rename changes a sheet's name and returns the old one.
func (r *Registry) Rename(id, name string) (string, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	name = NormalizeName(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}
	k := r.key(name)
	if other, ok := r.names[k]; ok && other != id {
		return "", fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	old := s.Name
	delete(r.names, r.key(old))
	s.Name = name
	r.names[k] = id
	return old, nil
}

// SetColor changes a sheet's color and returns the old one.
func (r *Registry) SetColor(id, color string) (string, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	old := s.Color
	s.Color = color
	return old, nil
}

// Move assigns a new order key and returns the old one.
func (r *Registry) Move(id, order string) (string, error) {
	s, err := r.Get(id)
	if err != nil {
		return "", err
	}
	if !ValidKey(order) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, order)
	}
	old := s.Order
	s.Order = order
	return old, nil
}

// NextName returns "Sheet N" for the smallest N not in use.
func (r *Registry) NextName() string {
	for n := len(r.sheets) + 1; ; n++ {
		name := "Sheet " + strconv.Itoa(n)
		if _, ok := r.names[r.key(name)]; !ok {
			return name
		}
	}
}

// OrderAfterLast returns a key that sorts after every sheet.
func (r *Registry) OrderAfterLast() string {
	ordered := r.Ordered()
	last := ""
	if len(ordered) > 0 {
		last = ordered[len(ordered)-1].Order
	}
	k, err := KeyBetween(last, "")
	if err != nil {
		panic(fmt.Sprintf("sheet: stored key %q: %v", last, err))
	}
	return k
}

// OrderBetween returns a key placing a sheet between the sheets with IDs
// before and after. Either may be empty for an open end.
func (r *Registry) OrderBetween(before, after string) (string, error) {
	var a, b string
	if before != "" {
		s, err := r.Get(before)
		if err != nil {
			return "", err
		}
		a = s.Order
	}
	if after != "" {
		s, err := r.Get(after)
		if err != nil {
			return "", err
		}
		b = s.Order
	}
	return KeyBetween(a, b)
}

// Cell returns the cell at p on the given sheet, or nil.
func (r *Registry) Cell(sheetID string, p grid.Pos) *grid.Cell {
	s, ok := r.sheets[sheetID]
	if !ok {
		return nil
	}
	return s.Cells.Cell(p)
}
