package grid

// Align is horizontal text alignment.
type Align string

const (
	AlignLeft   Align = "left"
	AlignCenter Align = "center"
	AlignRight  Align = "right"
)

// Wrap controls how text longer than the cell is laid out.
type Wrap string

const (
	WrapOverflow Wrap = "overflow"
	WrapWrap     Wrap = "wrap"
	WrapClip     Wrap = "clip"
)

// NumericFormat describes how numbers are rendered.
type NumericFormat struct {
	Kind     string `json:"kind"` // number | currency | percentage | exponential
	Symbol   string `json:"symbol,omitempty"`
	Decimals *int   `json:"decimals,omitempty"`
	Commas   bool   `json:"commas,omitempty"`
}

// Border is one edge of a cell border.
type Border struct {
	Line  string `json:"line"` // thin | thick | dashed | dotted | double
	Color string `json:"color,omitempty"`
}

// Borders groups the four edges. A nil edge has no border.
type Borders struct {
	Top    *Border `json:"top,omitempty"`
	Bottom *Border `json:"bottom,omitempty"`
	Left   *Border `json:"left,omitempty"`
	Right  *Border `json:"right,omitempty"`
}

func (b *Borders) isZero() bool {
	return b == nil || (b.Top == nil && b.Bottom == nil && b.Left == nil && b.Right == nil)
}

func (b *Borders) clone() *Borders {
	if b.isZero() {
		return nil
	}
	cp := func(e *Border) *Border {
		if e == nil {
			return nil
		}
		v := *e
		return &v
	}
	return &Borders{Top: cp(b.Top), Bottom: cp(b.Bottom), Left: cp(b.Left), Right: cp(b.Right)}
}

// Format holds the style attributes of one cell. The zero value is "no
// format" and is never stored.
type Format struct {
	Bold          bool           `json:"bold,omitempty"`
	Italic        bool           `json:"italic,omitempty"`
	TextColor     string         `json:"text_color,omitempty"`
	FillColor     string         `json:"fill_color,omitempty"`
	NumericFormat *NumericFormat `json:"numeric_format,omitempty"`
	Align         Align          `json:"align,omitempty"`
	Wrap          Wrap           `json:"wrap,omitempty"`
	Borders       *Borders       `json:"borders,omitempty"`
}

// IsEmpty reports whether f sets no attribute.
func (f Format) IsEmpty() bool {
	return !f.Bold && !f.Italic && f.TextColor == "" && f.FillColor == "" &&
		f.NumericFormat == nil && f.Align == "" && f.Wrap == "" && f.Borders.isZero()
}

// Clone deep-copies the pointer attributes of f.
func (f Format) Clone() Format {
	out := f
	if f.NumericFormat != nil {
		nf := *f.NumericFormat
		if nf.Decimals != nil {
			d := *nf.Decimals
			nf.Decimals = &d
		}
		out.NumericFormat = &nf
	}
	out.Borders = f.Borders.clone()
	return out
}

// FormatPatch changes selected attributes. A nil field leaves the attribute
// untouched; a pointer to the zero value clears it.
type FormatPatch struct {
	Bold          *bool          `json:"bold,omitempty"`
	Italic        *bool          `json:"italic,omitempty"`
	TextColor     *string        `json:"text_color,omitempty"`
	FillColor     *string        `json:"fill_color,omitempty"`
	NumericFormat *NumericFormat `json:"numeric_format,omitempty"`
	Align         *Align         `json:"align,omitempty"`
	Wrap          *Wrap          `json:"wrap,omitempty"`
	Borders       *Borders       `json:"borders,omitempty"`
}

// IsEmpty reports whether p changes nothing.
func (p FormatPatch) IsEmpty() bool {
	return p.Bold == nil && p.Italic == nil && p.TextColor == nil && p.FillColor == nil &&
		p.NumericFormat == nil && p.Align == nil && p.Wrap == nil && p.Borders == nil
}

// Apply returns f with the patch applied.
func (p FormatPatch) Apply(f Format) Format {
	out := f.Clone()
	if p.Bold != nil {
		out.Bold = *p.Bold
	}
	if p.Italic != nil {
		out.Italic = *p.Italic
	}
	if p.TextColor != nil {
		out.TextColor = *p.TextColor
	}
	if p.FillColor != nil {
		out.FillColor = *p.FillColor
	}
	if p.NumericFormat != nil {
		if p.NumericFormat.Kind == "" {
			out.NumericFormat = nil
		} else {
			out.NumericFormat = Format{NumericFormat: p.NumericFormat}.Clone().NumericFormat
		}
	}
	if p.Align != nil {
		out.Align = *p.Align
	}
	if p.Wrap != nil {
		out.Wrap = *p.Wrap
	}
	if p.Borders != nil {
		out.Borders = p.Borders.clone()
	}
	return out
}
