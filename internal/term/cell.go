package term

// ColorKind distinguishes how a Color's value should be interpreted.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorIndexed
	ColorRGB
)

// Color is a terminal color in any of the three forms SGR can set: the
// default (no color set), an indexed palette entry (0-255), or a truecolor
// RGB triple. Kept as a small value type rather than an interface so Style
// stays comparable and cheap to copy.
type Color struct {
	Kind ColorKind
	Idx  uint8
	R, G, B uint8
}

func RGB(r, g, b uint8) Color { return Color{Kind: ColorRGB, R: r, G: g, B: b} }
func Indexed(i uint8) Color   { return Color{Kind: ColorIndexed, Idx: i} }

// Style is the set of SGR attributes applied to a cell. Comparable by value
// so it can be used as a map key when interning, mirroring the teacher
// corpus's preference for small value-typed style structs over pointers.
type Style struct {
	Foreground Color
	Background Color
	Bold       bool
	Faint      bool
	Italic     bool
	Underline  bool
	Blink      bool
	Reverse    bool
	Strike     bool
}

// DefaultStyle is the zero-value style (no attributes, terminal default
// colors). Interning against this value avoids allocating for the common
// case of plain text, following the Default/Custom split in the teacher's
// SharedStyles enum.
var DefaultStyle = Style{}

func (s Style) IsDefault() bool { return s == DefaultStyle }

// Cell is a single terminal grid position. Precomputed width mirrors the
// teacher's TerminalCharacter layout: width is cached at write time so
// rendering never recomputes rune width.
type Cell struct {
	Rune       rune
	Style      Style
	Width      uint8
	WideSpacer bool
}

// BlankCell returns an empty, space-filled cell carrying the given style.
// Used to fill newly grown rows and to erase ranges without losing the
// active SGR attributes (ECMA-48 "erase with current attributes").
func BlankCell(style Style) Cell {
	return Cell{Rune: ' ', Style: style, Width: 1}
}
