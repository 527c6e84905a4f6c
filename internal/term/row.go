package term

import "github.com/mattn/go-runewidth"

// Row is one line of the grid: a fixed-capacity slice of cells plus a flag
// recording whether it starts a logical line (canonical) or continues one
// that wrapped (soft). Autowrap and SplitToRowsOfLength produce soft rows;
// rewrap on resize does not re-join soft rows when the grid widens.
type Row struct {
	Cells     []Cell
	Canonical bool
}

// FilledRow returns a row of width cols filled with blank, default-styled
// cells.
func FilledRow(cols int) Row { return FilledRowStyle(cols, DefaultStyle) }

func FilledRowStyle(cols int, style Style) Row {
	cells := make([]Cell, cols)
	for i := range cells {
		cells[i] = BlankCell(style)
	}
	return Row{Cells: cells, Canonical: true}
}

func (r *Row) Len() int { return len(r.Cells) }

func (r *Row) Get(col int) (Cell, bool) {
	if col < 0 || col >= len(r.Cells) {
		return Cell{}, false
	}
	return r.Cells[col], true
}

func (r *Row) Set(col int, c Cell) {
	if col >= 0 && col < len(r.Cells) {
		r.Cells[col] = c
	}
}

// FillToWidth extends the row with blank default-styled cells up to cols,
// leaving existing content untouched.
func (r *Row) FillToWidth(cols int) { r.FillToWidthStyle(cols, DefaultStyle) }

func (r *Row) FillToWidthStyle(cols int, style Style) {
	for len(r.Cells) < cols {
		r.Cells = append(r.Cells, BlankCell(style))
	}
}

// Truncate drops cells beyond cols.
func (r *Row) Truncate(cols int) {
	if len(r.Cells) > cols {
		r.Cells = r.Cells[:cols]
	}
}

// ClearFrom blanks cells from col (inclusive) to the end of the row,
// preserving the row's current attributes on cells before col.
func (r *Row) ClearFrom(col int) { r.ClearFromStyle(col, DefaultStyle) }

func (r *Row) ClearFromStyle(col int, style Style) {
	for i := col; i < len(r.Cells); i++ {
		if i >= 0 {
			r.Cells[i] = BlankCell(style)
		}
	}
}

// ClearTo blanks cells from the start of the row up to and including col.
func (r *Row) ClearTo(col int) { r.ClearToStyle(col, DefaultStyle) }

func (r *Row) ClearToStyle(col int, style Style) {
	end := col
	if end >= len(r.Cells) {
		end = len(r.Cells) - 1
	}
	for i := 0; i <= end; i++ {
		r.Cells[i] = BlankCell(style)
	}
}

// InsertBlank inserts count blank cells at col, shifting existing cells
// right and dropping anything pushed past width.
func (r *Row) InsertBlank(col, count, width int, style Style) {
	if col < 0 || col > len(r.Cells) {
		return
	}
	blanks := make([]Cell, count)
	for i := range blanks {
		blanks[i] = BlankCell(style)
	}
	merged := append(append(append([]Cell{}, r.Cells[:col]...), blanks...), r.Cells[col:]...)
	if len(merged) > width {
		merged = merged[:width]
	}
	r.Cells = merged
	r.FillToWidthStyle(width, style)
}

// DeleteChars removes count cells at col, shifting the remainder left and
// padding the vacated tail with blanks.
func (r *Row) DeleteChars(col, count, width int, style Style) {
	if col < 0 || col >= len(r.Cells) {
		return
	}
	end := col + count
	if end > len(r.Cells) {
		end = len(r.Cells)
	}
	merged := append(append([]Cell{}, r.Cells[:col]...), r.Cells[end:]...)
	r.Cells = merged
	r.FillToWidthStyle(width, style)
	r.Truncate(width)
}

// RuneWidth returns the display width (0, 1, or 2) of r, used when writing
// new characters into the grid so wide glyphs correctly consume two cells
// and get a trailing spacer cell.
func RuneWidth(r rune) int { return runewidth.RuneWidth(r) }

// SplitToRowsOfLength splits a row wider than newWidth into consecutive
// rows of exactly newWidth cells (the last one may be shorter), preserving
// cell content order. The first row keeps r's Canonical flag; the rest are
// soft-wrapped continuation rows. Mirrors the teacher's
// split_to_rows_of_length used during narrow-resize rewrap.
func (r *Row) SplitToRowsOfLength(newWidth int) []Row {
	if newWidth <= 0 || len(r.Cells) <= newWidth {
		return []Row{*r}
	}
	var out []Row
	cells := r.Cells
	for len(cells) > 0 {
		n := newWidth
		if n > len(cells) {
			n = len(cells)
		}
		chunk := append([]Cell{}, cells[:n]...)
		out = append(out, Row{Cells: chunk, Canonical: len(out) == 0 && r.Canonical})
		cells = cells[n:]
	}
	return out
}
