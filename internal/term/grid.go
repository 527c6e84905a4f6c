// Package term implements an in-process VT100/ANSI terminal emulator: a
// tripartite scrollback/viewport grid, a byte-stream parser that dispatches
// CSI/OSC/SGR sequences against it, and supporting DA-response filtering and
// OSC 10/11/12 theme color sync, so the control plane can serve a rendered
// snapshot to web clients without forwarding raw escape sequences.
package term

// MaxScrollbackLines caps memory use of the history buffer. Matches the
// teacher source's scrollback ceiling.
const MaxScrollbackLines = 10000

// Grid holds the full terminal state: scrollback above the viewport,
// the visible viewport itself, and any lines pushed below it when a
// resize shrinks the height (kept rather than discarded; growing the grid
// again adds blank rows and does not move them back), mirroring the Rust
// source's tripartite lines_above/viewport/lines_below split.
type Grid struct {
	rows, cols int

	linesAbove []Row // oldest first; capped at MaxScrollbackLines
	viewport   []Row
	linesBelow []Row

	cursorRow, cursorCol int
	scrollTop, scrollBot int // inclusive scroll region, 0-indexed

	currentStyle Style

	changedLines map[int]bool
	fullRedraw   bool

	// altScreen, when non-nil, holds the primary screen's viewport while
	// the alternate screen buffer (CSI ?1049h) is active.
	altScreen *[]Row
}

// NewGrid creates a grid of the given size with an empty scrollback.
func NewGrid(rows, cols int) *Grid {
	g := &Grid{
		rows: rows, cols: cols,
		scrollTop: 0, scrollBot: rows - 1,
		changedLines: make(map[int]bool),
	}
	g.viewport = make([]Row, rows)
	for i := range g.viewport {
		g.viewport[i] = FilledRow(cols)
	}
	return g
}

func (g *Grid) Rows() int { return g.rows }
func (g *Grid) Cols() int { return g.cols }

func (g *Grid) markLineChanged(row int) {
	if row < 0 || row >= g.rows {
		return
	}
	g.changedLines[row] = true
}

func (g *Grid) markAllChanged() {
	g.fullRedraw = true
	for i := 0; i < g.rows; i++ {
		g.changedLines[i] = true
	}
}

// ClearChanged resets dirty tracking after a render has been sent out.
func (g *Grid) ClearChanged() {
	g.changedLines = make(map[int]bool)
	g.fullRedraw = false
}

// ChangedLines returns the set of viewport row indices touched since the
// last ClearChanged call.
func (g *Grid) ChangedLines() []int {
	out := make([]int, 0, len(g.changedLines))
	for r := range g.changedLines {
		out = append(out, r)
	}
	return out
}

func (g *Grid) NeedsFullRedraw() bool { return g.fullRedraw }

func (g *Grid) SetCurrentStyle(s Style) { g.currentStyle = s }
func (g *Grid) CurrentStyle() Style     { return g.currentStyle }

func (g *Grid) CursorPosition() (row, col int) { return g.cursorRow, g.cursorCol }

func (g *Grid) SetCursorPosition(row, col int) {
	if row < 0 {
		row = 0
	}
	if row > g.rows-1 {
		row = g.rows - 1
	}
	if col < 0 {
		col = 0
	}
	if col > g.cols-1 {
		col = g.cols - 1
	}
	g.cursorRow, g.cursorCol = row, col
}

func (g *Grid) SetScrollRegion(top, bottom int) {
	if top < 0 {
		top = 0
	}
	if bottom > g.rows-1 {
		bottom = g.rows - 1
	}
	if top >= bottom {
		top, bottom = 0, g.rows-1
	}
	g.scrollTop, g.scrollBot = top, bottom
}

func (g *Grid) row(i int) *Row {
	if i < 0 || i >= len(g.viewport) {
		return nil
	}
	return &g.viewport[i]
}

// PutChar writes r at the cursor, advancing the cursor by the rune's
// display width. Wide runes (width 2) also occupy a spacer cell to their
// right. A rune that does not fit in the columns left wraps to the next
// line first, which becomes a continuation row; a wide rune wrapping from
// the last column leaves a blank there. This matches xterm's default
// autowrap behaviour.
func (g *Grid) PutChar(r rune) {
	w := RuneWidth(r)
	if w <= 0 {
		w = 1
	}
	if g.cursorCol+w > g.cols {
		if row := g.row(g.cursorRow); row != nil && g.cursorCol < g.cols {
			g.markLineChanged(g.cursorRow)
			row.Set(g.cursorCol, BlankCell(g.currentStyle))
		}
		g.CarriageReturn()
		g.Newline()
		if next := g.row(g.cursorRow); next != nil {
			next.Canonical = false
		}
	}
	row := g.row(g.cursorRow)
	if row == nil {
		return
	}
	g.markLineChanged(g.cursorRow)
	row.Set(g.cursorCol, Cell{Rune: r, Style: g.currentStyle, Width: uint8(w)})
	if w == 2 && g.cursorCol+1 < g.cols {
		row.Set(g.cursorCol+1, Cell{Rune: 0, Style: g.currentStyle, Width: 0, WideSpacer: true})
	}
	g.cursorCol += w
}

func (g *Grid) CarriageReturn() { g.cursorCol = 0 }

// Newline moves the cursor down one row, scrolling the scroll region up
// (pushing the top line into scrollback) if the cursor was already on the
// bottom row of the region.
func (g *Grid) Newline() {
	if g.cursorRow == g.scrollBot {
		g.ScrollUpInRegion(1)
		return
	}
	if g.cursorRow < g.rows-1 {
		g.cursorRow++
	}
}

// ScrollUpInRegion shifts count lines out of the top of the scroll region
// into scrollback (only when the region starts at row 0, mirroring real
// terminal behaviour where interior regions don't feed history) and pads
// the bottom of the region with blank lines.
func (g *Grid) ScrollUpInRegion(count int) {
	for i := 0; i < count; i++ {
		if g.scrollTop < len(g.viewport) {
			top := g.viewport[g.scrollTop]
			if g.scrollTop == 0 {
				g.pushToScrollback(top)
			}
			g.viewport = append(g.viewport[:g.scrollTop], g.viewport[g.scrollTop+1:]...)
		}
		insertAt := g.scrollBot
		if insertAt > len(g.viewport) {
			insertAt = len(g.viewport)
		}
		blank := FilledRowStyle(g.cols, g.currentStyle)
		g.viewport = append(g.viewport[:insertAt], append([]Row{blank}, g.viewport[insertAt:]...)...)
	}
	for i := g.scrollTop; i <= g.scrollBot && i < g.rows; i++ {
		g.markLineChanged(i)
	}
}

// ScrollDownInRegion is the reverse: blank lines enter at the top of the
// region, and lines fall off the bottom (lost, not scrollback — matches
// terminal semantics where only upward scroll feeds history).
func (g *Grid) ScrollDownInRegion(count int) {
	for i := 0; i < count; i++ {
		if g.scrollBot < len(g.viewport) {
			g.viewport = append(g.viewport[:g.scrollBot], g.viewport[g.scrollBot+1:]...)
		}
		blank := FilledRowStyle(g.cols, g.currentStyle)
		insertAt := g.scrollTop
		if insertAt > len(g.viewport) {
			insertAt = len(g.viewport)
		}
		g.viewport = append(g.viewport[:insertAt], append([]Row{blank}, g.viewport[insertAt:]...)...)
	}
	for i := g.scrollTop; i <= g.scrollBot && i < g.rows; i++ {
		g.markLineChanged(i)
	}
}

func (g *Grid) pushToScrollback(r Row) {
	g.linesAbove = append(g.linesAbove, r)
	if len(g.linesAbove) > MaxScrollbackLines {
		g.linesAbove = g.linesAbove[1:]
	}
}

// InsertLinesAtCursor implements CSI L (IL): blank lines are inserted at
// the cursor row, shifting following lines down within the scroll region;
// lines pushed past the bottom of the region are dropped.
func (g *Grid) InsertLinesAtCursor(count int) {
	if g.cursorRow < g.scrollTop || g.cursorRow > g.scrollBot {
		return
	}
	for i := 0; i < count; i++ {
		if g.scrollBot < len(g.viewport) {
			g.viewport = append(g.viewport[:g.scrollBot], g.viewport[g.scrollBot+1:]...)
		}
		blank := FilledRowStyle(g.cols, g.currentStyle)
		g.viewport = append(g.viewport[:g.cursorRow], append([]Row{blank}, g.viewport[g.cursorRow:]...)...)
	}
	for i := g.cursorRow; i <= g.scrollBot && i < g.rows; i++ {
		g.markLineChanged(i)
	}
}

// DeleteLinesAtCursor implements CSI M (DL): lines at the cursor row are
// removed and following lines shift up; blanks fill in at the bottom of
// the scroll region.
func (g *Grid) DeleteLinesAtCursor(count int) {
	if g.cursorRow < g.scrollTop || g.cursorRow > g.scrollBot {
		return
	}
	for i := 0; i < count; i++ {
		if g.cursorRow < len(g.viewport) {
			g.viewport = append(g.viewport[:g.cursorRow], g.viewport[g.cursorRow+1:]...)
		}
		insertAt := g.scrollBot
		if insertAt > len(g.viewport) {
			insertAt = len(g.viewport)
		}
		blank := FilledRowStyle(g.cols, g.currentStyle)
		g.viewport = append(g.viewport[:insertAt], append([]Row{blank}, g.viewport[insertAt:]...)...)
	}
	for i := g.cursorRow; i <= g.scrollBot && i < g.rows; i++ {
		g.markLineChanged(i)
	}
}

func (g *Grid) ClearToEndOfLine() {
	if row := g.row(g.cursorRow); row != nil {
		g.markLineChanged(g.cursorRow)
		row.ClearFromStyle(g.cursorCol, g.currentStyle)
	}
}

func (g *Grid) ClearToStartOfLine() {
	if row := g.row(g.cursorRow); row != nil {
		g.markLineChanged(g.cursorRow)
		row.ClearToStyle(g.cursorCol, g.currentStyle)
	}
}

func (g *Grid) ClearLine() {
	if g.cursorRow >= 0 && g.cursorRow < len(g.viewport) {
		g.markLineChanged(g.cursorRow)
		g.viewport[g.cursorRow] = FilledRowStyle(g.cols, g.currentStyle)
	}
}

func (g *Grid) ClearToEndOfScreen() {
	g.ClearToEndOfLine()
	for r := g.cursorRow + 1; r < g.rows && r < len(g.viewport); r++ {
		g.markLineChanged(r)
		g.viewport[r] = FilledRowStyle(g.cols, g.currentStyle)
	}
}

func (g *Grid) ClearToStartOfScreen() {
	g.ClearToStartOfLine()
	for r := 0; r < g.cursorRow && r < len(g.viewport); r++ {
		g.markLineChanged(r)
		g.viewport[r] = FilledRowStyle(g.cols, g.currentStyle)
	}
}

func (g *Grid) ClearScreen() {
	for r := 0; r < g.rows && r < len(g.viewport); r++ {
		g.markLineChanged(r)
		g.viewport[r] = FilledRowStyle(g.cols, g.currentStyle)
	}
}

func (g *Grid) InsertChars(count int) {
	if row := g.row(g.cursorRow); row != nil {
		g.markLineChanged(g.cursorRow)
		row.InsertBlank(g.cursorCol, count, g.cols, g.currentStyle)
	}
}

func (g *Grid) DeleteChars(count int) {
	if row := g.row(g.cursorRow); row != nil {
		g.markLineChanged(g.cursorRow)
		row.DeleteChars(g.cursorCol, count, g.cols, g.currentStyle)
	}
}

func (g *Grid) EraseChars(count int) {
	row := g.row(g.cursorRow)
	if row == nil {
		return
	}
	g.markLineChanged(g.cursorRow)
	blank := BlankCell(g.currentStyle)
	for i := 0; i < count; i++ {
		col := g.cursorCol + i
		if col < g.cols {
			row.Set(col, blank)
		}
	}
}

// EnterAltScreen saves the current viewport (CSI ?1049h) and clears the
// screen for the alternate buffer, matching full-screen app semantics
// (e.g. a pager or editor running inside the sandbox).
func (g *Grid) EnterAltScreen() {
	if g.altScreen != nil {
		return
	}
	saved := make([]Row, len(g.viewport))
	copy(saved, g.viewport)
	g.altScreen = &saved
	g.ClearScreen()
	g.SetCursorPosition(0, 0)
	g.markAllChanged()
}

// ExitAltScreen restores the primary screen saved by EnterAltScreen.
func (g *Grid) ExitAltScreen() {
	if g.altScreen == nil {
		return
	}
	g.viewport = *g.altScreen
	g.altScreen = nil
	g.markAllChanged()
}

// Resize changes the grid's dimensions, rewrapping lines on width change.
// On height change, excess rows move from the bottom of the viewport into
// lines_below, and missing rows are filled with blanks.
func (g *Grid) Resize(newRows, newCols int) {
	if newRows == g.rows && newCols == g.cols {
		return
	}
	oldCols := g.cols
	g.rows, g.cols = newRows, newCols

	if newCols != oldCols {
		g.rewrapLines(newCols, oldCols)
	}
	for len(g.viewport) < newRows {
		g.viewport = append(g.viewport, FilledRow(newCols))
	}
	for len(g.viewport) > newRows {
		last := g.viewport[len(g.viewport)-1]
		g.viewport = g.viewport[:len(g.viewport)-1]
		g.linesBelow = append([]Row{last}, g.linesBelow...)
	}

	g.scrollTop, g.scrollBot = 0, newRows-1
	if g.cursorRow > newRows-1 {
		g.cursorRow = newRows - 1
	}
	if g.cursorCol > newCols-1 {
		g.cursorCol = newCols - 1
	}
	g.fixWideCharsAtEdge()
	g.markAllChanged()
}

func (g *Grid) rewrapLines(newCols, oldCols int) {
	rewrap := func(rows []Row) []Row {
		out := make([]Row, 0, len(rows))
		for _, row := range rows {
			if newCols < oldCols {
				for _, split := range row.SplitToRowsOfLength(newCols) {
					split.Truncate(newCols)
					split.FillToWidth(newCols)
					out = append(out, split)
				}
			} else {
				row.FillToWidth(newCols)
				row.Truncate(newCols)
				out = append(out, row)
			}
		}
		return out
	}
	g.viewport = rewrap(g.viewport)
	g.linesAbove = rewrap(g.linesAbove)
}

func (g *Grid) fixWideCharsAtEdge() {
	for i := range g.viewport {
		row := &g.viewport[i]
		if len(row.Cells) == 0 {
			continue
		}
		last := row.Cells[len(row.Cells)-1]
		if last.Width > 1 && !last.WideSpacer {
			row.Cells[len(row.Cells)-1] = Cell{Rune: ' ', Width: 1}
		}
	}
}

// FixCursorOnSpacer nudges the cursor left if it landed on the spacer
// half of a wide character, so subsequent writes don't split the glyph.
func (g *Grid) FixCursorOnSpacer() {
	row := g.row(g.cursorRow)
	if row == nil {
		return
	}
	if cell, ok := row.Get(g.cursorCol); ok && cell.WideSpacer && g.cursorCol > 0 {
		g.cursorCol--
	}
}

func (g *Grid) ScrollbackLen() int { return len(g.linesAbove) }

// VisibleLines returns the rows to render given a scrollback offset (0
// means "current viewport", higher values page back into history).
func (g *Grid) VisibleLines(scrollOffset int) []Row {
	if scrollOffset == 0 {
		return g.viewport
	}
	total := len(g.linesAbove) + len(g.viewport)
	end := total - scrollOffset
	if end < 0 {
		end = 0
	}
	start := end - g.rows
	if start < 0 {
		start = 0
	}
	out := make([]Row, 0, end-start)
	for i := start; i < end; i++ {
		if i < len(g.linesAbove) {
			out = append(out, g.linesAbove[i])
		} else if vi := i - len(g.linesAbove); vi < len(g.viewport) {
			out = append(out, g.viewport[vi])
		}
	}
	return out
}

func (g *Grid) ViewportSnapshot() []Row {
	out := make([]Row, len(g.viewport))
	copy(out, g.viewport)
	return out
}
