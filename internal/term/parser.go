package term

import (
	"strconv"
	"strings"
)

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
	stateOSC
)

// OSCHandler receives a completed OSC payload (e.g. "10;rgb:ffff/ffff/ffff")
// so the caller can act on theme queries/sets without the parser itself
// knowing about color persistence.
type OSCHandler func(payload string)

// Parser drives a Grid from a raw PTY byte stream. It is intentionally
// split from Grid so the same grid can be fed by either a live reader or
// replayed backlog bytes without re-deriving state.
type Parser struct {
	grid *Grid

	state  parserState
	params []string
	cur    strings.Builder
	oscBuf strings.Builder
	escIntermediate byte
	utf8buf []byte

	onOSC OSCHandler
}

func NewParser(g *Grid) *Parser { return &Parser{grid: g, state: stateGround} }

func (p *Parser) OnOSC(h OSCHandler) { p.onOSC = h }

// Write feeds raw bytes through the parser. Never returns an error: malformed
// or truncated sequences are absorbed and the parser resets to ground,
// mirroring a real terminal's tolerance of corrupted input.
func (p *Parser) Write(data []byte) {
	for _, b := range data {
		p.step(b)
	}
}

func (p *Parser) step(b byte) {
	switch p.state {
	case stateGround:
		p.stepGround(b)
	case stateEscape:
		p.stepEscape(b)
	case stateCSI:
		p.stepCSI(b)
	case stateOSC:
		p.stepOSC(b)
	case stateEscape2:
		p.state = stateGround // consume the single charset-designation byte
	case stateOSCEsc:
		if b == '\\' {
			p.finishOSC()
		} else {
			// not a valid ST; resume buffering as if nothing happened
			p.oscBuf.WriteByte(0x1b)
			p.state = stateOSC
			p.stepOSC(b)
		}
	}
}

func (p *Parser) stepGround(b byte) {
	switch b {
	case 0x1b:
		p.state = stateEscape
	case '\r':
		p.grid.CarriageReturn()
	case '\n':
		p.grid.Newline()
	case '\b':
		if r, c := p.grid.CursorPosition(); c > 0 {
			p.grid.SetCursorPosition(r, c-1)
		}
	case '\t':
		r, c := p.grid.CursorPosition()
		next := ((c / 8) + 1) * 8
		if next > p.grid.Cols()-1 {
			next = p.grid.Cols() - 1
		}
		p.grid.SetCursorPosition(r, next)
	case 0x07: // BEL outside OSC: ignore
	case 0x00:
	default:
		if b < 0x20 {
			return
		}
		p.feedUTF8(b)
	}
}

// utf8Pending is not used: feedUTF8 buffers partial multi-byte UTF-8
// sequences in the parser's own utf8buf field.
var utf8Pending []byte

func (p *Parser) feedUTF8(b byte) {
	// Decode directly: Write() is called with whole chunks in practice, but
	// to stay robust to arbitrary split points we buffer on the parser
	// itself rather than a package global.
	p.utf8buf = append(p.utf8buf, b)
	r, size := decodeRune(p.utf8buf)
	if size == 0 {
		if len(p.utf8buf) >= 4 {
			p.utf8buf = p.utf8buf[:0] // malformed: drop
		}
		return
	}
	p.utf8buf = p.utf8buf[:0]
	p.grid.PutChar(r)
}

func (p *Parser) stepEscape(b byte) {
	switch b {
	case '[':
		p.state = stateCSI
		p.params = p.params[:0]
		p.cur.Reset()
	case ']':
		p.state = stateOSC
		p.oscBuf.Reset()
	case '(', ')', '#', '%':
		p.escIntermediate = b
		// next byte selects a charset/line attribute we don't render
		// differently; consume it and return to ground.
		p.state = stateEscape2
	case 'D': // IND
		p.grid.Newline()
		p.state = stateGround
	case 'M': // RI (reverse index)
		r, _ := p.grid.CursorPosition()
		if r == p.grid.scrollTop {
			p.grid.ScrollDownInRegion(1)
		} else {
			nr := r - 1
			if nr < 0 {
				nr = 0
			}
			_, c := p.grid.CursorPosition()
			p.grid.SetCursorPosition(nr, c)
		}
		p.state = stateGround
	case 'c': // RIS full reset
		*p.grid = *NewGrid(p.grid.Rows(), p.grid.Cols())
		p.state = stateGround
	case '7': // DECSC save cursor — not tracked separately; no-op is acceptable
		p.state = stateGround
	case '8': // DECRC restore cursor
		p.state = stateGround
	default:
		p.state = stateGround
	}
}

// stateEscape2 consumes exactly one more byte after an intermediate like '('
// then returns to ground (charset designation we don't model).
const stateEscape2 = parserState(100)

func (p *Parser) stepCSI(b byte) {
	switch {
	case b >= '0' && b <= '9' || b == ';' || b == '?' || b == '<' || b == '=' || b == '>':
		p.cur.WriteByte(b)
	case b >= 0x40 && b <= 0x7e:
		p.params = append(p.params, p.cur.String())
		p.dispatchCSI(b, p.params)
		p.state = stateGround
	default:
		// ignore unexpected intermediate bytes
	}
}

func (p *Parser) stepOSC(b byte) {
	switch b {
	case 0x07: // BEL terminator
		p.finishOSC()
	case 0x1b:
		// expect ST ('\\') next; handled by a lookahead flag via escape state
		p.state = stateOSCEsc
	default:
		p.oscBuf.WriteByte(b)
	}
}

const stateOSCEsc = parserState(101)

func (p *Parser) finishOSC() {
	if p.onOSC != nil {
		p.onOSC(p.oscBuf.String())
	}
	p.oscBuf.Reset()
	p.state = stateGround
}

func (p *Parser) dispatchCSI(final byte, rawParams []string) {
	// rawParams' last entry has no trailing semicolon-joined numbers split
	// out yet; split the accumulated numeric string by ';'.
	joined := strings.Join(rawParams, "")
	parts := strings.Split(joined, ";")
	private := strings.HasPrefix(joined, "?")
	if private {
		parts[0] = strings.TrimPrefix(parts[0], "?")
	}

	get := func(i int, def int) int {
		if i >= len(parts) || parts[i] == "" {
			return def
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return def
		}
		return n
	}

	row, col := p.grid.CursorPosition()
	switch final {
	case 'A': // CUU
		p.grid.SetCursorPosition(row-get(0, 1), col)
	case 'B': // CUD
		p.grid.SetCursorPosition(row+get(0, 1), col)
	case 'C': // CUF
		p.grid.SetCursorPosition(row, col+get(0, 1))
	case 'D': // CUB
		p.grid.SetCursorPosition(row, col-get(0, 1))
	case 'G': // CHA
		p.grid.SetCursorPosition(row, get(0, 1)-1)
	case 'H', 'f': // CUP / HVP
		p.grid.SetCursorPosition(get(0, 1)-1, get(1, 1)-1)
	case 'd': // VPA
		p.grid.SetCursorPosition(get(0, 1)-1, col)
	case 'J': // ED
		switch get(0, 0) {
		case 0:
			p.grid.ClearToEndOfScreen()
		case 1:
			p.grid.ClearToStartOfScreen()
		case 2, 3:
			p.grid.ClearScreen()
		}
	case 'K': // EL
		switch get(0, 0) {
		case 0:
			p.grid.ClearToEndOfLine()
		case 1:
			p.grid.ClearToStartOfLine()
		case 2:
			p.grid.ClearLine()
		}
	case 'L':
		p.grid.InsertLinesAtCursor(get(0, 1))
	case 'M':
		p.grid.DeleteLinesAtCursor(get(0, 1))
	case '@':
		p.grid.InsertChars(get(0, 1))
	case 'P':
		p.grid.DeleteChars(get(0, 1))
	case 'X':
		p.grid.EraseChars(get(0, 1))
	case 'r': // DECSTBM
		top := get(0, 1) - 1
		bot := get(1, p.grid.Rows()) - 1
		p.grid.SetScrollRegion(top, bot)
	case 'm': // SGR
		p.dispatchSGR(parts)
	case 'h':
		if private && len(parts) > 0 && parts[0] == "1049" {
			p.grid.EnterAltScreen()
		}
	case 'l':
		if private && len(parts) > 0 && parts[0] == "1049" {
			p.grid.ExitAltScreen()
		}
	case 'S':
		p.grid.ScrollUpInRegion(get(0, 1))
	case 'T':
		p.grid.ScrollDownInRegion(get(0, 1))
	}
}

func (p *Parser) dispatchSGR(parts []string) {
	style := p.grid.CurrentStyle()
	if len(parts) == 1 && parts[0] == "" {
		p.grid.SetCurrentStyle(DefaultStyle)
		return
	}
	for i := 0; i < len(parts); i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			continue
		}
		switch {
		case n == 0:
			style = DefaultStyle
		case n == 1:
			style.Bold = true
		case n == 2:
			style.Faint = true
		case n == 3:
			style.Italic = true
		case n == 4:
			style.Underline = true
		case n == 5:
			style.Blink = true
		case n == 7:
			style.Reverse = true
		case n == 9:
			style.Strike = true
		case n == 22:
			style.Bold, style.Faint = false, false
		case n == 23:
			style.Italic = false
		case n == 24:
			style.Underline = false
		case n == 25:
			style.Blink = false
		case n == 27:
			style.Reverse = false
		case n == 29:
			style.Strike = false
		case n >= 30 && n <= 37:
			style.Foreground = Indexed(uint8(n - 30))
		case n == 38:
			i = p.consumeExtendedColor(parts, i, &style.Foreground)
		case n == 39:
			style.Foreground = Color{}
		case n >= 40 && n <= 47:
			style.Background = Indexed(uint8(n - 40))
		case n == 48:
			i = p.consumeExtendedColor(parts, i, &style.Background)
		case n == 49:
			style.Background = Color{}
		case n >= 90 && n <= 97:
			style.Foreground = Indexed(uint8(n - 90 + 8))
		case n >= 100 && n <= 107:
			style.Background = Indexed(uint8(n - 100 + 8))
		}
	}
	p.grid.SetCurrentStyle(style)
}

// consumeExtendedColor parses the 256-color (38;5;N) or truecolor
// (38;2;R;G;B) extended SGR forms starting at parts[i] (the 38/48 marker),
// returning the index of the last part consumed.
func (p *Parser) consumeExtendedColor(parts []string, i int, dst *Color) int {
	if i+1 >= len(parts) {
		return i
	}
	mode := parts[i+1]
	switch mode {
	case "5":
		if i+2 < len(parts) {
			n, _ := strconv.Atoi(parts[i+2])
			*dst = Indexed(uint8(n))
			return i + 2
		}
	case "2":
		if i+4 < len(parts) {
			r, _ := strconv.Atoi(parts[i+2])
			g, _ := strconv.Atoi(parts[i+3])
			b, _ := strconv.Atoi(parts[i+4])
			*dst = RGB(uint8(r), uint8(g), uint8(b))
			return i + 4
		}
	}
	return i
}

// decodeRune is a minimal UTF-8 decoder that reports size 0 on an
// incomplete-but-possibly-valid-so-far prefix (caller keeps buffering) and
// a replacement rune on outright invalid input.
func decodeRune(buf []byte) (rune, int) {
	if len(buf) == 0 {
		return 0, 0
	}
	b0 := buf[0]
	switch {
	case b0 < 0x80:
		return rune(b0), 1
	case b0>>5 == 0x6:
		if len(buf) < 2 {
			return 0, 0
		}
		return rune(b0&0x1f)<<6 | rune(buf[1]&0x3f), 2
	case b0>>4 == 0xe:
		if len(buf) < 3 {
			return 0, 0
		}
		return rune(b0&0x0f)<<12 | rune(buf[1]&0x3f)<<6 | rune(buf[2]&0x3f), 3
	case b0>>3 == 0x1e:
		if len(buf) < 4 {
			return 0, 0
		}
		return rune(b0&0x07)<<18 | rune(buf[1]&0x3f)<<12 | rune(buf[2]&0x3f)<<6 | rune(buf[3]&0x3f), 4
	default:
		return 0xfffd, 1
	}
}
