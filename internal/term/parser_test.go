package term

import "testing"

func TestParserPlainText(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("hello"))
	for i, r := range "hello" {
		if g.viewport[0].Cells[i].Rune != r {
			t.Fatalf("cell %d = %q, want %q", i, g.viewport[0].Cells[i].Rune, r)
		}
	}
}

func TestParserCursorMovement(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("\x1b[10;20H"))
	r, c := g.CursorPosition()
	if r != 9 || c != 19 {
		t.Fatalf("cursor = (%d,%d), want (9,19)", r, c)
	}
}

func TestParserSGRColors(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("\x1b[1;31mX"))
	cell := g.viewport[0].Cells[0]
	if !cell.Style.Bold {
		t.Fatal("expected bold")
	}
	if cell.Style.Foreground.Kind != ColorIndexed || cell.Style.Foreground.Idx != 1 {
		t.Fatalf("foreground = %+v, want indexed 1", cell.Style.Foreground)
	}
}

func TestParserSGRTruecolor(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("\x1b[38;2;10;20;30mX"))
	cell := g.viewport[0].Cells[0]
	if cell.Style.Foreground.Kind != ColorRGB || cell.Style.Foreground.R != 10 || cell.Style.Foreground.G != 20 || cell.Style.Foreground.B != 30 {
		t.Fatalf("foreground = %+v, want rgb(10,20,30)", cell.Style.Foreground)
	}
}

func TestParserSGRReset(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("\x1b[1mX\x1b[0mY"))
	if !g.viewport[0].Cells[0].Style.Bold {
		t.Fatal("X should be bold")
	}
	if g.viewport[0].Cells[1].Style.Bold {
		t.Fatal("Y should not be bold after reset")
	}
}

func TestParserEraseInLine(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("hello"))
	p.Write([]byte("\x1b[1;1H\x1b[K"))
	for i, cell := range g.viewport[0].Cells[:5] {
		if cell.Rune != ' ' {
			t.Fatalf("cell %d = %q, expected cleared", i, cell.Rune)
		}
	}
}

func TestParserSplitEscapeSequenceAcrossWrites(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("\x1b["))
	p.Write([]byte("10;20"))
	p.Write([]byte("H"))
	r, c := g.CursorPosition()
	if r != 9 || c != 19 {
		t.Fatalf("cursor = (%d,%d), want (9,19) after split write", r, c)
	}
}

func TestParserOSCHandler(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	var got string
	p.OnOSC(func(payload string) { got = payload })
	p.Write([]byte("\x1b]11;rgb:ffff/0000/0000\x07"))
	if got != "11;rgb:ffff/0000/0000" {
		t.Fatalf("OSC payload = %q", got)
	}
}

func TestParserUTF8WideCharacter(t *testing.T) {
	g := NewGrid(24, 80)
	p := NewParser(g)
	p.Write([]byte("界"))
	if g.viewport[0].Cells[0].Rune != '界' {
		t.Fatalf("cell = %q, want 界", g.viewport[0].Cells[0].Rune)
	}
	if !g.viewport[0].Cells[1].WideSpacer {
		t.Fatal("expected spacer after wide UTF-8 character")
	}
}
