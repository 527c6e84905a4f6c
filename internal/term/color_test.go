package term

import "testing"

func TestThemeColorsHandleOSCRGB(t *testing.T) {
	tc := NewThemeColors()
	tc.HandleOSC("11;rgb:ffff/0000/0000")
	bg, ok := tc.Background()
	if !ok {
		t.Fatal("expected background set")
	}
	if bg.R != 255 || bg.G != 0 || bg.B != 0 {
		t.Fatalf("bg = %+v, want rgb(255,0,0)", bg)
	}
}

func TestThemeColorsHandleOSCHex(t *testing.T) {
	tc := NewThemeColors()
	tc.HandleOSC("10;#112233")
	fg, ok := tc.Foreground()
	if !ok {
		t.Fatal("expected foreground set")
	}
	if fg.R != 0x11 || fg.G != 0x22 || fg.B != 0x33 {
		t.Fatalf("fg = %+v, want rgb(0x11,0x22,0x33)", fg)
	}
}

func TestThemeColorsFallbackWhenUnset(t *testing.T) {
	tc := NewThemeColors()
	r, g, b := tc.Resolve(Color{}, true)
	if r != 255 || g != 255 || b != 255 {
		t.Fatalf("fg fallback = (%d,%d,%d), want white", r, g, b)
	}
	r, g, b = tc.Resolve(Color{}, false)
	if r != 53 || g != 55 || b != 49 {
		t.Fatalf("bg fallback = (%d,%d,%d), want (53,55,49)", r, g, b)
	}
}

func TestPalette256StandardAndGrayscale(t *testing.T) {
	r, g, b := Palette256(0)
	if r != 0 || g != 0 || b != 0 {
		t.Fatalf("index 0 = (%d,%d,%d), want black", r, g, b)
	}
	r, g, b = Palette256(255)
	if r != g || g != b {
		t.Fatalf("index 255 should be a gray (equal channels), got (%d,%d,%d)", r, g, b)
	}
}
