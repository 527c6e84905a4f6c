package term

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// ThemeColors holds the outer terminal's reported foreground/background,
// queried via OSC 10/11 and kept in sync with OSC 11 "set" notifications
// (theme switches) for as long as the session is attached. Grounded on the
// teacher corpus's outer-terminal color cache, adapted from process-global
// statics to an instance so multiple sandboxes don't share one theme.
type ThemeColors struct {
	mu         sync.RWMutex
	foreground *Color
	background *Color
}

func NewThemeColors() *ThemeColors { return &ThemeColors{} }

func (t *ThemeColors) Foreground() (Color, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.foreground == nil {
		return Color{}, false
	}
	return *t.foreground, true
}

func (t *ThemeColors) Background() (Color, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.background == nil {
		return Color{}, false
	}
	return *t.background, true
}

// HandleOSC inspects an OSC payload ("10;rgb:RRRR/GGGG/BBBB" or
// "11;#rrggbb") and, if it's a foreground/background color report or set
// (codes 10/11/12; 12 is the cursor color, tracked as foreground-adjacent
// per xterm convention), updates the cached theme. Unrecognized payloads
// are ignored.
func (t *ThemeColors) HandleOSC(payload string) {
	parts := strings.SplitN(payload, ";", 2)
	if len(parts) != 2 {
		return
	}
	code := parts[0]
	color, ok := parseOSCColor(parts[1])
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	switch code {
	case "10", "12":
		t.foreground = &color
	case "11":
		t.background = &color
	}
}

// QuerySequence returns the OSC query sequence for code 10 or 11, to be
// written to the outer terminal before entering raw mode, per the teacher
// corpus's query-before-alt-screen ordering.
func QuerySequence(code int) string {
	return fmt.Sprintf("\x1b]%d;?\x07", code)
}

// parseOSCColor parses the two forms xterm emits: "rgb:RRRR/GGGG/BBBB"
// (16-bit channels, high byte significant) and "#rrggbb".
func parseOSCColor(s string) (Color, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "rgb:") {
		chans := strings.Split(strings.TrimPrefix(s, "rgb:"), "/")
		if len(chans) != 3 {
			return Color{}, false
		}
		var out [3]uint8
		for i, c := range chans {
			v, err := strconv.ParseUint(c, 16, 32)
			if err != nil {
				return Color{}, false
			}
			// Scale a 4-hex-digit (16 bit) channel down to 8 bits.
			if len(c) == 4 {
				v >>= 8
			}
			out[i] = uint8(v)
		}
		return RGB(out[0], out[1], out[2]), true
	}
	if strings.HasPrefix(s, "#") && len(s) == 7 {
		v, err := strconv.ParseUint(s[1:], 16, 32)
		if err != nil {
			return Color{}, false
		}
		return RGB(uint8(v>>16), uint8(v>>8), uint8(v)), true
	}
	return Color{}, false
}

// Resolve maps a Color to a concrete RGB triple for rendering, using the
// standard 256-color palette for indexed colors and theme fallbacks for
// the unset "default" color.
func (t *ThemeColors) Resolve(c Color, isForeground bool) (r, g, b uint8) {
	switch c.Kind {
	case ColorRGB:
		return c.R, c.G, c.B
	case ColorIndexed:
		return Palette256(c.Idx)
	default:
		var resolved Color
		var ok bool
		if isForeground {
			resolved, ok = t.Foreground()
		} else {
			resolved, ok = t.Background()
		}
		if ok {
			return resolved.R, resolved.G, resolved.B
		}
		if isForeground {
			return 255, 255, 255
		}
		return 53, 55, 49 // dark gray fallback, matches the teacher corpus's ghostty-aligned default
	}
}

// Palette256 resolves one of the 256 standard terminal palette indices to
// RGB: 0-15 ANSI/bright, 16-231 a 6x6x6 color cube, 232-255 a grayscale
// ramp. Standard xterm-compatible table.
func Palette256(idx uint8) (r, g, b uint8) {
	if idx < 16 {
		return ansi16[idx][0], ansi16[idx][1], ansi16[idx][2]
	}
	if idx < 232 {
		i := int(idx) - 16
		levels := [6]uint8{0, 95, 135, 175, 215, 255}
		ri := (i / 36) % 6
		gi := (i / 6) % 6
		bi := i % 6
		return levels[ri], levels[gi], levels[bi]
	}
	v := 8 + (int(idx)-232)*10
	return uint8(v), uint8(v), uint8(v)
}

var ansi16 = [16][3]uint8{
	{0, 0, 0}, {205, 0, 0}, {0, 205, 0}, {205, 205, 0},
	{0, 0, 238}, {205, 0, 205}, {0, 205, 205}, {229, 229, 229},
	{127, 127, 127}, {255, 0, 0}, {0, 255, 0}, {255, 255, 0},
	{92, 92, 255}, {255, 0, 255}, {0, 255, 255}, {255, 255, 255},
}
