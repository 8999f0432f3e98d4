package channel

import (
	"fmt"
	"strings"
)

// RGBA is a channel's display color, serialized on the wire as an HTML hex
// string so legacy-side rich text can embed it directly.
type RGBA struct {
	R, G, B, A uint8
}

var DefaultColor = RGBA{R: 255, G: 255, B: 255, A: 255}

// HTML renders "#RRGGBB", or "#RRGGBBAA" when the alpha is not opaque.
func (c RGBA) HTML() string {
	if c.A == 255 {
		return fmt.Sprintf("#%02X%02X%02X", c.R, c.G, c.B)
	}
	return fmt.Sprintf("#%02X%02X%02X%02X", c.R, c.G, c.B, c.A)
}

// ParseHTMLColor accepts "#RRGGBB" or "#RRGGBBAA", case-insensitive.
func ParseHTMLColor(s string) (RGBA, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 && len(s) != 8 {
		return RGBA{}, fmt.Errorf("channel: bad color %q", s)
	}
	var parts [4]uint8
	parts[3] = 255
	for i := 0; i*2 < len(s); i++ {
		var v uint8
		if _, err := fmt.Sscanf(s[i*2:i*2+2], "%02x", &v); err != nil {
			return RGBA{}, fmt.Errorf("channel: bad color %q", s)
		}
		parts[i] = v
	}
	return RGBA{R: parts[0], G: parts[1], B: parts[2], A: parts[3]}, nil
}
