package colormap

import (
	"fmt"
	"image/color"
	"regexp"
	"strconv"
	"strings"

	"github.com/mapshade/server/internal/maperr"
)

var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]{6}$`)

// RGB is an opaque 8-bit color.
type RGB struct {
	R, G, B uint8
}

// White is the map background.
var White = RGB{255, 255, 255}

// Grey returns the flat (v,v,v) color.
func Grey(v uint8) RGB {
	return RGB{v, v, v}
}

// IsGrey reports whether all three channels are equal.
func (c RGB) IsGrey() bool {
	return c.R == c.G && c.G == c.B
}

// Hex returns the lower-case 6 digit hexadecimal form, e.g. "f0c0d9".
func (c RGB) Hex() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

func (c RGB) String() string {
	return c.Hex()
}

// RGBA returns the color as an opaque color.RGBA.
func (c RGB) RGBA() color.RGBA {
	return color.RGBA{R: c.R, G: c.G, B: c.B, A: 255}
}

// FromColor converts any color to RGB, dropping alpha.
func FromColor(c color.Color) RGB {
	n := color.RGBAModel.Convert(c).(color.RGBA)
	return RGB{n.R, n.G, n.B}
}

// ParseHex parses a 6 digit hexadecimal color. Case is ignored; a leading
// '#' is not accepted.
func ParseHex(s string) (RGB, error) {
	if !hexPattern.MatchString(s) {
		return RGB{}, maperr.New(maperr.ErrBadColorValue, "hex color %q should be 6 hexadecimal characters", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return RGB{}, maperr.Wrap(maperr.ErrBadColorValue, err, "hex color %q", s)
	}
	return RGB{uint8(v >> 16), uint8(v >> 8), uint8(v)}, nil
}

// FromArray builds a color from exactly three channel values in 0-255.
func FromArray(v []int) (RGB, error) {
	if len(v) != 3 {
		return RGB{}, maperr.New(maperr.ErrBadColorValue, "expected a 3-member RGB array, got %d members", len(v))
	}
	for _, ch := range v {
		if ch < 0 || ch > 255 {
			return RGB{}, maperr.New(maperr.ErrBadColorValue, "channel value %d outside 0-255", ch)
		}
	}
	return RGB{uint8(v[0]), uint8(v[1]), uint8(v[2])}, nil
}

// Parse accepts either a hex color ("155083") or a comma separated RGB
// triple ("21,80,131").
func Parse(s string) (RGB, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ",") {
		return ParseHex(s)
	}
	parts := strings.Split(s, ",")
	vals := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return RGB{}, maperr.Wrap(maperr.ErrBadColorValue, err, "rgb color %q", s)
		}
		vals = append(vals, n)
	}
	return FromArray(vals)
}

// HexToRGB converts a 6 digit hexadecimal color to its channels.
func HexToRGB(s string) (r, g, b int, err error) {
	c, err := ParseHex(s)
	if err != nil {
		return 0, 0, 0, err
	}
	return int(c.R), int(c.G), int(c.B), nil
}

// RGBToHex converts channels to hexadecimal, clamping each into 0-255.
func RGBToHex(r, g, b int) string {
	return RGB{clamp(r), clamp(g), clamp(b)}.Hex()
}

func clamp(v int) uint8 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
