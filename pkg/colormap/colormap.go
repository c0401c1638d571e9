// Package colormap provides the color model and color schemes used to shade maps.
package colormap

import (
	"math"
	"sort"
	"strings"
)

// Scheme assigns colors to shares in [0, 1] or to ordinals.
type Scheme interface {
	At(t float64) RGB
	AtIndex(i int) RGB
}

// Continuous interpolates between evenly spaced stops.
type Continuous []RGB

// At returns the color at share t. Shares outside [0, 1] take the end stops.
func (c Continuous) At(t float64) RGB {
	last := len(c) - 1
	switch {
	case t <= 0 || math.IsNaN(t):
		return c[0]
	case t >= 1:
		return c[last]
	}
	pos := t * float64(last)
	i := int(pos)
	if i >= last {
		return c[last]
	}
	return mix(c[i], c[i+1], pos-float64(i))
}

// AtIndex returns stop i, wrapping around.
func (c Continuous) AtIndex(i int) RGB {
	return c[wrap(i, len(c))]
}

// Reversed returns the stops in reverse order.
func (c Continuous) Reversed() Continuous {
	out := make(Continuous, len(c))
	for i, rgb := range c {
		out[len(c)-1-i] = rgb
	}
	return out
}

// Qualitative is a list of distinct colors without order.
type Qualitative []RGB

// At splits [0, 1] into one bucket per color.
func (q Qualitative) At(t float64) RGB {
	i := 0
	if !math.IsNaN(t) {
		i = int(t * float64(len(q)))
	}
	if i < 0 {
		i = 0
	}
	if i >= len(q) {
		i = len(q) - 1
	}
	return q[i]
}

// AtIndex returns color i, wrapping around.
func (q Qualitative) AtIndex(i int) RGB {
	return q[wrap(i, len(q))]
}

func wrap(i, n int) int {
	i %= n
	if i < 0 {
		i += n
	}
	return i
}

// mix moves from a toward b by t, truncating each channel.
func mix(a, b RGB, t float64) RGB {
	ch := func(x, y uint8) uint8 {
		return uint8(float64(x) + t*(float64(y)-float64(x)))
	}
	return RGB{ch(a.R, b.R), ch(a.G, b.G), ch(a.B, b.B)}
}

// Viridis is matplotlib's viridis.
var Viridis = Continuous{
	{68, 1, 84}, {72, 35, 116}, {64, 67, 135},
	{52, 94, 141}, {41, 120, 142}, {32, 144, 140},
	{34, 167, 132}, {68, 190, 112}, {121, 209, 81},
	{189, 222, 38}, {253, 231, 37},
}

// Plasma is matplotlib's plasma.
var Plasma = Continuous{
	{13, 8, 135}, {75, 3, 161}, {125, 3, 168},
	{168, 34, 150}, {203, 70, 121}, {229, 107, 93},
	{248, 148, 65}, {253, 195, 40}, {240, 249, 33},
}

// Inferno is matplotlib's inferno.
var Inferno = Continuous{
	{0, 0, 4}, {40, 11, 84}, {101, 21, 110},
	{159, 42, 99}, {212, 72, 66}, {245, 125, 21},
	{250, 193, 39}, {252, 255, 164},
}

// Magma is matplotlib's magma.
var Magma = Continuous{
	{0, 0, 4}, {28, 16, 68}, {79, 18, 123},
	{129, 37, 129}, {181, 54, 122}, {229, 80, 100},
	{251, 135, 97}, {254, 194, 135}, {252, 253, 191},
}

// Blues runs from near-white to the default map color 155083.
var Blues = Continuous{
	{247, 251, 255}, {198, 219, 239}, {107, 174, 214},
	{33, 113, 181}, {21, 80, 131},
}

// Categorical has 10 distinct colors, handed out to parties registered
// without an explicit color.
var Categorical = Qualitative{
	{31, 119, 180}, {214, 39, 40}, {44, 160, 44},
	{255, 127, 14}, {148, 103, 189}, {140, 86, 75},
	{227, 119, 194}, {127, 127, 127}, {188, 189, 34},
	{23, 190, 207},
}

var byName = map[string]Scheme{
	"viridis":     Viridis,
	"plasma":      Plasma,
	"inferno":     Inferno,
	"magma":       Magma,
	"blues":       Blues,
	"categorical": Categorical,
}

// ByName returns a named scheme. Names are case-insensitive.
func ByName(name string) (Scheme, bool) {
	c, ok := byName[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// Names returns the registered scheme names in sorted order.
func Names() []string {
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
