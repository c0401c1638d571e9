// Package shade turns area values into display colors.
package shade

import (
	"github.com/mapshade/server/internal/series"
	"github.com/mapshade/server/pkg/colormap"
)

// DefaultMinThreshold is the lightest alpha drawn, so that areas without
// data stay distinguishable from the background.
const DefaultMinThreshold = 0.10

// ComputeAlpha returns value/max clamped to 1, or minThreshold when max is
// not positive. The result is never below minThreshold.
func ComputeAlpha(value, max, minThreshold float64) float64 {
	pct := minThreshold
	if max > 0 {
		pct = value / max
		if pct > 1 {
			pct = 1
		}
	}
	if pct < minThreshold {
		pct = minThreshold
	}
	return pct
}

// Blend composites c over white with the given alpha: each channel becomes
// (1-pct)*255 + pct*channel, truncated. pct is clamped into [0, 1].
func Blend(c colormap.RGB, pct float64) colormap.RGB {
	switch {
	case pct < 0:
		pct = 0
	case pct > 1:
		pct = 1
	}
	ch := func(v uint8) uint8 {
		return uint8((1-pct)*255 + pct*float64(v))
	}
	return colormap.RGB{R: ch(c.R), G: ch(c.G), B: ch(c.B)}
}

// Input describes one area at draw time.
type Input struct {
	AreaID       int
	Value        float64        // value of the series being drawn
	Max          float64        // maximum or target of that series
	Ranked       []series.Value // every series of the area, highest first
	MinThreshold float64
}

// Strategy picks the base color and alpha of an area.
type Strategy interface {
	Shade(in Input) (colormap.RGB, float64)
}

// Gradient shades every area with one color, its alpha proportional to the
// area's share of the maximum.
type Gradient struct {
	Color colormap.RGB
}

func (g Gradient) Shade(in Input) (colormap.RGB, float64) {
	return g.Color, ComputeAlpha(in.Value, in.Max, in.MinThreshold)
}

// Ramp colors each area from a color scheme at full opacity.
type Ramp struct {
	Colormap colormap.Scheme
}

func (r Ramp) Shade(in Input) (colormap.RGB, float64) {
	t := 0.0
	if in.Max > 0 {
		t = in.Value / in.Max
	}
	return r.Colormap.At(t), 1
}
