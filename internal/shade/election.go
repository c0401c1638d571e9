package shade

import (
	"strconv"
	"strings"

	"github.com/mapshade/server/internal/series"
	"github.com/mapshade/server/pkg/colormap"
)

// Election defaults.
var (
	DefaultNoValueColor  = colormap.RGB{R: 0xc0, G: 0xc0, B: 0xc0}
	DefaultTooCloseColor = colormap.RGB{R: 0x66, G: 0x66, B: 0x66}
)

// Party is a competitor in an election map. Its series id is its 1-based
// registration order.
type Party struct {
	Series int
	Name   string
	Color  colormap.RGB
}

// Election colors each area by the party leading it. An area with no data
// gets NoValueColor; an area whose lead is at most Threshold, or whose leader
// has at most MinValue, is too close to call.
type Election struct {
	NoValueColor  colormap.RGB
	TooCloseColor colormap.RGB
	Threshold     float64
	MinValue      float64
	// Shading draws the margin of victory as alpha instead of full opacity.
	Shading bool

	parties []Party
}

// NewElection returns an election strategy with the default colors and a
// threshold and minimum value of 1.
func NewElection() *Election {
	return &Election{
		NoValueColor:  DefaultNoValueColor,
		TooCloseColor: DefaultTooCloseColor,
		Threshold:     1,
		MinValue:      1,
	}
}

// AddParty registers a party and returns its series id.
func (e *Election) AddParty(name string, c colormap.RGB) int {
	id := len(e.parties) + 1
	e.parties = append(e.parties, Party{Series: id, Name: name, Color: c})
	return id
}

// AddPartyAuto registers a party colored from the categorical colormap.
func (e *Election) AddPartyAuto(name string) int {
	return e.AddParty(name, colormap.Categorical.AtIndex(len(e.parties)))
}

// Parties returns the registered parties in series order.
func (e *Election) Parties() []Party {
	return e.parties
}

// PartyID resolves a party by series id or case-insensitive name.
func (e *Election) PartyID(search string) (int, bool) {
	if n, err := strconv.Atoi(strings.TrimSpace(search)); err == nil {
		if n >= 1 && n <= len(e.parties) {
			return n, true
		}
		return 0, false
	}
	for _, p := range e.parties {
		if strings.EqualFold(p.Name, strings.TrimSpace(search)) {
			return p.Series, true
		}
	}
	return 0, false
}

func (e *Election) Shade(in Input) (colormap.RGB, float64) {
	vals := make([]series.Value, 0, len(e.parties))
	for _, v := range in.Ranked {
		if v.Series >= 1 && v.Series <= len(e.parties) {
			vals = append(vals, v)
		}
	}

	var first, second float64
	if len(vals) > 0 {
		first = vals[0].Value
	}
	if len(vals) > 1 {
		second = vals[1].Value
	}

	var c colormap.RGB
	switch {
	case len(vals) == 0 || first == 0:
		c = e.NoValueColor
	case len(vals) >= 2 && first-second <= e.Threshold:
		c = e.TooCloseColor
	case first <= e.MinValue:
		c = e.TooCloseColor
	default:
		c = e.parties[vals[0].Series-1].Color
	}

	pct := in.MinThreshold
	if total := first + second; total > 0 {
		pct = 1
		if e.Shading && len(vals) >= 2 {
			pct = 1 - second/total
		}
	}
	return c, pct
}
