// Package catalog loads the static definition of a map: which areas exist,
// the country each belongs to and the alias names used to find it.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/mapshade/server/internal/maperr"
)

// MaxAreaID is the largest usable area id. Ids double as greyscale palette
// markers and 255 is reserved for the white background.
const MaxAreaID = 254

// Area is a shadable region of a map.
type Area struct {
	ID      int      `json:"id"`
	Country string   `json:"country"`
	Names   []string `json:"names,omitempty"` // lower-cased aliases; empty means country-level
}

// HasNames reports whether the area is matched by region alias rather than
// by country alone.
func (a *Area) HasNames() bool {
	return len(a.Names) > 0
}

// Catalog holds the areas of one map in definition order.
type Catalog struct {
	areas []*Area
	byID  map[int]*Area
}

// Load reads a tab-delimited definition: one area per line as
// id<TAB>country[<TAB>alias]*. Blank lines are skipped.
func Load(r io.Reader) (*Catalog, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = true

	c := &Catalog{byID: make(map[int]*Area)}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				return nil, &maperr.Error{Kind: maperr.ErrMapData, Line: perr.Line, Err: perr.Err}
			}
			return nil, maperr.Wrap(maperr.ErrMapData, err, "read map definition")
		}
		line, _ := cr.FieldPos(0)

		if len(rec) < 2 {
			return nil, maperr.AtLine(maperr.ErrMapData, line,
				"expecting at least 2 columns (id, country), found %d", len(rec))
		}

		id, err := strconv.Atoi(strings.TrimSpace(rec[0]))
		if err != nil || id < 1 || id > MaxAreaID {
			return nil, maperr.AtLine(maperr.ErrMapData, line,
				"area id %q must be an integer in 1-%d", rec[0], MaxAreaID)
		}
		if _, dup := c.byID[id]; dup {
			return nil, maperr.AtLine(maperr.ErrMapData, line, "duplicate area id %d", id)
		}

		country := strings.TrimSpace(rec[1])
		if country == "" {
			return nil, maperr.AtLine(maperr.ErrMapData, line, "area %d has no country", id)
		}
		if len(country) != 2 {
			return nil, maperr.AtLine(maperr.ErrMapData, line,
				"area %d: country %q must be a 2-letter code", id, country)
		}

		var names []string
		for _, n := range rec[2:] {
			n = strings.ToLower(strings.TrimSpace(n))
			if n != "" {
				names = append(names, n)
			}
		}

		a := &Area{ID: id, Country: country, Names: names}
		c.areas = append(c.areas, a)
		c.byID[id] = a
	}
	return c, nil
}

// LoadFile opens and loads a definition file.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, maperr.Wrap(maperr.ErrMapData, err, "map data file %s could not be opened", path)
	}
	defer f.Close()

	c, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Len returns the number of areas.
func (c *Catalog) Len() int {
	return len(c.areas)
}

// Areas returns the areas in definition order. The slice must not be modified.
func (c *Catalog) Areas() []*Area {
	return c.areas
}

// IDs returns the area ids in definition order.
func (c *Catalog) IDs() []int {
	ids := make([]int, len(c.areas))
	for i, a := range c.areas {
		ids[i] = a.ID
	}
	return ids
}

// Area returns the area with the given id.
func (c *Catalog) Area(id int) (*Area, bool) {
	a, ok := c.byID[id]
	return a, ok
}

// MaxID returns the largest area id, or 0 for an empty catalog.
func (c *Catalog) MaxID() int {
	max := 0
	for _, a := range c.areas {
		if a.ID > max {
			max = a.ID
		}
	}
	return max
}
