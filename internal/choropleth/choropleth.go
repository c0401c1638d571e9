// Package choropleth shades map areas by value. A Map holds one template,
// the values imported for its areas and the drawing settings; Draw runs the
// whole pipeline from recoloring to PNG output.
package choropleth

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"

	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/render"
	"github.com/mapshade/server/internal/series"
	"github.com/mapshade/server/internal/shade"
	"github.com/mapshade/server/pkg/colormap"
)

// DefaultColor is the base shading color.
const DefaultColor = "155083"

// Config holds the initial drawing settings of a Map.
type Config struct {
	Color          string  // hex or "r,g,b"; DefaultColor when empty
	Width          int     // output width; the native width when 0
	MinThreshold   float64 // shade.DefaultMinThreshold when 0
	MinWidth       int     // render.DefaultMinWidth when 0
	DefaultCountry string  // importer.DefaultCountry when empty
}

// ImportStats summarizes one Import.
type ImportStats struct {
	Rows       int // rows read from the adapter
	Unresolved int // rows that matched no area
}

// Map is a shading context for one map template. The value store is safe for
// concurrent use; settings are not and should be configured before sharing.
type Map struct {
	tmpl     *Template
	store    *series.Store
	renderer *render.Renderer

	color          colormap.RGB
	width          int
	minThreshold   float64
	defaultCountry string
	strategy       shade.Strategy
}

// New creates a context for tmpl with every area at 0.
func New(tmpl *Template, cfg Config) (*Map, error) {
	if cfg.Color == "" {
		cfg.Color = DefaultColor
	}
	if cfg.MinThreshold == 0 {
		cfg.MinThreshold = shade.DefaultMinThreshold
	}
	if cfg.MinThreshold < 0 || cfg.MinThreshold > 1 {
		return nil, maperr.New(maperr.ErrConfig, "minimum threshold %v outside 0-1", cfg.MinThreshold)
	}
	if cfg.DefaultCountry == "" {
		cfg.DefaultCountry = importer.DefaultCountry
	}

	m := &Map{
		tmpl:           tmpl,
		store:          series.NewStore(tmpl.Catalog.IDs()),
		renderer:       render.NewRenderer(render.Config{MinWidth: cfg.MinWidth}),
		minThreshold:   cfg.MinThreshold,
		defaultCountry: cfg.DefaultCountry,
	}
	if err := m.SetColor(cfg.Color); err != nil {
		return nil, err
	}
	if cfg.Width != 0 {
		if err := m.SetWidth(cfg.Width); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open loads the named map from base and creates a context for it.
func Open(name, base string, cfg Config) (*Map, error) {
	tmpl, err := LoadTemplate(name, base)
	if err != nil {
		return nil, err
	}
	return New(tmpl, cfg)
}

// SetMap points the context at another template. All values are dropped;
// the target value and drawing settings are kept.
func (m *Map) SetMap(tmpl *Template) {
	m.tmpl = tmpl
	m.store.Reset(tmpl.Catalog.IDs())
}

// Template returns the current template.
func (m *Map) Template() *Template {
	return m.tmpl
}

// SetColor sets the base color from a hex string or "r,g,b". On error the
// previous color is kept.
func (m *Map) SetColor(s string) error {
	c, err := colormap.Parse(s)
	if err != nil {
		return err
	}
	m.color = c
	return nil
}

// SetColorRGB sets the base color.
func (m *Map) SetColorRGB(c colormap.RGB) {
	m.color = c
}

// Color returns the base color.
func (m *Map) Color() colormap.RGB {
	return m.color
}

// SetWidth sets the output width. Widths above the native width are clamped
// when drawing.
func (m *Map) SetWidth(px int) error {
	if err := m.renderer.CheckWidth(px); err != nil {
		return err
	}
	m.width = px
	return nil
}

// Width returns the width the next Draw produces.
func (m *Map) Width() int {
	if m.width == 0 || m.width > m.tmpl.Width() {
		return m.tmpl.Width()
	}
	return m.width
}

// SetTargetValue makes v the shading denominator of every series instead of
// the observed maximum.
func (m *Map) SetTargetValue(v float64) {
	m.store.SetTarget(v)
}

// SetStrategy replaces the color selection. A nil strategy restores the
// single-color gradient.
func (m *Map) SetStrategy(s shade.Strategy) {
	m.strategy = s
}

// DefaultCountry returns the country used for region-only data.
func (m *Map) DefaultCountry() string {
	return m.defaultCountry
}

// Lookup resolves a country and optional region to an area id.
func (m *Map) Lookup(country, region string) (int, bool) {
	return m.tmpl.Catalog.Lookup(country, region)
}

// Add accumulates value into the matching area. It reports whether an area
// matched; unmatched data is dropped. A series below 1 means series 1.
func (m *Map) Add(country, region string, value float64, seriesID int) bool {
	id, ok := m.Lookup(country, region)
	if !ok {
		return false
	}
	return m.store.Add(id, normSeries(seriesID), value)
}

// Set overwrites the value of the matching area.
func (m *Map) Set(country, region string, value float64, seriesID int) bool {
	id, ok := m.Lookup(country, region)
	if !ok {
		return false
	}
	return m.store.Set(id, normSeries(seriesID), value)
}

// Get returns the value of an area, 0 when unset.
func (m *Map) Get(id, seriesID int) float64 {
	return m.store.Get(id, normSeries(seriesID))
}

// Values returns a copy of all values by area id and series.
func (m *Map) Values() map[int]map[int]float64 {
	return m.store.Snapshot()
}

// MaxValue returns the target value if set, else the largest value of the
// series.
func (m *Map) MaxValue(seriesID int) float64 {
	return m.store.Max(normSeries(seriesID))
}

// AlphaPct returns the gradient shading percentage of an area.
func (m *Map) AlphaPct(id, seriesID int) float64 {
	s := normSeries(seriesID)
	return shade.ComputeAlpha(m.store.Get(id, s), m.store.Max(s), m.minThreshold)
}

// Import drains a into the context. Rows are applied only once the whole
// source has been read, so a failing import leaves the values untouched.
func (m *Map) Import(ctx context.Context, a importer.Adapter) (ImportStats, error) {
	var rows []importer.Row
	for {
		row, err := a.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return ImportStats{Rows: len(rows)}, fmt.Errorf("import aborted after %d rows: %w", len(rows), err)
		}
		rows = append(rows, row)
	}

	stats := ImportStats{Rows: len(rows)}
	for _, r := range rows {
		if !m.Add(r.Country, r.Region, r.Value, r.Series) {
			stats.Unresolved++
		}
	}
	return stats, nil
}

// Draw shades the series, resizes the result and writes it to w as PNG.
// The template is left untouched, so Draw may be called repeatedly.
func (m *Map) Draw(w io.Writer, compression, seriesID int) error {
	img, err := m.shade(compression, seriesID)
	if err != nil {
		return err
	}
	return m.renderer.Encode(w, img, compression)
}

// Render is Draw into a byte slice.
func (m *Map) Render(compression, seriesID int) ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Draw(&buf, compression, seriesID); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DrawFile is Draw into a file at path.
func (m *Map) DrawFile(path string, compression, seriesID int) error {
	data, err := m.Render(compression, seriesID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (m *Map) shade(compression, seriesID int) (*image.RGBA, error) {
	if _, err := render.CompressionLevel(compression); err != nil {
		return nil, err
	}
	s := normSeries(seriesID)

	img := m.tmpl.Image.Clone()
	if err := img.Sanitize(m.tmpl.Catalog.MaxID()); err != nil {
		return nil, err
	}

	strategy := m.strategy
	if strategy == nil {
		strategy = shade.Gradient{Color: m.color}
	}

	max := m.store.Max(s)
	for _, id := range m.tmpl.Catalog.IDs() {
		c, pct := strategy.Shade(shade.Input{
			AreaID:       id,
			Value:        m.store.Get(id, s),
			Max:          max,
			Ranked:       m.store.Ranked(id),
			MinThreshold: m.minThreshold,
		})
		if err := img.ShadeArea(id, c, pct, m.minThreshold); err != nil {
			return nil, fmt.Errorf("map %s: %w", m.tmpl.Name, err)
		}
	}

	return m.renderer.Resize(img.Image(), m.Width())
}

func normSeries(s int) int {
	if s < 1 {
		return series.Default
	}
	return s
}

// String describes the context for logs.
func (m *Map) String() string {
	return fmt.Sprintf("map %s (%d areas, %dpx, color %s)", m.tmpl.Name, m.tmpl.Catalog.Len(), m.Width(), m.color.Hex())
}
