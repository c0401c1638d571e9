// Package service provides the map rendering logic behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mapshade/server/internal/cache"
	"github.com/mapshade/server/internal/choropleth"
	"github.com/mapshade/server/internal/config"
	"github.com/mapshade/server/internal/geoip"
	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/logging"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/metrics"
	"github.com/mapshade/server/internal/reportstore"
	"github.com/mapshade/server/internal/shade"
	"github.com/mapshade/server/pkg/colormap"
)

var (
	// ErrUnknownMap is returned for a map name that is not configured.
	ErrUnknownMap = errors.New("unknown map")
	// ErrUnknownReport is returned for a report that has no rows.
	ErrUnknownReport = errors.New("unknown report")
	// ErrNoGeoIP is returned when no GeoIP resolver is configured.
	ErrNoGeoIP = errors.New("geoip lookups are not configured")
)

// MapServiceConfig contains map service configuration.
type MapServiceConfig struct {
	Maps    []config.MapConfig
	Render  config.RenderConfig
	Cache   *cache.Manager
	Reports *reportstore.Store // optional
	GeoIP   geoip.Resolver     // optional
	Metrics *metrics.Collector // optional
	Logger  logging.Logger
}

// MapService loads map templates and renders them.
type MapService struct {
	maps    map[string]config.MapConfig
	order   []string
	render  config.RenderConfig
	cache   *cache.Manager
	reports *reportstore.Store
	geoip   geoip.Resolver
	metrics *metrics.Collector
	log     logging.Logger

	loadMu sync.Mutex
}

// NewMapService creates a new map service.
func NewMapService(cfg MapServiceConfig) *MapService {
	s := &MapService{
		maps:    make(map[string]config.MapConfig, len(cfg.Maps)),
		render:  cfg.Render,
		cache:   cfg.Cache,
		reports: cfg.Reports,
		geoip:   cfg.GeoIP,
		metrics: cfg.Metrics,
		log:     cfg.Logger,
	}
	if s.log == nil {
		s.log = logging.Noop()
	}
	for _, m := range cfg.Maps {
		s.maps[m.Name] = m
		s.order = append(s.order, m.Name)
	}
	return s
}

// MapNames returns the configured map names in configuration order.
func (s *MapService) MapNames() []string {
	return append([]string(nil), s.order...)
}

// DefaultMap returns the first configured map.
func (s *MapService) DefaultMap() string {
	if len(s.order) == 0 {
		return ""
	}
	return s.order[0]
}

// DefaultCountry returns the country used for region-only values.
func (s *MapService) DefaultCountry() string {
	return s.render.DefaultCountry
}

// HasGeoIP reports whether a GeoIP resolver is configured.
func (s *MapService) HasGeoIP() bool {
	return s.geoip != nil
}

// Template returns the loaded template of a configured map.
func (s *MapService) Template(name string) (*choropleth.Template, error) {
	mc, ok := s.maps[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMap, name)
	}

	if t, ok := s.cache.GetTemplate(name); ok {
		s.metrics.ObserveCache("template", true)
		return t, nil
	}
	s.metrics.ObserveCache("template", false)

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	// Another request may have loaded it while we waited.
	if t, ok := s.cache.GetTemplate(name); ok {
		return t, nil
	}

	start := time.Now()
	t, err := choropleth.LoadTemplate(name, mc.BasePath)
	if err != nil {
		return nil, err
	}
	s.cache.SetTemplate(name, t)
	s.log.Info(context.Background(), "loaded map template",
		logging.String("map", name),
		logging.Int("areas", t.Catalog.Len()),
		logging.Int("width", t.Width()),
		logging.Int("height", t.Height()),
		logging.Duration("duration", time.Since(start)),
	)
	return t, nil
}

// AreaInfo describes one area of a map.
type AreaInfo struct {
	ID      int      `json:"id"`
	Country string   `json:"country"`
	Names   []string `json:"names,omitempty"`
}

// MapInfo summarizes a map.
type MapInfo struct {
	Name   string `json:"name"`
	Areas  int    `json:"areas"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Info returns the summary of a map.
func (s *MapService) Info(name string) (*MapInfo, error) {
	t, err := s.Template(name)
	if err != nil {
		return nil, err
	}
	return &MapInfo{Name: name, Areas: t.Catalog.Len(), Width: t.Width(), Height: t.Height()}, nil
}

// Areas lists the areas of a map in definition order.
func (s *MapService) Areas(name string) ([]AreaInfo, error) {
	t, err := s.Template(name)
	if err != nil {
		return nil, err
	}
	out := make([]AreaInfo, 0, t.Catalog.Len())
	for _, a := range t.Catalog.Areas() {
		out = append(out, AreaInfo{ID: a.ID, Country: a.Country, Names: a.Names})
	}
	return out, nil
}

// Lookup resolves a country and region on a map.
func (s *MapService) Lookup(name, country, region string) (int, bool, error) {
	t, err := s.Template(name)
	if err != nil {
		return 0, false, err
	}
	id, ok := t.Catalog.Lookup(country, region)
	return id, ok, nil
}

// Value is one explicitly set area value.
type Value struct {
	Country string
	Region  string
	Value   float64
}

// RenderRequest describes one map render.
type RenderRequest struct {
	Map         string
	Color       string   // base color; the configured color when empty
	Width       int      // the configured width when 0
	Target      *float64 // shading denominator override
	Series      int
	Compression *int
	Colormap    string   // shade with a continuous colormap instead of Color
	Parties     []string // "name" or "name:color"; enables election shading
	Values      []Value  // applied with Set before any import
}

func (r RenderRequest) cacheParams() map[string]string {
	p := map[string]string{
		"color":    strings.ToLower(r.Color),
		"width":    strconv.Itoa(r.Width),
		"series":   strconv.Itoa(r.Series),
		"colormap": strings.ToLower(r.Colormap),
		"parties":  strings.Join(r.Parties, "\x1f"),
	}
	if r.Target != nil {
		p["target"] = strconv.FormatFloat(*r.Target, 'g', -1, 64)
	}
	if r.Compression != nil {
		p["compression"] = strconv.Itoa(*r.Compression)
	}
	for i, v := range r.Values {
		p["v"+strconv.Itoa(i)] = strings.ToUpper(v.Country) + "/" + strings.ToLower(v.Region) + "=" +
			strconv.FormatFloat(v.Value, 'g', -1, 64)
	}
	return p
}

func (s *MapService) compression(r RenderRequest) int {
	if r.Compression != nil {
		return *r.Compression
	}
	return s.render.CompressionLevel()
}

// newMap builds a shading context for the request.
func (s *MapService) newMap(r RenderRequest) (*choropleth.Map, error) {
	t, err := s.Template(r.Map)
	if err != nil {
		return nil, err
	}

	color := r.Color
	if color == "" {
		color = s.render.Color
	}
	width := r.Width
	if width == 0 {
		width = s.render.Width
	}

	m, err := choropleth.New(t, choropleth.Config{
		Color:          color,
		Width:          width,
		MinThreshold:   s.render.MinThreshold,
		MinWidth:       s.render.MinWidth,
		DefaultCountry: s.render.DefaultCountry,
	})
	if err != nil {
		return nil, err
	}

	if r.Target != nil {
		m.SetTargetValue(*r.Target)
	}

	switch {
	case len(r.Parties) > 0:
		e, err := newElection(r.Parties)
		if err != nil {
			return nil, err
		}
		m.SetStrategy(e)
	case r.Colormap != "":
		cm, ok := colormap.ByName(strings.ToLower(r.Colormap))
		if !ok {
			return nil, maperr.New(maperr.ErrConfig, "unknown colormap %q (available: %s)",
				r.Colormap, strings.Join(colormap.Names(), ", "))
		}
		m.SetStrategy(shade.Ramp{Colormap: cm})
	}

	for _, v := range r.Values {
		country := v.Country
		if country == "" {
			country = s.render.DefaultCountry
		}
		m.Set(country, v.Region, v.Value, r.Series)
	}
	return m, nil
}

func newElection(parties []string) (*shade.Election, error) {
	e := shade.NewElection()
	for _, p := range parties {
		name, hex, found := strings.Cut(p, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, maperr.New(maperr.ErrConfig, "empty party name in %q", p)
		}
		if !found {
			e.AddPartyAuto(name)
			continue
		}
		c, err := colormap.Parse(hex)
		if err != nil {
			return nil, err
		}
		e.AddParty(name, c)
	}
	return e, nil
}

// Render draws a map from explicit values. Results are cached.
func (s *MapService) Render(ctx context.Context, r RenderRequest) ([]byte, error) {
	key := cache.RenderKey(r.Map, r.cacheParams())
	return s.cached(ctx, r.Map, key, func() ([]byte, error) {
		m, err := s.newMap(r)
		if err != nil {
			return nil, err
		}
		return m.Render(s.compression(r), r.Series)
	})
}

// RenderImport draws a map from the rows of an import adapter. Results are
// not cached.
func (s *MapService) RenderImport(ctx context.Context, r RenderRequest, adapterName string, a importer.Adapter) ([]byte, choropleth.ImportStats, error) {
	start := time.Now()
	m, err := s.newMap(r)
	if err != nil {
		s.metrics.ObserveRender(r.Map, "error", time.Since(start))
		return nil, choropleth.ImportStats{}, err
	}

	stats, err := m.Import(ctx, a)
	if err != nil {
		s.metrics.ObserveRender(r.Map, "error", time.Since(start))
		return nil, stats, err
	}
	s.metrics.ObserveImport(adapterName, stats.Rows, stats.Unresolved)

	data, err := m.Render(s.compression(r), r.Series)
	if err != nil {
		s.metrics.ObserveRender(r.Map, "error", time.Since(start))
		return nil, stats, err
	}
	s.metrics.ObserveRender(r.Map, "ok", time.Since(start))
	s.log.Info(ctx, "rendered import",
		logging.String("map", r.Map),
		logging.String("adapter", adapterName),
		logging.Int("rows", stats.Rows),
		logging.Int("unresolved", stats.Unresolved),
		logging.Duration("duration", time.Since(start)),
	)
	return data, stats, nil
}

// RenderGeoIP draws a map from the addresses found in raw text, such as a
// web server log. Stats count unknown addresses as unresolved.
func (s *MapService) RenderGeoIP(ctx context.Context, r RenderRequest, text io.Reader) ([]byte, choropleth.ImportStats, error) {
	if s.geoip == nil {
		return nil, choropleth.ImportStats{}, ErrNoGeoIP
	}
	g := importer.NewGeoIPText(text, s.geoip)
	data, stats, err := s.RenderImport(ctx, r, "geoip", g)
	// addresses the resolver does not know count as unresolved too
	stats.Unresolved += g.Unresolved()
	return data, stats, err
}

// RenderReport draws a map from a stored report. Results are cached per
// report revision.
func (s *MapService) RenderReport(ctx context.Context, r RenderRequest, report string) ([]byte, error) {
	if s.reports == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, report)
	}
	rep, err := s.reports.GetReport(report)
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	if rep == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownReport, report)
	}

	key := cache.ReportKey(r.Map, report, rep.Revision, r.cacheParams())
	return s.cached(ctx, r.Map, key, func() ([]byte, error) {
		m, err := s.newMap(r)
		if err != nil {
			return nil, err
		}
		a := s.reports.Adapter(report)
		defer a.Close()

		stats, err := m.Import(ctx, a)
		if err != nil {
			return nil, err
		}
		s.metrics.ObserveImport("report", stats.Rows, stats.Unresolved)
		return m.Render(s.compression(r), r.Series)
	})
}

// AddReportRows appends rows to a stored report.
func (s *MapService) AddReportRows(report string, rows []reportstore.Row) (int64, error) {
	if s.reports == nil {
		return 0, errors.New("report storage is not configured")
	}
	return s.reports.AddRows(report, rows)
}

// Reports lists the stored reports.
func (s *MapService) Reports() ([]*reportstore.Report, error) {
	if s.reports == nil {
		return nil, nil
	}
	return s.reports.ListReports()
}

func (s *MapService) cached(ctx context.Context, mapName, key string, render func() ([]byte, error)) ([]byte, error) {
	if data, ok := s.cache.GetRender(key); ok {
		s.metrics.ObserveCache("render", true)
		s.metrics.ObserveRender(mapName, "cached", 0)
		return data, nil
	}
	s.metrics.ObserveCache("render", false)

	start := time.Now()
	data, err := render()
	if err != nil {
		s.metrics.ObserveRender(mapName, "error", time.Since(start))
		return nil, err
	}
	s.metrics.ObserveRender(mapName, "ok", time.Since(start))

	if err := s.cache.SetRender(key, data); err != nil {
		s.log.Warn(ctx, "failed to cache render", logging.String("map", mapName), logging.Err(err))
	}
	s.log.Debug(ctx, "rendered map",
		logging.String("map", mapName),
		logging.Int("bytes", len(data)),
		logging.Duration("duration", time.Since(start)),
	)
	return data, nil
}
