// Package config handles configuration loading for the map server.
package config

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/pkg/colormap"
)

// Config represents the server configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Maps   []MapConfig  `yaml:"maps"`
	Render RenderConfig `yaml:"render"`
	Cache  CacheConfig  `yaml:"cache"`
	Store  StoreConfig  `yaml:"store"`
	GeoIP  GeoIPConfig  `yaml:"geoip"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
	Title       string   `yaml:"title"`
}

// MapConfig names a map and the directory holding <name>.png and
// <name>.csv.
type MapConfig struct {
	Name     string `yaml:"name"`
	BasePath string `yaml:"base_path"`
}

// RenderConfig contains rendering defaults.
type RenderConfig struct {
	Width          int     `yaml:"width"`
	Color          string  `yaml:"color"`
	MinThreshold   float64 `yaml:"min_threshold"`
	MinWidth       int     `yaml:"min_width"`
	Compression    *int    `yaml:"compression"`
	DefaultCountry string  `yaml:"default_country"`
}

// CompressionLevel returns the configured PNG compression level.
func (r RenderConfig) CompressionLevel() int {
	if r.Compression == nil {
		return defaultCompression
	}
	return *r.Compression
}

// CacheConfig contains caching settings.
type CacheConfig struct {
	RenderSizeMB      int `yaml:"render_size_mb"`
	RenderTTLMinutes  int `yaml:"render_ttl_minutes"`
	TemplateCacheSize int `yaml:"template_cache_size"`
}

// StoreConfig locates the report database.
type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

// GeoIPConfig selects the address resolver. MMDBPath wins over SQLitePath;
// with neither set, GeoIP uploads are disabled.
type GeoIPConfig struct {
	MMDBPath       string `yaml:"mmdb_path"`
	SQLitePath     string `yaml:"sqlite_path"`
	BlocksTable    string `yaml:"blocks_table"`
	LocationsTable string `yaml:"locations_table"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultCompression = 4

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Return default config if file doesn't exist
		return DefaultConfig(), nil
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, maperr.Wrap(maperr.ErrConfig, err, "parse %s", path)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	compression := defaultCompression
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			CORSOrigins: []string{"*"},
			Title:       "mapshade",
		},
		Maps: []MapConfig{{Name: "us", BasePath: "./maps"}},
		Render: RenderConfig{
			Width:          1000,
			Color:          "155083",
			MinThreshold:   0.10,
			MinWidth:       50,
			Compression:    &compression,
			DefaultCountry: "US",
		},
		Cache: CacheConfig{
			RenderSizeMB:      64,
			RenderTTLMinutes:  10,
			TemplateCacheSize: 16,
		},
		Store: StoreConfig{
			SQLitePath: "./data/reports.sqlite",
		},
		GeoIP: GeoIPConfig{
			BlocksTable:    "blocks",
			LocationsTable: "locations",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

func applyDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaults.Server.Port
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = defaults.Server.CORSOrigins
	}
	if cfg.Server.Title == "" {
		cfg.Server.Title = defaults.Server.Title
	}
	if len(cfg.Maps) == 0 {
		cfg.Maps = defaults.Maps
	}
	for i := range cfg.Maps {
		if cfg.Maps[i].BasePath == "" {
			cfg.Maps[i].BasePath = defaults.Maps[0].BasePath
		}
	}
	if cfg.Render.Width == 0 {
		cfg.Render.Width = defaults.Render.Width
	}
	if cfg.Render.Color == "" {
		cfg.Render.Color = defaults.Render.Color
	}
	if cfg.Render.MinThreshold == 0 {
		cfg.Render.MinThreshold = defaults.Render.MinThreshold
	}
	if cfg.Render.MinWidth == 0 {
		cfg.Render.MinWidth = defaults.Render.MinWidth
	}
	if cfg.Render.Compression == nil {
		cfg.Render.Compression = defaults.Render.Compression
	}
	if cfg.Render.DefaultCountry == "" {
		cfg.Render.DefaultCountry = defaults.Render.DefaultCountry
	}
	if cfg.Cache.RenderSizeMB == 0 {
		cfg.Cache.RenderSizeMB = defaults.Cache.RenderSizeMB
	}
	if cfg.Cache.RenderTTLMinutes == 0 {
		cfg.Cache.RenderTTLMinutes = defaults.Cache.RenderTTLMinutes
	}
	if cfg.Cache.TemplateCacheSize == 0 {
		cfg.Cache.TemplateCacheSize = defaults.Cache.TemplateCacheSize
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = defaults.Store.SQLitePath
	}
	if cfg.GeoIP.BlocksTable == "" {
		cfg.GeoIP.BlocksTable = defaults.GeoIP.BlocksTable
	}
	if cfg.GeoIP.LocationsTable == "" {
		cfg.GeoIP.LocationsTable = defaults.GeoIP.LocationsTable
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaults.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = defaults.Log.Format
	}
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	r := c.Render
	if r.MinWidth < 1 {
		return maperr.New(maperr.ErrConfig, "render.min_width must be positive, got %d", r.MinWidth)
	}
	if r.Width < r.MinWidth {
		return maperr.New(maperr.ErrConfig, "render.width %d is below render.min_width %d", r.Width, r.MinWidth)
	}
	if lvl := r.CompressionLevel(); lvl < 0 || lvl > 9 {
		return maperr.New(maperr.ErrConfig, "render.compression must be 0-9, got %d", lvl)
	}
	if r.MinThreshold < 0 || r.MinThreshold > 1 {
		return maperr.New(maperr.ErrConfig, "render.min_threshold must be within 0-1, got %v", r.MinThreshold)
	}
	if _, err := colormap.Parse(r.Color); err != nil {
		return maperr.Wrap(maperr.ErrConfig, err, "render.color")
	}
	if len(r.DefaultCountry) != 2 {
		return maperr.New(maperr.ErrConfig, "render.default_country must be a 2-letter code, got %q", r.DefaultCountry)
	}

	seen := make(map[string]bool, len(c.Maps))
	for _, m := range c.Maps {
		if m.Name == "" {
			return maperr.New(maperr.ErrConfig, "maps: entry without a name")
		}
		if strings.ContainsAny(m.Name, "./\\") {
			return maperr.New(maperr.ErrConfig, "maps: map name %q may not contain '.' or a path separator", m.Name)
		}
		if seen[m.Name] {
			return maperr.New(maperr.ErrConfig, "maps: duplicate map %q", m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// DefaultMap returns the first configured map name.
func (c *Config) DefaultMap() string {
	if len(c.Maps) == 0 {
		return ""
	}
	return c.Maps[0].Name
}

// MapNames returns the configured map names in order.
func (c *Config) MapNames() []string {
	names := make([]string, len(c.Maps))
	for i, m := range c.Maps {
		names[i] = m.Name
	}
	return names
}

// Map returns the configuration of the named map.
func (c *Config) Map(name string) (MapConfig, bool) {
	for _, m := range c.Maps {
		if m.Name == name {
			return m, true
		}
	}
	return MapConfig{}, false
}
