package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mapshade/server/internal/maperr"
)

func TestLoad_Full(t *testing.T) {
	content := `
server:
  port: 9000
  title: "Visitors"
maps:
  - name: us_states
    base_path: /srv/maps
  - name: world
render:
  width: 640
  color: "255,0,0"
  compression: 0
geoip:
  mmdb_path: /srv/GeoLite2-City.mmdb
log:
  format: json
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 9000 || cfg.Server.Title != "Visitors" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.DefaultMap() != "us_states" {
		t.Errorf("expected default map us_states, got %q", cfg.DefaultMap())
	}
	names := cfg.MapNames()
	if len(names) != 2 || names[1] != "world" {
		t.Errorf("unexpected map order %v", names)
	}
	world, ok := cfg.Map("world")
	if !ok || world.BasePath != "./maps" {
		t.Errorf("expected default base path for world, got %+v", world)
	}
	if cfg.Render.Width != 640 || cfg.Render.Color != "255,0,0" {
		t.Errorf("unexpected render config %+v", cfg.Render)
	}
	if cfg.Render.CompressionLevel() != 0 {
		t.Errorf("explicit compression 0 replaced by %d", cfg.Render.CompressionLevel())
	}
	if cfg.GeoIP.MMDBPath != "/srv/GeoLite2-City.mmdb" || cfg.GeoIP.BlocksTable != "blocks" {
		t.Errorf("unexpected geoip config %+v", cfg.GeoIP)
	}
	if cfg.Log.Format != "json" || cfg.Log.Level != "info" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	content := `
server:
  port: 0
`
	cfg := loadFromString(t, content)

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.DefaultMap() != "us" {
		t.Errorf("expected default map us, got %q", cfg.DefaultMap())
	}
	if cfg.Render.MinWidth != 50 || cfg.Render.MinThreshold != 0.10 || cfg.Render.CompressionLevel() != 4 {
		t.Errorf("unexpected render defaults %+v", cfg.Render)
	}
	if cfg.Cache.RenderSizeMB != 64 || cfg.Cache.TemplateCacheSize != 16 {
		t.Errorf("unexpected cache defaults %+v", cfg.Cache)
	}
	if cfg.Store.SQLitePath != "./data/reports.sqlite" {
		t.Errorf("unexpected store path %q", cfg.Store.SQLitePath)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Render.Width != 1000 {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"width below minimum": "render:\n  width: 20\n",
		"compression":         "render:\n  compression: 11\n",
		"threshold":           "render:\n  min_threshold: 1.5\n",
		"color":               "render:\n  color: \"blue\"\n",
		"country":             "render:\n  default_country: USA\n",
		"duplicate map":       "maps:\n  - name: us\n  - name: us\n",
		"unnamed map":         "maps:\n  - base_path: /tmp\n",
		"dotted map name":     "maps:\n  - name: us.v2\n",
		"syntax":              "server: [\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); !errors.Is(err, maperr.ErrConfig) {
				t.Fatalf("expected ErrConfig, got %v", err)
			}
		})
	}
}

func loadFromString(t *testing.T, content string) *Config {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	return cfg
}
