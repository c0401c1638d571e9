// Package cache provides caching for rendered maps and loaded map templates.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/allegro/bigcache/v3"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mapshade/server/internal/choropleth"
)

// Config contains cache configuration.
type Config struct {
	RenderCacheSizeMB int
	RenderTTL         time.Duration
	TemplateCacheSize int
}

// Manager manages the render and template caches.
type Manager struct {
	renders   *bigcache.BigCache
	templates *lru.Cache[string, *choropleth.Template]
}

// NewManager creates a new cache manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.RenderTTL <= 0 {
		cfg.RenderTTL = 10 * time.Minute
	}
	if cfg.TemplateCacheSize <= 0 {
		cfg.TemplateCacheSize = 16
	}

	renderCacheConfig := bigcache.Config{
		Shards:             256,
		LifeWindow:         cfg.RenderTTL,
		CleanWindow:        cfg.RenderTTL / 2,
		MaxEntriesInWindow: 10000,
		MaxEntrySize:       256 * 1024, // rendered PNG
		HardMaxCacheSize:   cfg.RenderCacheSizeMB,
		Verbose:            false,
	}

	renders, err := bigcache.New(context.Background(), renderCacheConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create render cache: %w", err)
	}

	templates, err := lru.New[string, *choropleth.Template](cfg.TemplateCacheSize)
	if err != nil {
		renders.Close()
		return nil, fmt.Errorf("failed to create template cache: %w", err)
	}

	return &Manager{
		renders:   renders,
		templates: templates,
	}, nil
}

// GetRender retrieves a rendered PNG.
func (m *Manager) GetRender(key string) ([]byte, bool) {
	data, err := m.renders.Get(key)
	if err != nil {
		return nil, false
	}
	return data, true
}

// SetRender stores a rendered PNG.
func (m *Manager) SetRender(key string, data []byte) error {
	return m.renders.Set(key, data)
}

// GetTemplate retrieves a loaded template by map name.
func (m *Manager) GetTemplate(name string) (*choropleth.Template, bool) {
	return m.templates.Get(name)
}

// SetTemplate stores a loaded template.
func (m *Manager) SetTemplate(name string, t *choropleth.Template) {
	m.templates.Add(name, t)
}

// RemoveTemplate drops a template so that it is read from disk again.
func (m *Manager) RemoveTemplate(name string) {
	m.templates.Remove(name)
}

// RenderKey generates a cache key for a render of mapName. The parameters
// are sorted, so their order does not matter.
func RenderKey(mapName string, params map[string]string) string {
	base := "render:" + mapName
	if len(params) == 0 {
		return base
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	return base + ":" + hex.EncodeToString(h.Sum(nil))[:16]
}

// ReportKey generates a cache key for a report render. revision changes
// whenever rows are added to the report. Report names are case-sensitive.
func ReportKey(mapName, report string, revision int64, params map[string]string) string {
	return RenderKey(mapName, params) + fmt.Sprintf(":report:%s@%d", report, revision)
}

// Stats returns cache statistics.
func (m *Manager) Stats() map[string]interface{} {
	return map[string]interface{}{
		"render_cache_len":   m.renders.Len(),
		"render_cache_cap":   m.renders.Capacity(),
		"template_cache_len": m.templates.Len(),
	}
}

// Close closes the cache manager.
func (m *Manager) Close() error {
	return m.renders.Close()
}
