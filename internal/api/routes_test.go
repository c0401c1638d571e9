package api

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mapshade/server/internal/cache"
	"github.com/mapshade/server/internal/config"
	"github.com/mapshade/server/internal/geoip"
	"github.com/mapshade/server/internal/maptest"
	"github.com/mapshade/server/internal/metrics"
	"github.com/mapshade/server/internal/reportstore"
	"github.com/mapshade/server/internal/service"
	"github.com/mapshade/server/pkg/colormap"
)

type fakeResolver map[string]geoip.Location

func (f fakeResolver) Resolve(_ context.Context, ip net.IP) (geoip.Location, bool, error) {
	loc, ok := f[ip.String()]
	return loc, ok, nil
}

// setupTestServer serves the three-area US fixture at 300x100.
func setupTestServer(t *testing.T, resolver geoip.Resolver) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	maptest.Write(t, dir, "us", 300, 100, maptest.US)

	cm, err := cache.NewManager(cache.Config{RenderCacheSizeMB: 8, RenderTTL: time.Minute, TemplateCacheSize: 4})
	if err != nil {
		t.Fatalf("Failed to initialize cache: %v", err)
	}
	t.Cleanup(func() { cm.Close() })

	store, err := reportstore.NewStore(filepath.Join(dir, "reports.sqlite"))
	if err != nil {
		t.Fatalf("Failed to open report store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	mc, err := metrics.New(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("Failed to register metrics: %v", err)
	}

	cfg := config.DefaultConfig()
	svc := service.NewMapService(service.MapServiceConfig{
		Maps:    []config.MapConfig{{Name: "us", BasePath: dir}, {Name: "missing", BasePath: dir}},
		Render:  cfg.Render,
		Cache:   cm,
		Reports: store,
		GeoIP:   resolver,
		Metrics: mc,
	})

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Service:     svc,
		Metrics:     mc,
		CORSOrigins: []string{"*"},
		Title:       "test maps",
	}))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func post(t *testing.T, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

// bandColors decodes a PNG response and samples the three fixture bands.
func bandColors(t *testing.T, resp *http.Response) [3]colormap.RGB {
	t.Helper()
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("Expected Content-Type image/png, got %s", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	b := img.Bounds()
	var out [3]colormap.RGB
	for i := range out {
		pt := maptest.BandCenter(b.Dx(), b.Dy(), 3, i)
		out[i] = colormap.FromColor(img.At(pt.X, pt.Y))
	}
	return out
}

func near(a, b colormap.RGB) bool {
	d := func(x, y uint8) bool { return x-y <= 1 || y-x <= 1 }
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B)
}

var (
	full  = colormap.RGB{R: 21, G: 80, B: 131}
	half  = colormap.RGB{R: 138, G: 167, B: 193}
	floor = colormap.RGB{R: 231, G: 237, B: 242} // minimum threshold of 0.10
)

func TestHealthEndpoint(t *testing.T) {
	srv := setupTestServer(t, nil)

	resp := get(t, srv.URL+"/health")
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got '%s'", body)
	}
}

func TestMapsEndpoint(t *testing.T) {
	srv := setupTestServer(t, nil)

	resp := get(t, srv.URL+"/api/maps")
	expectStatus(t, resp, http.StatusOK)

	var listing struct {
		Title   string `json:"title"`
		Default string `json:"default"`
		GeoIP   bool   `json:"geoip"`
		Maps    []struct {
			Name  string `json:"name"`
			Areas int    `json:"areas"`
			Width int    `json:"width"`
			Error string `json:"error"`
		} `json:"maps"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if listing.Title != "test maps" || listing.Default != "us" || listing.GeoIP {
		t.Errorf("Unexpected listing header: %+v", listing)
	}
	if len(listing.Maps) != 2 {
		t.Fatalf("Expected 2 maps, got %d", len(listing.Maps))
	}
	if m := listing.Maps[0]; m.Name != "us" || m.Areas != 3 || m.Width != 300 || m.Error != "" {
		t.Errorf("Unexpected us entry: %+v", m)
	}
	if m := listing.Maps[1]; m.Name != "missing" || m.Error == "" {
		t.Errorf("Expected an error for the missing map, got %+v", m)
	}
}

func TestAreasAndLookup(t *testing.T) {
	srv := setupTestServer(t, nil)

	resp := get(t, srv.URL+"/api/maps/us/areas")
	expectStatus(t, resp, http.StatusOK)
	var areas struct {
		Areas []service.AreaInfo `json:"areas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&areas); err != nil {
		t.Fatalf("Failed to decode areas: %v", err)
	}
	if len(areas.Areas) != 3 || areas.Areas[2].Country != "US" {
		t.Errorf("Unexpected areas: %+v", areas.Areas)
	}

	tests := []struct {
		query string
		id    int
		found bool
	}{
		{"region=Wisconsin", 3, true},
		{"region=mn", 2, true},
		{"country=CA", 1, true},
		{"region=Texas", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			resp := get(t, srv.URL+"/api/maps/us/lookup?"+tt.query)
			expectStatus(t, resp, http.StatusOK)
			var got struct {
				ID    int  `json:"id"`
				Found bool `json:"found"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode lookup: %v", err)
			}
			if got.ID != tt.id || got.Found != tt.found {
				t.Errorf("lookup %s = (%d, %v), want (%d, %v)", tt.query, got.ID, got.Found, tt.id, tt.found)
			}
		})
	}

	expectStatus(t, get(t, srv.URL+"/api/maps/nowhere/areas"), http.StatusNotFound)
}

func TestRenderFromQueryValues(t *testing.T) {
	srv := setupTestServer(t, nil)

	resp := get(t, srv.URL+"/maps/us.png?MN=10&WI=5.9")
	expectStatus(t, resp, http.StatusOK)
	if cc := resp.Header.Get("Cache-Control"); !strings.Contains(cc, "max-age") {
		t.Errorf("Expected a cacheable response, got Cache-Control %q", cc)
	}

	bands := bandColors(t, resp)
	if !near(bands[0], floor) {
		t.Errorf("Canada has no value, expected %v, got %v", floor, bands[0])
	}
	if !near(bands[1], full) {
		t.Errorf("Minnesota = %v, want %v", bands[1], full)
	}
	// 5.9 is truncated to 5, half of the maximum.
	if !near(bands[2], half) {
		t.Errorf("Wisconsin = %v, want %v", bands[2], half)
	}
}

func TestRenderQueryOptions(t *testing.T) {
	srv := setupTestServer(t, nil)

	resp := get(t, srv.URL+"/maps/us.png?MN=5&target=10&width=150&color=ff0000")
	expectStatus(t, resp, http.StatusOK)
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("Response is not a valid PNG: %v", err)
	}
	if w := img.Bounds().Dx(); w != 150 {
		t.Errorf("Expected width 150, got %d", w)
	}
}

func TestRenderErrors(t *testing.T) {
	srv := setupTestServer(t, nil)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"unknown map", "/maps/nowhere.png", http.StatusNotFound},
		{"bad width", "/maps/us.png?width=wide", http.StatusBadRequest},
		{"width below minimum", "/maps/us.png?width=10", http.StatusBadRequest},
		{"bad color", "/maps/us.png?color=zzzzzz", http.StatusBadRequest},
		{"bad compression", "/maps/us.png?compression=12", http.StatusBadRequest},
		{"bad region value", "/maps/us.png?MN=lots", http.StatusBadRequest},
		{"unknown colormap", "/maps/us.png?colormap=sepia", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, get(t, srv.URL+tt.path), tt.want)
		})
	}
}

func TestRenderUpload(t *testing.T) {
	srv := setupTestServer(t, nil)
	const data = "state,votes\nMN,10\nWI,5\n"

	t.Run("plain", func(t *testing.T) {
		resp := post(t, srv.URL+"/maps/us.png?col_region=state&col_value=votes", "text/csv", strings.NewReader(data))
		expectStatus(t, resp, http.StatusOK)
		if rows := resp.Header.Get("X-Import-Rows"); rows != "2" {
			t.Errorf("Expected 2 imported rows, got %q", rows)
		}
		bands := bandColors(t, resp)
		if !near(bands[1], full) || !near(bands[2], half) {
			t.Errorf("Unexpected colors %v", bands)
		}
	})

	t.Run("gzip", func(t *testing.T) {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte(strings.ReplaceAll(data, ",", ";")))
		zw.Close()

		resp := post(t, srv.URL+"/maps/us.png?delimiter=%3B&col_region=state&col_value=votes", "application/gzip", &buf)
		expectStatus(t, resp, http.StatusOK)
		bands := bandColors(t, resp)
		if !near(bands[1], full) {
			t.Errorf("Minnesota = %v, want %v", bands[1], full)
		}
	})

	t.Run("bad value", func(t *testing.T) {
		resp := post(t, srv.URL+"/maps/us.png?col_region=state&col_value=votes", "text/csv",
			strings.NewReader("state,votes\nMN,10\nWI,many\n"))
		expectStatus(t, resp, http.StatusBadRequest)
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), "line 3") {
			t.Errorf("Expected the failing line in %q", body)
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		resp := post(t, srv.URL+"/maps/us.png?col_party=state", "text/csv", strings.NewReader(data))
		expectStatus(t, resp, http.StatusBadRequest)
	})

	t.Run("unknown column", func(t *testing.T) {
		resp := post(t, srv.URL+"/maps/us.png?col_region=province", "text/csv", strings.NewReader("state,votes\n"))
		expectStatus(t, resp, http.StatusBadRequest)
	})
}

func TestRenderGeoIP(t *testing.T) {
	logText := "10.0.0.1 - - GET /\n10.0.0.2 - - GET /\n192.0.2.9 - - GET /\n"

	t.Run("not configured", func(t *testing.T) {
		srv := setupTestServer(t, nil)
		resp := post(t, srv.URL+"/maps/us/geoip.png", "text/plain", strings.NewReader(logText))
		expectStatus(t, resp, http.StatusNotImplemented)
	})

	t.Run("resolved", func(t *testing.T) {
		srv := setupTestServer(t, fakeResolver{
			"10.0.0.1": {Country: "US", Region: "MN"},
			"10.0.0.2": {Country: "US", Region: "MN"},
		})
		resp := post(t, srv.URL+"/maps/us/geoip.png", "text/plain", strings.NewReader(logText))
		expectStatus(t, resp, http.StatusOK)
		if got := resp.Header.Get("X-Import-Unresolved"); got != "1" {
			t.Errorf("Expected 1 unresolved address, got %q", got)
		}
		bands := bandColors(t, resp)
		if !near(bands[1], full) || !near(bands[2], floor) {
			t.Errorf("Unexpected colors %v", bands)
		}
	})
}

func TestReports(t *testing.T) {
	srv := setupTestServer(t, nil)

	expectStatus(t, get(t, srv.URL+"/maps/us/reports/turnout.png"), http.StatusNotFound)

	rows := `[{"country":"US","region":"MN","value":10},{"country":"US","region":"WI","value":5}]`
	resp := post(t, srv.URL+"/api/reports/turnout/rows", "application/json", strings.NewReader(rows))
	expectStatus(t, resp, http.StatusCreated)
	var added struct {
		Rows     int   `json:"rows"`
		Revision int64 `json:"revision"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&added); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if added.Rows != 2 || added.Revision != 1 {
		t.Errorf("Unexpected response %+v", added)
	}

	resp = get(t, srv.URL+"/api/reports")
	expectStatus(t, resp, http.StatusOK)
	var listing struct {
		Reports []reportstore.Report `json:"reports"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		t.Fatalf("Failed to decode reports: %v", err)
	}
	if len(listing.Reports) != 1 || listing.Reports[0].Name != "turnout" || listing.Reports[0].Rows != 2 {
		t.Errorf("Unexpected reports %+v", listing.Reports)
	}

	resp = get(t, srv.URL+"/maps/us/reports/turnout.png")
	expectStatus(t, resp, http.StatusOK)
	bands := bandColors(t, resp)
	if !near(bands[1], full) || !near(bands[2], half) {
		t.Errorf("Unexpected colors %v", bands)
	}

	t.Run("wrapped rows", func(t *testing.T) {
		resp := post(t, srv.URL+"/api/reports/turnout/rows", "application/json",
			strings.NewReader(`{"rows":[{"country":"CA","value":1}]}`))
		expectStatus(t, resp, http.StatusCreated)
	})
	t.Run("invalid rows", func(t *testing.T) {
		resp := post(t, srv.URL+"/api/reports/turnout/rows", "application/json",
			strings.NewReader(`[{"country":"USA","value":1}]`))
		expectStatus(t, resp, http.StatusBadRequest)
	})
	t.Run("invalid name", func(t *testing.T) {
		resp := post(t, srv.URL+"/api/reports/bad%20name/rows", "application/json", strings.NewReader(rows))
		expectStatus(t, resp, http.StatusBadRequest)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupTestServer(t, nil)
	expectStatus(t, get(t, srv.URL+"/maps/us.png?MN=1"), http.StatusOK)

	resp := get(t, srv.URL+"/metrics")
	expectStatus(t, resp, http.StatusOK)
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "mapshade_renders_total") {
		t.Errorf("Expected render counter in metrics output")
	}
}
