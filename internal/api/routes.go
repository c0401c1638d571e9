// Package api provides HTTP handlers for the mapshade server.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/logging"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/metrics"
	"github.com/mapshade/server/internal/reportstore"
	"github.com/mapshade/server/internal/service"
)

// maxUploadBytes bounds the raw request body.
const maxUploadBytes = 64 << 20

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.MapService
	Metrics     *metrics.Collector // optional; /metrics is not mounted when nil
	Logger      logging.Logger
	CORSOrigins []string
	Title       string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = logging.Noop()
	}
	h := &handlers{svc: cfg.Service, log: cfg.Logger, title: cfg.Title}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5, "application/json", "text/plain"))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Encoding"},
		ExposedHeaders:   []string{"X-Import-Rows", "X-Import-Unresolved"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/maps", h.maps)
		r.Get("/maps/{map}/areas", h.areas)
		r.Get("/maps/{map}/lookup", h.lookup)

		r.Get("/reports", h.reports)
		r.Post("/reports/{report}/rows", h.addReportRows)
	})

	// Rendered maps
	r.Get("/maps/{map}.png", h.render)
	r.Post("/maps/{map}.png", h.renderUpload)
	r.Post("/maps/{map}/geoip.png", h.renderGeoIP)
	r.Get("/maps/{map}/reports/{report}.png", h.renderReport)

	return r
}

type handlers struct {
	svc   *service.MapService
	log   logging.Logger
	title string
}

// mapEntry is one map in the /api/maps listing.
type mapEntry struct {
	service.MapInfo
	Error string `json:"error,omitempty"`
}

// maps lists the configured maps.
func (h *handlers) maps(w http.ResponseWriter, r *http.Request) {
	names := h.svc.MapNames()
	entries := make([]mapEntry, 0, len(names))
	for _, name := range names {
		info, err := h.svc.Info(name)
		if err != nil {
			h.log.Warn(r.Context(), "map unavailable", logging.String("map", name), logging.Err(err))
			entries = append(entries, mapEntry{MapInfo: service.MapInfo{Name: name}, Error: err.Error()})
			continue
		}
		entries = append(entries, mapEntry{MapInfo: *info})
	}

	title := h.title
	if title == "" {
		title = "mapshade"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"title":           title,
		"default":         h.svc.DefaultMap(),
		"default_country": h.svc.DefaultCountry(),
		"geoip":           h.svc.HasGeoIP(),
		"maps":            entries,
	})
}

func (h *handlers) areas(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	areas, err := h.svc.Areas(mapName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"map":   mapName,
		"areas": areas,
	})
}

// lookup resolves ?country=&region= to an area id. A miss is not an error.
func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) {
	mapName := chi.URLParam(r, "map")
	country := strings.TrimSpace(r.URL.Query().Get("country"))
	if country == "" {
		country = h.svc.DefaultCountry()
	}
	region := strings.TrimSpace(r.URL.Query().Get("region"))

	id, found, err := h.svc.Lookup(mapName, country, region)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"map":     mapName,
		"country": country,
		"region":  region,
		"id":      id,
		"found":   found,
	})
}

func (h *handlers) reports(w http.ResponseWriter, r *http.Request) {
	reports, err := h.svc.Reports()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if reports == nil {
		reports = []*reportstore.Report{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"reports": reports})
}

// addReportRows accepts either a JSON array of rows or {"rows": [...]}.
func (h *handlers) addReportRows(w http.ResponseWriter, r *http.Request) {
	report := chi.URLParam(r, "report")

	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()

	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var rows []reportstore.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		var wrapped struct {
			Rows []reportstore.Row `json:"rows"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			http.Error(w, "invalid JSON body: expected an array of rows", http.StatusBadRequest)
			return
		}
		rows = wrapped.Rows
	}
	if len(rows) == 0 {
		http.Error(w, "no rows", http.StatusBadRequest)
		return
	}

	revision, err := h.svc.AddReportRows(report, rows)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.Info(r.Context(), "stored report rows",
		logging.String("report", report),
		logging.Int("rows", len(rows)),
		logging.Any("revision", revision),
	)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"report":   report,
		"rows":     len(rows),
		"revision": revision,
	})
}

func (h *handlers) render(w http.ResponseWriter, r *http.Request) {
	req, err := parseRenderRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.svc.Render(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePNG(w, data, true)
}

// renderUpload shades the map from a delimited body. Query parameters:
// header (default true), delimiter, lazy_quotes and col_<field> for the
// column mapping.
func (h *handlers) renderUpload(w http.ResponseWriter, r *http.Request) {
	req, err := parseRenderRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	opts, mapping, err := parseDelimitedOptions(r, h.svc.DefaultCountry())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()

	d, err := importer.NewDelimited(body, opts)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	for f, col := range mapping {
		if err := d.Map(f, col); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	data, stats, err := h.svc.RenderImport(r.Context(), req, "delimited", d)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStats(w, stats.Rows, stats.Unresolved)
	writePNG(w, data, false)
}

func (h *handlers) renderGeoIP(w http.ResponseWriter, r *http.Request) {
	req, err := parseRenderRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer body.Close()

	data, stats, err := h.svc.RenderGeoIP(r.Context(), req, body)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeStats(w, stats.Rows, stats.Unresolved)
	writePNG(w, data, false)
}

func (h *handlers) renderReport(w http.ResponseWriter, r *http.Request) {
	req, err := parseRenderRequest(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	data, err := h.svc.RenderReport(r.Context(), req, chi.URLParam(r, "report"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writePNG(w, data, false)
}

// fail writes err with the status matching its kind.
func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed",
			logging.String("path", r.URL.Path),
			logging.Err(err),
		)
	}
	http.Error(w, err.Error(), status)
}

func statusOf(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, service.ErrUnknownMap), errors.Is(err, service.ErrUnknownReport):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNoGeoIP):
		return http.StatusNotImplemented
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, maperr.ErrConfig),
		errors.Is(err, maperr.ErrBadColorValue),
		errors.Is(err, maperr.ErrImport):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writePNG(w http.ResponseWriter, data []byte, cacheable bool) {
	w.Header().Set("Content-Type", "image/png")
	if cacheable {
		w.Header().Set("Cache-Control", "public, max-age=3600")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

func writeStats(w http.ResponseWriter, rows, unresolved int) {
	w.Header().Set("X-Import-Rows", strconv.Itoa(rows))
	w.Header().Set("X-Import-Unresolved", strconv.Itoa(unresolved))
}
