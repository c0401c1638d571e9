package api

import (
	"io"
	"math"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/service"
)

// regionParamRE matches query parameters that name a region of the default
// country, e.g. ?MN=3&WI=7.
var regionParamRE = regexp.MustCompile(`^[A-Z]{2}$`)

// parseRenderRequest reads the render options and region values of a map
// request. Region values are truncated to integers.
func parseRenderRequest(r *http.Request) (service.RenderRequest, error) {
	q := r.URL.Query()
	req := service.RenderRequest{
		Map:      chi.URLParam(r, "map"),
		Color:    strings.TrimSpace(q.Get("color")),
		Colormap: strings.TrimSpace(q.Get("colormap")),
		Series:   1,
	}

	var err error
	if req.Width, err = intParam(q.Get("width"), "width"); err != nil {
		return req, err
	}
	if s := strings.TrimSpace(q.Get("series")); s != "" {
		if req.Series, err = intParam(s, "series"); err != nil {
			return req, err
		}
	}
	if s := strings.TrimSpace(q.Get("target")); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return req, maperr.New(maperr.ErrConfig, "invalid target %q", s)
		}
		req.Target = &v
	}
	if s := strings.TrimSpace(q.Get("compression")); s != "" {
		c, err := intParam(s, "compression")
		if err != nil {
			return req, err
		}
		req.Compression = &c
	}
	for _, p := range q["party"] {
		for _, party := range strings.Split(p, ",") {
			if party = strings.TrimSpace(party); party != "" {
				req.Parties = append(req.Parties, party)
			}
		}
	}

	keys := make([]string, 0, len(q))
	for k := range q {
		if regionParamRE.MatchString(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, s := range q[k] {
			v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return req, maperr.New(maperr.ErrConfig, "invalid value %q for %s", s, k)
			}
			req.Values = append(req.Values, service.Value{Region: k, Value: math.Trunc(v)})
		}
	}
	return req, nil
}

func intParam(s, name string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, maperr.New(maperr.ErrConfig, "invalid %s %q", name, s)
	}
	return v, nil
}

// parseDelimitedOptions reads the upload options: header (default true),
// delimiter (a single character or "tab"), lazy_quotes and the column
// mapping given as col_country, col_region, col_value and col_series.
func parseDelimitedOptions(r *http.Request, defaultCountry string) (importer.DelimitedOptions, map[importer.Field]string, error) {
	q := r.URL.Query()
	opts := importer.DelimitedOptions{Header: true, DefaultCountry: defaultCountry}

	if s := strings.TrimSpace(q.Get("header")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return opts, nil, maperr.New(maperr.ErrConfig, "invalid header flag %q", s)
		}
		opts.Header = b
	}
	if s := strings.TrimSpace(q.Get("lazy_quotes")); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return opts, nil, maperr.New(maperr.ErrConfig, "invalid lazy_quotes flag %q", s)
		}
		opts.LazyQuotes = b
	}
	if s := q.Get("delimiter"); s != "" {
		c, err := parseDelimiter(s)
		if err != nil {
			return opts, nil, err
		}
		opts.Comma = c
	}

	mapping := make(map[importer.Field]string)
	for k, vals := range q {
		name, ok := strings.CutPrefix(k, "col_")
		if !ok || len(vals) == 0 {
			continue
		}
		f, err := importer.ParseField(name)
		if err != nil {
			return opts, nil, err
		}
		mapping[f] = vals[len(vals)-1]
	}
	return opts, mapping, nil
}

// parseDelimiter accepts a single character, or "tab".
func parseDelimiter(s string) (rune, error) {
	if strings.EqualFold(s, "tab") || s == `\t` {
		return '\t', nil
	}
	c, size := utf8.DecodeRuneInString(s)
	if c == utf8.RuneError || size != len(s) || c == '"' || c == '\r' || c == '\n' {
		return 0, maperr.New(maperr.ErrConfig, "invalid delimiter %q", s)
	}
	return c, nil
}

// readBody bounds the request body and unwraps gzip or zstd payloads.
func readBody(w http.ResponseWriter, r *http.Request) (io.ReadCloser, error) {
	body := http.MaxBytesReader(w, r.Body, maxUploadBytes)
	rc, err := importer.Decompress(body)
	if err != nil {
		return nil, maperr.Wrap(maperr.ErrImport, err, "failed to read request body")
	}
	return rc, nil
}
