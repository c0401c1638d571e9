// Command mapshade renders one choropleth map to a PNG file.
//
//	mapshade -map us -base ./maps -data votes.csv.gz -col region=state -col value=votes -o votes.png
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mapshade/server/internal/choropleth"
	"github.com/mapshade/server/internal/geoip"
	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/logging"
	"github.com/mapshade/server/internal/render"
	"github.com/mapshade/server/internal/shade"
	"github.com/mapshade/server/pkg/colormap"
)

// listFlag collects a repeatable flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

type options struct {
	mapName     string
	base        string
	output      string
	data        string
	header      bool
	delimiter   string
	columns     listFlag
	sqlitePath  string
	table       string
	query       string
	geoipText   string
	mmdbPath    string
	values      listFlag
	color       string
	colormap    string
	parties     listFlag
	width       int
	target      float64
	series      int
	compression int
	country     string
	threshold   float64
	minWidth    int
	logLevel    string
}

func main() {
	var o options
	flag.StringVar(&o.mapName, "map", "", "Map name; reads <base>/<map>.png and <base>/<map>.csv")
	flag.StringVar(&o.base, "base", ".", "Directory holding the map files")
	flag.StringVar(&o.output, "o", "", "Output PNG path")
	flag.StringVar(&o.data, "data", "", "Delimited data file, optionally gzip or zstd compressed")
	flag.BoolVar(&o.header, "header", true, "The data file starts with a header row")
	flag.StringVar(&o.delimiter, "delimiter", ",", `Field delimiter of the data file ("tab" for tabs)`)
	flag.Var(&o.columns, "col", "Column mapping field=column, repeatable (fields: country, region, value, series)")
	flag.StringVar(&o.sqlitePath, "sqlite", "", "SQLite database to import from")
	flag.StringVar(&o.table, "table", "", "Table to import with the -col mapping (with -sqlite)")
	flag.StringVar(&o.query, "query", "", "Query returning country, region, value[, series] (with -sqlite)")
	flag.StringVar(&o.geoipText, "geoip-text", "", "Text file, such as an access log, whose IPv4 addresses are counted per area")
	flag.StringVar(&o.mmdbPath, "mmdb", "", "MaxMind database used by -geoip-text")
	flag.Var(&o.values, "set", "Explicit value [country:]region=value, repeatable")
	flag.StringVar(&o.color, "color", choropleth.DefaultColor, "Base color as hex")
	flag.StringVar(&o.colormap, "colormap", "", "Shade with a continuous colormap instead of -color ("+strings.Join(colormap.Names(), ", ")+")")
	flag.Var(&o.parties, "party", "Election party name[:color], repeatable; party n is series n")
	flag.IntVar(&o.width, "width", 0, "Output width in pixels (default: native width)")
	flag.Float64Var(&o.target, "target", 0, "Shading denominator instead of the largest value")
	flag.IntVar(&o.series, "series", 1, "Series to draw")
	flag.IntVar(&o.compression, "compression", render.DefaultCompression, "PNG compression level 0-9")
	flag.StringVar(&o.country, "country", importer.DefaultCountry, "Country of rows and values without one")
	flag.Float64Var(&o.threshold, "min-threshold", shade.DefaultMinThreshold, "Lowest shading of any area")
	flag.IntVar(&o.minWidth, "min-width", render.DefaultMinWidth, "Smallest accepted width")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level")
	flag.Parse()

	logger := logging.New(logging.Config{Level: o.logLevel})
	if err := run(context.Background(), o, logger); err != nil {
		fmt.Fprintf(os.Stderr, "mapshade: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, o options, logger logging.Logger) error {
	if o.mapName == "" || o.output == "" {
		return errors.New("-map and -o are required")
	}
	start := time.Now()

	m, err := choropleth.Open(o.mapName, o.base, choropleth.Config{
		Color:          o.color,
		Width:          o.width,
		MinThreshold:   o.threshold,
		MinWidth:       o.minWidth,
		DefaultCountry: o.country,
	})
	if err != nil {
		return err
	}
	if o.target > 0 {
		m.SetTargetValue(o.target)
	}
	if err := setStrategy(m, o); err != nil {
		return err
	}

	for _, v := range o.values {
		country, region, value, err := parseValue(v, o.country)
		if err != nil {
			return err
		}
		if !m.Set(country, region, value, o.series) {
			logger.Warn(ctx, "no area matches value", logging.String("value", v))
		}
	}

	adapter, name, closeFn, err := openAdapter(o)
	if err != nil {
		return err
	}
	if adapter != nil {
		defer closeFn()
		stats, err := m.Import(ctx, adapter)
		if err != nil {
			return err
		}
		logger.Info(ctx, "imported rows",
			logging.String("adapter", name),
			logging.Int("rows", stats.Rows),
			logging.Int("unresolved", stats.Unresolved),
		)
	}

	if err := m.DrawFile(o.output, o.compression, o.series); err != nil {
		return err
	}
	logger.Info(ctx, "wrote map",
		logging.String("map", o.mapName),
		logging.String("output", o.output),
		logging.Int("width", m.Width()),
		logging.Float("max", m.MaxValue(o.series)),
		logging.Duration("duration", time.Since(start)),
	)
	return nil
}

func setStrategy(m *choropleth.Map, o options) error {
	switch {
	case len(o.parties) > 0:
		e := shade.NewElection()
		for _, p := range o.parties {
			name, hex, found := strings.Cut(p, ":")
			if !found {
				e.AddPartyAuto(name)
				continue
			}
			c, err := colormap.Parse(hex)
			if err != nil {
				return err
			}
			e.AddParty(name, c)
		}
		m.SetStrategy(e)
	case o.colormap != "":
		cm, ok := colormap.ByName(strings.ToLower(o.colormap))
		if !ok {
			return fmt.Errorf("unknown colormap %q", o.colormap)
		}
		m.SetStrategy(shade.Ramp{Colormap: cm})
	}
	return nil
}

// parseValue reads [country:]region=value.
func parseValue(s, defaultCountry string) (country, region string, value float64, err error) {
	key, num, ok := strings.Cut(s, "=")
	if !ok {
		return "", "", 0, fmt.Errorf("invalid -set %q, want [country:]region=value", s)
	}
	value, err = strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return "", "", 0, fmt.Errorf("invalid -set %q: %w", s, err)
	}
	country, region = defaultCountry, key
	if c, r, ok := strings.Cut(key, ":"); ok {
		country, region = c, r
	}
	return strings.TrimSpace(country), strings.TrimSpace(region), value, nil
}

// openAdapter picks the import source. A nil adapter means values come
// from -set only.
func openAdapter(o options) (importer.Adapter, string, func() error, error) {
	mapping, err := parseColumns(o.columns)
	if err != nil {
		return nil, "", nil, err
	}

	switch {
	case o.data != "":
		f, err := importer.OpenFile(o.data)
		if err != nil {
			return nil, "", nil, err
		}
		comma := ','
		if o.delimiter != "" {
			if strings.EqualFold(o.delimiter, "tab") {
				comma = '\t'
			} else {
				comma = []rune(o.delimiter)[0]
			}
		}
		d, err := importer.NewDelimited(f, importer.DelimitedOptions{
			Header:         o.header,
			Comma:          comma,
			DefaultCountry: o.country,
		})
		if err != nil {
			f.Close()
			return nil, "", nil, err
		}
		for field, col := range mapping {
			if err := d.Map(field, col); err != nil {
				f.Close()
				return nil, "", nil, fmt.Errorf("-col %s=%s: %w", field, col, err)
			}
		}
		return d, "delimited", f.Close, nil

	case o.sqlitePath != "":
		db, err := sql.Open("sqlite", o.sqlitePath)
		if err != nil {
			return nil, "", nil, err
		}
		var q *importer.Query
		switch {
		case o.query != "":
			q = importer.NewQuery(db, o.query)
		case o.table != "":
			q = importer.NewTable(db, o.table)
		default:
			db.Close()
			return nil, "", nil, errors.New("-sqlite needs -table or -query")
		}
		q.DefaultCountry = o.country
		for field, col := range mapping {
			q.Map(field, col)
		}
		return q, "query", func() error {
			q.Close()
			return db.Close()
		}, nil

	case o.geoipText != "":
		if o.mmdbPath == "" {
			return nil, "", nil, errors.New("-geoip-text needs -mmdb")
		}
		mm, err := geoip.OpenMaxMind(o.mmdbPath)
		if err != nil {
			return nil, "", nil, err
		}
		f, err := importer.OpenFile(o.geoipText)
		if err != nil {
			mm.Close()
			return nil, "", nil, err
		}
		return importer.NewGeoIPText(f, mm), "geoip", closeAll(f, mm), nil
	}
	return nil, "", nil, nil
}

func parseColumns(cols []string) (map[importer.Field]string, error) {
	mapping := make(map[importer.Field]string, len(cols))
	for _, c := range cols {
		name, col, ok := strings.Cut(c, "=")
		if !ok {
			return nil, fmt.Errorf("invalid -col %q, want field=column", c)
		}
		f, err := importer.ParseField(name)
		if err != nil {
			return nil, err
		}
		mapping[f] = col
	}
	return mapping, nil
}

func closeAll(closers ...io.Closer) func() error {
	return func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c.Close())
		}
		return errors.Join(errs...)
	}
}
