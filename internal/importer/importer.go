// Package importer reads (country, region, value, series) rows from external
// sources. Every adapter is a pull-based producer: callers invoke Next until
// it returns io.EOF.
package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/series"
)

// DefaultCountry is used for rows whose country column is not mapped.
const DefaultCountry = "US"

// Row is one imported data point.
type Row struct {
	Country string
	Region  string // empty when the row targets a whole country
	Value   float64
	Series  int
	Line    int // 1-based source line or record number, 0 when unknown
}

// Adapter produces rows. Next returns io.EOF once the source is exhausted;
// any other error aborts the import.
type Adapter interface {
	Next(ctx context.Context) (Row, error)
}

// Field names one component of a Row for column mapping.
type Field int

const (
	Country Field = iota
	Region
	Value
	Series
	fieldCount
)

var fieldNames = [fieldCount]string{"country", "region", "value", "series"}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "field(" + strconv.Itoa(int(f)) + ")"
	}
	return fieldNames[f]
}

// ParseField accepts a field name in any case.
func ParseField(s string) (Field, error) {
	for i, n := range fieldNames {
		if strings.EqualFold(strings.TrimSpace(s), n) {
			return Field(i), nil
		}
	}
	return 0, maperr.New(maperr.ErrImport, "unknown field %q", s)
}

// Mapping binds row fields to source columns. Unmapped fields take their
// defaults: country DefaultCountry, region none, value 1, series 1.
type Mapping struct {
	DefaultCountry string
	columns        map[Field]string
}

// Map binds field to a source column, given by name or 0-based index.
func (m *Mapping) Map(field Field, column string) {
	if m.columns == nil {
		m.columns = make(map[Field]string)
	}
	m.columns[field] = column
}

// Column returns the column bound to field.
func (m *Mapping) Column(field Field) (string, bool) {
	c, ok := m.columns[field]
	return c, ok
}

func (m *Mapping) defaultCountry() string {
	if m.DefaultCountry != "" {
		return m.DefaultCountry
	}
	return DefaultCountry
}

// raw is the text of one source record, per field. A field that is not set
// takes its default.
type raw struct {
	line int
	val  [fieldCount]string
	set  [fieldCount]bool
}

func (r *raw) put(f Field, v string) {
	r.val[f] = strings.TrimSpace(v)
	r.set[f] = true
}

// build validates a raw record into a Row.
func build(r raw, defaultCountry string) (Row, error) {
	row := Row{Country: defaultCountry, Value: 1, Series: series.Default, Line: r.line}

	if r.set[Country] {
		row.Country = r.val[Country]
	}
	if len(row.Country) != 2 {
		return Row{}, maperr.AtLine(maperr.ErrImport, r.line,
			"country code should be a valid 2-letter ISO value (e.g.: US), got %q", row.Country)
	}

	if r.set[Region] {
		row.Region = r.val[Region]
	}

	if r.set[Value] {
		v, err := strconv.ParseFloat(r.val[Value], 64)
		if err != nil {
			return Row{}, maperr.AtLine(maperr.ErrImport, r.line, "invalid value %q", r.val[Value])
		}
		row.Value = v
	}

	if r.set[Series] {
		s, err := strconv.Atoi(r.val[Series])
		if err != nil || s < 1 {
			return Row{}, maperr.AtLine(maperr.ErrImport, r.line, "invalid series %q", r.val[Series])
		}
		row.Series = s
	}
	return row, nil
}

func contextErr(ctx context.Context, line int) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("import interrupted at line %d: %w", line, err)
	}
	return nil
}
