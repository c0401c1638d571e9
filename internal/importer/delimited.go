package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/mapshade/server/internal/maperr"
)

// DelimitedOptions configures a Delimited adapter.
type DelimitedOptions struct {
	Header         bool   // first record names the columns
	Comma          rune   // field delimiter, ',' when zero
	LazyQuotes     bool
	DefaultCountry string // DefaultCountry when empty
}

// Delimited reads character-delimited text. Every record must have as many
// fields as the first one.
type Delimited struct {
	Mapping

	r       *csv.Reader
	headers []string
	width   int
	pending []string // first record when it is data
	line    int
}

// NewDelimited reads the first record of r to learn the column layout.
func NewDelimited(r io.Reader, opts DelimitedOptions) (*Delimited, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}
	cr.LazyQuotes = opts.LazyQuotes
	cr.FieldsPerRecord = 0

	first, err := cr.Read()
	if err == io.EOF {
		return nil, maperr.New(maperr.ErrImport,
			"after reading first line -- input does not contain any columns, is the delimiter right?")
	}
	if err != nil {
		return nil, parseError(err, 1)
	}

	d := &Delimited{
		Mapping: Mapping{DefaultCountry: opts.DefaultCountry},
		r:       cr,
		width:   len(first),
		line:    1,
	}
	if opts.Header {
		d.headers = first
	} else {
		d.pending = first
	}
	return d, nil
}

// Headers returns the header names, or nil when the input has no header row.
func (d *Delimited) Headers() []string {
	return d.headers
}

// Width returns the number of columns per record.
func (d *Delimited) Width() int {
	return d.width
}

// ColumnIndex resolves a header name (case-insensitive) or a 0-based index.
func (d *Delimited) ColumnIndex(name string) (int, error) {
	want := strings.TrimSpace(name)
	for i, h := range d.headers {
		if strings.EqualFold(want, strings.TrimSpace(h)) {
			return i, nil
		}
	}
	idx, err := strconv.Atoi(want)
	if err != nil {
		if d.headers != nil {
			return 0, maperr.New(maperr.ErrImport, "column %s not found in headers", name)
		}
		return 0, maperr.New(maperr.ErrImport, "column %q is not an index and the input has no headers", name)
	}
	if idx < 0 || idx >= d.width {
		return 0, maperr.New(maperr.ErrImport, "column #%d not valid, only %d found on first row", idx, d.width)
	}
	return idx, nil
}

// Map binds field to a column given by header name or 0-based index. The
// column must exist in the first record.
func (d *Delimited) Map(field Field, column string) error {
	if _, err := d.ColumnIndex(column); err != nil {
		return err
	}
	d.Mapping.Map(field, column)
	return nil
}

func (d *Delimited) Next(ctx context.Context) (Row, error) {
	var rec []string
	if d.pending != nil {
		rec, d.pending = d.pending, nil
	} else {
		var err error
		rec, err = d.r.Read()
		if err == io.EOF {
			return Row{}, io.EOF
		}
		d.line++
		if err != nil {
			return Row{}, parseError(err, d.line)
		}
	}
	if line, _ := d.r.FieldPos(0); line > 0 {
		d.line = line
	}
	if err := contextErr(ctx, d.line); err != nil {
		return Row{}, err
	}

	r := raw{line: d.line}
	for f := Field(0); f < fieldCount; f++ {
		col, ok := d.Column(f)
		if !ok {
			continue
		}
		idx, err := d.ColumnIndex(col)
		if err != nil {
			var me *maperr.Error
			if errors.As(err, &me) {
				me.Line = d.line
			}
			return Row{}, err
		}
		r.put(f, rec[idx])
	}
	return build(r, d.defaultCountry())
}

func parseError(err error, line int) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		if errors.Is(pe.Err, csv.ErrFieldCount) {
			return maperr.AtLine(maperr.ErrImport, pe.Line, "column count does not match the first row")
		}
		return maperr.AtLine(maperr.ErrImport, pe.Line, "%v", pe.Err)
	}
	return maperr.Wrap(maperr.ErrImport, err, "read line %d", line)
}
