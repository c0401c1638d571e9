package importer

import (
	"context"
	"io"

	"github.com/mapshade/server/internal/maperr"
)

// Tuples replays an in-memory list of (country[, region[, value[, series]]])
// records.
type Tuples struct {
	rows [][]string
	pos  int
}

// NewTuples creates an adapter over rows. The slice is not copied.
func NewTuples(rows ...[]string) *Tuples {
	return &Tuples{rows: rows}
}

// Append adds a record to the end of the list.
func (t *Tuples) Append(row ...string) *Tuples {
	t.rows = append(t.rows, row)
	return t
}

func (t *Tuples) Next(ctx context.Context) (Row, error) {
	if t.pos >= len(t.rows) {
		return Row{}, io.EOF
	}
	t.pos++
	if err := contextErr(ctx, t.pos); err != nil {
		return Row{}, err
	}

	rec := t.rows[t.pos-1]
	if len(rec) == 0 || len(rec) > int(fieldCount) {
		return Row{}, maperr.AtLine(maperr.ErrImport, t.pos,
			"expected 1 to %d values, got %d", fieldCount, len(rec))
	}

	r := raw{line: t.pos}
	for i, v := range rec {
		// An empty region means the whole country.
		if Field(i) == Region && v == "" {
			continue
		}
		r.put(Field(i), v)
	}
	return build(r, DefaultCountry)
}
