package importer

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"regexp"

	"github.com/mapshade/server/internal/maperr"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Query streams rows from a relational database. Result columns are read by
// position: country, region, value and an optional series. NULL columns take
// the field default.
type Query struct {
	Mapping

	db    *sql.DB
	query string
	args  []any
	table string

	rows *sql.Rows
	cols int
	n    int
	done bool
}

// NewQuery runs a caller-supplied, parameterized statement.
func NewQuery(db *sql.DB, query string, args ...any) *Query {
	return &Query{db: db, query: query, args: args}
}

// NewTable selects the mapped columns of table. Unmapped fields take their
// defaults.
func NewTable(db *sql.DB, table string) *Query {
	return &Query{db: db, table: table}
}

// Statement returns the SQL that will be executed.
func (q *Query) Statement() (string, error) {
	if q.query != "" {
		return q.query, nil
	}
	if q.table == "" {
		return "", maperr.New(maperr.ErrImport, "either a table or a query is required")
	}
	if !identRE.MatchString(q.table) {
		return "", maperr.New(maperr.ErrImport, "invalid table name %q", q.table)
	}

	defaults := [fieldCount]string{"NULL", "NULL", "1", "1"}
	var sel [fieldCount]string
	for f := Field(0); f < fieldCount; f++ {
		sel[f] = defaults[f]
		if col, ok := q.Column(f); ok {
			if !identRE.MatchString(col) {
				return "", maperr.New(maperr.ErrImport, "invalid column name %q for %s", col, f)
			}
			sel[f] = col
		}
	}
	return fmt.Sprintf("SELECT %s, %s, %s, %s FROM %s",
		sel[Country], sel[Region], sel[Value], sel[Series], q.table), nil
}

func (q *Query) Next(ctx context.Context) (Row, error) {
	if q.done {
		return Row{}, io.EOF
	}
	if q.rows == nil {
		if err := q.open(ctx); err != nil {
			return Row{}, err
		}
	}

	if !q.rows.Next() {
		err := q.rows.Err()
		q.Close()
		if err != nil {
			return Row{}, maperr.Wrap(maperr.ErrImport, err, "read row %d", q.n+1)
		}
		return Row{}, io.EOF
	}
	q.n++

	dest := make([]sql.NullString, q.cols)
	ptrs := make([]any, q.cols)
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := q.rows.Scan(ptrs...); err != nil {
		return Row{}, maperr.Wrap(maperr.ErrImport, err, "scan row %d", q.n)
	}

	r := raw{line: q.n}
	for i := 0; i < q.cols && i < int(fieldCount); i++ {
		if dest[i].Valid {
			r.put(Field(i), dest[i].String)
		}
	}
	return build(r, q.defaultCountry())
}

func (q *Query) open(ctx context.Context) error {
	stmt, err := q.Statement()
	if err != nil {
		return err
	}
	rows, err := q.db.QueryContext(ctx, stmt, q.args...)
	if err != nil {
		return maperr.Wrap(maperr.ErrImport, err, "run import query")
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return maperr.Wrap(maperr.ErrImport, err, "read result columns")
	}
	if len(cols) < 3 {
		rows.Close()
		return maperr.New(maperr.ErrImport, "query returns %d columns, need country, region and value", len(cols))
	}
	q.rows = rows
	q.cols = len(cols)
	return nil
}

// Close releases the result set. It is safe to call more than once.
func (q *Query) Close() error {
	q.done = true
	if q.rows == nil {
		return nil
	}
	return q.rows.Close()
}
