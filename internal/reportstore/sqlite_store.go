// Package reportstore persists named reports of area values using SQLite.
// A stored report is rendered by reading it back through the SQL import
// adapter.
package reportstore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mapshade/server/internal/importer"
	"github.com/mapshade/server/internal/maperr"
)

var reportNameRE = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Row is one stored data point.
type Row struct {
	Country string  `json:"country"`
	Region  string  `json:"region,omitempty"`
	Value   float64 `json:"value"`
	Series  int     `json:"series,omitempty"`
}

// Report describes a stored report.
type Report struct {
	Name      string    `json:"name"`
	Rows      int       `json:"rows"`
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store provides persistent storage for reports using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore creates a new SQLite-based report store.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS reports (
		name TEXT PRIMARY KEY,
		revision INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS report_rows (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		report TEXT NOT NULL,
		country TEXT NOT NULL,
		region TEXT,
		value REAL NOT NULL,
		series INTEGER NOT NULL DEFAULT 1,
		FOREIGN KEY (report) REFERENCES reports(name) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_report_rows_report ON report_rows(report);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ValidName reports whether name can be used as a report name.
func ValidName(name string) bool {
	return reportNameRE.MatchString(name)
}

// AddRows appends rows to the report, creating it if needed, and returns the
// new revision. Either every row is stored or none is.
func (s *Store) AddRows(report string, rows []Row) (int64, error) {
	if !ValidName(report) {
		return 0, maperr.New(maperr.ErrImport, "invalid report name %q", report)
	}
	for i, r := range rows {
		if len(strings.TrimSpace(r.Country)) != 2 {
			return 0, maperr.AtLine(maperr.ErrImport, i+1,
				"country code should be a valid 2-letter ISO value (e.g.: US), got %q", r.Country)
		}
		if r.Series < 0 {
			return 0, maperr.AtLine(maperr.ErrImport, i+1, "invalid series %d", r.Series)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO reports (name, revision, created_at, updated_at) VALUES (?, 1, ?, ?)
		ON CONFLICT(name) DO UPDATE SET revision = revision + 1, updated_at = excluded.updated_at
	`, report, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert report: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO report_rows (report, country, region, value, series)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, r := range rows {
		var region any
		if rg := strings.TrimSpace(r.Region); rg != "" {
			region = rg
		}
		series := r.Series
		if series == 0 {
			series = 1
		}
		if _, err := stmt.Exec(report, strings.TrimSpace(r.Country), region, r.Value, series); err != nil {
			return 0, fmt.Errorf("failed to insert row: %w", err)
		}
	}

	var revision int64
	if err := tx.QueryRow(`SELECT revision FROM reports WHERE name = ?`, report).Scan(&revision); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return revision, nil
}

// GetReport retrieves a report by name. It returns nil when the report does
// not exist.
func (s *Store) GetReport(name string) (*Report, error) {
	row := s.db.QueryRow(`
		SELECT r.name, r.revision, r.created_at, r.updated_at,
			(SELECT COUNT(*) FROM report_rows WHERE report = r.name)
		FROM reports r WHERE r.name = ?
	`, name)

	rep, err := scanReport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rep, err
}

// ListReports returns every report, most recently updated first.
func (s *Store) ListReports() ([]*Report, error) {
	rows, err := s.db.Query(`
		SELECT r.name, r.revision, r.created_at, r.updated_at,
			(SELECT COUNT(*) FROM report_rows WHERE report = r.name)
		FROM reports r ORDER BY r.updated_at DESC, r.name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Report
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rep)
	}
	return out, rows.Err()
}

// DeleteReport removes a report and its rows.
func (s *Store) DeleteReport(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM report_rows WHERE report = ?`, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM reports WHERE name = ?`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Adapter returns an import adapter over the rows of a report.
func (s *Store) Adapter(report string) *importer.Query {
	return importer.NewQuery(s.db,
		`SELECT country, region, value, series FROM report_rows WHERE report = ? ORDER BY id`,
		report)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReport(sc scanner) (*Report, error) {
	var rep Report
	var createdAt, updatedAt string
	if err := sc.Scan(&rep.Name, &rep.Revision, &createdAt, &updatedAt, &rep.Rows); err != nil {
		return nil, err
	}
	rep.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rep.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rep, nil
}
