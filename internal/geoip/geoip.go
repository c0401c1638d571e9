// Package geoip resolves IPv4 addresses to a country and region.
package geoip

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/oschwald/maxminddb-golang"
)

// Location is where an address was allocated. Region is empty when only the
// country is known.
type Location struct {
	Country string
	Region  string
}

// Resolver looks up an address. A miss is reported with ok == false and a
// nil error.
type Resolver interface {
	Resolve(ctx context.Context, ip net.IP) (loc Location, ok bool, err error)
}

// MaxMind resolves addresses from a MaxMind-format (.mmdb) database.
type MaxMind struct {
	reader *maxminddb.Reader
}

type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"subdivisions"`
}

// OpenMaxMind memory-maps the database at path.
func OpenMaxMind(path string) (*MaxMind, error) {
	r, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database %s: %w", path, err)
	}
	return &MaxMind{reader: r}, nil
}

// NewMaxMind reads a database held in memory.
func NewMaxMind(data []byte) (*MaxMind, error) {
	r, err := maxminddb.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("failed to read geoip database: %w", err)
	}
	return &MaxMind{reader: r}, nil
}

func (m *MaxMind) Resolve(ctx context.Context, ip net.IP) (Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, false, err
	}
	var rec mmdbRecord
	if err := m.reader.Lookup(ip, &rec); err != nil {
		return Location{}, false, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if rec.Country.ISOCode == "" {
		return Location{}, false, nil
	}
	loc := Location{Country: rec.Country.ISOCode}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].ISOCode
	}
	return loc, true, nil
}

// Close releases the database.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// SQLOptions names the tables of a range-based GeoIP database.
//
// The blocks table holds inclusive ranges of IPv4 addresses as integers:
// (range_start, range_end, location_id). The locations table holds
// (location_id, country, region).
type SQLOptions struct {
	BlocksTable    string
	LocationsTable string
}

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQL resolves addresses against block and location tables.
type SQL struct {
	db    *sql.DB
	query string
}

// NewSQL prepares a resolver. Empty table names default to "blocks" and
// "locations".
func NewSQL(db *sql.DB, opts SQLOptions) (*SQL, error) {
	if opts.BlocksTable == "" {
		opts.BlocksTable = "blocks"
	}
	if opts.LocationsTable == "" {
		opts.LocationsTable = "locations"
	}
	for _, t := range []string{opts.BlocksTable, opts.LocationsTable} {
		if !identRE.MatchString(t) {
			return nil, fmt.Errorf("invalid geoip table name %q", t)
		}
	}

	// Narrowest matching range wins when ranges nest.
	query := fmt.Sprintf(`SELECT l.country, l.region
		FROM %s b
		INNER JOIN %s l ON l.location_id = b.location_id
		WHERE ? BETWEEN b.range_start AND b.range_end
		ORDER BY b.range_end - b.range_start
		LIMIT 1`, opts.BlocksTable, opts.LocationsTable)

	return &SQL{db: db, query: query}, nil
}

func (s *SQL) Resolve(ctx context.Context, ip net.IP) (Location, bool, error) {
	n, ok := IPv4ToInt(ip)
	if !ok {
		return Location{}, false, nil
	}

	var country, region sql.NullString
	err := s.db.QueryRowContext(ctx, s.query, int64(n)).Scan(&country, &region)
	if errors.Is(err, sql.ErrNoRows) {
		return Location{}, false, nil
	}
	if err != nil {
		return Location{}, false, fmt.Errorf("geoip lookup %s: %w", ip, err)
	}
	if !country.Valid || strings.TrimSpace(country.String) == "" {
		return Location{}, false, nil
	}
	return Location{
		Country: strings.TrimSpace(country.String),
		Region:  strings.TrimSpace(region.String),
	}, true, nil
}

// IPv4ToInt converts an IPv4 address to its big-endian integer form.
func IPv4ToInt(ip net.IP) (uint32, bool) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return binary.BigEndian.Uint32(v4), true
}
