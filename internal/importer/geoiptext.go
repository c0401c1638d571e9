package importer

import (
	"bufio"
	"context"
	"io"
	"net"
	"regexp"

	"github.com/mapshade/server/internal/geoip"
	"github.com/mapshade/server/internal/maperr"
)

const octet = `(25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)`

var ipv4RE = regexp.MustCompile(`\b` + octet + `\.` + octet + `\.` + octet + `\.` + octet + `\b`)

// GeoIPText scans free text, such as web server logs, for IPv4 addresses.
// The first address of each line is resolved and, when found, produces a
// row of value 1. Lines without an address or with an unknown address are
// skipped.
type GeoIPText struct {
	sc       *bufio.Scanner
	resolver geoip.Resolver
	line     int

	matched    int
	unresolved int
}

// NewGeoIPText reads lines from r and resolves addresses with resolver.
func NewGeoIPText(r io.Reader, resolver geoip.Resolver) *GeoIPText {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &GeoIPText{sc: sc, resolver: resolver}
}

func (g *GeoIPText) Next(ctx context.Context) (Row, error) {
	for g.sc.Scan() {
		g.line++
		if err := contextErr(ctx, g.line); err != nil {
			return Row{}, err
		}

		m := ipv4RE.FindString(g.sc.Text())
		if m == "" {
			continue
		}
		g.matched++

		// Zero-padded octets match the pattern but do not parse.
		ip := net.ParseIP(m)
		if ip == nil {
			g.unresolved++
			continue
		}
		loc, ok, err := g.resolver.Resolve(ctx, ip)
		if err != nil {
			return Row{}, &maperr.Error{Kind: maperr.ErrImport, Line: g.line, Msg: "resolve " + m, Err: err}
		}
		if !ok || len(loc.Country) != 2 {
			g.unresolved++
			continue
		}
		return Row{Country: loc.Country, Region: loc.Region, Value: 1, Series: 1, Line: g.line}, nil
	}
	if err := g.sc.Err(); err != nil {
		return Row{}, maperr.Wrap(maperr.ErrImport, err, "read line %d", g.line+1)
	}
	return Row{}, io.EOF
}

// Matched returns how many lines contained an address.
func (g *GeoIPText) Matched() int {
	return g.matched
}

// Unresolved returns how many addresses had no location.
func (g *GeoIPText) Unresolved() int {
	return g.unresolved
}
