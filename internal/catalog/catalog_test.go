package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mapshade/server/internal/maperr"
)

const usDefinition = "1\tCA\n" +
	"22\tUS\tMI\tMichigan\n" +
	"23\tUS\t MN \tMinnesota\n" +
	"\n" +
	"24\tUS\tMS\tMississippi\n"

func TestLoad(t *testing.T) {
	c, err := Load(strings.NewReader(usDefinition))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Len() != 4 {
		t.Fatalf("expected 4 areas, got %d", c.Len())
	}

	first := c.Areas()[0]
	if first.ID != 1 || first.Country != "CA" || first.HasNames() {
		t.Fatalf("unexpected first area: %+v", first)
	}

	mn, ok := c.Area(23)
	if !ok {
		t.Fatal("expected area 23")
	}
	if len(mn.Names) != 2 || mn.Names[0] != "mn" || mn.Names[1] != "minnesota" {
		t.Fatalf("aliases should be trimmed and lower-cased: %q", mn.Names)
	}

	if got := c.IDs(); len(got) != 4 || got[3] != 24 {
		t.Fatalf("unexpected ids %v", got)
	}
	if c.MaxID() != 24 {
		t.Fatalf("expected max id 24, got %d", c.MaxID())
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		line int
	}{
		{name: "single column", in: "1\tUS\n2\n", line: 2},
		{name: "non numeric id", in: "x\tUS\n", line: 1},
		{name: "reserved id", in: "255\tUS\n", line: 1},
		{name: "zero id", in: "0\tUS\n", line: 1},
		{name: "duplicate id", in: "3\tUS\n3\tCA\n", line: 2},
		{name: "empty country", in: "3\t \n", line: 1},
		{name: "three letter country", in: "1\tUS\n2\tUSA\tMN\n", line: 2},
		{name: "one letter country", in: "4\tU\n", line: 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.in))
			if !errors.Is(err, maperr.ErrMapData) {
				t.Fatalf("expected ErrMapData, got %v", err)
			}
			if got := maperr.LineOf(err); got != tc.line {
				t.Fatalf("expected line %d, got %d (%v)", tc.line, got, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "us.csv")
	if err := os.WriteFile(path, []byte(usDefinition), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	_, err := LoadFile(filepath.Join(dir, "missing.csv"))
	if !errors.Is(err, maperr.ErrMapData) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrMapData wrapping ErrNotExist, got %v", err)
	}
}

func TestLookup(t *testing.T) {
	c, err := Load(strings.NewReader(usDefinition))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	tests := []struct {
		country, region string
		id              int
		ok              bool
	}{
		{"US", "MN", 23, true},
		{"us", "minnesota", 23, true},
		{"US", "Michigan", 22, true},
		{"US", "", 0, false},
		{"US", "ZZ", 0, false},
		{"CA", "", 1, true},
		{"ca", "anything", 1, true},
		{"Bad", "", 0, false},
	}
	for _, tc := range tests {
		id, ok := c.Lookup(tc.country, tc.region)
		if id != tc.id || ok != tc.ok {
			t.Errorf("Lookup(%q, %q) = %d, %v; want %d, %v", tc.country, tc.region, id, ok, tc.id, tc.ok)
		}
	}
}

func TestLookupFirstCountryLevelAreaWins(t *testing.T) {
	c, err := Load(strings.NewReader("5\tFR\n6\tFR\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if id, _ := c.Lookup("FR", "IDF"); id != 5 {
		t.Fatalf("expected first-loaded area 5, got %d", id)
	}
}
