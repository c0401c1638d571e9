package main

import (
	"context"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/mapshade/server/internal/logging"
	"github.com/mapshade/server/internal/maptest"
	"github.com/mapshade/server/pkg/colormap"
)

func TestRunDelimited(t *testing.T) {
	dir := t.TempDir()
	maptest.Write(t, dir, "us", 300, 100, maptest.US)
	data := filepath.Join(dir, "votes.tsv")
	if err := os.WriteFile(data, []byte("state\tvotes\nMinnesota\t4\nWI\t8\n"), 0644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "out.png")

	o := options{
		mapName:     "us",
		base:        dir,
		output:      out,
		data:        data,
		header:      true,
		delimiter:   "tab",
		columns:     listFlag{"region=state", "value=votes"},
		values:      listFlag{"CA:=8"},
		color:       "155083",
		series:      1,
		compression: 4,
		country:     "US",
		threshold:   0.1,
		minWidth:    50,
	}
	if err := run(context.Background(), o, logging.Noop()); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	b := img.Bounds()
	want := []colormap.RGB{
		{R: 21, G: 80, B: 131},   // CA 8
		{R: 138, G: 167, B: 193}, // MN 4
		{R: 21, G: 80, B: 131},   // WI 8
	}
	for i, w := range want {
		pt := maptest.BandCenter(b.Dx(), b.Dy(), 3, i)
		got := colormap.FromColor(img.At(pt.X, pt.Y))
		if !near(got.R, w.R) || !near(got.G, w.G) || !near(got.B, w.B) {
			t.Errorf("band %d = %v, want %v", i, got, w)
		}
	}
}

func TestRunRequiresOutput(t *testing.T) {
	if err := run(context.Background(), options{mapName: "us"}, logging.Noop()); err == nil {
		t.Fatal("expected an error without -o")
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in      string
		country string
		region  string
		value   float64
		wantErr bool
	}{
		{"MN=3", "US", "MN", 3, false},
		{"CA:=2.5", "CA", "", 2.5, false},
		{"CA:ON=1", "CA", "ON", 1, false},
		{"MN", "", "", 0, true},
		{"MN=x", "", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, r, v, err := parseValue(tt.in, "US")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if c != tt.country || r != tt.region || v != tt.value {
				t.Errorf("parseValue(%q) = %q %q %v", tt.in, c, r, v)
			}
		})
	}
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -1 && d <= 1
}
