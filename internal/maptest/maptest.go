// Package maptest builds small map fixtures (indexed PNG plus definition
// file) for tests.
package maptest

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
)

// Area is one line of a fixture definition file.
type Area struct {
	ID      int
	Country string
	Names   []string
}

// Palette colors used besides the area markers.
var (
	Noise   = color.RGBA{R: 200, G: 10, B: 10, A: 255}
	Outline = color.RGBA{A: 255}
)

// Image returns a w x h indexed image with one vertical band per id, left to
// right. The palette is white, one grey marker per id, Noise and Outline.
// The top row is Outline and the bottom row is Noise.
func Image(w, h int, ids []int) *image.Paletted {
	pal := color.Palette{color.RGBA{255, 255, 255, 255}}
	for _, id := range ids {
		pal = append(pal, color.RGBA{uint8(id), uint8(id), uint8(id), 255})
	}
	noise := uint8(len(pal))
	pal = append(pal, Noise)
	outline := uint8(len(pal))
	pal = append(pal, Outline)

	img := image.NewPaletted(image.Rect(0, 0, w, h), pal)
	band := w
	if len(ids) > 0 {
		band = w / len(ids)
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := uint8(0)
			if len(ids) > 0 && band > 0 {
				if b := x / band; b < len(ids) {
					idx = uint8(b + 1)
				}
			}
			switch y {
			case 0:
				idx = outline
			case h - 1:
				idx = noise
			}
			img.SetColorIndex(x, y, idx)
		}
	}
	return img
}

// BandCenter returns a pixel in the middle of the band of the i-th id.
func BandCenter(w, h, n, i int) image.Point {
	band := w / n
	return image.Pt(band*i+band/2, h/2)
}

// PNG encodes img.
func PNG(t testing.TB, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture png: %v", err)
	}
	return buf.Bytes()
}

// Definition renders areas in the tab-delimited definition format.
func Definition(areas []Area) string {
	var b strings.Builder
	for _, a := range areas {
		b.WriteString(strconv.Itoa(a.ID))
		b.WriteByte('\t')
		b.WriteString(a.Country)
		for _, n := range a.Names {
			b.WriteByte('\t')
			b.WriteString(n)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// Write creates <dir>/<name>.png and <dir>/<name>.csv for areas.
func Write(t testing.TB, dir, name string, w, h int, areas []Area) {
	t.Helper()
	ids := make([]int, len(areas))
	for i, a := range areas {
		ids[i] = a.ID
	}
	if err := os.WriteFile(filepath.Join(dir, name+".png"), PNG(t, Image(w, h, ids)), 0644); err != nil {
		t.Fatalf("write fixture png: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+".csv"), []byte(Definition(areas)), 0644); err != nil {
		t.Fatalf("write fixture definition: %v", err)
	}
}

// US is a three-area fixture: Canada at country level, Minnesota and
// Wisconsin by alias.
var US = []Area{
	{ID: 1, Country: "CA"},
	{ID: 2, Country: "US", Names: []string{"MN", "Minnesota"}},
	{ID: 3, Country: "US", Names: []string{"WI", "Wisconsin"}},
}
