package colormap

import (
	"errors"
	"image/color"
	"testing"

	"github.com/mapshade/server/internal/maperr"
)

func TestContinuousEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		t    float64
		want RGB
	}{
		{-1, RGB{68, 1, 84}},
		{0, RGB{68, 1, 84}},
		{1, RGB{253, 231, 37}},
		{2, RGB{253, 231, 37}},
	}
	for _, tt := range tests {
		if got := Viridis.At(tt.t); got != tt.want {
			t.Errorf("Viridis.At(%v) = %v, want %v", tt.t, got, tt.want)
		}
	}
}

func TestContinuousInterpolates(t *testing.T) {
	t.Parallel()

	c := Continuous{{0, 0, 0}, {200, 100, 50}}
	if got := c.At(0.5); got != (RGB{100, 50, 25}) {
		t.Fatalf("At(0.5) = %v", got)
	}
	if got := c.Reversed().At(0); got != (RGB{200, 100, 50}) {
		t.Fatalf("Reversed().At(0) = %v", got)
	}
	if got := c.AtIndex(-1); got != (RGB{200, 100, 50}) {
		t.Fatalf("AtIndex(-1) = %v", got)
	}
}

func TestQualitative(t *testing.T) {
	t.Parallel()

	q := Qualitative{{1, 1, 1}, {2, 2, 2}}
	if q.At(0.49) != (RGB{1, 1, 1}) || q.At(0.5) != (RGB{2, 2, 2}) || q.At(1) != (RGB{2, 2, 2}) {
		t.Fatalf("At buckets misbehave")
	}
	if q.AtIndex(3) != (RGB{2, 2, 2}) || q.AtIndex(-2) != (RGB{1, 1, 1}) {
		t.Fatalf("AtIndex wrap misbehaves")
	}
	if Categorical.AtIndex(10) != Categorical.AtIndex(0) {
		t.Fatalf("Categorical should wrap after 10 colors")
	}
}

func TestByName(t *testing.T) {
	t.Parallel()

	if _, ok := ByName(" Plasma "); !ok {
		t.Fatalf("expected plasma to resolve")
	}
	if _, ok := ByName("rainbow"); ok {
		t.Fatalf("did not expect rainbow to resolve")
	}
	if got := Names(); len(got) != 6 || got[0] != "blues" {
		t.Fatalf("unexpected names: %v", got)
	}
}

func TestHexConversion(t *testing.T) {
	t.Parallel()

	r, g, b, err := HexToRGB("f0c0d9")
	if err != nil {
		t.Fatalf("HexToRGB: %v", err)
	}
	if r != 240 || g != 192 || b != 217 {
		t.Fatalf("unexpected channels: %d,%d,%d", r, g, b)
	}
	if got := RGBToHex(240, 192, 217); got != "f0c0d9" {
		t.Fatalf("RGBToHex = %q", got)
	}
	if got := RGBToHex(-4, 300, 15); got != "00ff0f" {
		t.Fatalf("expected clamped hex, got %q", got)
	}
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	for r := 0; r <= 255; r += 17 {
		for g := 0; g <= 255; g += 15 {
			for b := 0; b <= 255; b += 51 {
				hex := RGBToHex(r, g, b)
				rr, gg, bb, err := HexToRGB(hex)
				if err != nil {
					t.Fatalf("HexToRGB(%q): %v", hex, err)
				}
				if rr != r || gg != g || bb != b {
					t.Fatalf("round trip (%d,%d,%d) -> %q -> (%d,%d,%d)", r, g, b, hex, rr, gg, bb)
				}
			}
		}
	}
}

func TestParseRejectsBadColors(t *testing.T) {
	t.Parallel()

	tests := []string{"zzzzzz", "#ffffff", "fff", "ffffff0", "1,2", "1,2,3,4", "1,2,256", "a,b,c"}
	for _, in := range tests {
		in := in
		t.Run(in, func(t *testing.T) {
			if _, err := Parse(in); !errors.Is(err, maperr.ErrBadColorValue) {
				t.Fatalf("expected ErrBadColorValue for %q, got %v", in, err)
			}
		})
	}
}

func TestParseAcceptsBothForms(t *testing.T) {
	t.Parallel()

	hex, err := Parse("FFFFFF")
	if err != nil || hex != White {
		t.Fatalf("Parse(FFFFFF) = %v, %v", hex, err)
	}
	arr, err := Parse("21, 80, 131")
	if err != nil {
		t.Fatalf("Parse array: %v", err)
	}
	if arr.Hex() != "155083" {
		t.Fatalf("unexpected array color %s", arr.Hex())
	}
}

func TestFromColorDropsAlpha(t *testing.T) {
	t.Parallel()

	got := FromColor(color.RGBA{R: 10, G: 20, B: 30, A: 255})
	if got != (RGB{10, 20, 30}) {
		t.Fatalf("unexpected %v", got)
	}
	if !Grey(7).IsGrey() || (RGB{1, 2, 3}).IsGrey() {
		t.Fatalf("IsGrey misbehaves")
	}
}
