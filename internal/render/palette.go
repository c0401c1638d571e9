package render

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/mapshade/server/internal/catalog"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/shade"
	"github.com/mapshade/server/pkg/colormap"
)

// PaletteImage is an indexed-color map image. Each area is authored as a
// flat fill of the reserved grey (id,id,id), so recoloring that palette entry
// recolors every pixel of the area at once.
type PaletteImage struct {
	img    *image.Paletted
	shaded map[int]bool // palette indices recolored since the last Clone
}

// NewPaletteImage wraps an indexed image. The image is used directly.
func NewPaletteImage(img *image.Paletted) *PaletteImage {
	return &PaletteImage{img: img, shaded: make(map[int]bool)}
}

// Decode reads an indexed-color PNG.
func Decode(r io.Reader) (*PaletteImage, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, maperr.Wrap(maperr.ErrImage, err, "decode png")
	}
	p, ok := img.(*image.Paletted)
	if !ok {
		return nil, maperr.New(maperr.ErrImage, "source image is %T, expected an indexed-color png", img)
	}
	return NewPaletteImage(p), nil
}

// LoadFile decodes the PNG at path.
func LoadFile(path string) (*PaletteImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, maperr.Wrap(maperr.ErrImage, err, "failed to load %s", path)
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		var me *maperr.Error
		if errors.As(err, &me) {
			me.Msg = path + ": " + me.Msg
		}
		return nil, err
	}
	return p, nil
}

// Clone returns an independent copy with no entries marked as shaded.
func (p *PaletteImage) Clone() *PaletteImage {
	img := &image.Paletted{
		Pix:     append([]uint8(nil), p.img.Pix...),
		Stride:  p.img.Stride,
		Rect:    p.img.Rect,
		Palette: append(color.Palette(nil), p.img.Palette...),
	}
	return NewPaletteImage(img)
}

// Image returns the underlying indexed image.
func (p *PaletteImage) Image() *image.Paletted {
	return p.img
}

// Bounds returns the image bounds.
func (p *PaletteImage) Bounds() image.Rectangle {
	return p.img.Rect
}

// Entry returns the palette color at index i.
func (p *PaletteImage) Entry(i int) colormap.RGB {
	return colormap.FromColor(p.img.Palette[i])
}

// Len returns the palette size.
func (p *PaletteImage) Len() int {
	return len(p.img.Palette)
}

// FindExact returns the first palette index whose color equals c.
func (p *PaletteImage) FindExact(c colormap.RGB) (int, bool) {
	for i := range p.img.Palette {
		if p.Entry(i) == c {
			return i, true
		}
	}
	return 0, false
}

// SetEntry overwrites palette entry i.
func (p *PaletteImage) SetEntry(i int, c colormap.RGB) {
	p.img.Palette[i] = c.RGBA()
}

// Sanitize whites out every palette entry that is neither white nor an area
// marker (v,v,v) with 1 <= v <= areaCount. This removes anti-aliasing and
// shadows from the source artwork.
func (p *PaletteImage) Sanitize(areaCount int) error {
	if areaCount < 0 || areaCount > catalog.MaxAreaID {
		return maperr.New(maperr.ErrImage, "area count %d outside 0-%d", areaCount, catalog.MaxAreaID)
	}
	for i := range p.img.Palette {
		c := p.Entry(i)
		if c == colormap.White {
			continue
		}
		if c.IsGrey() && c.R >= 1 && int(c.R) <= areaCount {
			continue
		}
		p.SetEntry(i, colormap.White)
	}
	return nil
}

// ShadeArea recolors the area's marker entry with base blended over white at
// pct. pct is raised to minThreshold; a pct above 1 is rejected. Entries
// already recolored by an earlier ShadeArea are not considered markers.
func (p *PaletteImage) ShadeArea(id int, base colormap.RGB, pct, minThreshold float64) error {
	if id < 1 || id > catalog.MaxAreaID {
		return maperr.New(maperr.ErrImage, "area id %d cannot be a palette marker", id)
	}
	marker := colormap.Grey(uint8(id))

	var idx []int
	for i := range p.img.Palette {
		if !p.shaded[i] && p.Entry(i) == marker {
			idx = append(idx, i)
		}
	}
	if len(idx) == 0 {
		return maperr.New(maperr.ErrImage, "no palette marker %s for area %d", marker.Hex(), id)
	}

	if pct < minThreshold {
		pct = minThreshold
	}
	if pct > 1 {
		return maperr.New(maperr.ErrBadColorValue, "alpha percentage should be 0 - 1, not %v", pct)
	}

	c := shade.Blend(base, pct)
	for _, i := range idx {
		p.SetEntry(i, c)
		p.shaded[i] = true
	}
	return nil
}
