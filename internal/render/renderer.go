// Package render recolors palette-indexed map images and encodes the result
// as PNG.
package render

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"

	"github.com/fogleman/gg"
	"github.com/mapshade/server/internal/maperr"
)

// Defaults.
const (
	DefaultMinWidth    = 50
	DefaultCompression = 4
)

// Config contains renderer configuration.
type Config struct {
	MinWidth int
}

// Renderer resizes and encodes recolored map images.
type Renderer struct {
	config     Config
	bufferPool sync.Pool
}

// NewRenderer creates a new renderer.
func NewRenderer(cfg Config) *Renderer {
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = DefaultMinWidth
	}
	return &Renderer{
		config: cfg,
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 64*1024))
			},
		},
	}
}

// MinWidth returns the smallest accepted output width.
func (r *Renderer) MinWidth() int {
	return r.config.MinWidth
}

// CheckWidth rejects widths below the minimum.
func (r *Renderer) CheckWidth(width int) error {
	if width < r.config.MinWidth {
		return maperr.New(maperr.ErrConfig, "width must be at least %d pixels, got %d", r.config.MinWidth, width)
	}
	return nil
}

// Resize scales src to width, keeping its aspect ratio. Widths above the
// source width are clamped to it. The result is an opaque RGB surface.
func (r *Renderer) Resize(src image.Image, width int) (*image.RGBA, error) {
	if err := r.CheckWidth(width); err != nil {
		return nil, err
	}

	b := src.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	if srcW <= 0 || srcH <= 0 {
		return nil, maperr.New(maperr.ErrImage, "source image is empty")
	}
	if width > srcW {
		width = srcW
	}
	height := int(float64(width) * (float64(srcH) / float64(srcW)))
	if height < 1 {
		height = 1
	}

	dc := gg.NewContext(width, height)
	dc.SetColor(color.White)
	dc.Clear()
	dc.Scale(float64(width)/float64(srcW), float64(height)/float64(srcH))
	dc.DrawImage(src, -b.Min.X, -b.Min.Y)

	return dc.Image().(*image.RGBA), nil
}

// CompressionLevel maps a 0-9 compression level onto the PNG encoder: 0 is
// none, 1-3 fastest, 4-6 default and 7-9 best.
func CompressionLevel(level int) (png.CompressionLevel, error) {
	switch {
	case level == 0:
		return png.NoCompression, nil
	case level >= 1 && level <= 3:
		return png.BestSpeed, nil
	case level >= 4 && level <= 6:
		return png.DefaultCompression, nil
	case level >= 7 && level <= 9:
		return png.BestCompression, nil
	}
	return 0, maperr.New(maperr.ErrConfig, "compression level %d outside 0-9", level)
}

// Encode writes img as PNG to w.
func (r *Renderer) Encode(w io.Writer, img image.Image, level int) error {
	cl, err := CompressionLevel(level)
	if err != nil {
		return err
	}
	encoder := png.Encoder{CompressionLevel: cl}
	if err := encoder.Encode(w, img); err != nil {
		return maperr.Wrap(maperr.ErrImage, err, "encode png")
	}
	return nil
}

// EncodeBytes returns img as PNG bytes.
func (r *Renderer) EncodeBytes(img image.Image, level int) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	if err := r.Encode(buf, img, level); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
