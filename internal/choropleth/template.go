package choropleth

import (
	"path/filepath"
	"regexp"

	"github.com/mapshade/server/internal/catalog"
	"github.com/mapshade/server/internal/maperr"
	"github.com/mapshade/server/internal/render"
)

// nameRE excludes '.', which ends the map segment of /maps/{map}.png.
var nameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// Template is a loaded map: the indexed source image and its area
// definitions. A Template is never modified after loading and may be shared.
type Template struct {
	Name    string
	Catalog *catalog.Catalog
	Image   *render.PaletteImage
}

// ValidName reports whether name can be used as a map name.
func ValidName(name string) bool {
	return nameRE.MatchString(name)
}

// LoadTemplate reads <base>/<name>.png and <base>/<name>.csv.
func LoadTemplate(name, base string) (*Template, error) {
	if !ValidName(name) {
		return nil, maperr.New(maperr.ErrConfig, "invalid map name %q", name)
	}

	img, err := render.LoadFile(filepath.Join(base, name+".png"))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.LoadFile(filepath.Join(base, name+".csv"))
	if err != nil {
		return nil, err
	}
	return &Template{Name: name, Catalog: cat, Image: img}, nil
}

// Width returns the native width of the map image.
func (t *Template) Width() int {
	return t.Image.Bounds().Dx()
}

// Height returns the native height of the map image.
func (t *Template) Height() int {
	return t.Image.Bounds().Dy()
}
