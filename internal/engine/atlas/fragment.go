package atlas

import (
	"errors"
	"fmt"
	"image"
	"image/color"
)

// ErrNoTexture is returned for a material with neither a resolvable texture
// nor an explicit fragment size.
var ErrNoTexture = errors.New("material has no resolvable texture")

// Material is the caller's description of one material's textures, keyed by
// source identifier.
type Material struct {
	Key      string
	Textures map[string]image.Image
	// Width and Height request a fragment size. Zero means the size of the
	// first resolved channel, in channel order.
	Width, Height int
	Tint          *color.NRGBA
}

// Fragment is one packable texture request.
type Fragment struct {
	Key           string
	Width, Height int
	Tint          *color.NRGBA
	Sources       [ChannelCount]image.Image
}

// Area returns the fragment's pixel area.
func (f *Fragment) Area() int {
	return f.Width * f.Height
}

// NewFragment resolves m's textures through the binding table and sizes the
// fragment.
func (t BindingTable) NewFragment(m Material) (Fragment, error) {
	f := Fragment{
		Key:     m.Key,
		Width:   m.Width,
		Height:  m.Height,
		Tint:    m.Tint,
		Sources: t.Resolve(m.Textures),
	}
	if f.Width > 0 && f.Height > 0 {
		return f, nil
	}
	for _, src := range f.Sources {
		if src == nil {
			continue
		}
		size := src.Bounds().Size()
		if size.X > 0 && size.Y > 0 {
			f.Width, f.Height = size.X, size.Y
			return f, nil
		}
	}
	return f, fmt.Errorf("%w: %q", ErrNoTexture, m.Key)
}
