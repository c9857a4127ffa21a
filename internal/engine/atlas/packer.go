package atlas

import (
	"errors"
	"fmt"
	"slices"
)

// Packer errors.
var (
	ErrInvalidAtlasSize    = errors.New("atlas size must be positive")
	ErrInvalidFragmentSize = errors.New("fragment size must be positive")
	ErrPackingOverflow     = errors.New("fragment does not fit in atlas")
)

// Rect is an integer pixel rectangle with its origin at the top-left.
type Rect struct {
	X, Y, W, H int
}

// Right returns the exclusive right edge.
func (r Rect) Right() int { return r.X + r.W }

// Bottom returns the exclusive bottom edge.
func (r Rect) Bottom() int { return r.Y + r.H }

// Area returns W*H.
func (r Rect) Area() int { return r.W * r.H }

// Intersects reports whether r and o share any pixel.
func (r Rect) Intersects(o Rect) bool {
	return r.X < o.Right() && o.X < r.Right() && r.Y < o.Bottom() && o.Y < r.Bottom()
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// PackedRect is a placed fragment: its pixel rect plus the same rect
// normalized against the atlas side.
type PackedRect struct {
	Rect
	U, V, UW, VH float32
}

// Request asks for a W×H pixel slot for one fragment key.
type Request struct {
	Key           string
	Width, Height int
}

// Placement is the packer's answer to one request. Err is non-nil when the
// request could not be placed.
type Placement struct {
	Key  string
	Rect PackedRect
	Err  error
}

// Placed reports whether the request got a rect.
func (p Placement) Placed() bool { return p.Err == nil }

// Packer places rectangles in a square atlas using guillotine splitting and
// best-long-side-fit selection. Free rectangles are never merged, so a
// Packer should serve exactly one atlas build.
type Packer struct {
	size int
	free []Rect
}

// NewPacker creates a packer for a size×size atlas.
func NewPacker(size int) (*Packer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAtlasSize, size)
	}
	return &Packer{size: size, free: []Rect{{0, 0, size, size}}}, nil
}

// Size returns the atlas side length in pixels.
func (p *Packer) Size() int {
	return p.size
}

// FreeRects returns a copy of the current free-rectangle list.
func (p *Packer) FreeRects() []Rect {
	return slices.Clone(p.free)
}

// Insert places one w×h rectangle. It returns false when no free rectangle
// can hold it.
func (p *Packer) Insert(w, h int) (Rect, bool) {
	if w <= 0 || h <= 0 {
		return Rect{}, false
	}
	best := -1
	bestLong, bestShort := 0, 0
	for i, f := range p.free {
		if !f.Contains(Rect{X: f.X, Y: f.Y, W: w, H: h}) {
			continue
		}
		dw, dh := f.W-w, f.H-h
		long, short := max(dw, dh), min(dw, dh)
		if best < 0 || long < bestLong || (long == bestLong && short < bestShort) {
			best, bestLong, bestShort = i, long, short
		}
	}
	if best < 0 {
		return Rect{}, false
	}
	used := Rect{X: p.free[best].X, Y: p.free[best].Y, W: w, H: h}
	p.split(used)
	return used, true
}

// Pack places reqs largest-area first (stable on ties) and returns one
// Placement per request in input order. Failed requests do not stop the
// remaining ones.
func (p *Packer) Pack(reqs []Request) []Placement {
	out := make([]Placement, len(reqs))
	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return area(reqs[b]) - area(reqs[a])
	})

	for _, i := range order {
		r := reqs[i]
		out[i].Key = r.Key
		if r.Width <= 0 || r.Height <= 0 {
			out[i].Err = fmt.Errorf("%w: %q is %dx%d", ErrInvalidFragmentSize, r.Key, r.Width, r.Height)
			continue
		}
		rect, ok := p.Insert(r.Width, r.Height)
		if !ok {
			out[i].Err = fmt.Errorf("%w: %q (%dx%d) in %d atlas", ErrPackingOverflow, r.Key, r.Width, r.Height, p.size)
			continue
		}
		out[i].Rect = p.normalize(rect)
	}
	return out
}

func area(r Request) int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

func (p *Packer) normalize(r Rect) PackedRect {
	s := float32(p.size)
	return PackedRect{
		Rect: r,
		U:    float32(r.X) / s,
		V:    float32(r.Y) / s,
		UW:   float32(r.W) / s,
		VH:   float32(r.H) / s,
	}
}

// split replaces every free rectangle touching used with its left, right,
// top and bottom remainders, in place.
func (p *Packer) split(used Rect) {
	out := make([]Rect, 0, len(p.free)+3)
	for _, f := range p.free {
		if !f.Intersects(used) {
			out = append(out, f)
			continue
		}
		if used.X > f.X {
			out = append(out, Rect{f.X, f.Y, used.X - f.X, f.H})
		}
		if used.Right() < f.Right() {
			out = append(out, Rect{used.Right(), f.Y, f.Right() - used.Right(), f.H})
		}
		if used.Y > f.Y {
			out = append(out, Rect{f.X, f.Y, f.W, used.Y - f.Y})
		}
		if used.Bottom() < f.Bottom() {
			out = append(out, Rect{f.X, used.Bottom(), f.W, f.Bottom() - used.Bottom()})
		}
	}
	p.free = out
}
