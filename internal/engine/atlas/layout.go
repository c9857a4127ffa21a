package atlas

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"slices"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

// Layout is a finished atlas: one square RGBA buffer per requested channel
// and the rect assigned to every placed fragment.
type Layout struct {
	Size     int
	Channels []Channel
	Images   map[Channel]*image.RGBA
	Rects    map[string]PackedRect
	// Order lists placed fragment keys in placement order.
	Order []string
	// Failed lists fragment keys that could not be placed, in input order.
	Failed []string
}

// Image returns the buffer for channel c, or nil if c was not requested.
func (l *Layout) Image(c Channel) *image.RGBA {
	return l.Images[c]
}

// Rect returns the rect assigned to key.
func (l *Layout) Rect(key string) (PackedRect, bool) {
	r, ok := l.Rects[key]
	return r, ok
}

// Utilization returns the fraction of atlas pixels covered by fragments.
func (l *Layout) Utilization() float64 {
	if l.Size <= 0 {
		return 0
	}
	used := 0
	for _, r := range l.Rects {
		used += r.Area()
	}
	return float64(used) / float64(l.Size*l.Size)
}

// Builder packs fragments and fills the atlas pixel buffers.
type Builder struct {
	sched *sched.Scheduler
	log   *zap.Logger
}

// NewBuilder creates a builder running its pixel loops on s.
func NewBuilder(s *sched.Scheduler) *Builder {
	return &Builder{sched: s, log: logger.Named("atlas")}
}

// Build packs frags into a size×size atlas and fills every requested
// channel. Placements are returned in fragment order; unplaced fragments
// carry their error and are listed in Layout.Failed.
func (b *Builder) Build(ctx context.Context, size int, channels []Channel, frags []Fragment) (*Layout, []Placement, error) {
	packer, err := NewPacker(size)
	if err != nil {
		return nil, nil, err
	}

	reqs := make([]Request, len(frags))
	for i, f := range frags {
		reqs[i] = Request{Key: f.Key, Width: f.Width, Height: f.Height}
	}
	placements := packer.Pack(reqs)

	l := &Layout{
		Size:     size,
		Channels: channels,
		Images:   make(map[Channel]*image.RGBA, len(channels)),
		Rects:    make(map[string]PackedRect, len(frags)),
	}
	for _, p := range placements {
		if !p.Placed() {
			l.Failed = append(l.Failed, p.Key)
			b.log.Warn("fragment not packed", zap.String("fragment", p.Key), zap.Error(p.Err))
			continue
		}
		l.Rects[p.Key] = p.Rect
	}
	l.Order = placementOrder(placements)

	if err := b.fill(ctx, l, frags); err != nil {
		return nil, nil, err
	}
	b.log.Debug("atlas built",
		zap.Int("size", size),
		zap.Int("placed", len(l.Rects)),
		zap.Int("failed", len(l.Failed)),
		zap.Float64("utilization", l.Utilization()))
	return l, placements, nil
}

// placementOrder returns placed keys sorted the way the packer visited them:
// area descending, input order on ties.
func placementOrder(ps []Placement) []string {
	placed := slices.DeleteFunc(slices.Clone(ps), func(p Placement) bool { return !p.Placed() })
	slices.SortStableFunc(placed, func(a, b Placement) int { return b.Rect.Area() - a.Rect.Area() })
	keys := make([]string, len(placed))
	for i, p := range placed {
		keys[i] = p.Key
	}
	return keys
}

func (b *Builder) fill(ctx context.Context, l *Layout, frags []Fragment) error {
	byKey := make(map[string]*Fragment, len(frags))
	for i := range frags {
		if _, dup := byKey[frags[i].Key]; !dup {
			byKey[frags[i].Key] = &frags[i]
		}
	}

	for _, c := range l.Channels {
		dst := image.NewRGBA(image.Rect(0, 0, l.Size, l.Size))
		if err := b.clear(ctx, dst, c.Neutral()); err != nil {
			return err
		}
		for _, key := range l.Order {
			f := byKey[key]
			if f == nil {
				continue
			}
			if err := b.blit(ctx, dst, c, f, l.Rects[key].Rect); err != nil {
				return fmt.Errorf("fill %s/%s: %w", c, key, err)
			}
		}
		l.Images[c] = dst
	}
	return nil
}

func (b *Builder) clear(ctx context.Context, dst *image.RGBA, v color.RGBA) error {
	w := dst.Rect.Dx()
	row := make([]byte, w*4)
	for x := 0; x < w; x++ {
		row[x*4], row[x*4+1], row[x*4+2], row[x*4+3] = v.R, v.G, v.B, v.A
	}
	return b.sched.Run(ctx, dst.Rect.Dy(), func(y int) {
		copy(dst.Pix[y*dst.Stride:], row)
	})
}

// blit scales the fragment's channel image into r. A missing channel leaves
// the neutral value in place.
func (b *Builder) blit(ctx context.Context, dst *image.RGBA, c Channel, f *Fragment, r Rect) error {
	src := f.Sources[c]
	if src == nil {
		return nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, r.W, r.H))
	sb := src.Bounds()
	if sb.Dx() == r.W && sb.Dy() == r.H {
		draw.Draw(scaled, scaled.Bounds(), src, sb.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, draw.Src, nil)
	}

	tint := c == Diffuse && f.Tint != nil
	return b.sched.Run(ctx, r.H, func(y int) {
		in := scaled.Pix[y*scaled.Stride : y*scaled.Stride+r.W*4]
		off := dst.PixOffset(r.X, r.Y+y)
		out := dst.Pix[off : off+r.W*4]
		copy(out, in)
		if tint {
			modulate(out, *f.Tint)
		}
	})
}

// modulate multiplies premultiplied RGBA pixels by a non-premultiplied tint.
func modulate(px []byte, t color.NRGBA) {
	ta := uint32(t.A)
	mul := [4]uint32{uint32(t.R) * ta, uint32(t.G) * ta, uint32(t.B) * ta, 255 * ta}
	const den = 255 * 255
	for i := 0; i+3 < len(px); i += 4 {
		for k := 0; k < 4; k++ {
			px[i+k] = uint8((uint32(px[i+k])*mul[k] + den/2) / den)
		}
	}
}
