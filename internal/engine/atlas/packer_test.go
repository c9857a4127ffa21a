package atlas

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPacker_RejectsNonPositiveSize(t *testing.T) {
	for _, size := range []int{0, -1, -1024} {
		_, err := NewPacker(size)
		assert.ErrorIs(t, err, ErrInvalidAtlasSize, "size %d", size)
	}
}

func TestPack_SingleFragmentFillsAtlas(t *testing.T) {
	p, err := NewPacker(1024)
	require.NoError(t, err)

	got := p.Pack([]Request{{Key: "body", Width: 1024, Height: 1024}})
	require.Len(t, got, 1)
	require.True(t, got[0].Placed())
	assert.Equal(t, Rect{0, 0, 1024, 1024}, got[0].Rect.Rect)
	assert.Equal(t, float32(0), got[0].Rect.U)
	assert.Equal(t, float32(0), got[0].Rect.V)
	assert.Equal(t, float32(1), got[0].Rect.UW)
	assert.Equal(t, float32(1), got[0].Rect.VH)
	assert.Empty(t, p.FreeRects())
}

func TestPack_SecondLargeFragmentOverflows(t *testing.T) {
	p, err := NewPacker(1024)
	require.NoError(t, err)

	got := p.Pack([]Request{
		{Key: "a", Width: 600, Height: 600},
		{Key: "b", Width: 600, Height: 600},
	})
	require.True(t, got[0].Placed())
	assert.Equal(t, Rect{0, 0, 600, 600}, got[0].Rect.Rect)

	assert.False(t, got[1].Placed())
	assert.ErrorIs(t, got[1].Err, ErrPackingOverflow)
	assert.Equal(t, "b", got[1].Key)

	assert.Equal(t, []Rect{
		{600, 0, 424, 1024},
		{0, 600, 1024, 424},
	}, p.FreeRects())
}

func TestPack_LargestAreaFirst(t *testing.T) {
	p, err := NewPacker(128)
	require.NoError(t, err)

	got := p.Pack([]Request{
		{Key: "small", Width: 10, Height: 10},
		{Key: "big", Width: 100, Height: 100},
	})
	assert.Equal(t, Rect{0, 0, 100, 100}, got[1].Rect.Rect)
	// Both remainders leave a 118 long side and an 18 short side; list
	// order picks the right strip.
	assert.Equal(t, Rect{100, 0, 10, 10}, got[0].Rect.Rect)
}

func TestPack_EqualAreaKeepsInputOrder(t *testing.T) {
	p, err := NewPacker(64)
	require.NoError(t, err)

	got := p.Pack([]Request{
		{Key: "first", Width: 10, Height: 20},
		{Key: "second", Width: 20, Height: 10},
	})
	assert.Equal(t, 0, got[0].Rect.X)
	assert.Equal(t, 0, got[0].Rect.Y)
	assert.NotEqual(t, Rect{}, got[1].Rect.Rect)
}

func TestInsert_LongSideFit(t *testing.T) {
	tests := []struct {
		name string
		w, h int
		want Rect
	}{
		// Free list after 50x50: right (50,0,50,100), bottom (0,50,100,50).
		{"tall prefers right strip", 40, 50, Rect{50, 0, 40, 50}},
		{"wide prefers bottom strip", 50, 40, Rect{0, 50, 50, 40}},
		{"exact tie takes first listed", 50, 50, Rect{50, 0, 50, 50}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPacker(100)
			require.NoError(t, err)
			_, ok := p.Insert(50, 50)
			require.True(t, ok)

			got, ok := p.Insert(tt.w, tt.h)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPack_InvalidFragmentSizeFailsAlone(t *testing.T) {
	p, err := NewPacker(64)
	require.NoError(t, err)

	got := p.Pack([]Request{
		{Key: "zero", Width: 0, Height: 10},
		{Key: "ok", Width: 8, Height: 8},
		{Key: "neg", Width: 4, Height: -4},
	})
	assert.ErrorIs(t, got[0].Err, ErrInvalidFragmentSize)
	assert.ErrorIs(t, got[2].Err, ErrInvalidFragmentSize)
	require.True(t, got[1].Placed())
	assert.Equal(t, Rect{0, 0, 8, 8}, got[1].Rect.Rect)
}

func TestPack_NoOverlapAndInBounds(t *testing.T) {
	const size = 1024
	rng := rand.New(rand.NewPCG(7, 11))
	reqs := make([]Request, 300)
	for i := range reqs {
		reqs[i] = Request{
			Key:    fmt.Sprintf("f%d", i),
			Width:  1 + rng.IntN(200),
			Height: 1 + rng.IntN(200),
		}
	}

	p, err := NewPacker(size)
	require.NoError(t, err)
	got := p.Pack(reqs)

	bounds := Rect{0, 0, size, size}
	var placed []Rect
	for _, pl := range got {
		if !pl.Placed() {
			assert.ErrorIs(t, pl.Err, ErrPackingOverflow)
			continue
		}
		r := pl.Rect.Rect
		require.True(t, bounds.Contains(r), "%s out of bounds: %+v", pl.Key, r)
		for _, o := range placed {
			require.False(t, r.Intersects(o), "%+v overlaps %+v", r, o)
		}
		placed = append(placed, r)
	}
	require.NotEmpty(t, placed)

	for _, f := range p.FreeRects() {
		assert.True(t, bounds.Contains(f))
		assert.Positive(t, f.Area())
		for _, r := range placed {
			assert.False(t, f.Intersects(r), "free %+v overlaps placed %+v", f, r)
		}
	}
}

func TestPack_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 5))
	reqs := make([]Request, 64)
	for i := range reqs {
		reqs[i] = Request{Key: fmt.Sprintf("f%d", i), Width: 1 + rng.IntN(128), Height: 1 + rng.IntN(128)}
	}

	p1, _ := NewPacker(512)
	p2, _ := NewPacker(512)
	assert.Equal(t, p1.Pack(reqs), p2.Pack(reqs))
}

func TestPackedRect_UVDerivedAfterPlacement(t *testing.T) {
	p, err := NewPacker(3)
	require.NoError(t, err)
	got := p.Pack([]Request{{Key: "a", Width: 1, Height: 2}})
	r := got[0].Rect
	assert.Equal(t, float32(1)/float32(3), r.UW)
	assert.Equal(t, float32(2)/float32(3), r.VH)
}

func TestInsert_ExactFitAndOneTooWide(t *testing.T) {
	p, err := NewPacker(64)
	require.NoError(t, err)

	_, ok := p.Insert(65, 1)
	assert.False(t, ok)
	_, ok = p.Insert(1, 65)
	assert.False(t, ok)

	r, ok := p.Insert(64, 64)
	require.True(t, ok)
	assert.Equal(t, Rect{W: 64, H: 64}, r)
	assert.Empty(t, p.FreeRects())

	_, ok = p.Insert(1, 1)
	assert.False(t, ok)
}

func TestRect_Contains(t *testing.T) {
	outer := Rect{X: 10, Y: 10, W: 20, H: 20}
	assert.True(t, outer.Contains(outer))
	assert.True(t, outer.Contains(Rect{X: 15, Y: 15, W: 5, H: 5}))
	assert.False(t, outer.Contains(Rect{X: 25, Y: 10, W: 6, H: 5}))
	assert.False(t, outer.Contains(Rect{X: 9, Y: 10, W: 5, H: 5}))
}
