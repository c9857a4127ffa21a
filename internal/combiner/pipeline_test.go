package combiner

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/merge"
	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/logger"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

func testSched() *sched.Scheduler {
	return sched.New(sched.Options{ChunkSize: 16}, nil)
}

func newPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	p, err := New(opts, testSched())
	require.NoError(t, err)
	return p
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

// triPart is a fully attributed, skinned single triangle.
func triPart(name, material string, x float32) *mesh.SourcePart {
	return &mesh.SourcePart{
		Name: name,
		Vertices: mesh.VertexData{
			Positions: [][3]float32{{x, 0, 0}, {x + 1, 0, 0}, {x, 1, 0}},
			Normals:   [][3]float32{{0, 0, 1}, {0, 0, 1}, {0, 0, 1}},
			Tangents:  [][4]float32{{1, 0, 0, 1}, {1, 0, 0, 1}, {1, 0, 0, 1}},
			UVs:       [][2]float32{{0, 0}, {1, 0}, {0, 1}},
			Weights:   []mesh.BoneWeight{mesh.DefaultWeight(), mesh.DefaultWeight(), mesh.DefaultWeight()},
		},
		Indices:   []uint32{0, 1, 2},
		Submeshes: []mesh.SubmeshRange{{Start: 0, Count: 3, Material: material}},
		Bones:     []string{"root"},
		BindPoses: []math.Mat4{math.Identity()},
	}
}

func sized(w, h int) atlas.Material {
	return atlas.Material{Width: w, Height: h}
}

func TestNew_HardFailures(t *testing.T) {
	_, err := New(DefaultOptions(), nil)
	assert.ErrorIs(t, err, ErrNilScheduler)

	opts := DefaultOptions()
	opts.AtlasSize = -16
	_, err = New(opts, testSched())
	assert.ErrorIs(t, err, atlas.ErrInvalidAtlasSize)
}

func TestRun_SingleTrianglePassthrough(t *testing.T) {
	opts := DefaultOptions()
	opts.AtlasSize = 1024
	p := newPipeline(t, opts)
	part := triPart("body", "skin", 0)

	res, err := p.Run(context.Background(), Input{
		Parts: []*mesh.SourcePart{part},
		Materials: map[string]atlas.Material{
			"skin": {Textures: map[string]image.Image{"_MainTex": solid(1024, 1024, color.RGBA{200, 150, 100, 255})}},
		},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.False(t, res.Partial)
	assert.Equal(t, StateDone, res.State)
	assert.Empty(t, res.Issues)
	assert.NoError(t, res.Err())

	r, ok := res.Atlas.Rect("skin")
	require.True(t, ok)
	assert.Equal(t, atlas.Rect{X: 0, Y: 0, W: 1024, H: 1024}, r.Rect)

	m := res.Mesh
	assert.Equal(t, part.Vertices.Positions, m.Positions)
	assert.Equal(t, part.Vertices.Normals, m.Normals)
	assert.Equal(t, part.Vertices.Tangents, m.Tangents)
	assert.Equal(t, part.Vertices.UVs, m.UVs)
	assert.Equal(t, part.Vertices.Weights, m.Weights)
	assert.Equal(t, []uint32{0, 1, 2}, m.Indices)
	assert.Equal(t, []mesh.SubmeshRange{{Start: 0, Count: 3, Material: "skin"}}, m.Submeshes)
	assert.Equal(t, []string{"root"}, m.Bones)
	assert.Equal(t, []math.Mat4{math.Identity()}, m.BindPoses)
	assert.Equal(t, color.RGBA{200, 150, 100, 255}, res.Atlas.Image(atlas.Diffuse).RGBAAt(512, 512))
}

func TestRun_OverflowDegradesOneFragment(t *testing.T) {
	opts := DefaultOptions()
	opts.AtlasSize = 1024
	p := newPipeline(t, opts)

	hair := triPart("hair", "b", 5)
	res, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{triPart("body", "a", 0), hair},
		Materials: map[string]atlas.Material{"a": sized(600, 600), "b": sized(600, 600)},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"b"}, res.FailedFragments)
	assert.Equal(t, []string{"hair[0]"}, res.Degraded)

	overflow := res.IssuesOf(PackingOverflow)
	require.Len(t, overflow, 1)
	assert.Equal(t, "b", overflow[0].Key)
	assert.ErrorIs(t, res.Err(), atlas.ErrPackingOverflow)

	// The unplaced material keeps its source UVs; the placed one is remapped.
	m := res.Mesh
	require.Len(t, m.Submeshes, 2)
	assert.Equal(t, hair.Vertices.UVs, m.UVs[3:6])
	s := float32(600) / 1024
	assert.Equal(t, [2]float32{s, 0}, m.UVs[1])
	assert.Equal(t, [2]float32{0, s}, m.UVs[2])
}

func TestRun_SharedMaterialMergesParts(t *testing.T) {
	p := newPipeline(t, DefaultOptions())
	res, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{triPart("body", "skin", 0), triPart("arms", "skin", 3)},
		Materials: map[string]atlas.Material{"skin": sized(256, 256)},
	})
	require.NoError(t, err)
	require.True(t, res.Success)

	m := res.Mesh
	require.Len(t, m.Submeshes, 1)
	assert.Equal(t, mesh.SubmeshRange{Start: 0, Count: 6, Material: "skin"}, m.Submeshes[0])
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5}, m.Indices)
	assert.Equal(t, 6, m.VertexCount())
	assert.Equal(t, []string{"root"}, m.Bones)
}

func TestRun_PolicyFromOptions(t *testing.T) {
	opts := DefaultOptions()
	opts.Policy = merge.PolicySingle
	opts.AtlasMaterial = "character"
	p := newPipeline(t, opts)
	res, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{triPart("body", "skin", 0), triPart("hair", "hair", 3)},
		Materials: map[string]atlas.Material{"skin": sized(64, 64), "hair": sized(32, 32)},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"character"}, res.Mesh.Materials)
}

func TestRun_MissingMaterialKeepsUVs(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	defer logger.Replace(zap.New(core))()

	p := newPipeline(t, DefaultOptions())
	hat := triPart("hat", "felt", 2)
	res, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{triPart("body", "skin", 0), hat},
		Materials: map[string]atlas.Material{"skin": sized(64, 64)},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.Partial)

	missing := res.IssuesOf(MissingTexture)
	require.Len(t, missing, 1)
	assert.Equal(t, "felt", missing[0].Key)
	assert.ErrorIs(t, missing[0], atlas.ErrNoTexture)
	assert.Equal(t, []string{"hat[0]"}, res.Degraded)
	assert.Equal(t, hat.Vertices.UVs, res.Mesh.UVs[3:6])
	assert.Equal(t, 1, logs.FilterMessage("material has no textures").Len())
}

func TestRun_MalformedSubmeshSkipped(t *testing.T) {
	part := triPart("body", "skin", 0)
	part.Submeshes = append(part.Submeshes, mesh.SubmeshRange{Start: 0, Count: 2, Material: "skin"})

	p := newPipeline(t, DefaultOptions())
	res, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{part},
		Materials: map[string]atlas.Material{"skin": sized(16, 16)},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.True(t, res.Partial)
	assert.Equal(t, []string{"body[1]"}, res.SkippedSubmeshes)
	assert.ErrorIs(t, res.Err(), mesh.ErrMalformedSource)
	assert.Equal(t, 1, res.Mesh.TriangleCount())
}

func TestRun_MissingAttributesAreNotErrors(t *testing.T) {
	part := triPart("body", "skin", 0)
	part.Vertices.Normals = nil
	part.Vertices.Tangents = nil

	opts := DefaultOptions()
	opts.RecomputeNormals = true
	res, err := newPipeline(t, opts).Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{part},
		Materials: map[string]atlas.Material{"skin": sized(16, 16)},
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.False(t, res.Partial)
	assert.Len(t, res.IssuesOf(MissingAttribute), 2)
	assert.NoError(t, res.Err())
	assert.Equal(t, []string{"body[0]"}, res.Degraded)

	m := res.Mesh
	assert.False(t, m.NeedsNormals)
	assert.True(t, m.NeedsTangents)
	for _, n := range m.Normals {
		assert.InDelta(t, 1.0, n[2], 1e-6)
	}
}

func TestRun_EmptyInput(t *testing.T) {
	tests := []struct {
		name  string
		parts []*mesh.SourcePart
	}{
		{"no parts", nil},
		{"all submeshes malformed", []*mesh.SourcePart{{
			Name:      "broken",
			Vertices:  mesh.VertexData{Positions: make([][3]float32, 3)},
			Indices:   []uint32{0, 1, 7},
			Submeshes: []mesh.SubmeshRange{{Start: 0, Count: 3, Material: "skin"}},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, DefaultOptions())
			res, err := p.Run(context.Background(), Input{Parts: tt.parts})
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, StateFailed, res.State)
			assert.Equal(t, StateFailed, p.State())
			assert.Nil(t, res.Mesh)
			assert.Nil(t, res.Atlas)
			assert.Len(t, res.IssuesOf(EmptyInput), 1)
			assert.ErrorIs(t, res.Err(), ErrEmptyInput)
		})
	}
}

func TestRun_NilPartIsHardFailure(t *testing.T) {
	p := newPipeline(t, DefaultOptions())
	res, err := p.Run(context.Background(), Input{Parts: []*mesh.SourcePart{triPart("a", "m", 0), nil}})
	assert.ErrorIs(t, err, mesh.ErrNilPart)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, p.State())
}

func TestRun_CancelledDiscardsOutput(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	opts := DefaultOptions()
	opts.AtlasSize = 64
	opts.OnStateChange = func(_, to State) {
		if to == StateRemapping {
			cancel()
		}
	}
	p := newPipeline(t, opts)
	res, err := p.Run(ctx, Input{
		Parts:     []*mesh.SourcePart{triPart("a", "m", 0)},
		Materials: map[string]atlas.Material{"m": sized(8, 8)},
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Equal(t, StateFailed, p.State())
}

func TestRun_StatesAdvanceLinearly(t *testing.T) {
	var seen []State
	opts := DefaultOptions()
	opts.AtlasSize = 64
	opts.OnStateChange = func(from, to State) {
		if len(seen) == 0 {
			assert.Equal(t, StateIdle, from)
		}
		seen = append(seen, to)
	}
	p := newPipeline(t, opts)
	_, err := p.Run(context.Background(), Input{
		Parts:     []*mesh.SourcePart{triPart("a", "m", 0)},
		Materials: map[string]atlas.Material{"m": sized(8, 8)},
	})
	require.NoError(t, err)
	assert.Equal(t, []State{StateExtracting, StatePacking, StateRemapping, StateGrouping, StateAssembling, StateDone}, seen)

	_, err = p.Run(context.Background(), Input{})
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRun_Deterministic(t *testing.T) {
	input := func() Input {
		tint := color.NRGBA{255, 200, 180, 255}
		body := triPart("body", "skin", 0)
		body.Bones = []string{"spine", "root"}
		body.BindPoses = []math.Mat4{math.Translate(0, 1, 0), math.Identity()}
		return Input{
			Parts: []*mesh.SourcePart{body, triPart("hair", "hair", 2), triPart("shirt", "cloth", 4), triPart("boots", "skin", 6)},
			Materials: map[string]atlas.Material{
				"skin":  {Tint: &tint, Textures: map[string]image.Image{"_MainTex": solid(48, 32, color.RGBA{220, 180, 160, 255})}},
				"hair":  {Width: 40, Height: 40, Textures: map[string]image.Image{"_MainTex": solid(10, 10, color.RGBA{40, 20, 10, 255})}},
				"cloth": {Textures: map[string]image.Image{"_MainTex": solid(64, 16, color.RGBA{0, 0, 128, 255}), "_BumpMap": solid(64, 16, color.RGBA{120, 130, 250, 255})}},
			},
		}
	}
	opts := DefaultOptions()
	opts.AtlasSize = 128
	opts.Channels = []atlas.Channel{atlas.Diffuse, atlas.Normal}
	opts.RootBone = "root"

	r1, err := newPipeline(t, opts).Run(context.Background(), input())
	require.NoError(t, err)
	r2, err := newPipeline(t, opts).Run(context.Background(), input())
	require.NoError(t, err)

	assert.Equal(t, r1.Mesh, r2.Mesh)
	assert.Equal(t, r1.Atlas, r2.Atlas)
	assert.Equal(t, []string{"root", "spine"}, r1.Mesh.Bones)
	assert.Equal(t, []string{"skin", "hair", "cloth"}, r1.Mesh.Materials)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, canMove(StateIdle, StateExtracting))
	assert.True(t, canMove(StatePacking, StateFailed))
	assert.False(t, canMove(StateIdle, StatePacking))
	assert.False(t, canMove(StateDone, StateFailed))
	assert.False(t, canMove(StateFailed, StateIdle))
	assert.Equal(t, "assembling", StateAssembling.String())
}
