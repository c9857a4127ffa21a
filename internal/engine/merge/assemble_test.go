package merge

import (
	"context"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

func testAssembler(root string) *Assembler {
	return NewAssembler(sched.New(sched.Options{ChunkSize: 4}, nil), root)
}

func TestAssemble_SharedMaterialIsOneContiguousRange(t *testing.T) {
	body := unit("body[0]", "skin", 0, 0, 4, []uint32{0, 1, 2, 2, 3, 0})
	arms := unit("arms[0]", "skin", 1, 0, 3, []uint32{0, 2, 1})

	groups := Group([]*mesh.SubmeshUnit{body, arms}, PolicyMaterial, "")
	require.Len(t, groups, 1)

	m, err := testAssembler("").Assemble(context.Background(), groups)
	require.NoError(t, err)

	require.Len(t, m.Submeshes, 1)
	assert.Equal(t, mesh.SubmeshRange{Start: 0, Count: 9, Material: "skin", Target: 0}, m.Submeshes[0])
	assert.Equal(t, []string{"skin"}, m.Materials)
	assert.Equal(t, []uint32{0, 1, 2, 2, 3, 0, 4, 6, 5}, m.Indices)

	assert.Equal(t, 7, m.VertexCount())
	assert.Equal(t, 3, m.TriangleCount())
	assert.Equal(t, [3]float32{0, 0, 3}, m.Positions[3])
	assert.Equal(t, [3]float32{1, 0, 0}, m.Positions[4])
}

func TestAssemble_RangesFollowGroupOrder(t *testing.T) {
	units := []*mesh.SubmeshUnit{
		unit("body[0]", "skin", 0, 0, 3, []uint32{0, 1, 2}),
		unit("hair[0]", "hair", 1, 0, 3, []uint32{2, 1, 0}),
		unit("gloves[0]", "skin", 2, 0, 3, []uint32{0, 1, 2}),
	}
	m, err := testAssembler("").Assemble(context.Background(), Group(units, PolicyMaterial, ""))
	require.NoError(t, err)

	assert.Equal(t, []mesh.SubmeshRange{
		{Start: 0, Count: 6, Material: "skin", Target: 0},
		{Start: 6, Count: 3, Material: "hair", Target: 1},
	}, m.Submeshes)
	// body then gloves then hair.
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 8, 7, 6}, m.Indices)
	assert.Equal(t, [3]float32{2, 0, 0}, m.Positions[3])
	assert.Equal(t, [3]float32{1, 0, 0}, m.Positions[6])
}

func TestAssemble_Conservation(t *testing.T) {
	rng := rand.New(rand.NewPCG(9, 9))
	var units []*mesh.SubmeshUnit
	wantVerts, wantTris := 0, 0
	for p := 0; p < 6; p++ {
		subs := 1 + rng.IntN(3)
		for s := 0; s < subs; s++ {
			verts := 3 + rng.IntN(40)
			tris := make([]uint32, 3*(1+rng.IntN(30)))
			for i := range tris {
				tris[i] = uint32(rng.IntN(verts))
			}
			mat := fmt.Sprintf("mat%d", rng.IntN(3))
			units = append(units, unit(fmt.Sprintf("p%d[%d]", p, s), mat, p, s, verts, tris))
			wantVerts += verts
			wantTris += len(tris) / 3
		}
	}

	for _, policy := range []Policy{PolicyMaterial, PolicySingle, PolicyPreserve, PolicyExplicit} {
		t.Run(policy.String(), func(t *testing.T) {
			groups := Group(units, policy, "")
			m, err := testAssembler("").Assemble(context.Background(), groups)
			require.NoError(t, err)

			assert.Equal(t, wantVerts, m.VertexCount())
			assert.Equal(t, wantTris, m.TriangleCount())
			assert.Len(t, m.Normals, wantVerts)
			assert.Len(t, m.Tangents, wantVerts)
			assert.Len(t, m.UVs, wantVerts)
			assert.Len(t, m.Weights, wantVerts)

			next := 0
			for i, r := range m.Submeshes {
				assert.Equal(t, next, r.Start, "submesh %d", i)
				assert.Equal(t, groups[i].TriangleCount()*3, r.Count)
				next += r.Count
			}
			assert.Equal(t, len(m.Indices), next)
			for _, idx := range m.Indices {
				require.Less(t, int(idx), wantVerts)
			}
		})
	}
}

func TestAssemble_BoneTableRootFirstAndPosesLockStep(t *testing.T) {
	spinePose := math.Translate(0, 1, 0)
	rootPose := math.Translate(0, 0, 5)
	armPose := math.Translate(1, 0, 0)

	// Spine is listed before root; root has no pose in the first unit.
	a := unit("body[0]", "skin", 0, 0, 2, []uint32{0, 1, 1}, "spine", "root")
	a.BindPoses = []math.Mat4{spinePose}
	a.Weights[0] = mesh.BoneWeight{Bones: [4]uint16{0, 1}, Weights: [4]float32{0.5, 0.5}}
	a.Weights[1] = mesh.BoneWeight{Bones: [4]uint16{7}, Weights: [4]float32{1}}

	b := unit("arm[0]", "skin", 1, 0, 1, []uint32{0, 0, 0}, "root", "arm")
	b.BindPoses = []math.Mat4{rootPose, armPose}
	b.Weights[0] = mesh.BoneWeight{Bones: [4]uint16{1, 0}, Weights: [4]float32{0.75, 0.25}}

	m, err := testAssembler("root").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{a, b}, PolicyMaterial, ""))
	require.NoError(t, err)

	assert.Equal(t, []string{"root", "spine", "arm"}, m.Bones)
	require.Len(t, m.BindPoses, 3)
	assert.Equal(t, rootPose, m.BindPoses[0])
	assert.Equal(t, spinePose, m.BindPoses[1])
	assert.Equal(t, armPose, m.BindPoses[2])

	assert.Equal(t, [4]uint16{1, 0, 1, 1}, m.Weights[0].Bones)
	assert.Equal(t, [4]float32{0.5, 0.5, 0, 0}, m.Weights[0].Weights)
	// Slot 7 does not exist in body's bone list.
	assert.Equal(t, uint16(0), m.Weights[1].Bones[0])
	assert.Equal(t, [4]uint16{2, 0, 0, 0}, m.Weights[2].Bones)
}

func TestAssemble_FirstSeenOrderWithoutRoot(t *testing.T) {
	a := unit("a[0]", "m", 0, 0, 1, []uint32{0, 0, 0}, "hip", "knee")
	b := unit("b[0]", "m", 1, 0, 1, []uint32{0, 0, 0}, "neck", "hip")

	m, err := testAssembler("root").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{a, b}, PolicyPreserve, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{"hip", "knee", "neck"}, m.Bones)
	for _, p := range m.BindPoses {
		assert.True(t, p.IsIdentity())
	}
	assert.Equal(t, uint16(2), m.Weights[1].Bones[0])
}

func TestAssemble_SyntheticRootForUnskinnedInput(t *testing.T) {
	u := unit("prop[0]", "m", 0, 0, 3, []uint32{0, 1, 2})
	m, err := testAssembler("").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{u}, PolicyMaterial, ""))
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultRootBone}, m.Bones)
	assert.Equal(t, []math.Mat4{math.Identity()}, m.BindPoses)
}

func TestAssemble_NoSkeletonWhenWeightsWereDefaulted(t *testing.T) {
	u := unit("prop[0]", "m", 0, 0, 3, []uint32{0, 1, 2})
	u.DefaultSkin = true
	m, err := testAssembler("root").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{u}, PolicyMaterial, ""))
	require.NoError(t, err)
	assert.Empty(t, m.Bones)
	assert.Empty(t, m.BindPoses)
	assert.Len(t, m.Weights, 3)
}

func TestAssemble_RecomputeFlagsPropagate(t *testing.T) {
	a := unit("a[0]", "m", 0, 0, 3, []uint32{0, 1, 2})
	b := unit("b[0]", "m", 1, 0, 3, []uint32{0, 1, 2})
	b.NeedsTangents = true

	m, err := testAssembler("").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{a, b}, PolicyMaterial, ""))
	require.NoError(t, err)
	assert.False(t, m.NeedsNormals)
	assert.True(t, m.NeedsTangents)
}

func TestAssemble_CancelledReturnsNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := unit("a[0]", "m", 0, 0, 3, []uint32{0, 1, 2})
	m, err := testAssembler("").Assemble(ctx, Group([]*mesh.SubmeshUnit{u}, PolicyMaterial, ""))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, m)
}

func TestAssemble_DoesNotMutateUnits(t *testing.T) {
	u := unit("a[0]", "m", 0, 0, 3, []uint32{0, 1, 2}, "b1")
	u.Weights[0].Bones[0] = 0
	first := unit("z[0]", "m", 1, 0, 3, []uint32{0, 1, 2}, "b0")

	_, err := testAssembler("").Assemble(context.Background(), Group([]*mesh.SubmeshUnit{first, u}, PolicyMaterial, ""))
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, u.Triangles)
	assert.Equal(t, uint16(0), u.Weights[0].Bones[0])
}
