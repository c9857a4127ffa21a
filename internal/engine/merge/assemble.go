package merge

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/logger"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

// CombinedMesh is the assembled output: concatenated vertex arrays, one
// contiguous index range per output submesh, and a de-duplicated skeleton.
type CombinedMesh struct {
	Positions [][3]float32
	Normals   [][3]float32
	Tangents  [][4]float32
	UVs       [][2]float32
	Weights   []mesh.BoneWeight
	Indices   []uint32

	// Submeshes[i] covers Indices[Start:Start+Count] and draws with
	// Materials[i].
	Submeshes []mesh.SubmeshRange
	Materials []string

	Bones     []string
	BindPoses []math.Mat4

	NeedsNormals  bool
	NeedsTangents bool
}

// VertexCount returns the number of vertices.
func (m *CombinedMesh) VertexCount() int {
	return len(m.Positions)
}

// TriangleCount returns the number of triangles.
func (m *CombinedMesh) TriangleCount() int {
	return len(m.Indices) / 3
}

// Assembler concatenates grouped units into a CombinedMesh.
type Assembler struct {
	sched    *sched.Scheduler
	log      *zap.Logger
	rootBone string
}

// NewAssembler creates an assembler. rootBone, when declared by any unit,
// becomes bone 0.
func NewAssembler(s *sched.Scheduler, rootBone string) *Assembler {
	return &Assembler{sched: s, log: logger.Named("assemble"), rootBone: rootBone}
}

// Assemble walks groups in order and their units in order. Nothing is
// returned on error, so a cancelled assembly never exposes partial buffers.
func (a *Assembler) Assemble(ctx context.Context, groups []*TargetGroup) (*CombinedMesh, error) {
	var all []*mesh.SubmeshUnit
	verts, indices := 0, 0
	for _, g := range groups {
		for _, u := range g.Units {
			all = append(all, u)
			verts += u.VertexCount
			indices += len(u.Triangles)
		}
	}
	if uint64(verts) > uint64(^uint32(0)) {
		return nil, fmt.Errorf("combined vertex count %d exceeds 32-bit indices", verts)
	}

	m := &CombinedMesh{
		Positions: make([][3]float32, verts),
		Normals:   make([][3]float32, verts),
		Tangents:  make([][4]float32, verts),
		UVs:       make([][2]float32, verts),
		Weights:   make([]mesh.BoneWeight, verts),
		Indices:   make([]uint32, 0, indices),
		Submeshes: make([]mesh.SubmeshRange, 0, len(groups)),
		Materials: make([]string, 0, len(groups)),
	}
	bones := NewBoneTable(a.rootBone, all)

	offset := 0
	for _, g := range groups {
		start := len(m.Indices)
		for _, u := range g.Units {
			remap, err := bones.Register(u)
			if err != nil {
				return nil, err
			}
			if err := a.appendUnit(ctx, m, u, offset, remap); err != nil {
				return nil, fmt.Errorf("assemble %s: %w", u.Key, err)
			}
			offset += u.VertexCount
			m.NeedsNormals = m.NeedsNormals || u.NeedsNormals
			m.NeedsTangents = m.NeedsTangents || u.NeedsTangents
		}
		m.Submeshes = append(m.Submeshes, mesh.SubmeshRange{
			Start:    start,
			Count:    len(m.Indices) - start,
			Material: g.Material,
			Target:   g.Index,
		})
		m.Materials = append(m.Materials, g.Material)
	}

	if skinned(all) {
		bones.ensureRoot(a.rootBone)
	}
	m.Bones = bones.Names()
	m.BindPoses = bones.BindPoses()

	a.log.Debug("mesh assembled",
		zap.Int("groups", len(groups)),
		zap.Int("vertices", m.VertexCount()),
		zap.Int("triangles", m.TriangleCount()),
		zap.Int("bones", len(m.Bones)))
	return m, nil
}

// skinned reports whether any unit carries source skin weights.
func skinned(units []*mesh.SubmeshUnit) bool {
	for _, u := range units {
		if !u.DefaultSkin && u.VertexCount > 0 {
			return true
		}
	}
	return false
}

// appendUnit copies u's attributes to m at vertex offset off and appends
// its offset triangles.
func (a *Assembler) appendUnit(ctx context.Context, m *CombinedMesh, u *mesh.SubmeshUnit, off int, remap []uint16) error {
	err := a.sched.RunPure(ctx, u.VertexCount, func(start, end int) {
		copy(m.Positions[off+start:off+end], u.Positions[start:end])
		copy(m.Normals[off+start:off+end], u.Normals[start:end])
		copy(m.Tangents[off+start:off+end], u.Tangents[start:end])
		copy(m.UVs[off+start:off+end], u.UVs[start:end])
	})
	if err != nil {
		return err
	}

	if err := a.sched.Run(ctx, u.VertexCount, func(i int) {
		m.Weights[off+i] = remapWeight(u.Weights[i], remap)
	}); err != nil {
		return err
	}

	base := len(m.Indices)
	m.Indices = m.Indices[:base+len(u.Triangles)]
	tris := m.Indices[base:]
	return a.sched.Run(ctx, len(u.Triangles), func(i int) {
		tris[i] = u.Triangles[i] + uint32(off)
	})
}
