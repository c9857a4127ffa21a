// Package mesh turns caller-owned source parts into compact, self-contained
// submesh units ready for atlas remapping and assembly.
package mesh

import (
	"fmt"

	"github.com/Faultbox/midgard-combine/pkg/math"
)

// MaxInfluences is the number of bone slots per vertex.
const MaxInfluences = 4

// BoneWeight holds up to four bone influences for one vertex. Bone slots are
// indices into the owning part's (or unit's) bone list.
type BoneWeight struct {
	Bones   [MaxInfluences]uint16
	Weights [MaxInfluences]float32
}

// DefaultWeight binds a vertex fully to bone 0.
func DefaultWeight() BoneWeight {
	return BoneWeight{Weights: [MaxInfluences]float32{1, 0, 0, 0}}
}

// VertexData is a structure-of-arrays vertex buffer. Positions are required;
// every other attribute is either empty or exactly as long as Positions.
type VertexData struct {
	Positions [][3]float32
	Normals   [][3]float32
	Tangents  [][4]float32 // xyz + handedness
	UVs       [][2]float32
	Weights   []BoneWeight
}

// Len returns the vertex count.
func (v *VertexData) Len() int {
	return len(v.Positions)
}

// SubmeshRange selects a run of triangle indices sharing one material.
type SubmeshRange struct {
	Start    int    // first index into the index buffer
	Count    int    // number of indices (multiple of 3)
	Material string // material / atlas fragment key
	Target   int    // output submesh slot for explicit grouping
}

// TriangleCount returns Count/3.
func (r SubmeshRange) TriangleCount() int {
	return r.Count / 3
}

// SourcePart is one contributor to the combined character: a body, a hair
// piece, a garment. The combiner never writes to it.
type SourcePart struct {
	Name      string
	Vertices  VertexData
	Indices   []uint32
	Submeshes []SubmeshRange
	Bones     []string
	// BindPoses aligns with Bones; a shorter slice leaves the trailing bones
	// without a known bind pose.
	BindPoses []math.Mat4
}

// UnitKey names the unit produced from one submesh of a part.
func (p *SourcePart) UnitKey(partIdx, submesh int) string {
	name := p.Name
	if name == "" {
		name = fmt.Sprintf("part%d", partIdx)
	}
	return fmt.Sprintf("%s[%d]", name, submesh)
}

// Origin identifies the (part, submesh) pair a unit came from.
type Origin struct {
	Part    int
	Submesh int
}

// SubmeshUnit is the compacted geometry of one (part, submesh) pair. All
// attribute slices have VertexCount entries and every triangle index is
// below VertexCount.
type SubmeshUnit struct {
	Key         string
	Origin      Origin
	MaterialKey string
	Target      int

	VertexCount int
	Positions   [][3]float32
	Normals     [][3]float32
	Tangents    [][4]float32
	UVs         [][2]float32
	Weights     []BoneWeight
	Triangles   []uint32

	// Bones and BindPoses are copied from the source part so the unit can be
	// assembled without it.
	Bones     []string
	BindPoses []math.Mat4

	NeedsNormals  bool
	NeedsTangents bool
	// DefaultSkin is set when the source had no skin weights and every
	// vertex was bound to bone 0.
	DefaultSkin bool
}

// TriangleCount returns the number of triangles in the unit.
func (u *SubmeshUnit) TriangleCount() int {
	return len(u.Triangles) / 3
}

// BindPose returns the bind pose of local bone i, if known.
func (u *SubmeshUnit) BindPose(i int) (math.Mat4, bool) {
	if i < 0 || i >= len(u.BindPoses) {
		return math.Identity(), false
	}
	return u.BindPoses[i], true
}

// Attribute names an optional vertex attribute.
type Attribute int

const (
	AttrNormals Attribute = iota
	AttrTangents
	AttrUVs
	AttrWeights
)

// String returns the attribute name.
func (a Attribute) String() string {
	switch a {
	case AttrNormals:
		return "normals"
	case AttrTangents:
		return "tangents"
	case AttrUVs:
		return "uvs"
	case AttrWeights:
		return "weights"
	default:
		return fmt.Sprintf("Attribute(%d)", int(a))
	}
}
