// Package gltfio converts between glTF 2.0 files and the combiner's source
// parts and combined meshes.
package gltfio

import (
	"errors"
	"fmt"
	"maps"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/logger"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

// Load errors.
var (
	ErrNoMesh      = errors.New("gltf: mesh not found")
	ErrNoPositions = errors.New("gltf: primitive has no POSITION")
	ErrEmptyMesh   = errors.New("gltf: mesh has no vertices")
)

// LoadPart opens a .gltf or .glb file and converts one of its meshes.
func LoadPart(path string, meshIndex int, name string) (*mesh.SourcePart, error) {
	doc, err := gltf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	p, err := PartFromDocument(doc, meshIndex, name)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// PartFromDocument converts mesh meshIndex of doc into a SourcePart. Every
// triangle primitive becomes one submesh range over a shared vertex buffer,
// keyed by its material name. The skin of the first node using the mesh,
// if any, supplies bone names and bind poses.
func PartFromDocument(doc *gltf.Document, meshIndex int, name string) (*mesh.SourcePart, error) {
	if meshIndex < 0 || meshIndex >= len(doc.Meshes) {
		return nil, fmt.Errorf("%w: index %d of %d", ErrNoMesh, meshIndex, len(doc.Meshes))
	}
	gm := doc.Meshes[meshIndex]
	if name == "" {
		name = gm.Name
	}
	log := logger.Named("gltf").With(zap.String("part", name))

	p := &mesh.SourcePart{Name: name}
	normals, tangents, uvs, weights := true, true, true, true
	var (
		joints [][4]uint16
		wts    [][4]float32
		shared []vertexRange
	)
	for pi, prim := range gm.Primitives {
		if prim.Mode != gltf.PrimitiveTriangles {
			log.Warn("skipping non-triangle primitive", zap.Int("primitive", pi))
			continue
		}
		if _, ok := prim.Attributes[gltf.POSITION]; !ok {
			return nil, fmt.Errorf("primitive %d: %w", pi, ErrNoPositions)
		}
		// Primitives over the same accessors share their vertex range.
		base, n, ok := sharedRange(shared, prim.Attributes)
		if !ok {
			pos, err := readAttr(doc, prim, gltf.POSITION, modeler.ReadPosition)
			if err != nil {
				return nil, err
			}
			base, n = uint32(len(p.Vertices.Positions)), len(pos)
			p.Vertices.Positions = append(p.Vertices.Positions, pos...)

			normals = appendAttr(doc, prim, gltf.NORMAL, modeler.ReadNormal, &p.Vertices.Normals, n, normals)
			tangents = appendAttr(doc, prim, gltf.TANGENT, modeler.ReadTangent, &p.Vertices.Tangents, n, tangents)
			uvs = appendAttr(doc, prim, gltf.TEXCOORD_0, modeler.ReadTextureCoord, &p.Vertices.UVs, n, uvs)
			weights = appendAttr(doc, prim, gltf.JOINTS_0, modeler.ReadJoints, &joints, n, weights)
			weights = appendAttr(doc, prim, gltf.WEIGHTS_0, modeler.ReadWeights, &wts, n, weights)
			shared = append(shared, vertexRange{prim.Attributes, base, n})
		}

		idx, err := readIndices(doc, prim, n)
		if err != nil {
			return nil, fmt.Errorf("primitive %d: %w", pi, err)
		}
		start := len(p.Indices)
		for _, i := range idx {
			p.Indices = append(p.Indices, i+base)
		}
		p.Submeshes = append(p.Submeshes, mesh.SubmeshRange{
			Start:    start,
			Count:    len(idx),
			Material: materialKey(doc, prim),
			Target:   pi,
		})
	}

	if !normals {
		p.Vertices.Normals = nil
	}
	if !tangents {
		p.Vertices.Tangents = nil
	}
	if !uvs {
		p.Vertices.UVs = nil
	}
	if weights {
		p.Vertices.Weights = make([]mesh.BoneWeight, len(joints))
		for i := range joints {
			p.Vertices.Weights[i] = mesh.BoneWeight{Bones: joints[i], Weights: wts[i]}
		}
	}

	if err := readSkin(doc, meshIndex, p, log); err != nil {
		return nil, err
	}
	log.Debug("part loaded",
		zap.Int("vertices", p.Vertices.Len()),
		zap.Int("submeshes", len(p.Submeshes)),
		zap.Int("bones", len(p.Bones)))
	return p, nil
}

type vertexRange struct {
	attrs map[string]uint32
	base  uint32
	n     int
}

func sharedRange(seen []vertexRange, attrs map[string]uint32) (uint32, int, bool) {
	for _, r := range seen {
		if maps.Equal(r.attrs, attrs) {
			return r.base, r.n, true
		}
	}
	return 0, 0, false
}

type readFunc[T any] func(*gltf.Document, *gltf.Accessor, []T) ([]T, error)

func readAttr[T any](doc *gltf.Document, prim *gltf.Primitive, attr string, read readFunc[T]) ([]T, error) {
	ai, ok := prim.Attributes[attr]
	if !ok {
		return nil, nil
	}
	if int(ai) >= len(doc.Accessors) {
		return nil, fmt.Errorf("%s: accessor %d out of range", attr, ai)
	}
	out, err := read(doc, doc.Accessors[ai], nil)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", attr, err)
	}
	return out, nil
}

// appendAttr appends an optional attribute while every primitive so far has
// had it. One primitive without it drops the attribute for the whole part.
func appendAttr[T any](doc *gltf.Document, prim *gltf.Primitive, attr string, read readFunc[T], dst *[]T, n int, keep bool) bool {
	if !keep {
		return false
	}
	vals, err := readAttr(doc, prim, attr, read)
	if err != nil || len(vals) != n {
		*dst = nil
		return false
	}
	*dst = append(*dst, vals...)
	return true
}

func readIndices(doc *gltf.Document, prim *gltf.Primitive, n int) ([]uint32, error) {
	if prim.Indices == nil {
		idx := make([]uint32, n)
		for i := range idx {
			idx[i] = uint32(i)
		}
		return idx, nil
	}
	if int(*prim.Indices) >= len(doc.Accessors) {
		return nil, fmt.Errorf("indices accessor %d out of range", *prim.Indices)
	}
	return modeler.ReadIndices(doc, doc.Accessors[*prim.Indices], nil)
}

func materialKey(doc *gltf.Document, prim *gltf.Primitive) string {
	if prim.Material == nil {
		return ""
	}
	mi := int(*prim.Material)
	if mi < len(doc.Materials) && doc.Materials[mi].Name != "" {
		return doc.Materials[mi].Name
	}
	return fmt.Sprintf("material%d", mi)
}

// readSkin fills bones and bind poses from the skin attached to the first
// node that instances meshIndex. Without inverse bind matrices, the bind
// pose is the inverse of the joint's rest world transform.
func readSkin(doc *gltf.Document, meshIndex int, p *mesh.SourcePart, log *zap.Logger) error {
	var skin *gltf.Skin
	for _, n := range doc.Nodes {
		if n.Mesh != nil && int(*n.Mesh) == meshIndex && n.Skin != nil && int(*n.Skin) < len(doc.Skins) {
			skin = doc.Skins[*n.Skin]
			break
		}
	}
	if skin == nil {
		return nil
	}

	var ibm [][4][4]float32
	if skin.InverseBindMatrices != nil && int(*skin.InverseBindMatrices) < len(doc.Accessors) {
		data, err := modeler.ReadAccessor(doc, doc.Accessors[*skin.InverseBindMatrices], nil)
		if err != nil {
			return fmt.Errorf("reading inverse bind matrices: %w", err)
		}
		var ok bool
		if ibm, ok = data.([][4][4]float32); !ok {
			log.Warn("inverse bind matrices are not float MAT4, using joint transforms",
				zap.Uint32("accessor", *skin.InverseBindMatrices),
				zap.String("type", fmt.Sprintf("%T", data)))
		}
	}

	world := worldTransforms(doc)
	for i, j := range skin.Joints {
		name := fmt.Sprintf("joint%d", j)
		if int(j) < len(doc.Nodes) && doc.Nodes[j].Name != "" {
			name = doc.Nodes[j].Name
		}
		p.Bones = append(p.Bones, name)

		switch {
		case i < len(ibm):
			p.BindPoses = append(p.BindPoses, math.FromColumns(ibm[i]))
		case int(j) < len(world):
			p.BindPoses = append(p.BindPoses, world[j].Inverse())
		default:
			p.BindPoses = append(p.BindPoses, math.Identity())
		}
	}
	return nil
}

// worldTransforms resolves every node's rest transform through its parents.
func worldTransforms(doc *gltf.Document) []math.Mat4 {
	parent := make([]int, len(doc.Nodes))
	for i := range parent {
		parent[i] = -1
	}
	for i, n := range doc.Nodes {
		for _, c := range n.Children {
			if int(c) < len(parent) {
				parent[c] = i
			}
		}
	}

	world := make([]math.Mat4, len(doc.Nodes))
	done := make([]bool, len(doc.Nodes))
	var resolve func(i, depth int) math.Mat4
	resolve = func(i, depth int) math.Mat4 {
		if done[i] {
			return world[i]
		}
		local := localTransform(doc.Nodes[i])
		if parent[i] >= 0 && depth < len(doc.Nodes) {
			local = resolve(parent[i], depth+1).Mul(local)
		}
		world[i], done[i] = local, true
		return local
	}
	for i := range doc.Nodes {
		resolve(i, 0)
	}
	return world
}

func localTransform(n *gltf.Node) math.Mat4 {
	if n.Matrix != gltf.DefaultMatrix && n.Matrix != [16]float32{} {
		return math.Mat4(n.Matrix)
	}
	t := n.TranslationOrDefault()
	r := n.RotationOrDefault()
	s := n.ScaleOrDefault()
	return math.Compose(t, math.QuatFromArray(r), s)
}
