package gltfio

import (
	"bytes"
	"fmt"
	"image/png"
	"slices"

	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/merge"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

// ExportOptions controls GLB output.
type ExportOptions struct {
	// Name of the mesh and its node. Defaults to "combined".
	Name string
	// Atlas, when set, is embedded and bound to every material not listed
	// in Untextured.
	Atlas *atlas.Layout
	// Untextured lists material keys whose UVs were not remapped into the
	// atlas (failed or missing fragments).
	Untextured []string
}

// Export writes m as a binary glTF file at path.
func Export(path string, m *merge.CombinedMesh, opts ExportOptions) error {
	doc, err := Build(m, opts)
	if err != nil {
		return err
	}
	if err := gltf.SaveBinary(doc, path); err != nil {
		return fmt.Errorf("saving %s: %w", path, err)
	}
	logger.Named("gltf").Info("mesh exported",
		zap.String("path", path),
		zap.Int("vertices", m.VertexCount()),
		zap.Int("submeshes", len(m.Submeshes)))
	return nil
}

// Build converts m into a glTF document: one primitive per submesh over a
// shared vertex buffer, a flat skin with one joint node per bone, and one
// material per submesh material.
func Build(m *merge.CombinedMesh, opts ExportOptions) (*gltf.Document, error) {
	if m.VertexCount() == 0 {
		return nil, ErrEmptyMesh
	}
	if opts.Name == "" {
		opts.Name = "combined"
	}
	doc := gltf.NewDocument()

	attrs := map[string]uint32{
		gltf.POSITION: modeler.WritePosition(doc, m.Positions),
	}
	if len(m.Normals) == len(m.Positions) && len(m.Normals) > 0 {
		attrs[gltf.NORMAL] = modeler.WriteNormal(doc, m.Normals)
	}
	if len(m.Tangents) == len(m.Positions) && len(m.Tangents) > 0 {
		attrs[gltf.TANGENT] = modeler.WriteTangent(doc, m.Tangents)
	}
	if len(m.UVs) == len(m.Positions) && len(m.UVs) > 0 {
		attrs[gltf.TEXCOORD_0] = modeler.WriteTextureCoord(doc, m.UVs)
	}
	skinned := len(m.Bones) > 0 && len(m.Weights) == len(m.Positions)
	if skinned {
		joints := make([][4]uint16, len(m.Weights))
		weights := make([][4]float32, len(m.Weights))
		for i, w := range m.Weights {
			joints[i], weights[i] = w.Bones, w.Weights
		}
		attrs[gltf.JOINTS_0] = modeler.WriteJoints(doc, joints)
		attrs[gltf.WEIGHTS_0] = modeler.WriteWeights(doc, weights)
	}

	textures, err := writeAtlas(doc, opts.Atlas)
	if err != nil {
		return nil, err
	}

	gm := &gltf.Mesh{Name: opts.Name}
	materials := map[string]uint32{}
	for i, sm := range m.Submeshes {
		name := ""
		if i < len(m.Materials) {
			name = m.Materials[i]
		}
		mi, ok := materials[name]
		if !ok {
			mi = uint32(len(doc.Materials))
			doc.Materials = append(doc.Materials, newMaterial(name, textures, !slices.Contains(opts.Untextured, name)))
			materials[name] = mi
		}
		gm.Primitives = append(gm.Primitives, &gltf.Primitive{
			Attributes: attrs,
			Indices:    gltf.Index(modeler.WriteIndices(doc, m.Indices[sm.Start:sm.Start+sm.Count])),
			Material:   gltf.Index(mi),
		})
	}
	doc.Meshes = append(doc.Meshes, gm)

	node := &gltf.Node{Name: opts.Name, Mesh: gltf.Index(0)}
	doc.Nodes = append(doc.Nodes, node)
	doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, 0)
	if skinned {
		node.Skin = gltf.Index(writeSkin(doc, m))
	}

	// modeler leaves the buffer length stale after embedding images.
	if len(doc.Buffers) > 0 {
		doc.Buffers[0].ByteLength = uint32(len(doc.Buffers[0].Data))
	}
	return doc, nil
}

// writeSkin adds one root-level joint node per bone, posed at the inverse of
// its bind pose, and the skin that references them.
func writeSkin(doc *gltf.Document, m *merge.CombinedMesh) uint32 {
	skin := &gltf.Skin{Name: "skeleton"}
	ibm := make([][4][4]float32, len(m.Bones))
	for i, b := range m.Bones {
		ni := uint32(len(doc.Nodes))
		var pose [16]float32
		if i < len(m.BindPoses) {
			ibm[i] = m.BindPoses[i].Columns()
			pose = [16]float32(m.BindPoses[i].Inverse())
		} else {
			ibm[i] = identityColumns()
			pose = gltf.DefaultMatrix
		}
		doc.Nodes = append(doc.Nodes, &gltf.Node{Name: b, Matrix: pose})
		doc.Scenes[0].Nodes = append(doc.Scenes[0].Nodes, ni)
		skin.Joints = append(skin.Joints, ni)
	}
	skin.InverseBindMatrices = gltf.Index(modeler.WriteAccessor(doc, gltf.TargetNone, ibm))
	doc.Skins = append(doc.Skins, skin)
	return uint32(len(doc.Skins) - 1)
}

func identityColumns() [4][4]float32 {
	return [4][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}}
}

// writeAtlas embeds every atlas channel as a PNG texture.
func writeAtlas(doc *gltf.Document, l *atlas.Layout) (map[atlas.Channel]uint32, error) {
	textures := map[atlas.Channel]uint32{}
	if l == nil {
		return textures, nil
	}
	for _, c := range l.Channels {
		img := l.Image(c)
		if img == nil {
			continue
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encoding %s atlas: %w", c, err)
		}
		ii, err := modeler.WriteImage(doc, "atlas_"+c.String(), "image/png", &buf)
		if err != nil {
			return nil, fmt.Errorf("embedding %s atlas: %w", c, err)
		}
		if len(doc.Samplers) == 0 {
			doc.Samplers = []*gltf.Sampler{{}}
		}
		doc.Textures = append(doc.Textures, &gltf.Texture{
			Sampler: gltf.Index(0),
			Source:  gltf.Index(ii),
		})
		textures[c] = uint32(len(doc.Textures) - 1)
	}
	return textures, nil
}

func newMaterial(name string, textures map[atlas.Channel]uint32, bind bool) *gltf.Material {
	mat := &gltf.Material{
		Name:                 name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{},
	}
	if !bind {
		return mat
	}
	if t, ok := textures[atlas.Diffuse]; ok {
		mat.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{Index: t}
	}
	if t, ok := textures[atlas.Metallic]; ok {
		mat.PBRMetallicRoughness.MetallicRoughnessTexture = &gltf.TextureInfo{Index: t}
	}
	if t, ok := textures[atlas.Normal]; ok {
		mat.NormalTexture = &gltf.NormalTexture{Index: gltf.Index(t)}
	}
	if t, ok := textures[atlas.Occlusion]; ok {
		mat.OcclusionTexture = &gltf.OcclusionTexture{Index: gltf.Index(t)}
	}
	if t, ok := textures[atlas.Emission]; ok {
		mat.EmissiveTexture = &gltf.TextureInfo{Index: t}
		mat.EmissiveFactor = [3]float32{1, 1, 1}
	}
	return mat
}
