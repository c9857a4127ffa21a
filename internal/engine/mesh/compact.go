package mesh

import (
	"context"
	"slices"

	"github.com/Faultbox/midgard-combine/internal/engine/sched"
)

// SmallRangeLimit is the largest index range compacted with a presence
// table. Above it the sparse strategy sorts the indices instead of
// allocating maxIndex+1 entries.
const SmallRangeLimit = 10000

// Compaction maps a triangle list onto a dense vertex range.
type Compaction struct {
	// Used lists the referenced source indices in ascending order. The
	// position of a source index in Used is its compacted index.
	Used []uint32
	// Triangles is the input triangle list rewritten to compacted indices,
	// same order and winding.
	Triangles []uint32
}

// Compact builds the compaction for tris. Both strategies assign compacted
// indices in ascending source-index order, so the result does not depend on
// which one runs.
func Compact(ctx context.Context, s *sched.Scheduler, tris []uint32) (Compaction, error) {
	if len(tris) == 0 {
		return Compaction{}, nil
	}
	var maxIdx uint32
	if err := s.Run(ctx, len(tris), func(i int) {
		maxIdx = max(maxIdx, tris[i])
	}); err != nil {
		return Compaction{}, err
	}
	if maxIdx < SmallRangeLimit {
		return compactSmall(ctx, s, tris, maxIdx)
	}
	return compactSparse(ctx, s, tris)
}

// compactSmall marks used indices in a presence table and numbers them in
// one ascending scan.
func compactSmall(ctx context.Context, s *sched.Scheduler, tris []uint32, maxIdx uint32) (Compaction, error) {
	present := make([]bool, int(maxIdx)+1)
	if err := s.Run(ctx, len(tris), func(i int) {
		present[tris[i]] = true
	}); err != nil {
		return Compaction{}, err
	}

	remap := make([]uint32, len(present))
	var used []uint32
	if err := s.Run(ctx, len(present), func(i int) {
		if present[i] {
			remap[i] = uint32(len(used))
			used = append(used, uint32(i))
		}
	}); err != nil {
		return Compaction{}, err
	}

	out := make([]uint32, len(tris))
	if err := s.Run(ctx, len(tris), func(i int) {
		out[i] = remap[tris[i]]
	}); err != nil {
		return Compaction{}, err
	}
	return Compaction{Used: used, Triangles: out}, nil
}

// compactSparse sorts and deduplicates a copy of the indices; the compacted
// index of a source index is its position in that sorted list.
func compactSparse(ctx context.Context, s *sched.Scheduler, tris []uint32) (Compaction, error) {
	sorted, err := radixSort(ctx, s, tris)
	if err != nil {
		return Compaction{}, err
	}
	var used []uint32
	if err := s.Run(ctx, len(sorted), func(i int) {
		if i == 0 || sorted[i] != sorted[i-1] {
			used = append(used, sorted[i])
		}
	}); err != nil {
		return Compaction{}, err
	}

	out := make([]uint32, len(tris))
	if err := s.Run(ctx, len(tris), func(i int) {
		j, _ := slices.BinarySearch(used, tris[i])
		out[i] = uint32(j)
	}); err != nil {
		return Compaction{}, err
	}
	return Compaction{Used: used, Triangles: out}, nil
}

// radixSort returns a sorted copy of keys: four stable 8-bit counting
// passes, each a linear scheduled loop.
func radixSort(ctx context.Context, s *sched.Scheduler, keys []uint32) ([]uint32, error) {
	src := slices.Clone(keys)
	dst := make([]uint32, len(keys))
	for shift := 0; shift < 32; shift += 8 {
		var offset [257]int
		if err := s.Run(ctx, len(src), func(i int) {
			offset[(src[i]>>shift)&0xff+1]++
		}); err != nil {
			return nil, err
		}
		for b := 1; b < len(offset); b++ {
			offset[b] += offset[b-1]
		}
		if err := s.Run(ctx, len(src), func(i int) {
			b := (src[i] >> shift) & 0xff
			dst[offset[b]] = src[i]
			offset[b]++
		}); err != nil {
			return nil, err
		}
		src, dst = dst, src
	}
	return src, nil
}

// gather copies the used vertices of src into u and substitutes defaults
// for absent attributes. It returns the substituted attributes.
func gather(ctx context.Context, s *sched.Scheduler, src *VertexData, used []uint32, u *SubmeshUnit) ([]Attribute, error) {
	k := len(used)
	u.VertexCount = k
	u.Positions = make([][3]float32, k)
	u.Normals = make([][3]float32, k)
	u.Tangents = make([][4]float32, k)
	u.UVs = make([][2]float32, k)
	u.Weights = make([]BoneWeight, k)

	hasNormals := len(src.Normals) > 0
	hasTangents := len(src.Tangents) > 0
	hasUVs := len(src.UVs) > 0
	hasWeights := len(src.Weights) > 0

	// Disjoint output ranges over read-only input: safe for the parallel path.
	err := s.RunPure(ctx, k, func(start, end int) {
		for i := start; i < end; i++ {
			v := used[i]
			u.Positions[i] = src.Positions[v]
			if hasNormals {
				u.Normals[i] = src.Normals[v]
			}
			if hasTangents {
				u.Tangents[i] = src.Tangents[v]
			}
			if hasUVs {
				u.UVs[i] = src.UVs[v]
			}
			if hasWeights {
				u.Weights[i] = src.Weights[v]
			} else {
				u.Weights[i] = DefaultWeight()
			}
		}
	})
	if err != nil {
		return nil, err
	}

	var missing []Attribute
	if !hasNormals {
		u.NeedsNormals = true
		missing = append(missing, AttrNormals)
	}
	if !hasTangents {
		u.NeedsTangents = true
		missing = append(missing, AttrTangents)
	}
	if !hasUVs {
		missing = append(missing, AttrUVs)
	}
	if !hasWeights {
		u.DefaultSkin = true
		missing = append(missing, AttrWeights)
	}
	return missing, nil
}
