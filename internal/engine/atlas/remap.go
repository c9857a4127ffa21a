package atlas

import (
	"context"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
)

// RemapUV maps a UV normalized against its own texture into the atlas
// region r. UVs outside [0,1] land outside r; tiling textures are not
// supported by atlasing and are left unclamped.
func RemapUV(uv [2]float32, r PackedRect) [2]float32 {
	return [2]float32{r.U + uv[0]*r.UW, r.V + uv[1]*r.VH}
}

// RemapUVs rewrites, in place, the UVs of every unit whose material key has
// a rect. It returns the number of units remapped.
func RemapUVs(ctx context.Context, s *sched.Scheduler, units []*mesh.SubmeshUnit, rects map[string]PackedRect) (int, error) {
	n := 0
	for _, u := range units {
		r, ok := rects[u.MaterialKey]
		if !ok {
			continue
		}
		uvs := u.UVs
		if err := s.Run(ctx, len(uvs), func(i int) {
			uvs[i] = RemapUV(uvs[i], r)
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
