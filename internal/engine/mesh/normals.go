package mesh

import (
	"context"

	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

// positionEpsilon is the grid used to detect coincident vertices.
const positionEpsilon float32 = 0.0001

// RecomputeNormals rebuilds normals for a unit whose source had none:
// area-weighted face normals are accumulated per vertex and then averaged
// across vertices sharing a position, so UV seams do not show as creases.
// Units that already carry normals are left untouched.
func RecomputeNormals(ctx context.Context, s *sched.Scheduler, u *SubmeshUnit) error {
	if !u.NeedsNormals {
		return nil
	}

	acc := make([]math.Vec3, u.VertexCount)
	if err := s.Run(ctx, len(u.Triangles)/3, func(t int) {
		i0, i1, i2 := u.Triangles[3*t], u.Triangles[3*t+1], u.Triangles[3*t+2]
		p0 := math.V3(u.Positions[i0])
		e1 := math.V3(u.Positions[i1]).Sub(p0)
		e2 := math.V3(u.Positions[i2]).Sub(p0)
		// Unnormalized cross product: its length is twice the triangle area.
		n := e1.Cross(e2)
		acc[i0] = acc[i0].Add(n)
		acc[i1] = acc[i1].Add(n)
		acc[i2] = acc[i2].Add(n)
	}); err != nil {
		return err
	}

	// Group vertices by quantized position, groups in first-seen order.
	groupOf := make(map[[3]int32]int)
	var groups [][]int
	if err := s.Run(ctx, len(u.Positions), func(i int) {
		p := u.Positions[i]
		key := [3]int32{
			int32(p[0] / positionEpsilon),
			int32(p[1] / positionEpsilon),
			int32(p[2] / positionEpsilon),
		}
		g, ok := groupOf[key]
		if !ok {
			g = len(groups)
			groupOf[key] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}); err != nil {
		return err
	}

	if err := s.Run(ctx, len(groups), func(g int) {
		var sum math.Vec3
		for _, idx := range groups[g] {
			sum = sum.Add(acc[idx])
		}
		n := sum.Normalize()
		if n == (math.Vec3{}) {
			n = math.Vec3{X: 0, Y: 1, Z: 0}
		}
		for _, idx := range groups[g] {
			u.Normals[idx] = n.Array()
		}
	}); err != nil {
		return err
	}
	u.NeedsNormals = false
	return nil
}
