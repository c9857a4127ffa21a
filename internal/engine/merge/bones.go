package merge

import (
	"errors"
	"fmt"
	"slices"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/pkg/math"
)

// DefaultRootBone names the synthetic bone added when skinned geometry has
// no skeleton at all.
const DefaultRootBone = "root"

// ErrTooManyBones is returned when the combined skeleton outgrows 16-bit
// bone slots.
var ErrTooManyBones = errors.New("too many bones")

// BoneTable de-duplicates bones by name across all units of one assembly.
// BindPoses stays aligned with Names.
type BoneTable struct {
	names []string
	index map[string]int
	poses []math.Mat4
	known []bool
}

// NewBoneTable creates a table. If root is non-empty and any unit declares
// it, root takes index 0.
func NewBoneTable(root string, units []*mesh.SubmeshUnit) *BoneTable {
	t := &BoneTable{index: make(map[string]int)}
	if root == "" {
		return t
	}
	for _, u := range units {
		if slices.Contains(u.Bones, root) {
			t.add(root, math.Identity(), false)
			break
		}
	}
	return t
}

// Len returns the number of bones.
func (t *BoneTable) Len() int {
	return len(t.names)
}

// Index returns the global index of a bone.
func (t *BoneTable) Index(name string) (int, bool) {
	i, ok := t.index[name]
	return i, ok
}

// Names returns the bone names in table order.
func (t *BoneTable) Names() []string {
	return slices.Clone(t.names)
}

// BindPoses returns bind poses aligned with Names. Bones never given a pose
// hold the identity.
func (t *BoneTable) BindPoses() []math.Mat4 {
	return slices.Clone(t.poses)
}

// add registers name, or upgrades an unknown bind pose to a known one.
// The first known pose wins.
func (t *BoneTable) add(name string, pose math.Mat4, known bool) int {
	if i, ok := t.index[name]; ok {
		if known && !t.known[i] {
			t.poses[i] = pose
			t.known[i] = true
		}
		return i
	}
	i := len(t.names)
	t.index[name] = i
	t.names = append(t.names, name)
	if !known {
		pose = math.Identity()
	}
	t.poses = append(t.poses, pose)
	t.known = append(t.known, known)
	return i
}

// Register adds every bone of u in its list order and returns the map from
// u's local bone slots to global indices.
func (t *BoneTable) Register(u *mesh.SubmeshUnit) ([]uint16, error) {
	remap := make([]uint16, len(u.Bones))
	for li, name := range u.Bones {
		pose, known := u.BindPose(li)
		gi := t.add(name, pose, known)
		if gi > int(^uint16(0)) {
			return nil, fmt.Errorf("%w: %d in %s", ErrTooManyBones, gi+1, u.Key)
		}
		remap[li] = uint16(gi)
	}
	return remap, nil
}

// ensureRoot adds a synthetic identity root when the table is empty.
func (t *BoneTable) ensureRoot(name string) {
	if len(t.names) > 0 {
		return
	}
	if name == "" {
		name = DefaultRootBone
	}
	t.add(name, math.Identity(), true)
}

// remapWeight rewrites local bone slots to global indices. Slots naming a
// bone the unit does not have fall back to global bone 0.
func remapWeight(w mesh.BoneWeight, remap []uint16) mesh.BoneWeight {
	for k, b := range w.Bones {
		if int(b) < len(remap) {
			w.Bones[k] = remap[b]
		} else {
			w.Bones[k] = 0
		}
	}
	return w
}
