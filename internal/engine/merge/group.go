// Package merge groups submesh units into output submeshes and assembles
// them into one combined, skinned mesh.
package merge

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
)

// Policy selects how units are partitioned into output submeshes.
type Policy int

const (
	// PolicyMaterial merges units sharing a material key, whatever their origin.
	PolicyMaterial Policy = iota
	// PolicySingle puts every unit in one submesh bound to the atlas material.
	PolicySingle
	// PolicyPreserve keeps one submesh per source (part, submesh) pair.
	PolicyPreserve
	// PolicyExplicit groups units by their submesh range's Target slot.
	PolicyExplicit
)

// DefaultAtlasMaterial is the material key bound to groups that span
// several source materials.
const DefaultAtlasMaterial = "atlas"

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("unknown merge policy")

var policyNames = map[string]Policy{
	"material":           PolicyMaterial,
	"group-by-material":  PolicyMaterial,
	"single":             PolicySingle,
	"single-submesh":     PolicySingle,
	"preserve":           PolicyPreserve,
	"preserve-structure": PolicyPreserve,
	"explicit":           PolicyExplicit,
}

// ParsePolicy parses a policy name. The empty string is PolicyMaterial.
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyMaterial, nil
	}
	if p, ok := policyNames[strings.ToLower(s)]; ok {
		return p, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownPolicy, s)
}

func (p Policy) String() string {
	switch p {
	case PolicyMaterial:
		return "material"
	case PolicySingle:
		return "single"
	case PolicyPreserve:
		return "preserve"
	case PolicyExplicit:
		return "explicit"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// TargetGroup is the set of units that become one output submesh. Every
// unit in a group draws with Material.
type TargetGroup struct {
	Index    int
	Material string
	Units    []*mesh.SubmeshUnit
}

// VertexCount sums member vertex counts.
func (g *TargetGroup) VertexCount() int {
	n := 0
	for _, u := range g.Units {
		n += u.VertexCount
	}
	return n
}

// TriangleCount sums member triangle counts.
func (g *TargetGroup) TriangleCount() int {
	n := 0
	for _, u := range g.Units {
		n += u.TriangleCount()
	}
	return n
}

// Group partitions units under policy. Groups come out in creation order,
// which follows unit order (part, then submesh); PolicyExplicit orders them
// by target slot instead and closes gaps between slots. atlasMaterial names
// the material of groups that mix source materials; empty means
// DefaultAtlasMaterial.
func Group(units []*mesh.SubmeshUnit, policy Policy, atlasMaterial string) []*TargetGroup {
	if len(units) == 0 {
		return nil
	}
	if atlasMaterial == "" {
		atlasMaterial = DefaultAtlasMaterial
	}

	var groups []*TargetGroup
	switch policy {
	case PolicySingle:
		groups = []*TargetGroup{{Material: atlasMaterial, Units: slices.Clone(units)}}

	case PolicyPreserve:
		for _, u := range units {
			groups = append(groups, &TargetGroup{Material: u.MaterialKey, Units: []*mesh.SubmeshUnit{u}})
		}

	case PolicyExplicit:
		groups = groupByTarget(units, atlasMaterial)

	default:
		// A slice rather than a map keeps output order stable across runs.
		for _, u := range units {
			i := slices.IndexFunc(groups, func(g *TargetGroup) bool { return g.Material == u.MaterialKey })
			if i < 0 {
				groups = append(groups, &TargetGroup{Material: u.MaterialKey})
				i = len(groups) - 1
			}
			groups[i].Units = append(groups[i].Units, u)
		}
	}

	for i, g := range groups {
		g.Index = i
	}
	return groups
}

// groupByTarget buckets units by Target slot. Negative slots count as 0.
func groupByTarget(units []*mesh.SubmeshUnit, atlasMaterial string) []*TargetGroup {
	byTarget := make(map[int]*TargetGroup)
	var targets []int
	for _, u := range units {
		t := max(u.Target, 0)
		g, ok := byTarget[t]
		if !ok {
			g = &TargetGroup{Material: u.MaterialKey}
			byTarget[t] = g
			targets = append(targets, t)
		}
		if g.Material != u.MaterialKey {
			g.Material = atlasMaterial
		}
		g.Units = append(g.Units, u)
	}
	slices.Sort(targets)

	groups := make([]*TargetGroup, len(targets))
	for i, t := range targets {
		groups[i] = byTarget[t]
	}
	return groups
}
