package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

// Extraction errors.
var (
	ErrMalformedSource = errors.New("malformed source data")
	ErrNilPart         = errors.New("nil source part")
)

// Rejection records a submesh skipped because its source data is malformed.
type Rejection struct {
	Key    string
	Origin Origin
	Err    error
}

// Substitution records an attribute filled with defaults for one unit.
type Substitution struct {
	Key       string
	Attribute Attribute
}

// Extraction is the outcome of extracting every submesh of every part.
type Extraction struct {
	Units         []*SubmeshUnit
	Rejected      []Rejection
	Substitutions []Substitution
}

// Extractor produces one SubmeshUnit per (part, submesh) pair.
type Extractor struct {
	sched *sched.Scheduler
	log   *zap.Logger
}

// NewExtractor creates an extractor running its loops on s.
func NewExtractor(s *sched.Scheduler) *Extractor {
	return &Extractor{sched: s, log: logger.Named("extract")}
}

// Extract walks parts in order and their submeshes in order. Malformed
// submeshes are rejected individually. A nil part or a cancelled context
// aborts the whole extraction.
func (e *Extractor) Extract(ctx context.Context, parts []*SourcePart) (*Extraction, error) {
	out := &Extraction{}
	for pi, p := range parts {
		if p == nil {
			return nil, fmt.Errorf("part %d: %w", pi, ErrNilPart)
		}
		for si := range p.Submeshes {
			key := p.UnitKey(pi, si)
			unit, missing, err := e.extractSubmesh(ctx, pi, si, p)
			if err != nil {
				if !errors.Is(err, ErrMalformedSource) {
					return nil, err
				}
				e.log.Warn("skipping malformed submesh", zap.String("unit", key), zap.Error(err))
				out.Rejected = append(out.Rejected, Rejection{Key: key, Origin: Origin{pi, si}, Err: err})
				continue
			}
			for _, a := range missing {
				e.log.Warn("substituted default vertex attribute",
					zap.String("unit", key), zap.Stringer("attribute", a))
				out.Substitutions = append(out.Substitutions, Substitution{Key: key, Attribute: a})
			}
			out.Units = append(out.Units, unit)
		}
	}
	e.log.Debug("extraction finished",
		zap.Int("units", len(out.Units)),
		zap.Int("rejected", len(out.Rejected)))
	return out, nil
}

func (e *Extractor) extractSubmesh(ctx context.Context, pi, si int, p *SourcePart) (*SubmeshUnit, []Attribute, error) {
	r := p.Submeshes[si]
	tris, err := e.validate(ctx, p, r)
	if err != nil {
		return nil, nil, err
	}

	c, err := Compact(ctx, e.sched, tris)
	if err != nil {
		return nil, nil, err
	}

	unit := &SubmeshUnit{
		Key:         p.UnitKey(pi, si),
		Origin:      Origin{Part: pi, Submesh: si},
		MaterialKey: r.Material,
		Target:      r.Target,
		Triangles:   c.Triangles,
		Bones:       slices.Clone(p.Bones),
		BindPoses:   slices.Clone(p.BindPoses[:min(len(p.BindPoses), len(p.Bones))]),
	}
	missing, err := gather(ctx, e.sched, &p.Vertices, c.Used, unit)
	if err != nil {
		return nil, nil, err
	}
	return unit, missing, nil
}

// validate checks one submesh range against its part and returns the
// triangle slice it selects.
func (e *Extractor) validate(ctx context.Context, p *SourcePart, r SubmeshRange) ([]uint32, error) {
	if r.Count <= 0 {
		return nil, fmt.Errorf("%w: empty triangle range", ErrMalformedSource)
	}
	if r.Count%3 != 0 {
		return nil, fmt.Errorf("%w: index count %d is not a multiple of 3", ErrMalformedSource, r.Count)
	}
	if r.Start < 0 || r.Start+r.Count > len(p.Indices) {
		return nil, fmt.Errorf("%w: range [%d,%d) outside index buffer of %d",
			ErrMalformedSource, r.Start, r.Start+r.Count, len(p.Indices))
	}

	v := p.Vertices.Len()
	if err := checkLen("normals", len(p.Vertices.Normals), v); err != nil {
		return nil, err
	}
	if err := checkLen("tangents", len(p.Vertices.Tangents), v); err != nil {
		return nil, err
	}
	if err := checkLen("uvs", len(p.Vertices.UVs), v); err != nil {
		return nil, err
	}
	if err := checkLen("weights", len(p.Vertices.Weights), v); err != nil {
		return nil, err
	}

	tris := p.Indices[r.Start : r.Start+r.Count]
	checkBones := len(p.Bones) > 0 && len(p.Vertices.Weights) > 0
	var bad error
	err := e.sched.Run(ctx, len(tris), func(i int) {
		if bad != nil {
			return
		}
		idx := tris[i]
		if int(idx) >= v {
			bad = fmt.Errorf("%w: index %d out of range [0,%d)", ErrMalformedSource, idx, v)
			return
		}
		if checkBones {
			w := p.Vertices.Weights[idx]
			for k := 0; k < MaxInfluences; k++ {
				if w.Weights[k] != 0 && int(w.Bones[k]) >= len(p.Bones) {
					bad = fmt.Errorf("%w: vertex %d references bone %d of %d",
						ErrMalformedSource, idx, w.Bones[k], len(p.Bones))
					return
				}
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if bad != nil {
		return nil, bad
	}
	return tris, nil
}

func checkLen(name string, got, want int) error {
	if got != 0 && got != want {
		return fmt.Errorf("%w: %d %s for %d positions", ErrMalformedSource, got, name, want)
	}
	return nil
}
