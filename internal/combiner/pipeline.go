// Package combiner runs the dress-up combine: extraction, atlas packing, UV
// remapping, grouping and assembly of many source parts into one mesh and
// one texture atlas.
package combiner

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/merge"
	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

// Pipeline errors.
var (
	ErrNilScheduler = errors.New("nil scheduler")
	ErrAlreadyRun   = errors.New("pipeline already ran")
)

// Options configures a pipeline.
type Options struct {
	AtlasSize int
	Channels  []atlas.Channel
	Bindings  atlas.BindingTable
	Policy    merge.Policy
	// AtlasMaterial is bound to output submeshes that span several source
	// materials.
	AtlasMaterial string
	RootBone      string
	// RecomputeNormals rebuilds normals of units whose source had none.
	RecomputeNormals bool
	// OnStateChange, if set, is called after every transition.
	OnStateChange func(from, to State)
}

// DefaultOptions returns a 2048 diffuse-only atlas grouped by material.
func DefaultOptions() Options {
	return Options{
		AtlasSize:     2048,
		Channels:      []atlas.Channel{atlas.Diffuse},
		Bindings:      atlas.DefaultBindings(),
		Policy:        merge.PolicyMaterial,
		AtlasMaterial: merge.DefaultAtlasMaterial,
	}
}

// Input is what the host hands to one combine.
type Input struct {
	Parts []*mesh.SourcePart
	// Materials maps a material key, as named by submesh ranges, to its
	// textures.
	Materials map[string]atlas.Material
}

// Pipeline runs one combine. It is single use.
type Pipeline struct {
	opts  Options
	sched *sched.Scheduler
	log   *zap.Logger
	state State
}

// New creates a pipeline. A nil scheduler or a non-positive atlas size is a
// programming error.
func New(opts Options, s *sched.Scheduler) (*Pipeline, error) {
	if s == nil {
		return nil, ErrNilScheduler
	}
	if opts.AtlasSize <= 0 {
		return nil, fmt.Errorf("%w: %d", atlas.ErrInvalidAtlasSize, opts.AtlasSize)
	}
	if len(opts.Channels) == 0 {
		opts.Channels = []atlas.Channel{atlas.Diffuse}
	}
	if opts.Bindings == nil {
		opts.Bindings = atlas.DefaultBindings()
	}
	if opts.AtlasMaterial == "" {
		opts.AtlasMaterial = merge.DefaultAtlasMaterial
	}
	return &Pipeline{opts: opts, sched: s, log: logger.Named("combiner")}, nil
}

// State returns the current stage.
func (p *Pipeline) State() State {
	return p.state
}

func (p *Pipeline) moveTo(to State) {
	from := p.state
	if !canMove(from, to) {
		panic(fmt.Sprintf("combiner: illegal transition %s -> %s", from, to))
	}
	p.state = to
	p.log.Debug("stage", zap.Stringer("from", from), zap.Stringer("to", to))
	if p.opts.OnStateChange != nil {
		p.opts.OnStateChange(from, to)
	}
}

// Run executes the pipeline. Recoverable problems are collected in the
// Result; the returned error is reserved for hard failures (nil part,
// cancellation), in which case no partial output is returned.
func (p *Pipeline) Run(ctx context.Context, in Input) (*Result, error) {
	if p.state != StateIdle {
		return nil, ErrAlreadyRun
	}
	res, err := p.run(ctx, in)
	if err != nil {
		p.moveTo(StateFailed)
		p.log.Debug("combine aborted", zap.Error(err))
		return nil, err
	}
	res.State = p.state
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, in Input) (*Result, error) {
	res := &Result{}

	p.moveTo(StateExtracting)
	units, err := p.extract(ctx, in.Parts, res)
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		res.addIssue(EmptyInput, "", ErrEmptyInput)
		p.moveTo(StateFailed)
		p.log.Warn("nothing to combine", zap.Int("parts", len(in.Parts)),
			zap.Int("skipped", len(res.SkippedSubmeshes)))
		return res, nil
	}

	p.moveTo(StatePacking)
	layout, err := p.pack(ctx, units, in.Materials, res)
	if err != nil {
		return nil, err
	}

	p.moveTo(StateRemapping)
	if _, err := atlas.RemapUVs(ctx, p.sched, units, layout.Rects); err != nil {
		return nil, err
	}
	for _, u := range units {
		if _, ok := layout.Rects[u.MaterialKey]; !ok {
			res.degrade(u.Key)
		}
	}

	p.moveTo(StateGrouping)
	groups := merge.Group(units, p.opts.Policy, p.opts.AtlasMaterial)

	p.moveTo(StateAssembling)
	m, err := merge.NewAssembler(p.sched, p.opts.RootBone).Assemble(ctx, groups)
	if err != nil {
		return nil, err
	}

	p.moveTo(StateDone)
	res.Success = true
	res.Partial = len(res.FailedFragments) > 0 || len(res.SkippedSubmeshes) > 0 ||
		len(res.IssuesOf(MissingTexture)) > 0
	res.Mesh = m
	res.Atlas = layout
	p.log.Debug("combine finished",
		zap.Int("units", len(units)),
		zap.Int("submeshes", len(m.Submeshes)),
		zap.Int("issues", len(res.Issues)),
		zap.Bool("partial", res.Partial))
	return res, nil
}

func (p *Pipeline) extract(ctx context.Context, parts []*mesh.SourcePart, res *Result) ([]*mesh.SubmeshUnit, error) {
	ex, err := mesh.NewExtractor(p.sched).Extract(ctx, parts)
	if err != nil {
		return nil, err
	}
	for _, r := range ex.Rejected {
		res.addIssue(MalformedSourceData, r.Key, r.Err)
		res.SkippedSubmeshes = append(res.SkippedSubmeshes, r.Key)
	}
	for _, s := range ex.Substitutions {
		res.addIssue(MissingAttribute, s.Key, fmt.Errorf("%s substituted with defaults", s.Attribute))
		res.degrade(s.Key)
	}
	if p.opts.RecomputeNormals {
		for _, u := range ex.Units {
			if err := mesh.RecomputeNormals(ctx, p.sched, u); err != nil {
				return nil, err
			}
		}
	}
	return ex.Units, nil
}

// pack builds one fragment per distinct material key, in first-use order,
// and packs them into the atlas.
func (p *Pipeline) pack(ctx context.Context, units []*mesh.SubmeshUnit, materials map[string]atlas.Material, res *Result) (*atlas.Layout, error) {
	var frags []atlas.Fragment
	seen := make(map[string]bool)
	for _, u := range units {
		key := u.MaterialKey
		if seen[key] {
			continue
		}
		seen[key] = true

		m, ok := materials[key]
		if !ok {
			err := fmt.Errorf("%w: %q not supplied", atlas.ErrNoTexture, key)
			res.addIssue(MissingTexture, key, err)
			p.log.Warn("material has no textures", zap.String("material", key))
			continue
		}
		m.Key = key
		f, err := p.opts.Bindings.NewFragment(m)
		if err != nil {
			res.addIssue(MissingTexture, key, err)
			p.log.Warn("material has no textures", zap.String("material", key), zap.Error(err))
			continue
		}
		frags = append(frags, f)
	}

	layout, placements, err := atlas.NewBuilder(p.sched).Build(ctx, p.opts.AtlasSize, p.opts.Channels, frags)
	if err != nil {
		return nil, err
	}
	for _, pl := range placements {
		if !pl.Placed() {
			res.addIssue(PackingOverflow, pl.Key, pl.Err)
			res.FailedFragments = append(res.FailedFragments, pl.Key)
		}
	}
	return layout, nil
}
