package combiner

import (
	"errors"
	"fmt"
	"slices"

	"go.uber.org/multierr"

	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/merge"
)

// ErrEmptyInput is reported when extraction leaves no usable submesh.
var ErrEmptyInput = errors.New("no usable submesh units")

// IssueKind classifies a recoverable problem found during a run.
type IssueKind int

const (
	PackingOverflow IssueKind = iota
	MalformedSourceData
	MissingAttribute
	MissingTexture
	EmptyInput
)

func (k IssueKind) String() string {
	switch k {
	case PackingOverflow:
		return "packing overflow"
	case MalformedSourceData:
		return "malformed source data"
	case MissingAttribute:
		return "missing attribute"
	case MissingTexture:
		return "missing texture"
	case EmptyInput:
		return "empty input"
	default:
		return fmt.Sprintf("IssueKind(%d)", int(k))
	}
}

// Issue is one recoverable problem. Key names the fragment (material) or
// submesh unit it concerns; it is empty for EmptyInput.
type Issue struct {
	Kind IssueKind
	Key  string
	Err  error
}

func (i Issue) Error() string {
	if i.Key == "" {
		return fmt.Sprintf("%s: %v", i.Kind, i.Err)
	}
	return fmt.Sprintf("%s %s: %v", i.Kind, i.Key, i.Err)
}

func (i Issue) Unwrap() error {
	return i.Err
}

// Result is the outcome of one pipeline run. Mesh and Atlas are set only
// when State is StateDone.
type Result struct {
	// Success is true when the pipeline reached StateDone.
	Success bool
	// Partial is true on success when some fragment or submesh was dropped.
	Partial bool
	State   State

	Mesh  *merge.CombinedMesh
	Atlas *atlas.Layout

	Issues []Issue
	// FailedFragments lists fragment keys left out of the atlas.
	FailedFragments []string
	// SkippedSubmeshes lists unit keys rejected as malformed.
	SkippedSubmeshes []string
	// Degraded lists unit keys that made it into the mesh with substituted
	// attributes or with their original, non-atlas UVs.
	Degraded []string
}

// Err combines every issue except MissingAttribute, which is a data-quality
// note rather than a failure. It is nil for a clean run.
func (r *Result) Err() error {
	var err error
	for _, is := range r.Issues {
		if is.Kind == MissingAttribute {
			continue
		}
		err = multierr.Append(err, is)
	}
	return err
}

// IssuesOf returns the issues of one kind.
func (r *Result) IssuesOf(kind IssueKind) []Issue {
	var out []Issue
	for _, is := range r.Issues {
		if is.Kind == kind {
			out = append(out, is)
		}
	}
	return out
}

func (r *Result) addIssue(kind IssueKind, key string, err error) {
	r.Issues = append(r.Issues, Issue{Kind: kind, Key: key, Err: err})
}

func (r *Result) degrade(key string) {
	if slices.Contains(r.Degraded, key) {
		return
	}
	r.Degraded = append(r.Degraded, key)
}
