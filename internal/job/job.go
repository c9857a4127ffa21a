// Package job reads combine job files: the parts to dress a character with
// and the textures behind each material key.
package job

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-combine/internal/assets"
	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/mesh"
	"github.com/Faultbox/midgard-combine/internal/gltfio"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

// Job errors.
var (
	ErrNoParts     = errors.New("job has no parts")
	ErrNoFile      = errors.New("part has no file")
	ErrInvalidTint = errors.New("invalid tint")
)

// Job is one combine request.
type Job struct {
	// Dir is the directory relative paths resolve against. Load sets it to
	// the job file's directory.
	Dir       string                   `yaml:"-"`
	Parts     []Part                   `yaml:"parts"`
	Materials map[string]MaterialFiles `yaml:"materials"`
}

// Part selects one mesh of a glTF file.
type Part struct {
	Name string `yaml:"name"`
	File string `yaml:"file"`
	Mesh int    `yaml:"mesh"`
}

// MaterialFiles lists the texture files of one material key by source
// identifier (_MainTex, _BumpMap, baseColorTexture, ...).
type MaterialFiles struct {
	Textures map[string]string `yaml:"textures"`
	Width    int               `yaml:"width"`
	Height   int               `yaml:"height"`
	Tint     string            `yaml:"tint"`      // #rrggbb or #rrggbbaa
	ColorKey bool              `yaml:"color_key"` // magenta is transparent
}

// Load reads and validates a job file.
func Load(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	j, err := Parse(data, filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return j, nil
}

// Parse decodes and validates a job. Relative paths resolve against dir.
func Parse(data []byte, dir string) (*Job, error) {
	j := &Job{}
	if err := yaml.Unmarshal(data, j); err != nil {
		return nil, err
	}
	j.Dir = dir
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return j, nil
}

// Validate reports every problem in the job at once.
func (j *Job) Validate() error {
	var err error
	if len(j.Parts) == 0 {
		err = multierr.Append(err, ErrNoParts)
	}
	for i, p := range j.Parts {
		if p.File == "" {
			err = multierr.Append(err, fmt.Errorf("part %d: %w", i, ErrNoFile))
		}
		if p.Mesh < 0 {
			err = multierr.Append(err, fmt.Errorf("part %d: negative mesh index %d", i, p.Mesh))
		}
	}
	for _, key := range j.materialKeys() {
		m := j.Materials[key]
		if m.Width < 0 || m.Height < 0 {
			err = multierr.Append(err, fmt.Errorf("material %q: negative size %dx%d", key, m.Width, m.Height))
		}
		if _, terr := ParseTint(m.Tint); terr != nil {
			err = multierr.Append(err, fmt.Errorf("material %q: %w", key, terr))
		}
	}
	return err
}

// ParseTint parses "#rrggbb" or "#rrggbbaa". An empty string is no tint.
func ParseTint(s string) (*color.NRGBA, error) {
	if s == "" {
		return nil, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) != 6 && len(hex) != 8 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTint, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTint, s)
	}
	if len(hex) == 6 {
		v = v<<8 | 0xff
	}
	return &color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}

func (j *Job) path(file string) string {
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(j.Dir, file)
}

func (j *Job) materialKeys() []string {
	keys := make([]string, 0, len(j.Materials))
	for k := range j.Materials {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// LoadParts loads every part, up to workers at a time (0 means no limit).
// The first failure cancels the rest. Parts keep job order.
func (j *Job) LoadParts(ctx context.Context, workers int) ([]*mesh.SourcePart, error) {
	parts := make([]*mesh.SourcePart, len(j.Parts))
	g, ctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, entry := range j.Parts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			name := entry.Name
			if name == "" {
				name = strings.TrimSuffix(filepath.Base(entry.File), filepath.Ext(entry.File))
			}
			p, err := gltfio.LoadPart(j.path(entry.File), entry.Mesh, name)
			if err != nil {
				return fmt.Errorf("part %d: %w", i, err)
			}
			parts[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

// LoadMaterials loads every texture through l and returns the material table.
// Textures that fail to load are left out and reported in the combined
// error; the affected material may end up with no texture at all, which
// the combine reports as missing.
func (j *Job) LoadMaterials(l *assets.Loader) (map[string]atlas.Material, error) {
	log := logger.Named("job")
	out := make(map[string]atlas.Material, len(j.Materials))
	var errs error
	for _, key := range j.materialKeys() {
		entry := j.Materials[key]
		tint, err := ParseTint(entry.Tint)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("material %q: %w", key, err))
		}
		m := atlas.Material{
			Key:      key,
			Textures: make(map[string]image.Image, len(entry.Textures)),
			Width:    entry.Width,
			Height:   entry.Height,
			Tint:     tint,
		}
		for source, file := range entry.Textures {
			img, err := l.Texture(file, entry.ColorKey)
			if err != nil {
				log.Warn("texture not loaded",
					zap.String("material", key),
					zap.String("source", source),
					zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("material %q %s: %w", key, source, err))
				continue
			}
			m.Textures[source] = img
		}
		out[key] = m
	}
	return out, errs
}
