// Package config handles combiner configuration loading and management.
package config

import (
	"fmt"
	"runtime"
	"sort"
	"time"

	"go.uber.org/multierr"

	"github.com/Faultbox/midgard-combine/internal/combiner"
	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
	"github.com/Faultbox/midgard-combine/internal/engine/merge"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
)

// Config holds all combiner settings.
type Config struct {
	Atlas     AtlasConfig     `yaml:"atlas"`
	Merge     MergeConfig     `yaml:"merge"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Output    OutputConfig    `yaml:"output"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AtlasConfig holds texture atlas settings.
type AtlasConfig struct {
	Size     int      `yaml:"size"`     // Square atlas side in pixels
	Channels []string `yaml:"channels"` // diffuse, normal, metallic, occlusion, emission
	Material string   `yaml:"material"` // Material bound to merged submeshes
	// Bindings overrides the source identifiers tried for a channel, in
	// order. Channels not listed keep the built-in names.
	Bindings map[string][]string `yaml:"bindings,omitempty"`
}

// MergeConfig holds grouping and assembly settings.
type MergeConfig struct {
	Policy           string `yaml:"policy"` // material, single, preserve, explicit
	RootBone         string `yaml:"root_bone"`
	RecomputeNormals bool   `yaml:"recompute_normals"`
}

// SchedulerConfig holds chunked execution settings.
type SchedulerConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	Budget            time.Duration `yaml:"budget"`
	Workers           int           `yaml:"workers"` // 0 = GOMAXPROCS
	ParallelThreshold int           `yaml:"parallel_threshold"`
}

// OutputConfig holds output file settings.
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	MeshFile    string `yaml:"mesh_file"`
	AtlasPrefix string `yaml:"atlas_prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	so := sched.DefaultOptions()
	return &Config{
		Atlas: AtlasConfig{
			Size:     2048,
			Channels: []string{"diffuse"},
			Material: merge.DefaultAtlasMaterial,
		},
		Merge: MergeConfig{
			Policy:   "material",
			RootBone: "",
		},
		Scheduler: SchedulerConfig{
			ChunkSize:         so.ChunkSize,
			Budget:            so.Budget,
			Workers:           0,
			ParallelThreshold: so.ParallelThreshold,
		},
		Output: OutputConfig{
			Dir:         "out",
			MeshFile:    "combined.glb",
			AtlasPrefix: "atlas_",
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var err error
	if c.Atlas.Size <= 0 {
		err = multierr.Append(err, fmt.Errorf("atlas.size must be positive, got %d", c.Atlas.Size))
	}
	if _, perr := atlas.ParseChannels(c.Atlas.Channels); perr != nil {
		err = multierr.Append(err, fmt.Errorf("atlas.channels: %w", perr))
	}
	if _, berr := c.bindings(); berr != nil {
		err = multierr.Append(err, fmt.Errorf("atlas.bindings: %w", berr))
	}
	if _, perr := merge.ParsePolicy(c.Merge.Policy); perr != nil {
		err = multierr.Append(err, fmt.Errorf("merge.policy: %w", perr))
	}
	if c.Scheduler.ChunkSize < 0 || c.Scheduler.Budget < 0 || c.Scheduler.Workers < 0 {
		err = multierr.Append(err, fmt.Errorf("scheduler settings must not be negative"))
	}
	return err
}

// SchedulerOptions converts the scheduler section.
func (c *Config) SchedulerOptions() sched.Options {
	workers := c.Scheduler.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return sched.Options{
		ChunkSize:         c.Scheduler.ChunkSize,
		Budget:            c.Scheduler.Budget,
		Workers:           workers,
		ParallelThreshold: c.Scheduler.ParallelThreshold,
	}
}

// PipelineOptions converts the atlas and merge sections.
func (c *Config) PipelineOptions() (combiner.Options, error) {
	if err := c.Validate(); err != nil {
		return combiner.Options{}, err
	}
	channels, _ := atlas.ParseChannels(c.Atlas.Channels)
	bindings, _ := c.bindings()
	policy, _ := merge.ParsePolicy(c.Merge.Policy)
	return combiner.Options{
		AtlasSize:        c.Atlas.Size,
		Channels:         channels,
		Bindings:         bindings,
		Policy:           policy,
		AtlasMaterial:    c.Atlas.Material,
		RootBone:         c.Merge.RootBone,
		RecomputeNormals: c.Merge.RecomputeNormals,
	}, nil
}

// bindings overlays the configured channel bindings on the defaults.
func (c *Config) bindings() (atlas.BindingTable, error) {
	table := atlas.DefaultBindings()
	names := make([]string, 0, len(c.Atlas.Bindings))
	for name := range c.Atlas.Bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ch, err := atlas.ParseChannel(name)
		if err != nil {
			return nil, err
		}
		replaced := false
		for i := range table {
			if table[i].Channel == ch {
				table[i].Sources = c.Atlas.Bindings[name]
				replaced = true
			}
		}
		if !replaced {
			table = append(table, atlas.Binding{Channel: ch, Sources: c.Atlas.Bindings[name]})
		}
	}
	return table, nil
}
