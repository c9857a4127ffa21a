package config

import (
	"flag"
	"strings"
)

var (
	flagConfig    = flag.String("config", "", "Path to config file")
	flagDebug     = flag.Bool("debug", false, "Enable debug logging")
	flagAtlasSize = flag.Int("atlas-size", 0, "Atlas side length in pixels")
	flagChannels  = flag.String("channels", "", "Comma-separated atlas channels")
	flagPolicy    = flag.String("policy", "", "Merge policy: material, single, preserve, explicit")
	flagRootBone  = flag.String("root-bone", "", "Bone forced to index 0")
	flagOut       = flag.String("out", "", "Output directory")
	flagWorkers   = flag.Int("workers", -1, "Parallel copy workers (0 = all CPUs)")
	flagNormals   = flag.Bool("recompute-normals", false, "Rebuild missing normals")
)

// ParseFlags parses command-line flags. Call this early in main() with the
// arguments that follow the subcommand.
func ParseFlags(args []string) error {
	return flag.CommandLine.Parse(args)
}

// Args returns the positional arguments left after flag parsing.
func Args() []string {
	return flag.Args()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
	}
	if *flagAtlasSize > 0 {
		cfg.Atlas.Size = *flagAtlasSize
	}
	if *flagChannels != "" {
		var chans []string
		for _, c := range strings.Split(*flagChannels, ",") {
			if c = strings.TrimSpace(c); c != "" {
				chans = append(chans, c)
			}
		}
		cfg.Atlas.Channels = chans
	}
	if *flagPolicy != "" {
		cfg.Merge.Policy = *flagPolicy
	}
	if *flagRootBone != "" {
		cfg.Merge.RootBone = *flagRootBone
	}
	if *flagOut != "" {
		cfg.Output.Dir = *flagOut
	}
	if *flagWorkers >= 0 {
		cfg.Scheduler.Workers = *flagWorkers
	}
	if *flagNormals {
		cfg.Merge.RecomputeNormals = true
	}
}
