package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/signal"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/Faultbox/midgard-combine/internal/assets"
	"github.com/Faultbox/midgard-combine/internal/combiner"
	"github.com/Faultbox/midgard-combine/internal/config"
	"github.com/Faultbox/midgard-combine/internal/engine/sched"
	"github.com/Faultbox/midgard-combine/internal/gltfio"
	"github.com/Faultbox/midgard-combine/internal/job"
	"github.com/Faultbox/midgard-combine/internal/logger"
)

func cmdCombine(args []string) int {
	if err := config.ParseFlags(args); err != nil {
		return 1
	}
	if len(config.Args()) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dresscombine combine [flags] <job.yaml>")
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		return 1
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	logger.Sugar.Debugf("Config: %+v", cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := combine(ctx, cfg, config.Args()[0]); err != nil {
		logger.Error("combine failed", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func combine(ctx context.Context, cfg *config.Config, jobPath string) error {
	j, err := job.Load(jobPath)
	if err != nil {
		return err
	}

	schedOpts := cfg.SchedulerOptions()
	parts, err := j.LoadParts(ctx, schedOpts.Workers)
	if err != nil {
		return err
	}

	loader := assets.NewLoader()
	loader.AddDir(j.Dir)
	defer loader.Close()
	materials, err := j.LoadMaterials(loader)
	if err != nil {
		// Missing textures degrade the result; the combine still runs.
		logger.Warn("some textures failed to load", zap.Error(err))
	}

	opts, err := cfg.PipelineOptions()
	if err != nil {
		return err
	}
	opts.OnStateChange = func(from, to combiner.State) {
		logger.Debug("stage", zap.Stringer("from", from), zap.Stringer("to", to))
	}
	s := sched.New(schedOpts, nil)
	p, err := combiner.New(opts, s)
	if err != nil {
		return err
	}

	res, err := p.Run(ctx, combiner.Input{Parts: parts, Materials: materials})
	if err != nil {
		return err
	}
	printResult(res, s.Stats())
	if !res.Success {
		if err := res.Err(); err != nil {
			return fmt.Errorf("combine ended in state %s: %w", res.State, err)
		}
		return fmt.Errorf("combine ended in state %s", res.State)
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return err
	}
	untextured := append([]string(nil), res.FailedFragments...)
	for _, is := range res.IssuesOf(combiner.MissingTexture) {
		untextured = append(untextured, is.Key)
	}
	meshPath := filepath.Join(cfg.Output.Dir, cfg.Output.MeshFile)
	err = gltfio.Export(meshPath, res.Mesh, gltfio.ExportOptions{
		Name:       filepath.Base(j.Dir),
		Atlas:      res.Atlas,
		Untextured: untextured,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Mesh:    %s\n", meshPath)

	for _, c := range res.Atlas.Channels {
		path := filepath.Join(cfg.Output.Dir, cfg.Output.AtlasPrefix+c.String()+".png")
		if err := writePNG(path, res.Atlas.Image(c)); err != nil {
			return err
		}
		fmt.Printf("Atlas:   %s\n", path)
	}
	return nil
}

func printResult(res *combiner.Result, st sched.Stats) {
	status := "ok"
	switch {
	case !res.Success:
		status = "failed"
	case res.Partial:
		status = "partial"
	}
	fmt.Printf("Result:  %s (%s)\n", status, res.State)
	if res.Mesh != nil {
		fmt.Printf("Mesh:    %d vertices, %d triangles, %d submeshes, %d bones\n",
			res.Mesh.VertexCount(), res.Mesh.TriangleCount(), len(res.Mesh.Submeshes), len(res.Mesh.Bones))
	}
	if res.Atlas != nil {
		fmt.Printf("Atlas:   %dx%d, %d fragments, %.1f%% used\n",
			res.Atlas.Size, res.Atlas.Size, len(res.Atlas.Order), res.Atlas.Utilization()*100)
	}
	fmt.Printf("Work:    %d items in %d chunks, %d yields\n", st.Items, st.Chunks, st.Yields)
	for _, is := range res.Issues {
		fmt.Printf("  %-20s %s\n", is.Kind, is.Error())
	}
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return f.Close()
}
