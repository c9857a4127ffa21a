// dresscombine merges dress-up character parts into one skinned mesh and one
// texture atlas.
package main

import (
	"fmt"
	"os"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "combine", "c":
		os.Exit(cmdCombine(args))
	case "pack":
		os.Exit(cmdPack(args))
	case "config":
		os.Exit(cmdConfig(args))
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`dresscombine - character part and texture atlas combiner

Usage:
  dresscombine <command> [options]

Commands:
  combine [flags] <job.yaml>         Combine the parts of a job into out/combined.glb
  pack [-size N] <WxH>...            Dry-run the atlas packer on fragment sizes
  config [-o path]                   Write the default config file

Combine flags:
  -config path        Config file (default ./combine.yaml, then user config dir)
  -atlas-size N       Atlas side length in pixels
  -channels list      Comma-separated atlas channels (diffuse,normal,...)
  -policy name        material, single, preserve or explicit
  -root-bone name     Bone forced to index 0
  -out dir            Output directory
  -workers N          Parallel copy workers (0 = all CPUs)
  -recompute-normals  Rebuild normals for parts that have none
  -debug              Enable debug logging

Examples:
  dresscombine combine -atlas-size 4096 -channels diffuse,normal outfit.yaml
  dresscombine pack -size 1024 512x512 256x256 body=600x600
  dresscombine config -o combine.yaml`)
}
