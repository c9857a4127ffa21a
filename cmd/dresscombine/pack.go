package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/Faultbox/midgard-combine/internal/engine/atlas"
)

func cmdPack(args []string) int {
	fs := flag.NewFlagSet("pack", flag.ExitOnError)
	size := fs.Int("size", 2048, "Atlas side length in pixels")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: dresscombine pack [-size N] <WxH | name=WxH>...")
		return 1
	}

	reqs := make([]atlas.Request, 0, fs.NArg())
	for i, arg := range fs.Args() {
		r, err := parseRequest(arg, i)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		reqs = append(reqs, r)
	}

	side := *size
	p, err := atlas.NewPacker(side)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	used := 0
	for _, pl := range p.Pack(reqs) {
		if !pl.Placed() {
			fmt.Printf("  %-16s %v\n", pl.Key, pl.Err)
			continue
		}
		r := pl.Rect
		used += r.Area()
		fmt.Printf("  %-16s %4d,%-4d %4dx%-4d uv(%.4f, %.4f, %.4f, %.4f)\n",
			pl.Key, r.X, r.Y, r.W, r.H, r.U, r.V, r.UW, r.VH)
	}
	fmt.Println()
	fmt.Printf("Atlas:      %dx%d\n", side, side)
	fmt.Printf("Used:       %.1f%%\n", float64(used)/float64(side*side)*100)
	fmt.Printf("Free rects: %d\n", len(p.FreeRects()))
	return 0
}

// parseRequest parses "WxH" or "name=WxH".
func parseRequest(arg string, i int) (atlas.Request, error) {
	key := fmt.Sprintf("#%d", i)
	dims := arg
	if k, d, ok := strings.Cut(arg, "="); ok {
		key, dims = k, d
	}
	ws, hs, ok := strings.Cut(strings.ToLower(dims), "x")
	if !ok {
		return atlas.Request{}, fmt.Errorf("bad size %q, want WxH", arg)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return atlas.Request{}, fmt.Errorf("bad width in %q: %w", arg, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return atlas.Request{}, fmt.Errorf("bad height in %q: %w", arg, err)
	}
	return atlas.Request{Key: key, Width: w, Height: h}, nil
}
