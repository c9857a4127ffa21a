// Package sched runs the combiner's O(n) loops in bounded chunks, yielding to
// the host between chunks so a frame-driven caller never stalls.
package sched

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"
)

// budgetStride is how many items run between wall-clock checks.
const budgetStride = 64

// Yielder hands control back to the host between chunks. Returning an error
// aborts the loop at that chunk boundary.
type Yielder interface {
	Yield(ctx context.Context) error
}

// YieldFunc adapts a function to Yielder.
type YieldFunc func(ctx context.Context) error

// Yield calls f.
func (f YieldFunc) Yield(ctx context.Context) error {
	return f(ctx)
}

// GoschedYielder yields the processor to other goroutines. It is the default
// for callers without a frame loop.
type GoschedYielder struct{}

// Yield calls runtime.Gosched.
func (GoschedYielder) Yield(ctx context.Context) error {
	runtime.Gosched()
	return ctx.Err()
}

// TickYielder blocks until the host signals its next tick (typically once per
// rendered frame).
type TickYielder struct {
	Ticks <-chan struct{}
}

// Yield waits for the next tick or for ctx to end.
func (y TickYielder) Yield(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case _, ok := <-y.Ticks:
		if !ok {
			return context.Canceled
		}
		return nil
	}
}

// Options configures a Scheduler.
type Options struct {
	// ChunkSize caps the number of items per step. Zero means unbounded.
	ChunkSize int
	// Budget caps the wall-clock time per step. Zero means unbounded.
	Budget time.Duration
	// Workers is the goroutine count for RunPure. Values below 2 disable it.
	Workers int
	// ParallelThreshold is the minimum item count for RunPure to fan out.
	ParallelThreshold int
}

// DefaultOptions returns settings tuned for a 60 Hz host.
func DefaultOptions() Options {
	return Options{
		ChunkSize:         4096,
		Budget:            4 * time.Millisecond,
		Workers:           runtime.GOMAXPROCS(0),
		ParallelThreshold: 65536,
	}
}

// Stats counts scheduler activity across all loops.
type Stats struct {
	Items  int
	Chunks int
	Yields int
}

// Scheduler is a cooperative, single-threaded chunk runner. It is not safe
// for concurrent use; one pipeline owns one Scheduler.
type Scheduler struct {
	opts    Options
	yielder Yielder
	now     func() time.Time
	stats   Stats
}

// New creates a scheduler. A nil yielder means GoschedYielder.
func New(opts Options, y Yielder) *Scheduler {
	if y == nil {
		y = GoschedYielder{}
	}
	return &Scheduler{opts: opts, yielder: y, now: time.Now}
}

// Options returns the scheduler's configuration.
func (s *Scheduler) Options() Options {
	return s.opts
}

// Stats returns accumulated counters.
func (s *Scheduler) Stats() Stats {
	return s.stats
}

// Run calls fn for every index in [0, n) in order. Between chunks it checks
// ctx and yields; fn never observes a partially finished chunk boundary.
func (s *Scheduler) Run(ctx context.Context, n int, fn func(i int)) error {
	i := 0
	for i < n {
		if err := ctx.Err(); err != nil {
			return err
		}
		i = s.step(i, n, fn)
		s.stats.Chunks++
		if i < n {
			s.stats.Yields++
			if err := s.yielder.Yield(ctx); err != nil {
				return err
			}
		}
	}
	return ctx.Err()
}

// step runs one chunk starting at i and returns the next index.
func (s *Scheduler) step(i, n int, fn func(i int)) int {
	end := n
	if s.opts.ChunkSize > 0 && i+s.opts.ChunkSize < n {
		end = i + s.opts.ChunkSize
	}
	var deadline time.Time
	if s.opts.Budget > 0 {
		deadline = s.now().Add(s.opts.Budget)
	}
	start := i
	for ; i < end; i++ {
		fn(i)
		if !deadline.IsZero() && (i-start+1)%budgetStride == 0 && !s.now().Before(deadline) {
			i++
			break
		}
	}
	s.stats.Items += i - start
	return i
}

// RunPure processes [0, n) with fn(start, end) over disjoint ranges. When the
// workload is large enough and Workers > 1 the ranges run concurrently and are
// joined before RunPure returns; otherwise it falls back to Run. fn must only
// read shared input and write to indices inside its own range.
func (s *Scheduler) RunPure(ctx context.Context, n int, fn func(start, end int)) error {
	if s.opts.Workers < 2 || n < s.opts.ParallelThreshold || n < s.opts.Workers {
		return s.Run(ctx, n, func(i int) { fn(i, i+1) })
	}

	g, gctx := errgroup.WithContext(ctx)
	per := (n + s.opts.Workers - 1) / s.opts.Workers
	for start := 0; start < n; start += per {
		start, end := start, min(start+per, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fn(start, end)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	s.stats.Items += n
	s.stats.Chunks++
	return ctx.Err()
}
