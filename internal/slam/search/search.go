package search

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/registration"
)

// Outcome is the winning candidate of a search.
type Outcome struct {
	// Index is the winner's position in the candidate list.
	Index     int
	Candidate geom.Pose6D
	Result    registration.Result
	// Evaluated is the number of candidates that were aligned.
	Evaluated int
}

// Searcher runs candidate alignments on a fixed worker pool.
type Searcher struct {
	factory registration.Factory
	workers int
}

// NewSearcher returns a searcher with the given pool size. workers <= 0
// uses GOMAXPROCS.
func NewSearcher(factory registration.Factory, workers int) (*Searcher, error) {
	if factory == nil {
		return nil, fmt.Errorf("search requires a registrar factory")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Searcher{factory: factory, workers: workers}, nil
}

// Workers returns the pool size.
func (s *Searcher) Workers() int { return s.workers }

// Search aligns source against target from every candidate pose (composed
// with calib, the sensor extrinsic) and returns the lowest-fitness result.
// Ties go to the lowest index. ctx is checked between candidates only; an
// alignment that has started always runs to completion.
func (s *Searcher) Search(ctx context.Context, source geom.PointCloud, target *registration.Target, candidates []geom.Pose6D, calib geom.Transform) (Outcome, error) {
	if len(candidates) == 0 {
		return Outcome{Index: -1}, fmt.Errorf("no candidates to search")
	}
	if err := ctx.Err(); err != nil {
		return Outcome{Index: -1}, err
	}

	results := make([]registration.Result, len(candidates))
	done := make([]bool, len(candidates))
	jobs := make(chan int)

	workers := s.workers
	if workers > len(candidates) {
		workers = len(candidates)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers + 1)

	g.Go(func() error {
		defer close(jobs)
		for i := range candidates {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			reg, err := s.factory()
			if err != nil {
				return fmt.Errorf("building registrar: %w", err)
			}
			reg.SetTarget(target)
			for i := range jobs {
				guess := geom.FromPose(candidates[i]).Mul(calib)
				results[i] = reg.Align(source, guess)
				done[i] = true
				if slam.TraceEnabled() {
					slam.Tracef("search: candidate %d %v fitness=%.6f converged=%t", i, candidates[i], results[i].Fitness, results[i].Converged)
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Outcome{Index: -1}, err
	}

	best := Outcome{Index: -1}
	bestFitness := math.Inf(1)
	for i, r := range results {
		if !done[i] {
			continue
		}
		best.Evaluated++
		f := r.Fitness
		if math.IsNaN(f) {
			f = math.Inf(1)
		}
		if best.Index < 0 || f < bestFitness {
			best.Index = i
			bestFitness = f
		}
	}
	if best.Index < 0 {
		return best, fmt.Errorf("no candidate evaluated")
	}
	best.Candidate = candidates[best.Index]
	best.Result = results[best.Index]
	return best, nil
}
