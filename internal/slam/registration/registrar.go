package registration

import (
	"math"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// Result is the outcome of one alignment. Fitness is lower-is-better and
// comparable across results from the same method and configuration.
type Result struct {
	Transform  geom.Transform
	Fitness    float64
	Converged  bool
	Iterations int
}

// Registrar aligns a source cloud to a previously set target. Failure to
// converge is reported in Result, never as an error.
type Registrar interface {
	// SetTarget installs a prepared target. The target is read, never written.
	SetTarget(t *Target)
	// Align returns the transform taking source into the target frame,
	// starting from guess.
	Align(source geom.PointCloud, guess geom.Transform) Result
	// Method reports which algorithm this registrar runs.
	Method() Method
}

// Factory builds a fresh registrar. Hypothesis search calls it once per
// worker.
type Factory func() (Registrar, error)

// New returns a registrar for method m.
func New(m Method, cfg Config) (Registrar, error) {
	if err := cfg.Validate(m); err != nil {
		return nil, err
	}
	switch m {
	case MethodICP:
		return &ICP{cfg: cfg}, nil
	case MethodNDT:
		return &NDT{cfg: cfg}, nil
	}
	return nil, ErrUnknownMethod
}

// NewFactory validates cfg once and returns a Factory for m.
func NewFactory(m Method, cfg Config) (Factory, error) {
	if err := cfg.Validate(m); err != nil {
		return nil, err
	}
	return func() (Registrar, error) { return New(m, cfg) }, nil
}

func failed(guess geom.Transform) Result {
	return Result{Transform: guess, Fitness: math.Inf(1)}
}
