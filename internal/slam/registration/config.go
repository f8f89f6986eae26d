package registration

import (
	"fmt"
	"math"
)

// Config carries the tunables of both algorithms. Fields that do not apply
// to the selected method are ignored.
type Config struct {
	// MaxIterations bounds the optimisation loop.
	MaxIterations int
	// TransformationEpsilon is the incremental change (metres and radians)
	// below which the loop is considered converged.
	TransformationEpsilon float64
	// MaxCorrespondenceDistance rejects ICP pairs farther apart than this.
	MaxCorrespondenceDistance float64
	// EuclideanFitnessEpsilon stops ICP once the mean squared residual of
	// the current correspondences falls below it.
	EuclideanFitnessEpsilon float64
	// OutlierRejectionThreshold is a second absolute distance gate on ICP
	// pairs. Only a value below MaxCorrespondenceDistance tightens the
	// gate; zero disables it.
	OutlierRejectionThreshold float64
	// OutlierPercentile keeps the closest fraction of the pairs that pass
	// the distance gates on each ICP iteration. 1 keeps all of them.
	OutlierPercentile float64

	// Resolution is the NDT voxel edge length.
	Resolution float64
	// StepSize bounds the length of a single NDT Newton step.
	StepSize float64
	// OutlierRatio is the NDT mixture weight of the uniform outlier term.
	OutlierRatio float64

	// MaxFitnessRange bounds the nearest-neighbour distance counted by the
	// fitness score. Zero means unbounded.
	MaxFitnessRange float64
}

// DefaultICPConfig returns the ICP defaults of the mapping programs this
// engine descends from.
func DefaultICPConfig() Config {
	return Config{
		MaxIterations:             100,
		TransformationEpsilon:     1e-4,
		MaxCorrespondenceDistance: 1.0,
		EuclideanFitnessEpsilon:   0.01,
		OutlierRejectionThreshold: 1.0,
		OutlierPercentile:         1.0,
		Resolution:                2.8,
		StepSize:                  0.05,
		OutlierRatio:              0.55,
	}
}

// DefaultNDTConfig returns the NDT defaults.
func DefaultNDTConfig() Config {
	c := DefaultICPConfig()
	c.MaxIterations = 300
	c.TransformationEpsilon = 1e-3
	return c
}

// Validate checks the fields the selected method relies on.
func (c Config) Validate(m Method) error {
	if c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	}
	if !(c.TransformationEpsilon > 0) {
		return fmt.Errorf("transformation_epsilon must be positive, got %v", c.TransformationEpsilon)
	}
	if c.MaxFitnessRange < 0 {
		return fmt.Errorf("max_fitness_range must be >= 0, got %v", c.MaxFitnessRange)
	}
	switch m {
	case MethodICP:
		if !(c.MaxCorrespondenceDistance > 0) {
			return fmt.Errorf("max_correspondence_distance must be positive, got %v", c.MaxCorrespondenceDistance)
		}
		if c.EuclideanFitnessEpsilon < 0 || c.OutlierRejectionThreshold < 0 {
			return fmt.Errorf("fitness and outlier thresholds must be >= 0")
		}
		if !(c.OutlierPercentile > 0 && c.OutlierPercentile <= 1) {
			return fmt.Errorf("outlier_percentile must be in (0, 1], got %v", c.OutlierPercentile)
		}
	case MethodNDT:
		if !(c.Resolution > 0) {
			return fmt.Errorf("ndt resolution must be positive, got %v", c.Resolution)
		}
		if !(c.StepSize > 0) {
			return fmt.Errorf("ndt step_size must be positive, got %v", c.StepSize)
		}
		if c.OutlierRatio <= 0 || c.OutlierRatio >= 1 {
			return fmt.Errorf("ndt outlier_ratio must be in (0, 1), got %v", c.OutlierRatio)
		}
	default:
		return fmt.Errorf("%w: %v", ErrUnknownMethod, m)
	}
	return nil
}

func (c Config) fitnessRange2() float64 {
	if c.MaxFitnessRange <= 0 {
		return math.Inf(1)
	}
	return c.MaxFitnessRange * c.MaxFitnessRange
}
