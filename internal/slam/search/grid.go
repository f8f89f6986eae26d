package search

import (
	"fmt"
	"math"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// GridConfig describes the candidate grid: distances
// TranslationStart + TranslationStep·i for i in [0, TranslationSteps) and
// bearings RotationStart + RotationStep·j for j in [0, RotationSteps).
type GridConfig struct {
	TranslationStart float64 `json:"translation_start" yaml:"translation_start"`
	TranslationStep  float64 `json:"translation_step" yaml:"translation_step"`
	TranslationSteps int     `json:"translation_steps" yaml:"translation_steps"`
	RotationStart    float64 `json:"rotation_start" yaml:"rotation_start"`
	RotationStep     float64 `json:"rotation_step" yaml:"rotation_step"`
	RotationSteps    int     `json:"rotation_steps" yaml:"rotation_steps"`
}

// DefaultGridConfig returns the 11×21 grid: 0-10 m ahead in 1 m steps,
// bearings -0.25 to +0.25 rad in 0.025 rad steps.
func DefaultGridConfig() GridConfig {
	return GridConfig{
		TranslationStart: 0,
		TranslationStep:  1.0,
		TranslationSteps: 11,
		RotationStart:    -0.25,
		RotationStep:     0.025,
		RotationSteps:    21,
	}
}

// Size returns the number of candidates.
func (g GridConfig) Size() int {
	return g.TranslationSteps * g.RotationSteps
}

// Validate checks that the grid is non-empty and finite.
func (g GridConfig) Validate() error {
	if g.TranslationSteps <= 0 || g.RotationSteps <= 0 {
		return fmt.Errorf("search grid must have at least one step per axis, got %dx%d", g.TranslationSteps, g.RotationSteps)
	}
	for _, v := range []float64{g.TranslationStart, g.TranslationStep, g.RotationStart, g.RotationStep} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("search grid values must be finite")
		}
	}
	return nil
}

// Candidates returns the flattened grid around prev, distance-major: index
// i·RotationSteps + j holds distance step i and bearing step j. Each
// candidate moves d along bearing r from prev and turns by r; z, roll and
// pitch are held.
func Candidates(prev geom.Pose6D, g GridConfig) []geom.Pose6D {
	out := make([]geom.Pose6D, 0, g.Size())
	for i := 0; i < g.TranslationSteps; i++ {
		d := g.TranslationStart + g.TranslationStep*float64(i)
		for j := 0; j < g.RotationSteps; j++ {
			r := g.RotationStart + g.RotationStep*float64(j)
			out = append(out, geom.Pose6D{
				X:     prev.X + d*math.Cos(r),
				Y:     prev.Y + d*math.Sin(r),
				Z:     prev.Z,
				Roll:  prev.Roll,
				Pitch: prev.Pitch,
				Yaw:   prev.Yaw + r,
			})
		}
	}
	return out
}
