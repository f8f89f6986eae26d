package session

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// Scan is one timestamped sensor frame in the sensor frame of reference.
type Scan struct {
	Seq    uint32
	Stamp  time.Time
	Points geom.PointCloud
}

// Timings records the wall time of each per-scan stage.
type Timings struct {
	Preprocess   time.Duration `json:"preprocess"`
	Window       time.Duration `json:"window"`
	Registration time.Duration `json:"registration"`
	Search       time.Duration `json:"search"`
	MapUpdate    time.Duration `json:"map_update"`
	Total        time.Duration `json:"total"`
}

// Report is the diagnostic record of one ProcessScan call.
type Report struct {
	Seq       uint32    `json:"seq"`
	Stamp     time.Time `json:"stamp"`
	Bootstrap bool      `json:"bootstrap"`
	// Skipped is set when nothing survived the range gate. Pose and map are
	// unchanged.
	Skipped bool `json:"skipped"`

	Pose       geom.Pose6D `json:"pose"`
	Localizer  geom.Pose6D `json:"localizer"`
	Fitness    float64     `json:"fitness"`
	Converged  bool        `json:"converged"`
	Iterations int         `json:"iterations"`
	// Hypothesis is the winning search candidate index, or -1.
	Hypothesis   int  `json:"hypothesis"`
	NonMonotonic bool `json:"non_monotonic"`

	RawPoints      int  `json:"raw_points"`
	GatedPoints    int  `json:"gated_points"`
	FilteredPoints int  `json:"filtered_points"`
	TargetPoints   int  `json:"target_points"`
	MapPoints      int  `json:"map_points"`
	WindowRebuilt  bool `json:"window_rebuilt"`

	Keyframe bool    `json:"keyframe"`
	Shift    float64 `json:"shift"`
	YawDiff  float64 `json:"yaw_diff"`

	Timings Timings `json:"timings"`
}

// Keyframe is a scan that was inserted into the map.
type Keyframe struct {
	// Key numbers keyframes from 1 in insertion order.
	Key       int
	Seq       uint32
	Stamp     time.Time
	Pose      geom.Pose6D
	Localizer geom.Pose6D
	// Points is the number of map-frame points inserted.
	Points int
	// Constraint links this keyframe to its predecessor; nil for the first.
	Constraint *Constraint
}

// Constraint is a relative-pose edge between consecutive keyframes, the
// input an offline pose-graph optimiser consumes.
type Constraint struct {
	From     int
	To       int
	Relative geom.Pose6D
	// Information is the diagonal of the 6x6 information matrix in
	// (x, y, z, roll, pitch, yaw) order.
	Information [6]float64
}

// TrajectoryPoint is the registered pose of one scan. Key is the keyframe
// key, or 0 when the scan did not become a keyframe.
type TrajectoryPoint struct {
	Key       int
	Seq       uint32
	Stamp     time.Time
	Pose      geom.Pose6D
	Fitness   float64
	Converged bool
}

// PoseUpdate is what pose sinks receive.
type PoseUpdate struct {
	SessionID string      `json:"session_id"`
	Seq       uint32      `json:"seq"`
	Stamp     time.Time   `json:"stamp"`
	Pose      geom.Pose6D `json:"pose"`
	Localizer geom.Pose6D `json:"localizer"`
	Velocity  geom.Pose6D `json:"velocity"`
	Fitness   float64     `json:"fitness"`
	Converged bool        `json:"converged"`
	Keyframe  bool        `json:"keyframe"`
}

// Summary aggregates a whole session.
type Summary struct {
	SessionID     string
	Method        string
	Scans         int
	Skipped       int
	Registered    int
	NonConverged  int
	Searches      int
	Keyframes     int
	MapPoints     int
	Tiles         int
	Distance      float64
	FitnessMean   float64
	FitnessStdDev float64
	Elapsed       time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("session %s (%s): %d scans (%d skipped, %d registered, %d not converged, %d searched), %d keyframes, %d points in %d tiles, %.2f m travelled, fitness %.4f±%.4f, %s",
		s.SessionID, s.Method, s.Scans, s.Skipped, s.Registered, s.NonConverged, s.Searches,
		s.Keyframes, s.MapPoints, s.Tiles, s.Distance, s.FitnessMean, s.FitnessStdDev, s.Elapsed.Round(time.Millisecond))
}

// fitnessStats returns mean and sample standard deviation over the finite
// values in f.
func fitnessStats(f []float64) (mean, std float64) {
	finite := make([]float64, 0, len(f))
	for _, v := range f {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			finite = append(finite, v)
		}
	}
	switch len(finite) {
	case 0:
		return 0, 0
	case 1:
		return finite[0], 0
	}
	return stat.MeanStdDev(finite, nil)
}
