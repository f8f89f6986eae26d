// Package tracker holds the pose state machine of a mapping session: the
// previous, guessed, current and last-keyframe poses, the frame conversion
// between sensor ("localizer") and vehicle ("base_link") poses, and the
// keyframe admission rule.
package tracker

import (
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// Defaults for keyframe admission.
const (
	DefaultMinKeyframeShift   = 1.0
	DefaultMinKeyframeYawDiff = 0.005
)

// Config configures a Tracker.
type Config struct {
	// Calibration maps sensor-frame points into the vehicle frame.
	Calibration geom.Transform
	// MinKeyframeShift is the planar distance from the last keyframe at
	// which a new keyframe is admitted.
	MinKeyframeShift float64
	// MinKeyframeYawDiff is the absolute yaw change from the last keyframe
	// at which a new keyframe is admitted.
	MinKeyframeYawDiff float64
}

// Step describes one pose update.
type Step struct {
	Localizer geom.Pose6D
	BaseLink  geom.Pose6D
	Delta     geom.Pose6D
	Velocity  geom.Pose6D
	Elapsed   time.Duration
	// NonMonotonic is set when the scan stamp went backwards and was clamped.
	NonMonotonic bool
}

// Admission is the keyframe decision for the current pose.
type Admission struct {
	Add     bool
	Shift   float64
	YawDiff float64
}

// Tracker advances pose state once per scan. It is not safe for concurrent
// use.
type Tracker struct {
	cfg      Config
	calibInv geom.Transform

	bootstrapped bool
	steps        int

	previous geom.Pose6D
	current  geom.Pose6D
	added    geom.Pose6D
	delta    geom.Pose6D
	velocity geom.Pose6D

	prevLocalizer geom.Transform
	curLocalizer  geom.Transform

	previousTime time.Time
	currentTime  time.Time
}

// New validates cfg and returns a tracker at the origin.
func New(cfg Config) (*Tracker, error) {
	if !geom.IsValidTransformMatrix(cfg.Calibration) {
		return nil, fmt.Errorf("calibration is not a rigid transform")
	}
	if cfg.MinKeyframeShift < 0 || cfg.MinKeyframeYawDiff < 0 {
		return nil, fmt.Errorf("keyframe thresholds must be >= 0")
	}
	return &Tracker{
		cfg:           cfg,
		calibInv:      cfg.Calibration.Inverse(),
		prevLocalizer: cfg.Calibration,
		curLocalizer:  cfg.Calibration,
	}, nil
}

// Bootstrapped reports whether the first scan has been consumed.
func (t *Tracker) Bootstrapped() bool { return t.bootstrapped }

// Bootstrap consumes the first scan. Pose state stays at the origin; the
// returned transform (the calibration) places the scan in the map frame.
func (t *Tracker) Bootstrap(stamp time.Time) geom.Transform {
	t.bootstrapped = true
	t.previousTime = stamp
	t.currentTime = stamp
	return t.cfg.Calibration
}

// Guess extrapolates the next pose from the last inter-scan delta. Position
// and yaw advance by the delta; roll and pitch are held.
func (t *Tracker) Guess() geom.Pose6D {
	return geom.Pose6D{
		X:     t.previous.X + t.delta.X,
		Y:     t.previous.Y + t.delta.Y,
		Z:     t.previous.Z + t.delta.Z,
		Roll:  t.previous.Roll,
		Pitch: t.previous.Pitch,
		Yaw:   geom.NormalizeAngle(t.previous.Yaw + t.delta.Yaw),
	}
}

// SensorGuess converts a vehicle-frame pose into the sensor-frame initial
// guess handed to registration.
func (t *Tracker) SensorGuess(p geom.Pose6D) geom.Transform {
	return geom.FromPose(p).Mul(t.cfg.Calibration)
}

// Update records the registration result (sensor pose in the map frame) for
// the scan stamped at stamp.
func (t *Tracker) Update(localizer geom.Transform, stamp time.Time) Step {
	var s Step
	if stamp.Before(t.currentTime) {
		slam.Opsf("tracker: non-monotonic scan time %s < %s, clamping", stamp.Format(time.RFC3339Nano), t.currentTime.Format(time.RFC3339Nano))
		stamp = t.currentTime
		s.NonMonotonic = true
	}
	t.previousTime = t.currentTime
	t.currentTime = stamp
	s.Elapsed = t.currentTime.Sub(t.previousTime)

	baseLink := localizer.Mul(t.calibInv)
	t.prevLocalizer = t.curLocalizer
	t.curLocalizer = localizer

	t.current = baseLink.Pose()
	t.delta = poseDelta(t.current, t.previous)
	if secs := s.Elapsed.Seconds(); secs > 0 {
		t.velocity = t.delta.Scale(1 / secs)
	} else {
		t.velocity = geom.Pose6D{}
	}
	t.previous = t.current
	t.steps++

	s.Localizer = localizer.Pose()
	s.BaseLink = t.current
	s.Delta = t.delta
	s.Velocity = t.velocity
	return s
}

// poseDelta is cur − prev with the angle components wrapped into (-π, π], so
// a heading crossing ±π yields the short turn.
func poseDelta(cur, prev geom.Pose6D) geom.Pose6D {
	d := cur.Sub(prev)
	d.Roll = geom.NormalizeAngle(d.Roll)
	d.Pitch = geom.NormalizeAngle(d.Pitch)
	d.Yaw = geom.NormalizeAngle(d.Yaw)
	return d
}

// ShouldAddKeyframe applies the admission rule: shift ≥ MinKeyframeShift or
// |yaw − added.yaw| ≥ MinKeyframeYawDiff. Both comparisons are inclusive.
func (t *Tracker) ShouldAddKeyframe() Admission {
	shift := t.current.PlanarDistance(t.added)
	yawDiff := math.Abs(geom.NormalizeAngle(t.current.Yaw - t.added.Yaw))
	return Admission{
		Add:     shift >= t.cfg.MinKeyframeShift || yawDiff >= t.cfg.MinKeyframeYawDiff,
		Shift:   shift,
		YawDiff: yawDiff,
	}
}

// MarkKeyframe records the current pose as the last keyframe pose.
func (t *Tracker) MarkKeyframe() {
	t.added = t.current
}

// Relative returns the sensor motion over the last step,
// previous⁻¹·current. It is the identity before the first update.
func (t *Tracker) Relative() geom.Transform {
	return t.prevLocalizer.Inverse().Mul(t.curLocalizer)
}

// Current returns the latest vehicle pose.
func (t *Tracker) Current() geom.Pose6D { return t.current }

// Previous returns the pose the next guess extrapolates from.
func (t *Tracker) Previous() geom.Pose6D { return t.previous }

// Added returns the pose of the last keyframe.
func (t *Tracker) Added() geom.Pose6D { return t.added }

// Velocity returns the last per-second velocity estimate.
func (t *Tracker) Velocity() geom.Pose6D { return t.velocity }

// Steps returns the number of registered updates.
func (t *Tracker) Steps() int { return t.steps }

// ScanTimes returns the previous and current scan stamps.
func (t *Tracker) ScanTimes() (previous, current time.Time) {
	return t.previousTime, t.currentTime
}

// Calibration returns the sensor-to-vehicle transform and its inverse.
func (t *Tracker) Calibration() (calib, inverse geom.Transform) {
	return t.cfg.Calibration, t.calibInv
}
