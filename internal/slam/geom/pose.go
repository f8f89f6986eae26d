package geom

import (
	"fmt"
	"math"
)

// Pose6D is a position plus Z-Y-X Euler angles (radians) in the map frame.
type Pose6D struct {
	X, Y, Z          float64
	Roll, Pitch, Yaw float64
}

// Add returns the component-wise sum p + q.
func (p Pose6D) Add(q Pose6D) Pose6D {
	return Pose6D{
		X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z,
		Roll: p.Roll + q.Roll, Pitch: p.Pitch + q.Pitch, Yaw: p.Yaw + q.Yaw,
	}
}

// Sub returns the component-wise difference p - q.
func (p Pose6D) Sub(q Pose6D) Pose6D {
	return Pose6D{
		X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z,
		Roll: p.Roll - q.Roll, Pitch: p.Pitch - q.Pitch, Yaw: p.Yaw - q.Yaw,
	}
}

// Scale multiplies every component by s.
func (p Pose6D) Scale(s float64) Pose6D {
	return Pose6D{
		X: p.X * s, Y: p.Y * s, Z: p.Z * s,
		Roll: p.Roll * s, Pitch: p.Pitch * s, Yaw: p.Yaw * s,
	}
}

// PlanarDistance returns the XY distance between p and q.
func (p Pose6D) PlanarDistance(q Pose6D) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// IsZero reports whether every component is exactly zero.
func (p Pose6D) IsZero() bool {
	return p == Pose6D{}
}

func (p Pose6D) String() string {
	return fmt.Sprintf("(%.3f, %.3f, %.3f, %.4f, %.4f, %.4f)", p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw)
}

// NormalizeAngle wraps a into (-π, π].
func NormalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a <= -math.Pi {
		a += 2 * math.Pi
	} else if a > math.Pi {
		a -= 2 * math.Pi
	}
	return a
}
