package geom

import "math"

// Point is a single range return: position in metres plus the sensor's
// intensity reading.
type Point struct {
	X, Y, Z   float64
	Intensity float32
}

// PointCloud is an ordered sequence of points.
type PointCloud []Point

// Range returns the horizontal distance of p from the origin.
func (p Point) Range() float64 {
	return math.Hypot(p.X, p.Y)
}

// Clone returns a copy of c that shares no storage with it.
func (c PointCloud) Clone() PointCloud {
	if c == nil {
		return nil
	}
	out := make(PointCloud, len(c))
	copy(out, c)
	return out
}

// Bounds returns the axis-aligned extent of c. ok is false for an empty cloud.
func (c PointCloud) Bounds() (min, max Point, ok bool) {
	if len(c) == 0 {
		return Point{}, Point{}, false
	}
	min, max = c[0], c[0]
	for _, p := range c[1:] {
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return min, max, true
}
