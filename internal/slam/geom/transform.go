package geom

import "math"

// MatrixValidationTolerance bounds the determinant error accepted by
// IsValidTransformMatrix.
const MatrixValidationTolerance = 0.01

// Transform is a 4x4 homogeneous rigid transform in row-major order:
// m00,m01,m02,m03, m10,...
type Transform [16]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}

// FromPose builds the transform for p with R = Rz(yaw)·Ry(pitch)·Rx(roll).
func FromPose(p Pose6D) Transform {
	sr, cr := math.Sincos(p.Roll)
	sp, cp := math.Sincos(p.Pitch)
	sy, cy := math.Sincos(p.Yaw)
	return Transform{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr, p.X,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr, p.Y,
		-sp, cp * sr, cp * cr, p.Z,
		0, 0, 0, 1,
	}
}

// Pose extracts translation and Z-Y-X Euler angles from t. Pitch is taken
// from asin(-m20) and so lies in [-π/2, π/2].
func (t Transform) Pose() Pose6D {
	m20 := math.Max(-1, math.Min(1, t[8]))
	return Pose6D{
		X:     t[3],
		Y:     t[7],
		Z:     t[11],
		Roll:  math.Atan2(t[9], t[10]),
		Pitch: math.Asin(-m20),
		Yaw:   math.Atan2(t[4], t[0]),
	}
}

// Mul returns t·o (o applied first).
func (t Transform) Mul(o Transform) Transform {
	var out Transform
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += t[r*4+k] * o[k*4+c]
			}
			out[r*4+c] = s
		}
	}
	return out
}

// Inverse returns the exact rigid inverse [Rᵀ | -Rᵀt].
func (t Transform) Inverse() Transform {
	var out Transform
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			out[r*4+c] = t[c*4+r]
		}
	}
	for r := 0; r < 3; r++ {
		out[r*4+3] = -(out[r*4]*t[3] + out[r*4+1]*t[7] + out[r*4+2]*t[11])
	}
	out[15] = 1
	return out
}

// Apply transforms the point (x,y,z).
func (t Transform) Apply(x, y, z float64) (wx, wy, wz float64) {
	wx = t[0]*x + t[1]*y + t[2]*z + t[3]
	wy = t[4]*x + t[5]*y + t[6]*z + t[7]
	wz = t[8]*x + t[9]*y + t[10]*z + t[11]
	return
}

// ApplyPoint transforms p, keeping its intensity.
func (t Transform) ApplyPoint(p Point) Point {
	x, y, z := t.Apply(p.X, p.Y, p.Z)
	return Point{X: x, Y: y, Z: z, Intensity: p.Intensity}
}

// Translation returns the translation column.
func (t Transform) Translation() (x, y, z float64) {
	return t[3], t[7], t[11]
}

// RotationAngle returns the magnitude in radians of the rotation part.
func (t Transform) RotationAngle() float64 {
	c := (t[0] + t[5] + t[10] - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// ApproxEqual reports whether every element of t and o differs by at most tol.
func (t Transform) ApproxEqual(o Transform, tol float64) bool {
	for i := range t {
		if math.Abs(t[i]-o[i]) > tol {
			return false
		}
	}
	return true
}

// TransformCloud returns a new cloud with every point of c transformed by t.
func TransformCloud(c PointCloud, t Transform) PointCloud {
	if len(c) == 0 {
		return PointCloud{}
	}
	out := make(PointCloud, len(c))
	for i, p := range c {
		out[i] = t.ApplyPoint(p)
	}
	return out
}

// IsValidTransformMatrix checks that t is a proper rigid transform: the
// rotation block has determinant ≈ 1 and the last row is [0 0 0 1].
func IsValidTransformMatrix(t Transform) bool {
	r00, r01, r02 := t[0], t[1], t[2]
	r10, r11, r12 := t[4], t[5], t[6]
	r20, r21, r22 := t[8], t[9], t[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}
	if t[12] != 0 || t[13] != 0 || t[14] != 0 || math.Abs(t[15]-1.0) > 0.001 {
		return false
	}
	return true
}
