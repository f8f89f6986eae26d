// Package geom holds the geometric value types shared by the mapping engine:
// points, point clouds, six-degree-of-freedom poses and 4x4 rigid transforms.
//
// Transforms are stored row-major as [16]float64 (m00, m01, m02, m03, m10, ...)
// and rotations follow the Z-Y-X convention R = Rz(yaw)·Ry(pitch)·Rx(roll).
//
// Dependency rule: geom depends on nothing else in this module.
package geom
