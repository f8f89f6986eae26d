package registration

import (
	"math"

	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// Target is a target cloud prepared for registration: a kd-tree for nearest
// neighbour queries and, when built for NDT, the per-voxel Gaussians.
// It is immutable after construction.
type Target struct {
	cloud geom.PointCloud
	tree  *kdtree.Tree
	ndt   *ndtGrid
}

// NewTarget prepares cloud for ICP and fitness scoring.
func NewTarget(cloud geom.PointCloud) *Target {
	t := &Target{cloud: cloud}
	if len(cloud) == 0 {
		return t
	}
	pts := make(kdtree.Points, len(cloud))
	for i, p := range cloud {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	t.tree = kdtree.New(pts, false)
	return t
}

// PrepareTarget prepares cloud for method m, building the NDT grid when m
// is MethodNDT.
func PrepareTarget(cloud geom.PointCloud, m Method, cfg Config) *Target {
	t := NewTarget(cloud)
	if m == MethodNDT && len(cloud) > 0 {
		t.ndt = buildNDTGrid(cloud, cfg.Resolution)
	}
	return t
}

// withNDT returns t itself when it already carries a grid at resolution,
// otherwise a copy that does.
func (t *Target) withNDT(resolution float64) *Target {
	if t == nil || len(t.cloud) == 0 {
		return t
	}
	if t.ndt != nil && t.ndt.resolution == resolution {
		return t
	}
	cp := *t
	cp.ndt = buildNDTGrid(t.cloud, resolution)
	return &cp
}

// Len returns the number of target points.
func (t *Target) Len() int {
	if t == nil {
		return 0
	}
	return len(t.cloud)
}

// Cloud returns the target points.
func (t *Target) Cloud() geom.PointCloud {
	if t == nil {
		return nil
	}
	return t.cloud
}

// Cells returns the number of NDT voxels with a usable Gaussian.
func (t *Target) Cells() int {
	if t == nil || t.ndt == nil {
		return 0
	}
	return len(t.ndt.cells)
}

// nearest returns the squared distance from (x, y, z) to the closest target
// point.
func (t *Target) nearest(x, y, z float64) (kdtree.Point, float64) {
	c, d := t.tree.Nearest(kdtree.Point{x, y, z})
	if c == nil {
		return nil, math.Inf(1)
	}
	return c.(kdtree.Point), d
}

// Fitness returns the mean squared nearest-neighbour distance of source,
// transformed by tf, counting only pairs within maxRange2 (squared).
// It is +Inf when nothing is in range.
func (t *Target) Fitness(source geom.PointCloud, tf geom.Transform, maxRange2 float64) float64 {
	if t.Len() == 0 || len(source) == 0 {
		return math.Inf(1)
	}
	var sum float64
	n := 0
	for _, p := range source {
		x, y, z := tf.Apply(p.X, p.Y, p.Z)
		_, d := t.nearest(x, y, z)
		if d <= maxRange2 {
			sum += d
			n++
		}
	}
	if n == 0 {
		return math.Inf(1)
	}
	return sum / float64(n)
}
