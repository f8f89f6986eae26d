package preprocess

import (
	"math"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

type voxelKey struct {
	x, y, z int64
}

type voxelAcc struct {
	sx, sy, sz, si float64
	n              int
}

// VoxelGrid replaces the points in each occupied cube of side LeafSize with
// their centroid. A LeafSize of zero or less passes the cloud through.
type VoxelGrid struct {
	LeafSize float64
}

// NewVoxelGrid constructs a voxel filter.
func NewVoxelGrid(leaf float64) *VoxelGrid {
	return &VoxelGrid{LeafSize: leaf}
}

// Apply returns one centroid per occupied voxel, in the order voxels were
// first seen. Intensity is averaged along with position.
func (v *VoxelGrid) Apply(cloud geom.PointCloud) geom.PointCloud {
	if len(cloud) == 0 {
		return geom.PointCloud{}
	}
	if !(v.LeafSize > 0) {
		return cloud.Clone()
	}
	inv := 1 / v.LeafSize
	index := make(map[voxelKey]int, len(cloud)/4+1)
	accs := make([]voxelAcc, 0, len(cloud)/4+1)
	for _, p := range cloud {
		k := voxelKey{
			x: int64(math.Floor(p.X * inv)),
			y: int64(math.Floor(p.Y * inv)),
			z: int64(math.Floor(p.Z * inv)),
		}
		i, ok := index[k]
		if !ok {
			i = len(accs)
			index[k] = i
			accs = append(accs, voxelAcc{})
		}
		a := &accs[i]
		a.sx += p.X
		a.sy += p.Y
		a.sz += p.Z
		a.si += float64(p.Intensity)
		a.n++
	}
	out := make(geom.PointCloud, len(accs))
	for i, a := range accs {
		n := float64(a.n)
		out[i] = geom.Point{X: a.sx / n, Y: a.sy / n, Z: a.sz / n, Intensity: float32(a.si / n)}
	}
	return out
}
