package preprocess

import "github.com/banshee-data/lidarmap/internal/slam/geom"

// Filter transforms a point cloud. Implementations never modify their input.
type Filter interface {
	Apply(cloud geom.PointCloud) geom.PointCloud
}

// FilterFunc adapts an ordinary function to Filter.
type FilterFunc func(geom.PointCloud) geom.PointCloud

// Apply calls f(cloud).
func (f FilterFunc) Apply(cloud geom.PointCloud) geom.PointCloud { return f(cloud) }

// Chain applies filters in order.
func Chain(cloud geom.PointCloud, filters ...Filter) geom.PointCloud {
	for _, f := range filters {
		if f == nil {
			continue
		}
		cloud = f.Apply(cloud)
	}
	return cloud
}
