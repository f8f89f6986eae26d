package preprocess

import "github.com/banshee-data/lidarmap/internal/slam/geom"

// DefaultMinScanRange drops returns from the vehicle body.
const DefaultMinScanRange = 2.0

// RangeFilter keeps points whose horizontal range sqrt(x²+y²) is strictly
// greater than MinRange.
type RangeFilter struct {
	MinRange float64

	pointsProcessed int64
	pointsKept      int64
}

// NewRangeFilter constructs a range gate.
func NewRangeFilter(minRange float64) *RangeFilter {
	return &RangeFilter{MinRange: minRange}
}

// Apply returns the points beyond MinRange in their original order.
func (f *RangeFilter) Apply(cloud geom.PointCloud) geom.PointCloud {
	if len(cloud) == 0 {
		return geom.PointCloud{}
	}
	out := make(geom.PointCloud, 0, len(cloud))
	min2 := f.MinRange * f.MinRange
	for _, p := range cloud {
		f.pointsProcessed++
		if f.MinRange > 0 && p.X*p.X+p.Y*p.Y <= min2 {
			continue
		}
		out = append(out, p)
	}
	f.pointsKept += int64(len(out))
	return out
}

// Stats returns accumulated counters.
func (f *RangeFilter) Stats() (processed, kept, dropped int64) {
	return f.pointsProcessed, f.pointsKept, f.pointsProcessed - f.pointsKept
}

// ResetStats clears accumulated counters.
func (f *RangeFilter) ResetStats() {
	f.pointsProcessed = 0
	f.pointsKept = 0
}
