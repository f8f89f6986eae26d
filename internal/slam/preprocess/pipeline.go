package preprocess

import "github.com/banshee-data/lidarmap/internal/slam/geom"

// PipelineConfig selects the stages of a Pipeline.
type PipelineConfig struct {
	MinScanRange  float64
	VoxelLeafSize float64
	// Distortion is nil when motion-distortion correction is disabled.
	Distortion *DistortionCorrector
}

// Pipeline runs range gate, distortion correction and voxel grid in order.
type Pipeline struct {
	rangeFilter *RangeFilter
	voxel       *VoxelGrid
	distortion  *DistortionCorrector
}

// Output carries both the gated scan, which is what gets inserted into the
// map, and the downsampled registration source.
type Output struct {
	Gated    geom.PointCloud
	Filtered geom.PointCloud

	RawCount      int
	GatedCount    int
	FilteredCount int
}

// NewPipeline constructs a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	return &Pipeline{
		rangeFilter: NewRangeFilter(cfg.MinScanRange),
		voxel:       NewVoxelGrid(cfg.VoxelLeafSize),
		distortion:  cfg.Distortion,
	}
}

// Process conditions scan. relative is the previous inter-scan transform,
// used only when distortion correction is enabled.
func (p *Pipeline) Process(scan geom.PointCloud, relative geom.Transform) Output {
	out := Output{RawCount: len(scan)}
	gated := p.rangeFilter.Apply(scan)
	if p.distortion != nil {
		gated = p.distortion.Correct(gated, relative)
	}
	out.Gated = gated
	out.GatedCount = len(gated)
	if len(gated) == 0 {
		out.Filtered = geom.PointCloud{}
		return out
	}
	out.Filtered = p.voxel.Apply(gated)
	out.FilteredCount = len(out.Filtered)
	return out
}

// RangeStats exposes the range gate counters.
func (p *Pipeline) RangeStats() (processed, kept, dropped int64) {
	return p.rangeFilter.Stats()
}
