package preprocess

import (
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// sweep builds one revolution of a ring sensor: points ordered by azimuth
// at the given angular step, on a circle of radius r.
func sweep(r, stepDeg float64, rings int) geom.PointCloud {
	var c geom.PointCloud
	for a := -180.0 + stepDeg; a <= 180; a += stepDeg {
		rad := a * math.Pi / 180
		for k := 0; k < rings; k++ {
			c = append(c, geom.Point{X: r * math.Cos(rad), Y: r * math.Sin(rad), Z: float64(k) * 0.5, Intensity: float32(k)})
		}
	}
	return c
}

func TestRangeFilter(t *testing.T) {
	cloud := geom.PointCloud{
		{X: 1, Y: 1},
		{X: 2, Y: 0},
		{X: 0, Y: -2.5},
		{X: 10, Y: 10, Z: -1},
		{X: 0.1, Y: 0.1, Z: 30},
	}
	f := NewRangeFilter(2.0)
	got := f.Apply(cloud)

	want := geom.PointCloud{{X: 0, Y: -2.5}, {X: 10, Y: 10, Z: -1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("RangeFilter mismatch (-want +got):\n%s", diff)
	}
	processed, kept, dropped := f.Stats()
	if processed != 5 || kept != 2 || dropped != 3 {
		t.Errorf("Stats = (%d, %d, %d), want (5, 2, 3)", processed, kept, dropped)
	}
	f.ResetStats()
	if p, _, _ := f.Stats(); p != 0 {
		t.Errorf("ResetStats left processed = %d", p)
	}
	if cloud[0].X != 1 {
		t.Error("RangeFilter modified its input")
	}
}

func TestRangeFilter_AllDropped(t *testing.T) {
	got := NewRangeFilter(100).Apply(geom.PointCloud{{X: 1}, {Y: 2}})
	if len(got) != 0 {
		t.Errorf("expected empty result, got %d points", len(got))
	}
}

func TestVoxelGrid_Centroid(t *testing.T) {
	cloud := geom.PointCloud{
		{X: 0.1, Y: 0.1, Z: 0.1, Intensity: 10},
		{X: 0.3, Y: 0.5, Z: 0.7, Intensity: 20},
		{X: 1.5, Y: 0.5, Z: 0.5, Intensity: 5},
	}
	got := NewVoxelGrid(1.0).Apply(cloud)
	want := geom.PointCloud{
		{X: 0.2, Y: 0.3, Z: 0.4, Intensity: 15},
		{X: 1.5, Y: 0.5, Z: 0.5, Intensity: 5},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("VoxelGrid mismatch (-want +got):\n%s", diff)
	}
}

func TestVoxelGrid_ZeroLeafPassThrough(t *testing.T) {
	cloud := sweep(10, 1, 2)
	got := NewVoxelGrid(0).Apply(cloud)
	if diff := cmp.Diff(cloud, got); diff != "" {
		t.Errorf("pass-through changed cloud (-want +got):\n%s", diff)
	}
}

func TestVoxelGrid_Idempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(1234))
	cloud := make(geom.PointCloud, 5000)
	for i := range cloud {
		cloud[i] = geom.Point{X: rng.Float64()*20 - 10, Y: rng.Float64()*20 - 10, Z: rng.Float64() * 4, Intensity: float32(rng.Intn(255))}
	}
	for _, leaf := range []float64{0.5, 1.0, 2.0} {
		v := NewVoxelGrid(leaf)
		once := v.Apply(cloud)
		twice := v.Apply(once)
		if len(once) >= len(cloud) {
			t.Errorf("leaf %v: expected reduction, got %d from %d", leaf, len(once), len(cloud))
		}
		if len(twice) != len(once) {
			t.Errorf("leaf %v: second pass reduced %d -> %d", leaf, len(once), len(twice))
		}
		if diff := cmp.Diff(once, twice, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
			t.Errorf("leaf %v: second pass changed points (-once +twice):\n%s", leaf, diff)
		}
	}
}

func TestVoxelGrid_Empty(t *testing.T) {
	if got := NewVoxelGrid(1).Apply(nil); len(got) != 0 {
		t.Errorf("expected empty, got %d", len(got))
	}
}

func TestDistortion_ZeroVelocityIsIdentity(t *testing.T) {
	scan := sweep(15, 0.2, 4)
	d := NewDistortionCorrector()
	got := d.Correct(scan, geom.Identity())
	if diff := cmp.Diff(scan, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("zero-velocity correction changed scan (-want +got):\n%s", diff)
	}
}

func TestDistortion_Packets(t *testing.T) {
	scan := sweep(15, 0.2, 4)
	d := NewDistortionCorrector()
	starts := d.Packets(scan)
	wantPackets := len(scan) / 4
	if len(starts) != wantPackets {
		t.Fatalf("packets = %d, want %d", len(starts), wantPackets)
	}
	for i, s := range starts {
		if s != i*4 {
			t.Fatalf("packet %d starts at %d, want %d", i, s, i*4)
		}
	}
}

func TestDistortion_LastPacketIsReference(t *testing.T) {
	scan := sweep(15, 1, 1)
	d := NewDistortionCorrector()
	rel := geom.FromPose(geom.Pose6D{X: 1.0})
	got := d.Correct(scan, rel)
	if len(got) != len(scan) {
		t.Fatalf("len = %d, want %d", len(got), len(scan))
	}

	last := len(scan) - 1
	if got[last] != scan[last] {
		t.Errorf("last packet moved: %+v -> %+v", scan[last], got[last])
	}
	// First packet is shifted back by (n-1)/n of the inter-scan motion.
	n := float64(len(scan))
	wantShift := -1.0 * (n - 1) / n
	if dx := got[0].X - scan[0].X; math.Abs(dx-wantShift) > 1e-9 {
		t.Errorf("first packet dx = %v, want %v", dx, wantShift)
	}
	// Shifts grow monotonically towards the start of the sweep.
	for i := 1; i < len(scan); i++ {
		prev := got[i-1].X - scan[i-1].X
		cur := got[i].X - scan[i].X
		if cur < prev-1e-12 {
			t.Fatalf("shift not monotonic at %d: %v then %v", i, prev, cur)
		}
	}
}

func TestDistortion_VelocityUsesInterval(t *testing.T) {
	d := &DistortionCorrector{ScanInterval: 0.1, MinAngleDiffDeg: DefaultMinAngleDiffDeg}
	v := d.Velocity(geom.FromPose(geom.Pose6D{X: 0.5, Yaw: 0.01}))
	if math.Abs(v.X-5) > 1e-9 || math.Abs(v.Yaw-0.1) > 1e-9 {
		t.Errorf("Velocity = %v, want x=5 yaw=0.1", v)
	}
}

func TestMinAngleDiffDeg(t *testing.T) {
	tests := []struct{ a, b, want float64 }{
		{10, 5, 5},
		{-179, 179, 2},
		{179, -179, -2},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := minAngleDiffDeg(tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("minAngleDiffDeg(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPipeline(t *testing.T) {
	scan := append(sweep(10, 1, 2), geom.Point{X: 0.5, Y: 0.5})
	p := NewPipeline(PipelineConfig{MinScanRange: 2, VoxelLeafSize: 1.0})
	out := p.Process(scan, geom.Identity())

	if out.RawCount != len(scan) {
		t.Errorf("RawCount = %d, want %d", out.RawCount, len(scan))
	}
	if out.GatedCount != len(scan)-1 {
		t.Errorf("GatedCount = %d, want %d", out.GatedCount, len(scan)-1)
	}
	if out.FilteredCount == 0 || out.FilteredCount > out.GatedCount {
		t.Errorf("FilteredCount = %d out of range (gated %d)", out.FilteredCount, out.GatedCount)
	}
	if _, kept, dropped := p.RangeStats(); kept != int64(out.GatedCount) || dropped != 1 {
		t.Errorf("RangeStats kept=%d dropped=%d", kept, dropped)
	}
}

func TestPipeline_EmptyAfterGating(t *testing.T) {
	p := NewPipeline(PipelineConfig{MinScanRange: 50, VoxelLeafSize: 1.0, Distortion: NewDistortionCorrector()})
	out := p.Process(sweep(10, 5, 1), geom.FromPose(geom.Pose6D{X: 1}))
	if out.GatedCount != 0 || out.FilteredCount != 0 || len(out.Filtered) != 0 {
		t.Errorf("expected empty output, got %+v", out)
	}
}

func TestChain(t *testing.T) {
	d := NewDistortionCorrector()
	scan := sweep(10, 2, 1)
	got := Chain(scan, NewRangeFilter(2), d.WithRelative(geom.Identity()), nil, NewVoxelGrid(0))
	if diff := cmp.Diff(scan, got); diff != "" {
		t.Errorf("Chain mismatch (-want +got):\n%s", diff)
	}
}
