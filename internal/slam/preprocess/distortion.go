package preprocess

import (
	"math"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

const (
	// DefaultScanInterval is the nominal sweep period of the sensor in seconds.
	DefaultScanInterval = 0.100085
	// DefaultMinAngleDiffDeg is the azimuth change that starts a new packet.
	DefaultMinAngleDiffDeg = 0.01
)

// DistortionCorrector removes the skew a moving platform introduces into a
// spinning-sensor sweep. Points are grouped into azimuth-contiguous packets;
// each packet is moved back along the platform velocity by its offset from
// the end of the sweep, so the whole scan is expressed at the last packet's
// pose.
type DistortionCorrector struct {
	// ScanInterval is the sweep duration in seconds.
	ScanInterval float64
	// MinAngleDiffDeg is the bearing change, in degrees, that closes a packet.
	MinAngleDiffDeg float64
}

// NewDistortionCorrector returns a corrector with default interval and
// packet threshold.
func NewDistortionCorrector() *DistortionCorrector {
	return &DistortionCorrector{
		ScanInterval:    DefaultScanInterval,
		MinAngleDiffDeg: DefaultMinAngleDiffDeg,
	}
}

// Velocity converts a relative inter-scan transform into per-second rates of
// (x, y, z, roll, pitch, yaw).
func (d *DistortionCorrector) Velocity(relative geom.Transform) geom.Pose6D {
	if !(d.ScanInterval > 0) {
		return geom.Pose6D{}
	}
	return relative.Pose().Scale(1 / d.ScanInterval)
}

// Correct returns the corrected scan. Output order matches input order.
// A zero velocity leaves every point unchanged.
func (d *DistortionCorrector) Correct(scan geom.PointCloud, relative geom.Transform) geom.PointCloud {
	if len(scan) == 0 {
		return geom.PointCloud{}
	}
	vel := d.Velocity(relative)
	out := scan.Clone()
	if vel.IsZero() {
		return out
	}
	starts := d.Packets(scan)
	n := len(starts)
	for j, start := range starts {
		end := len(scan)
		if j+1 < n {
			end = starts[j+1]
		}
		offset := d.ScanInterval * float64(n-1-j) / float64(n)
		t := geom.FromPose(vel.Scale(-offset))
		for i := start; i < end; i++ {
			out[i] = t.ApplyPoint(scan[i])
		}
	}
	return out
}

// WithRelative binds a relative transform, giving a Filter that can sit in
// a Chain.
func (d *DistortionCorrector) WithRelative(relative geom.Transform) Filter {
	return FilterFunc(func(scan geom.PointCloud) geom.PointCloud {
		return d.Correct(scan, relative)
	})
}

// Packets returns the start index of every azimuth packet in scan.
func (d *DistortionCorrector) Packets(scan geom.PointCloud) []int {
	if len(scan) == 0 {
		return nil
	}
	starts := []int{0}
	base := azimuthDeg(scan[0])
	for i := 1; i < len(scan); i++ {
		az := azimuthDeg(scan[i])
		if math.Abs(minAngleDiffDeg(az, base)) < d.MinAngleDiffDeg {
			continue
		}
		starts = append(starts, i)
		base = az
	}
	return starts
}

func azimuthDeg(p geom.Point) float64 {
	return math.Atan2(p.Y, p.X) * 180 / math.Pi
}

// minAngleDiffDeg returns a-b wrapped to the shorter way round the circle.
func minAngleDiffDeg(a, b float64) float64 {
	d := a - b
	if d >= 180 {
		return d - 360
	}
	if d <= -180 {
		return d + 360
	}
	return d
}
