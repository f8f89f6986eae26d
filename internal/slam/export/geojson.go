package export

import (
	"io"
	"os"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/banshee-data/lidarmap/internal/slam/session"
)

// TrajectoryFeatures builds a feature collection in the local map frame
// (metres, not WGS84): the full trajectory as a LineString, a
// Douglas-Peucker simplified copy when tolerance > 0, and one Point per
// keyframe.
func TrajectoryFeatures(traj []session.TrajectoryPoint, keyframes []session.Keyframe, tolerance float64) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	ls := make(orb.LineString, 0, len(traj))
	for _, tp := range traj {
		ls = append(ls, orb.Point{tp.Pose.X, tp.Pose.Y})
	}
	if len(ls) >= 2 {
		f := geojson.NewFeature(ls)
		f.Properties["kind"] = "trajectory"
		f.Properties["frame"] = "map"
		f.Properties["scans"] = len(traj)
		f.Properties["length_m"] = planar.Length(ls)
		fc.Append(f)

		if tolerance > 0 {
			if simple, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString); ok {
				sf := geojson.NewFeature(simple)
				sf.Properties["kind"] = "trajectory_simplified"
				sf.Properties["tolerance_m"] = tolerance
				fc.Append(sf)
			}
		}
	}

	for _, kf := range keyframes {
		f := geojson.NewFeature(orb.Point{kf.Pose.X, kf.Pose.Y})
		f.ID = kf.Key
		f.Properties["kind"] = "keyframe"
		f.Properties["key"] = kf.Key
		f.Properties["sequence"] = kf.Seq
		f.Properties["z"] = kf.Pose.Z
		f.Properties["yaw"] = kf.Pose.Yaw
		f.Properties["points"] = kf.Points
		fc.Append(f)
	}
	return fc
}

// WriteGeoJSON encodes fc.
func WriteGeoJSON(w io.Writer, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// SaveGeoJSON writes the trajectory feature collection to name inside d.
func (d *Dir) SaveGeoJSON(name string, traj []session.TrajectoryPoint, keyframes []session.Keyframe, tolerance float64) (string, error) {
	fc := TrajectoryFeatures(traj, keyframes, tolerance)
	return d.save(name, func(f *os.File) error { return WriteGeoJSON(f, fc) })
}
