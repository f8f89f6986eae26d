package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/banshee-data/lidarmap/internal/slam/session"
)

// TrajectoryHeader is the column layout of the trajectory CSV.
var TrajectoryHeader = []string{"key", "sequence", "sec", "nsec", "x", "y", "z", "roll", "pitch", "yaw"}

// ConstraintHeader is the column layout of the constraints CSV.
var ConstraintHeader = []string{"from", "to", "x", "y", "z", "roll", "pitch", "yaw",
	"info_x", "info_y", "info_z", "info_roll", "info_pitch", "info_yaw"}

func ftoa(v float64) string { return strconv.FormatFloat(v, 'f', 9, 64) }

// WriteTrajectoryCSV writes one row per registered scan. key is the
// keyframe number, 0 for scans that were not inserted into the map.
func WriteTrajectoryCSV(w io.Writer, traj []session.TrajectoryPoint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TrajectoryHeader); err != nil {
		return err
	}
	for _, tp := range traj {
		p := tp.Pose
		row := []string{
			strconv.Itoa(tp.Key),
			strconv.FormatUint(uint64(tp.Seq), 10),
			strconv.FormatInt(tp.Stamp.Unix(), 10),
			strconv.Itoa(tp.Stamp.Nanosecond()),
			ftoa(p.X), ftoa(p.Y), ftoa(p.Z), ftoa(p.Roll), ftoa(p.Pitch), ftoa(p.Yaw),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteConstraintsCSV writes the keyframe edges for an offline optimiser.
func WriteConstraintsCSV(w io.Writer, cons []session.Constraint) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ConstraintHeader); err != nil {
		return err
	}
	for _, c := range cons {
		r := c.Relative
		row := []string{
			strconv.Itoa(c.From), strconv.Itoa(c.To),
			ftoa(r.X), ftoa(r.Y), ftoa(r.Z), ftoa(r.Roll), ftoa(r.Pitch), ftoa(r.Yaw),
		}
		for _, v := range c.Information {
			row = append(row, ftoa(v))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// SaveTrajectoryCSV writes the trajectory CSV to name inside d.
func (d *Dir) SaveTrajectoryCSV(name string, traj []session.TrajectoryPoint) (string, error) {
	return d.save(name, func(f *os.File) error { return WriteTrajectoryCSV(f, traj) })
}

// SaveConstraintsCSV writes the constraints CSV to name inside d.
func (d *Dir) SaveConstraintsCSV(name string, cons []session.Constraint) (string, error) {
	return d.save(name, func(f *os.File) error { return WriteConstraintsCSV(f, cons) })
}
