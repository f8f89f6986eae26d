package export

import (
	"fmt"
	"image/color"
	"io"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/session"
)

// maxPlotPoints caps the scatter layer; larger maps are strided.
const maxPlotPoints = 50000

// MapPlot draws a top-down view of the map with the trajectory on top.
func MapPlot(cloud geom.PointCloud, traj []session.TrajectoryPoint) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Map (%d points, %d scans)", len(cloud), len(traj))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"

	if len(cloud) > 0 {
		stride := len(cloud)/maxPlotPoints + 1
		pts := make(plotter.XYs, 0, len(cloud)/stride+1)
		for i := 0; i < len(cloud); i += stride {
			pts = append(pts, plotter.XY{X: cloud[i].X, Y: cloud[i].Y})
		}
		sc, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Radius = vg.Points(0.5)
		sc.GlyphStyle.Shape = draw.CircleGlyph{}
		sc.GlyphStyle.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
		p.Add(sc)
		p.Legend.Add("map", sc)
	}

	if len(traj) > 0 {
		pts := make(plotter.XYs, len(traj))
		for i, tp := range traj {
			pts[i] = plotter.XY{X: tp.Pose.X, Y: tp.Pose.Y}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		line.Color = color.RGBA{R: 220, G: 40, B: 40, A: 255}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("trajectory", line)
	}
	p.Add(plotter.NewGrid())
	return p, nil
}

// WritePNG renders p as a PNG of the given size.
func WritePNG(w io.Writer, p *plot.Plot, width, height vg.Length) error {
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveMapPlot writes the top-down PNG to name inside d.
func (d *Dir) SaveMapPlot(name string, cloud geom.PointCloud, traj []session.TrajectoryPoint) (string, error) {
	p, err := MapPlot(cloud, traj)
	if err != nil {
		return "", err
	}
	return d.save(name, func(f *os.File) error { return WritePNG(f, p, 10*vg.Inch, 10*vg.Inch) })
}
