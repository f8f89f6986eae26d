package export

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/lidarmap/internal/monitoring"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/tilemap"
)

// WriteASC writes cloud as CloudCompare-compatible text: two comment lines,
// then one "x y z intensity" row per point.
func WriteASC(w io.Writer, cloud geom.PointCloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# Exported points\n")
	fmt.Fprintf(bw, "# Format: X Y Z Intensity\n")
	for _, p := range cloud {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %g\n", p.X, p.Y, p.Z, p.Intensity)
	}
	return bw.Flush()
}

// ReadASC parses the format WriteASC produces. Lines starting with '#' and
// blank lines are skipped; a missing intensity column reads as zero.
func ReadASC(r io.Reader) (geom.PointCloud, error) {
	var cloud geom.PointCloud
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: want at least 3 columns, got %d", line, len(fields))
		}
		var v [4]float64
		for i := 0; i < len(fields) && i < 4; i++ {
			f, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("line %d column %d: %w", line, i+1, err)
			}
			v[i] = f
		}
		cloud = append(cloud, geom.Point{X: v[0], Y: v[1], Z: v[2], Intensity: float32(v[3])})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return cloud, nil
}

// LoadASC reads an ASC file.
func LoadASC(path string) (geom.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cloud, err := ReadASC(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cloud, nil
}

// WritePCD writes cloud as an ASCII PCD v0.7 file with x y z intensity
// fields.
func WritePCD(w io.Writer, cloud geom.PointCloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# .PCD v0.7 - Point Cloud Data file format\n")
	fmt.Fprintf(bw, "VERSION 0.7\n")
	fmt.Fprintf(bw, "FIELDS x y z intensity\n")
	fmt.Fprintf(bw, "SIZE 4 4 4 4\n")
	fmt.Fprintf(bw, "TYPE F F F F\n")
	fmt.Fprintf(bw, "COUNT 1 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\n", len(cloud))
	fmt.Fprintf(bw, "HEIGHT 1\n")
	fmt.Fprintf(bw, "VIEWPOINT 0 0 0 1 0 0 0\n")
	fmt.Fprintf(bw, "POINTS %d\n", len(cloud))
	fmt.Fprintf(bw, "DATA ascii\n")
	for _, p := range cloud {
		fmt.Fprintf(bw, "%.6f %.6f %.6f %g\n", p.X, p.Y, p.Z, p.Intensity)
	}
	return bw.Flush()
}

// ErrUnsupportedPCD is returned for PCD files ReadPCD cannot decode.
var ErrUnsupportedPCD = errors.New("unsupported PCD")

// pcdHeader holds the PCD header fields ReadPCD needs.
type pcdHeader struct {
	fields []string
	counts []int
	points int
	data   string
}

// column returns the first data column of field, or -1.
func (h pcdHeader) column(field string) int {
	col := 0
	for i, f := range h.fields {
		if f == field {
			return col
		}
		col += h.counts[i]
	}
	return -1
}

func (h pcdHeader) columns() int {
	n := 0
	for _, c := range h.counts {
		n += c
	}
	return n
}

// ReadPCD parses an ASCII PCD file. The x, y and z fields are required;
// intensity is read when present. Points with a non-finite coordinate, as
// found in organised clouds, are dropped.
func ReadPCD(r io.Reader) (geom.PointCloud, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0

	var h pcdHeader
	width, height := -1, 1
	for h.data == "" && sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		key, vals := strings.ToUpper(fields[0]), fields[1:]
		switch key {
		case "FIELDS":
			h.fields = vals
		case "COUNT":
			h.counts = make([]int, len(vals))
			for i, v := range vals {
				n, err := strconv.Atoi(v)
				if err != nil || n < 1 {
					return nil, fmt.Errorf("line %d: bad COUNT %q", line, v)
				}
				h.counts[i] = n
			}
		case "WIDTH", "HEIGHT", "POINTS":
			if len(vals) != 1 {
				return nil, fmt.Errorf("line %d: %s wants one value", line, key)
			}
			n, err := strconv.Atoi(vals[0])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: bad %s %q", line, key, vals[0])
			}
			switch key {
			case "WIDTH":
				width = n
			case "HEIGHT":
				height = n
			default:
				h.points = n
			}
		case "DATA":
			if len(vals) != 1 {
				return nil, fmt.Errorf("line %d: DATA wants one value", line)
			}
			h.data = strings.ToLower(vals[0])
		case "VERSION", "SIZE", "TYPE", "VIEWPOINT":
		default:
			return nil, fmt.Errorf("line %d: unknown header %q", line, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if h.data != "ascii" {
		if h.data == "" {
			return nil, fmt.Errorf("%w: no DATA line", ErrUnsupportedPCD)
		}
		return nil, fmt.Errorf("%w: DATA %s", ErrUnsupportedPCD, h.data)
	}
	if h.counts == nil {
		h.counts = make([]int, len(h.fields))
		for i := range h.counts {
			h.counts[i] = 1
		}
	}
	if len(h.counts) != len(h.fields) {
		return nil, fmt.Errorf("%w: %d FIELDS but %d COUNT values", ErrUnsupportedPCD, len(h.fields), len(h.counts))
	}
	if h.points == 0 && width >= 0 {
		h.points = width * height
	}
	xc, yc, zc := h.column("x"), h.column("y"), h.column("z")
	if xc < 0 || yc < 0 || zc < 0 {
		return nil, fmt.Errorf("%w: FIELDS %v lack x y z", ErrUnsupportedPCD, h.fields)
	}
	ic := h.column("intensity")
	ncol := h.columns()

	cloud := make(geom.PointCloud, 0, h.points)
	read := 0
	for read < h.points && sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		read++
		cols := strings.Fields(text)
		if len(cols) != ncol {
			return nil, fmt.Errorf("line %d: want %d columns, got %d", line, ncol, len(cols))
		}
		parse := func(c int) (float64, error) {
			v, err := strconv.ParseFloat(cols[c], 64)
			if err != nil {
				return 0, fmt.Errorf("line %d column %d: %w", line, c+1, err)
			}
			return v, nil
		}
		var p geom.Point
		var err error
		if p.X, err = parse(xc); err != nil {
			return nil, err
		}
		if p.Y, err = parse(yc); err != nil {
			return nil, err
		}
		if p.Z, err = parse(zc); err != nil {
			return nil, err
		}
		if ic >= 0 {
			v, err := parse(ic)
			if err != nil {
				return nil, err
			}
			p.Intensity = float32(v)
		}
		if math.IsNaN(p.X+p.Y+p.Z) || math.IsInf(p.X+p.Y+p.Z, 0) {
			continue
		}
		cloud = append(cloud, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if read < h.points {
		return nil, fmt.Errorf("header declares %d points, found %d", h.points, read)
	}
	return cloud, nil
}

// LoadPCD reads an ASCII PCD file.
func LoadPCD(path string) (geom.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	cloud, err := ReadPCD(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cloud, nil
}

// IsCloudFile reports whether LoadCloud understands the extension of name.
func IsCloudFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".asc", ".pcd":
		return true
	}
	return false
}

// LoadCloud reads an .asc or .pcd file, chosen by extension.
func LoadCloud(path string) (geom.PointCloud, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".asc":
		return LoadASC(path)
	case ".pcd":
		return LoadPCD(path)
	}
	return nil, fmt.Errorf("%s: unknown point cloud extension", path)
}

// SaveASC writes cloud to name inside d and returns the file path.
func (d *Dir) SaveASC(name string, cloud geom.PointCloud) (string, error) {
	path, err := d.save(name, func(f *os.File) error { return WriteASC(f, cloud) })
	if err == nil {
		monitoring.Logf("Exported %d points to %s", len(cloud), path)
	}
	return path, err
}

// SavePCD writes cloud to name inside d as PCD.
func (d *Dir) SavePCD(name string, cloud geom.PointCloud) (string, error) {
	return d.save(name, func(f *os.File) error { return WritePCD(f, cloud) })
}

// SaveTiles writes one "<x>_<y>.asc" file per tile of m under sub and
// returns the number of files written.
func (d *Dir) SaveTiles(sub string, m *tilemap.TileMap) (int, error) {
	tiles := m.Tiles()
	n := 0
	for _, k := range m.Keys() {
		cloud, ok := tiles[k]
		if !ok || len(cloud) == 0 {
			continue
		}
		name := k.String() + ".asc"
		if sub != "" {
			name = sub + "/" + name
		}
		if _, err := d.save(name, func(f *os.File) error { return WriteASC(f, cloud) }); err != nil {
			return n, fmt.Errorf("tile %s: %w", k, err)
		}
		n++
	}
	monitoring.Logf("Exported %d tiles to %s", n, d.root)
	return n, nil
}
