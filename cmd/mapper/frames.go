package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/banshee-data/lidarmap/internal/slam/export"
)

// stampsFile optionally lists per-frame timestamps as file,sec,nsec rows.
const stampsFile = "frames.csv"

// frame is one scan file queued for replay.
type frame struct {
	Path  string
	Stamp time.Time
}

// listFrames returns the .asc and .pcd files in dir in lexical order. Stamps come
// from frames.csv when present; otherwise frame i is stamped
// start + i*interval.
func listFrames(dir string, start time.Time, interval time.Duration) ([]frame, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading frame directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !export.IsCloudFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	stamps, err := loadStamps(filepath.Join(dir, stampsFile))
	if err != nil {
		return nil, err
	}

	frames := make([]frame, len(names))
	for i, name := range names {
		st, ok := stamps[name]
		if !ok {
			st = start.Add(time.Duration(i) * interval)
		}
		frames[i] = frame{Path: filepath.Join(dir, name), Stamp: st}
	}
	return frames, nil
}

// loadStamps reads frames.csv. A missing file yields an empty map.
func loadStamps(path string) (map[string]time.Time, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return map[string]time.Time{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 3
	r.TrimLeadingSpace = true
	stamps := make(map[string]time.Time)
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", stampsFile, err)
		}
		if line == 1 && rec[0] == "file" {
			continue
		}
		sec, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: sec: %w", stampsFile, line, err)
		}
		nsec, err := strconv.ParseInt(rec[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: nsec: %w", stampsFile, line, err)
		}
		stamps[rec[0]] = time.Unix(sec, nsec).UTC()
	}
	return stamps, nil
}
