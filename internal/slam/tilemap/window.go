package tilemap

import (
	"fmt"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// DefaultWindowRadius gives a 5×5 tile block.
const DefaultWindowRadius = 2

// LocalWindow caches the registration target: the union of the tiles within
// Chebyshev radius R of the most recently computed key. It is rebuilt only
// when the key changes or after MarkStale.
type LocalWindow struct {
	m      *TileMap
	radius int

	cloud    geom.PointCloud
	lastKey  TileKey
	valid    bool
	stale    bool
	rebuilds int
}

// NewLocalWindow creates a window over m with the given radius.
func NewLocalWindow(m *TileMap, radius int) (*LocalWindow, error) {
	if m == nil {
		return nil, fmt.Errorf("local window requires a tile map")
	}
	if radius < 0 {
		return nil, fmt.Errorf("window radius must be >= 0, got %d", radius)
	}
	return &LocalWindow{m: m, radius: radius}, nil
}

// Refresh recomputes the window for position (x, y) if its tile key differs
// from the last one or the window was marked stale. It reports whether a
// rebuild happened.
func (w *LocalWindow) Refresh(x, y float64) bool {
	key := w.m.KeyOf(x, y)
	if w.valid && !w.stale && key == w.lastKey {
		return false
	}
	w.cloud = w.m.gather(make(geom.PointCloud, 0, len(w.cloud)), key, w.radius)
	w.lastKey = key
	w.valid = true
	w.stale = false
	w.rebuilds++
	return true
}

// MarkStale forces the next Refresh to rebuild even within the same tile.
func (w *LocalWindow) MarkStale() {
	w.stale = true
}

// Stale reports whether the next Refresh will rebuild regardless of key.
func (w *LocalWindow) Stale() bool {
	return w.stale || !w.valid
}

// Cloud returns the cached target. Callers must not modify it.
func (w *LocalWindow) Cloud() geom.PointCloud {
	return w.cloud
}

// LastKey returns the key used by the most recent rebuild.
func (w *LocalWindow) LastKey() TileKey {
	return w.lastKey
}

// Radius returns the window radius in tiles.
func (w *LocalWindow) Radius() int {
	return w.radius
}

// Rebuilds returns how many times the window has been rebuilt.
func (w *LocalWindow) Rebuilds() int {
	return w.rebuilds
}
