package tilemap

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// TileKey identifies a W×W horizontal cell. It is a plain comparable value
// and is used directly as a map key.
type TileKey struct {
	X, Y int
}

// KeyOf returns the key of the tile containing (x, y) for tile width w.
func KeyOf(x, y, w float64) TileKey {
	return TileKey{X: int(math.Floor(x / w)), Y: int(math.Floor(y / w))}
}

func (k TileKey) String() string {
	return fmt.Sprintf("%d_%d", k.X, k.Y)
}

// ChebyshevDistance returns max(|dx|, |dy|) between two keys.
func (k TileKey) ChebyshevDistance(o TileKey) int {
	dx := k.X - o.X
	if dx < 0 {
		dx = -dx
	}
	dy := k.Y - o.Y
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}

// TileMap is the accumulated map, bucketed by TileKey. Points are only ever
// appended. The mutex lets out-of-band readers (export on shutdown, report
// rendering) run alongside the session goroutine.
type TileMap struct {
	width float64

	mu     sync.RWMutex
	tiles  map[TileKey]geom.PointCloud
	points int
}

// NewTileMap creates an empty map with tile width w. w must be positive.
func NewTileMap(w float64) (*TileMap, error) {
	if !(w > 0) {
		return nil, fmt.Errorf("tile width must be positive, got %v", w)
	}
	return &TileMap{width: w, tiles: make(map[TileKey]geom.PointCloud)}, nil
}

// Width returns the tile width.
func (m *TileMap) Width() float64 { return m.width }

// KeyOf returns the key of the tile containing (x, y) in this map.
func (m *TileMap) KeyOf(x, y float64) TileKey {
	return KeyOf(x, y, m.width)
}

// Insert appends every point of cloud (already in map frame) to the bucket
// of its own tile.
func (m *TileMap) Insert(cloud geom.PointCloud) {
	if len(cloud) == 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range cloud {
		k := KeyOf(p.X, p.Y, m.width)
		m.tiles[k] = append(m.tiles[k], p)
	}
	m.points += len(cloud)
}

// Bucket returns a copy of the points stored under k. Absent tiles return nil.
func (m *TileMap) Bucket(k TileKey) geom.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tiles[k].Clone()
}

// Len returns the total number of stored points.
func (m *TileMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.points
}

// TileCount returns the number of populated tiles.
func (m *TileMap) TileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.tiles)
}

// Keys returns the populated tile keys sorted by X then Y.
func (m *TileMap) Keys() []TileKey {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedKeysLocked()
}

func (m *TileMap) sortedKeysLocked() []TileKey {
	keys := make([]TileKey, 0, len(m.tiles))
	for k := range m.tiles {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].X != keys[j].X {
			return keys[i].X < keys[j].X
		}
		return keys[i].Y < keys[j].Y
	})
	return keys
}

// Export returns the concatenation of all buckets in key order.
func (m *TileMap) Export() geom.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(geom.PointCloud, 0, m.points)
	for _, k := range m.sortedKeysLocked() {
		out = append(out, m.tiles[k]...)
	}
	return out
}

// Tiles returns a snapshot copy of every bucket.
func (m *TileMap) Tiles() map[TileKey]geom.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[TileKey]geom.PointCloud, len(m.tiles))
	for k, c := range m.tiles {
		out[k] = c.Clone()
	}
	return out
}

// gather appends the buckets of every key within Chebyshev radius r of
// center to dst.
func (m *TileMap) gather(dst geom.PointCloud, center TileKey, r int) geom.PointCloud {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			dst = append(dst, m.tiles[TileKey{X: center.X + dx, Y: center.Y + dy}]...)
		}
	}
	return dst
}
