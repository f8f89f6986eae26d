package tilemap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// gridMap puts one point at the centre of every tile in [-n, n]².
func gridMap(t *testing.T, w float64, n int) *TileMap {
	t.Helper()
	m, err := NewTileMap(w)
	require.NoError(t, err)
	var cloud geom.PointCloud
	for i := -n; i <= n; i++ {
		for j := -n; j <= n; j++ {
			cloud = append(cloud, geom.Point{X: (float64(i) + 0.5) * w, Y: (float64(j) + 0.5) * w})
		}
	}
	m.Insert(cloud)
	return m
}

func TestLocalWindow_UnionOfNeighbourhood(t *testing.T) {
	m := gridMap(t, 10, 5)
	w, err := NewLocalWindow(m, DefaultWindowRadius)
	require.NoError(t, err)

	assert.True(t, w.Refresh(3, 4))
	center := TileKey{0, 0}
	assert.Equal(t, center, w.LastKey())

	var want geom.PointCloud
	for _, k := range m.Keys() {
		if k.ChebyshevDistance(center) <= DefaultWindowRadius {
			want = append(want, m.Bucket(k)...)
		}
	}
	assert.Len(t, w.Cloud(), 25)
	assert.ElementsMatch(t, want, w.Cloud())
}

func TestLocalWindow_SameKeyIsNoop(t *testing.T) {
	m := gridMap(t, 10, 5)
	w, err := NewLocalWindow(m, 1)
	require.NoError(t, err)

	require.True(t, w.Refresh(1, 1))
	before := w.Cloud().Clone()

	m.Insert(geom.PointCloud{{X: 2, Y: 2}})
	assert.False(t, w.Refresh(9, 9), "same tile must not rebuild")
	assert.Equal(t, before, w.Cloud())
	assert.Equal(t, 1, w.Rebuilds())

	assert.True(t, w.Refresh(11, 1), "new tile must rebuild")
	assert.Equal(t, TileKey{1, 0}, w.LastKey())
	assert.Equal(t, 2, w.Rebuilds())
}

func TestLocalWindow_MarkStaleForcesRebuildInSameTile(t *testing.T) {
	m := gridMap(t, 10, 3)
	w, err := NewLocalWindow(m, DefaultWindowRadius)
	require.NoError(t, err)

	require.True(t, w.Refresh(5, 5))
	n := len(w.Cloud())

	m.Insert(geom.PointCloud{{X: 6, Y: 6}, {X: 7, Y: 7}})
	w.MarkStale()
	assert.True(t, w.Stale())
	assert.True(t, w.Refresh(5, 5))
	assert.False(t, w.Stale())
	assert.Len(t, w.Cloud(), n+2)
}

func TestLocalWindow_MissingTilesContributeNothing(t *testing.T) {
	m, err := NewTileMap(10)
	require.NoError(t, err)
	m.Insert(geom.PointCloud{{X: 1, Y: 1}})
	w, err := NewLocalWindow(m, DefaultWindowRadius)
	require.NoError(t, err)

	assert.True(t, w.Refresh(1000, 1000))
	assert.Empty(t, w.Cloud())
	assert.True(t, w.Refresh(15, 15))
	assert.Len(t, w.Cloud(), 1)
}

func TestLocalWindow_EmptyMap(t *testing.T) {
	m, err := NewTileMap(35)
	require.NoError(t, err)
	w, err := NewLocalWindow(m, DefaultWindowRadius)
	require.NoError(t, err)
	assert.True(t, w.Stale())
	assert.True(t, w.Refresh(0, 0))
	assert.Empty(t, w.Cloud())
}

func TestNewLocalWindow_Validation(t *testing.T) {
	_, err := NewLocalWindow(nil, 2)
	assert.Error(t, err)
	m, err := NewTileMap(10)
	require.NoError(t, err)
	_, err = NewLocalWindow(m, -1)
	assert.Error(t, err)
}
