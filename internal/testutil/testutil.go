// Package testutil provides shared test fixtures: synthetic scenes and small
// assertion helpers used across the mapping packages.
package testutil

import (
	"math"
	"math/rand"
	"testing"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
)

// CourtyardSpacing is the lattice pitch of Courtyard in metres.
const CourtyardSpacing = 0.5

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Courtyard returns a walled square yard on a CourtyardSpacing lattice, seen
// from the origin: a floor at z=-1.8 and four walls at ±12.25 m, plus a
// pillar that breaks the 90° symmetry. Points closer than 3 m horizontally
// are omitted, so the scene survives the default range gate. Any rigid
// offset shorter than a quarter of the spacing keeps every point's nearest
// neighbour equal to its true counterpart.
func Courtyard() geom.PointCloud {
	const half = 12.0
	const wall = half + CourtyardSpacing/2
	var c geom.PointCloud
	add := func(x, y, z float64) {
		if math.Hypot(x, y) <= 3 {
			return
		}
		c = append(c, geom.Point{X: x, Y: y, Z: z, Intensity: float32(int(math.Abs(x+y)) % 100)})
	}
	for x := -half; x <= half; x += CourtyardSpacing {
		for y := -half; y <= half; y += CourtyardSpacing {
			add(x, y, -1.8)
		}
	}
	for s := -half; s <= half; s += CourtyardSpacing {
		for z := -1.5; z <= 2.0; z += CourtyardSpacing {
			add(wall, s, z)
			add(-wall, s, z)
			add(s, wall, z)
			add(s, -wall, z)
		}
	}
	// pillar: 1 m square column at (6, 4)
	for z := -1.5; z <= 2.0; z += CourtyardSpacing {
		for s := 0.0; s <= 1.0; s += CourtyardSpacing {
			add(6+s, 4, z)
			add(6+s, 5, z)
			add(6, 4+s, z)
			add(7, 4+s, z)
		}
	}
	return c
}

// Translate returns c shifted by (dx, dy, dz).
func Translate(c geom.PointCloud, dx, dy, dz float64) geom.PointCloud {
	return geom.TransformCloud(c, geom.FromPose(geom.Pose6D{X: dx, Y: dy, Z: dz}))
}

// RandomCloud returns n points uniformly spread over [-extent, extent]² in
// XY and [0, 3] in Z.
func RandomCloud(rng *rand.Rand, n int, extent float64) geom.PointCloud {
	c := make(geom.PointCloud, n)
	for i := range c {
		c[i] = geom.Point{
			X:         rng.Float64()*2*extent - extent,
			Y:         rng.Float64()*2*extent - extent,
			Z:         rng.Float64() * 3,
			Intensity: float32(rng.Intn(256)),
		}
	}
	return c
}
