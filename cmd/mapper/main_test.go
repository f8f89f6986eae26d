package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam/export"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/testutil"
)

// setFlag points a string flag at v for the duration of the test.
func setFlag(t *testing.T, f *string, v string) {
	t.Helper()
	old := *f
	*f = v
	t.Cleanup(func() { *f = old })
}

func TestRun_RequiresConfig(t *testing.T) {
	setFlag(t, configPath, "")
	setFlag(t, framesDir, t.TempDir())

	err := run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errUsage))
	assert.Contains(t, err.Error(), "-config")
}

func TestRun_DefaultsFileAloneLacksCalibration(t *testing.T) {
	setFlag(t, configPath, filepath.Join("..", "..", config.DefaultConfigPath))
	setFlag(t, framesDir, t.TempDir())

	err := run(context.Background())
	assert.ErrorIs(t, err, config.ErrMissingCalibration)
}

func TestRun_ReplaysAndExports(t *testing.T) {
	frames := t.TempDir()
	scan := testutil.Courtyard()
	for i, name := range []string{"0000.asc", "0001.asc"} {
		f, err := os.Create(filepath.Join(frames, name))
		require.NoError(t, err)
		require.NoError(t, export.WriteASC(f, testutil.Translate(scan, -0.05*float64(i), 0, 0)))
		require.NoError(t, f.Close())
	}

	cfgFile := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte(
		"calibration: {x: 0, y: 0, z: 1.5, roll: 0, pitch: 0, yaw: 0}\nvoxel_leaf_size: 0\n"), 0o644))

	out := filepath.Join(t.TempDir(), "out")
	setFlag(t, configPath, cfgFile)
	setFlag(t, framesDir, frames)
	setFlag(t, outDir, out)

	require.NoError(t, run(context.Background()))
	for _, name := range []string{
		"map.asc", "map.pcd", "trajectory.csv", "constraints.csv",
		"trajectory.geojson", "summary.yaml", "map.png", "report.html",
	} {
		assert.FileExists(t, filepath.Join(out, name))
	}
	assert.DirExists(t, filepath.Join(out, "tiles"))
}

func TestRetileFrames_MixedFormats(t *testing.T) {
	frames := t.TempDir()
	d, err := export.NewDir(frames)
	require.NoError(t, err)
	_, err = d.SavePCD("0000.pcd", geom.PointCloud{{X: 1, Y: 1, Z: 0, Intensity: 2.5}, {X: 15, Y: 1, Z: 0}})
	require.NoError(t, err)
	_, err = d.SaveASC("0001.asc", geom.PointCloud{{X: 2, Y: -3, Z: 1}})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "tiles")
	n, err := retileFrames(context.Background(), frames, out, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	first, err := export.LoadASC(filepath.Join(out, "0_0.asc"))
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, float32(2.5), first[0].Intensity)
	for _, name := range []string{"1_0.asc", "0_-1.asc"} {
		assert.FileExists(t, filepath.Join(out, name))
	}
}

func TestRun_RetileNeedsNoConfig(t *testing.T) {
	frames := t.TempDir()
	d, err := export.NewDir(frames)
	require.NoError(t, err)
	_, err = d.SavePCD("0000.pcd", geom.PointCloud{{X: 1, Y: 1, Z: 0}})
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "tiles")
	setFlag(t, configPath, "")
	setFlag(t, framesDir, frames)
	setFlag(t, outDir, out)
	old := *retile
	*retile = true
	t.Cleanup(func() { *retile = old })

	require.NoError(t, run(context.Background()))
	assert.FileExists(t, filepath.Join(out, "0_0.asc"))
}
