package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestListFrames_IntervalStamps(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"0002.pcd", "0000.asc", "0001.ASC", "notes.txt"} {
		writeFile(t, filepath.Join(dir, n), "1 2 3 0\n")
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.asc"), 0o755))

	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	frames, err := listFrames(dir, start, 100*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, frames, 3)

	assert.Equal(t, "0000.asc", filepath.Base(frames[0].Path))
	assert.Equal(t, "0001.ASC", filepath.Base(frames[1].Path))
	assert.Equal(t, "0002.pcd", filepath.Base(frames[2].Path))
	assert.Equal(t, start.Add(200*time.Millisecond), frames[2].Stamp)
}

func TestListFrames_StampsFile(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.asc"), "")
	writeFile(t, filepath.Join(dir, "b.asc"), "")
	writeFile(t, filepath.Join(dir, stampsFile), "file,sec,nsec\nb.asc,1772366400,500\n")

	start := time.Unix(100, 0).UTC()
	frames, err := listFrames(dir, start, time.Second)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, start, frames[0].Stamp)
	assert.Equal(t, time.Unix(1772366400, 500).UTC(), frames[1].Stamp)
}

func TestListFrames_BadStamps(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, stampsFile), "a.asc,xyz,0\n")
	_, err := listFrames(dir, time.Now(), time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestListFrames_MissingDir(t *testing.T) {
	_, err := listFrames(filepath.Join(t.TempDir(), "nope"), time.Now(), time.Second)
	assert.Error(t, err)
}
