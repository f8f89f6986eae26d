package storage

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/session"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "map.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_MigratesToLatest(t *testing.T) {
	s := openTestStore(t)
	v, dirty, err := s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), v)
	assert.False(t, dirty)

	require.NoError(t, s.MigrateDown())
	v, _, err = s.SchemaVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)

	require.NoError(t, s.MigrateUp())
	require.NoError(t, s.MigrateUp(), "second up is a no-op")
}

func TestSessionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	cfg := (&config.MappingConfig{Calibration: config.NewCalibration(0, 0, 1.5, 0, 0, 0)}).Resolved()

	id, err := s.CreateSession(ctx, "", "icp", cfg, t0)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, err := s.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "icp", rec.Method)
	assert.Nil(t, rec.FinishedAt)
	assert.True(t, rec.StartedAt.Equal(t0))
	assert.Equal(t, 35.0, rec.Config.GetTileWidth())
	_, _, z, _, _, _, ok := rec.Config.GetCalibration()
	assert.True(t, ok)
	assert.Equal(t, 1.5, z)

	sum := session.Summary{SessionID: id, Scans: 12, Keyframes: 3, MapPoints: 900, Distance: 4.5, FitnessMean: 0.02}
	require.NoError(t, s.FinishSession(ctx, sum, t0.Add(time.Minute)))

	rec, err = s.GetSession(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, rec.FinishedAt)
	assert.Equal(t, 12, rec.Scans)
	assert.Equal(t, 4.5, rec.DistanceM)

	all, err := s.ListSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.FinishSession(ctx, session.Summary{SessionID: "missing"}, t0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSinkRecordsKeyframesAndScans(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id, err := s.CreateSession(ctx, "run-1", "ndt", &config.MappingConfig{}, t0)
	require.NoError(t, err)
	sink := s.Sink(id)

	kf1 := session.Keyframe{Key: 1, Seq: 0, Stamp: t0, Points: 100}
	con := session.Constraint{From: 1, To: 2, Relative: geom.Pose6D{X: 1, Yaw: 0.01}, Information: [6]float64{1, 1, 1, 1, 1, 1}}
	kf2 := session.Keyframe{Key: 2, Seq: 4, Stamp: t0.Add(400 * time.Millisecond), Pose: geom.Pose6D{X: 1, Yaw: 0.01}, Points: 95, Constraint: &con}
	require.NoError(t, sink.AddKeyframe(ctx, kf1))
	require.NoError(t, sink.AddKeyframe(ctx, kf2))
	assert.Error(t, sink.AddKeyframe(ctx, kf1), "duplicate key")

	kfs, err := s.Keyframes(ctx, id)
	require.NoError(t, err)
	kf2.Constraint = nil
	if diff := cmp.Diff([]session.Keyframe{kf1, kf2}, kfs); diff != "" {
		t.Errorf("keyframes mismatch (-want +got):\n%s", diff)
	}

	cons, err := s.Constraints(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []session.Constraint{con}, cons)

	reports := []session.Report{
		{Seq: 0, Stamp: t0, Bootstrap: true, Converged: true, Hypothesis: -1, RawPoints: 100, MapPoints: 100, Keyframe: true},
		{Seq: 1, Stamp: t0.Add(100 * time.Millisecond), Fitness: math.Inf(1), Hypothesis: -1, RawPoints: 100,
			Timings: session.Timings{Total: 2500 * time.Microsecond}},
		{Seq: 2, Stamp: t0.Add(200 * time.Millisecond), Fitness: 0.03, Converged: true, Iterations: 9, Hypothesis: 17,
			Pose: geom.Pose6D{X: 0.4, Y: 0.1, Yaw: 0.002}, RawPoints: 100, FilteredPoints: 50, TargetPoints: 100, MapPoints: 100},
	}
	for _, r := range reports {
		require.NoError(t, sink.RecordScan(ctx, r))
	}
	back, err := s.Scans(ctx, id)
	require.NoError(t, err)
	if diff := cmp.Diff(reports, back); diff != "" {
		t.Errorf("scans mismatch (-want +got):\n%s", diff)
	}
}

func TestForeignKeyEnforced(t *testing.T) {
	s := openTestStore(t)
	err := s.InsertKeyframe(context.Background(), "no-such-session", session.Keyframe{Key: 1})
	assert.Error(t, err)
}

func TestSinkSatisfiesSessionInterfaces(t *testing.T) {
	var _ session.KeyframeSink = (*Sink)(nil)
	var _ session.DiagnosticsSink = (*Sink)(nil)
}
