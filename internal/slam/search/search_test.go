package search

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/registration"
	"github.com/banshee-data/lidarmap/internal/testutil"
)

// poseRegistrar scores a guess by its distance from a fixed optimum and
// returns the guess unchanged, so the best candidate is known by
// construction.
type poseRegistrar struct {
	optimum geom.Pose6D
	target  *registration.Target
	calls   *int64
}

func (r *poseRegistrar) SetTarget(t *registration.Target) { r.target = t }
func (r *poseRegistrar) Method() registration.Method      { return registration.MethodICP }

func (r *poseRegistrar) Align(_ geom.PointCloud, guess geom.Transform) registration.Result {
	atomic.AddInt64(r.calls, 1)
	p := guess.Pose()
	d := math.Hypot(p.X-r.optimum.X, p.Y-r.optimum.Y) + math.Abs(geom.NormalizeAngle(p.Yaw-r.optimum.Yaw))
	return registration.Result{Transform: guess, Fitness: d, Converged: true, Iterations: 1}
}

func poseFactory(optimum geom.Pose6D, calls *int64, built *int64) registration.Factory {
	return func() (registration.Registrar, error) {
		atomic.AddInt64(built, 1)
		return &poseRegistrar{optimum: optimum, calls: calls}, nil
	}
}

func TestCandidates_DefaultGrid(t *testing.T) {
	g := DefaultGridConfig()
	require.NoError(t, g.Validate())
	prev := geom.Pose6D{X: 10, Y: -3, Z: 1.5, Roll: 0.01, Pitch: -0.02, Yaw: 0.5}
	c := Candidates(prev, g)
	require.Len(t, c, 231)

	// first candidate: zero distance, bearing -0.25
	want0 := geom.Pose6D{X: 10, Y: -3, Z: 1.5, Roll: 0.01, Pitch: -0.02, Yaw: 0.25}
	assert.InDelta(t, want0.X, c[0].X, 1e-12)
	assert.InDelta(t, want0.Yaw, c[0].Yaw, 1e-12)

	// last candidate: 10 m along bearing +0.25
	last := c[230]
	assert.InDelta(t, 10+10*math.Cos(0.25), last.X, 1e-9)
	assert.InDelta(t, -3+10*math.Sin(0.25), last.Y, 1e-9)
	assert.InDelta(t, 0.75, last.Yaw, 1e-9)

	for _, p := range c {
		assert.Equal(t, prev.Z, p.Z)
		assert.Equal(t, prev.Roll, p.Roll)
		assert.Equal(t, prev.Pitch, p.Pitch)
	}

	// index i*21+j is distance step i, bearing step j
	p := c[3*21+10]
	assert.InDelta(t, 10+3, p.X, 1e-9)
	assert.InDelta(t, -3, p.Y, 1e-9)
}

func TestGridConfig_Validate(t *testing.T) {
	g := DefaultGridConfig()
	g.RotationSteps = 0
	assert.Error(t, g.Validate())
	g = DefaultGridConfig()
	g.TranslationStep = math.NaN()
	assert.Error(t, g.Validate())
}

func TestSearch_FindsKnownOptimum(t *testing.T) {
	grid := DefaultGridConfig()
	prev := geom.Pose6D{X: 2, Y: 1, Yaw: 0.1}
	candidates := Candidates(prev, grid)

	// The optimum sits exactly on candidate (i=6, j=14).
	wantIndex := 6*grid.RotationSteps + 14
	optimum := candidates[wantIndex]

	var calls, built int64
	s, err := NewSearcher(poseFactory(optimum, &calls, &built), 4)
	require.NoError(t, err)

	out, err := s.Search(context.Background(), testutil.Courtyard(), registration.NewTarget(nil), candidates, geom.Identity())
	require.NoError(t, err)

	assert.Equal(t, wantIndex, out.Index)
	assert.Equal(t, 231, out.Evaluated)
	assert.EqualValues(t, 231, atomic.LoadInt64(&calls))
	assert.EqualValues(t, 4, atomic.LoadInt64(&built), "one registrar per worker")
	assert.True(t, out.Result.Transform.ApproxEqual(geom.FromPose(optimum), 1e-12))
	assert.InDelta(t, 0, out.Result.Fitness, 1e-9)
	if diff := cmp.Diff(optimum, out.Candidate); diff != "" {
		t.Errorf("winning candidate mismatch (-want +got):\n%s", diff)
	}
}

func TestSearch_ComposesCalibration(t *testing.T) {
	candidates := []geom.Pose6D{{X: 1}, {X: 2}}
	calib := geom.FromPose(geom.Pose6D{X: 0.5, Z: 1})
	var calls, built int64
	optimum := geom.FromPose(geom.Pose6D{X: 2}).Mul(calib).Pose()
	s, err := NewSearcher(poseFactory(optimum, &calls, &built), 2)
	require.NoError(t, err)

	out, err := s.Search(context.Background(), nil, nil, candidates, calib)
	require.NoError(t, err)
	assert.Equal(t, 1, out.Index)
	assert.True(t, out.Result.Transform.ApproxEqual(geom.FromPose(candidates[1]).Mul(calib), 1e-12))
}

// constRegistrar returns the same fitness for every guess.
type constRegistrar struct{}

func (constRegistrar) SetTarget(*registration.Target) {}
func (constRegistrar) Method() registration.Method    { return registration.MethodNDT }
func (constRegistrar) Align(_ geom.PointCloud, g geom.Transform) registration.Result {
	return registration.Result{Transform: g, Fitness: 1}
}

func TestSearch_TiesGoToLowestIndex(t *testing.T) {
	s, err := NewSearcher(func() (registration.Registrar, error) { return constRegistrar{}, nil }, 8)
	require.NoError(t, err)
	for trial := 0; trial < 20; trial++ {
		out, err := s.Search(context.Background(), nil, nil, Candidates(geom.Pose6D{}, DefaultGridConfig()), geom.Identity())
		require.NoError(t, err)
		assert.Equal(t, 0, out.Index)
	}
}

func TestSearch_NaNFitnessLoses(t *testing.T) {
	var mu sync.Mutex
	n := 0
	factory := func() (registration.Registrar, error) {
		return registrarFunc(func(g geom.Transform) registration.Result {
			mu.Lock()
			defer mu.Unlock()
			n++
			if g.Pose().X == 0 {
				return registration.Result{Transform: g, Fitness: math.NaN()}
			}
			return registration.Result{Transform: g, Fitness: 5}
		}), nil
	}
	s, err := NewSearcher(factory, 1)
	require.NoError(t, err)
	out, err := s.Search(context.Background(), nil, nil, []geom.Pose6D{{}, {X: 1}}, geom.Identity())
	require.NoError(t, err)
	assert.Equal(t, 1, out.Index)
	assert.Equal(t, 2, n)
}

type registrarFunc func(geom.Transform) registration.Result

func (f registrarFunc) SetTarget(*registration.Target) {}
func (f registrarFunc) Method() registration.Method    { return registration.MethodICP }
func (f registrarFunc) Align(_ geom.PointCloud, g geom.Transform) registration.Result {
	return f(g)
}

func TestSearch_FactoryError(t *testing.T) {
	boom := errors.New("boom")
	s, err := NewSearcher(func() (registration.Registrar, error) { return nil, boom }, 3)
	require.NoError(t, err)
	_, err = s.Search(context.Background(), nil, nil, Candidates(geom.Pose6D{}, DefaultGridConfig()), geom.Identity())
	assert.ErrorIs(t, err, boom)
}

func TestSearch_CancelledBeforeDispatch(t *testing.T) {
	var calls, built int64
	s, err := NewSearcher(poseFactory(geom.Pose6D{}, &calls, &built), 2)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, nil, nil, Candidates(geom.Pose6D{}, DefaultGridConfig()), geom.Identity())
	assert.ErrorIs(t, err, context.Canceled)
	assert.EqualValues(t, 0, atomic.LoadInt64(&calls))
}

func TestSearch_NoCandidates(t *testing.T) {
	var calls, built int64
	s, err := NewSearcher(poseFactory(geom.Pose6D{}, &calls, &built), 0)
	require.NoError(t, err)
	assert.Greater(t, s.Workers(), 0)
	_, err = s.Search(context.Background(), nil, nil, nil, geom.Identity())
	assert.Error(t, err)
}

func TestNewSearcher_NilFactory(t *testing.T) {
	_, err := NewSearcher(nil, 2)
	assert.Error(t, err)
}

func TestSearch_RealICPConvergesFromGrid(t *testing.T) {
	target := testutil.Courtyard()
	truth := geom.Pose6D{X: 3.02, Y: 0.01}
	source := geom.TransformCloud(target, geom.FromPose(truth).Inverse())

	grid := GridConfig{TranslationStart: 0, TranslationStep: 1, TranslationSteps: 5, RotationStart: -0.05, RotationStep: 0.05, RotationSteps: 3}
	candidates := Candidates(geom.Pose6D{}, grid)
	cfg := registration.DefaultICPConfig()
	cfg.EuclideanFitnessEpsilon = 1e-12
	factory, err := registration.NewFactory(registration.MethodICP, cfg)
	require.NoError(t, err)
	s, err := NewSearcher(factory, 3)
	require.NoError(t, err)

	out, err := s.Search(context.Background(), source, registration.NewTarget(target), candidates, geom.Identity())
	require.NoError(t, err)
	assert.Equal(t, len(candidates), out.Evaluated)
	x, y, _ := out.Result.Transform.Translation()
	assert.InDelta(t, truth.X, x, 1e-3)
	assert.InDelta(t, truth.Y, y, 1e-3)
	assert.Less(t, out.Result.Fitness, 1e-6)
}
