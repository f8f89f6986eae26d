// Package session drives the per-scan mapping loop. A Session owns the tile
// map, local window, preprocessing pipeline, registrar and pose tracker of
// one mapping run and advances them through ProcessScan.
package session

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/preprocess"
	"github.com/banshee-data/lidarmap/internal/slam/registration"
	"github.com/banshee-data/lidarmap/internal/slam/search"
	"github.com/banshee-data/lidarmap/internal/slam/tilemap"
	"github.com/banshee-data/lidarmap/internal/slam/tracker"
	"github.com/banshee-data/lidarmap/internal/timeutil"
)

// Session is one mapping run. ProcessScan must be called from a single
// goroutine; Map may be read concurrently.
type Session struct {
	id       string
	cfg      *config.MappingConfig
	settings settings
	clock    timeutil.Clock
	started  time.Time

	tiles     *tilemap.TileMap
	window    *tilemap.LocalWindow
	pipeline  *preprocess.Pipeline
	tracker   *tracker.Tracker
	factory   registration.Factory
	registrar registration.Registrar
	searcher  *search.Searcher
	target    *registration.Target

	keyframeSinks []KeyframeSink
	poseSinks     []PoseSink
	diagSinks     []DiagnosticsSink

	trajectory  []TrajectoryPoint
	keyframes   []Keyframe
	constraints []Constraint
	fitness     []float64

	scans, skipped, nonConverged, searches int
}

// New builds a session from cfg. It fails when the calibration is
// incomplete or any tunable is invalid.
func New(cfg *config.MappingConfig, opts ...Option) (*Session, error) {
	st, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg.Resolved(),
		settings: st,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.tiles, err = tilemap.NewTileMap(st.tileWidth); err != nil {
		return nil, err
	}
	if s.window, err = tilemap.NewLocalWindow(s.tiles, st.windowRadius); err != nil {
		return nil, err
	}
	s.pipeline = preprocess.NewPipeline(st.pipeline)
	if s.tracker, err = tracker.New(st.tracker); err != nil {
		return nil, err
	}

	if s.factory == nil {
		if s.factory, err = registration.NewFactory(st.method, st.registration); err != nil {
			return nil, fmt.Errorf("registration config: %w", err)
		}
	}
	if s.registrar, err = s.factory(); err != nil {
		return nil, fmt.Errorf("building registrar: %w", err)
	}
	if st.searchEnabled {
		if s.searcher, err = search.NewSearcher(s.factory, st.workers); err != nil {
			return nil, err
		}
	}

	s.started = s.clock.Now()
	slam.Opsf("session %s: method=%s tile_width=%.1f window_radius=%d search=%t",
		s.id, s.registrar.Method(), st.tileWidth, st.windowRadius, st.searchEnabled)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Config returns the resolved configuration the session runs with.
func (s *Session) Config() *config.MappingConfig { return s.cfg }

// Map returns the accumulated tile map.
func (s *Session) Map() *tilemap.TileMap { return s.tiles }

// ProcessScan runs one scan through preprocessing, registration, pose
// update and map maintenance. The first non-empty scan bootstraps the map
// without registration. Registration failures are reported in the Report,
// not as errors; an error is returned only when ctx is done.
func (s *Session) ProcessScan(ctx context.Context, scan Scan) (Report, error) {
	if err := ctx.Err(); err != nil {
		return Report{}, err
	}
	start := s.clock.Now()
	rep := Report{Seq: scan.Seq, Stamp: scan.Stamp, Hypothesis: -1}
	s.scans++

	t := s.clock.Now()
	out := s.pipeline.Process(scan.Points, s.tracker.Relative())
	rep.Timings.Preprocess = s.clock.Since(t)
	rep.RawPoints = out.RawCount
	rep.GatedPoints = out.GatedCount
	rep.FilteredPoints = out.FilteredCount

	if out.GatedCount == 0 {
		s.skipped++
		rep.Skipped = true
		rep.Pose = s.tracker.Current()
		rep.MapPoints = s.tiles.Len()
		s.scope(scan.Seq).Opsf("no points beyond %.2f m, skipped", s.settings.pipeline.MinScanRange)
		return s.finish(ctx, rep, start), nil
	}

	if !s.tracker.Bootstrapped() {
		return s.bootstrap(ctx, scan, out, rep, start), nil
	}

	// Target from the window around the guessed position.
	guess := s.tracker.Guess()
	t = s.clock.Now()
	rebuilt := s.window.Refresh(guess.X, guess.Y)
	if rebuilt || s.target == nil {
		s.target = registration.PrepareTarget(s.window.Cloud(), s.registrar.Method(), s.settings.registration)
		s.registrar.SetTarget(s.target)
	}
	rep.Timings.Window = s.clock.Since(t)
	rep.WindowRebuilt = rebuilt
	rep.TargetPoints = s.target.Len()

	res, err := s.align(ctx, out.Filtered, guess, &rep)
	if err != nil {
		return rep, err
	}
	if !res.Converged {
		s.nonConverged++
	}
	rep.Fitness = res.Fitness
	rep.Converged = res.Converged
	rep.Iterations = res.Iterations
	s.fitness = append(s.fitness, res.Fitness)

	t = s.clock.Now()
	step := s.tracker.Update(res.Transform, scan.Stamp)
	rep.Pose = step.BaseLink
	rep.Localizer = step.Localizer
	rep.NonMonotonic = step.NonMonotonic

	adm := s.tracker.ShouldAddKeyframe()
	rep.Shift = adm.Shift
	rep.YawDiff = adm.YawDiff
	key := 0
	if adm.Add {
		key = s.insertKeyframe(ctx, scan, out.Gated, res.Transform, step.BaseLink, step.Localizer)
		rep.Keyframe = true
	}
	rep.Timings.MapUpdate = s.clock.Since(t)
	rep.MapPoints = s.tiles.Len()

	s.trajectory = append(s.trajectory, TrajectoryPoint{
		Key: key, Seq: scan.Seq, Stamp: scan.Stamp, Pose: step.BaseLink,
		Fitness: res.Fitness, Converged: res.Converged,
	})

	s.publish(ctx, PoseUpdate{
		SessionID: s.id, Seq: scan.Seq, Stamp: scan.Stamp,
		Pose: step.BaseLink, Localizer: step.Localizer, Velocity: step.Velocity,
		Fitness: res.Fitness, Converged: res.Converged, Keyframe: rep.Keyframe,
	})

	s.scope(scan.Seq).Diagf("pose=%v fitness=%.5f converged=%t iter=%d points=%d/%d/%d target=%d rebuilt=%t shift=%.3f yaw_diff=%.4f keyframe=%t",
		step.BaseLink, res.Fitness, res.Converged, res.Iterations,
		out.RawCount, out.GatedCount, out.FilteredCount, rep.TargetPoints, rebuilt, adm.Shift, adm.YawDiff, rep.Keyframe)
	return s.finish(ctx, rep, start), nil
}

// bootstrap inserts the first scan through the calibration alone and
// leaves the pose at the origin.
func (s *Session) bootstrap(ctx context.Context, scan Scan, out preprocess.Output, rep Report, start time.Time) Report {
	t := s.clock.Now()
	calib := s.tracker.Bootstrap(scan.Stamp)
	key := s.insertKeyframe(ctx, scan, out.Gated, calib, geom.Pose6D{}, calib.Pose())
	rep.Timings.MapUpdate = s.clock.Since(t)

	rep.Bootstrap = true
	rep.Keyframe = true
	rep.Converged = true
	rep.Localizer = calib.Pose()
	rep.MapPoints = s.tiles.Len()
	s.trajectory = append(s.trajectory, TrajectoryPoint{Key: key, Seq: scan.Seq, Stamp: scan.Stamp, Converged: true})
	s.publish(ctx, PoseUpdate{SessionID: s.id, Seq: scan.Seq, Stamp: scan.Stamp, Localizer: rep.Localizer, Converged: true, Keyframe: true})
	s.scope(scan.Seq).Opsf("bootstrap map with %d points", out.GatedCount)
	return s.finish(ctx, rep, start)
}

// align runs plain registration and, when configured, hypothesis search.
func (s *Session) align(ctx context.Context, source geom.PointCloud, guess geom.Pose6D, rep *Report) (registration.Result, error) {
	var res registration.Result
	plain := s.searcher == nil || !s.settings.searchAlways
	if plain {
		t := s.clock.Now()
		res = s.registrar.Align(source, s.tracker.SensorGuess(guess))
		rep.Timings.Registration = s.clock.Since(t)
	}
	if s.searcher == nil || (plain && res.Converged) {
		return res, nil
	}

	t := s.clock.Now()
	calib, _ := s.tracker.Calibration()
	candidates := search.Candidates(s.tracker.Previous(), s.settings.grid)
	outcome, err := s.searcher.Search(ctx, source, s.target, candidates, calib)
	rep.Timings.Search = s.clock.Since(t)
	s.searches++
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		s.scope(rep.Seq).Opsf("hypothesis search failed: %v", err)
		if plain {
			return res, nil
		}
		// always-mode has no plain result to fall back on
		t = s.clock.Now()
		res = s.registrar.Align(source, s.tracker.SensorGuess(guess))
		rep.Timings.Registration = s.clock.Since(t)
		return res, nil
	}
	if plain && !better(outcome.Result.Fitness, res.Fitness) {
		s.scope(rep.Seq).Diagf("search best %d fitness=%.5f did not beat plain %.5f", outcome.Index, outcome.Result.Fitness, res.Fitness)
		return res, nil
	}
	rep.Hypothesis = outcome.Index
	s.scope(rep.Seq).Diagf("search picked candidate %d/%d %v fitness=%.5f", outcome.Index, outcome.Evaluated, outcome.Candidate, outcome.Result.Fitness)
	return outcome.Result, nil
}

func (s *Session) scope(seq uint32) slam.Scope { return slam.ScanScope(s.id, seq) }

func better(a, b float64) bool {
	if math.IsNaN(a) {
		return false
	}
	if math.IsNaN(b) {
		return true
	}
	return a < b
}

// insertKeyframe moves the gated scan into the map frame with tf, inserts
// it, and forces the window to rebuild on the next scan even when the tile
// key is unchanged.
func (s *Session) insertKeyframe(ctx context.Context, scan Scan, gated geom.PointCloud, tf geom.Transform, pose, localizer geom.Pose6D) int {
	cloud := geom.TransformCloud(gated, tf)
	s.tiles.Insert(cloud)
	s.window.MarkStale()
	s.tracker.MarkKeyframe()

	kf := Keyframe{
		Key:       len(s.keyframes) + 1,
		Seq:       scan.Seq,
		Stamp:     scan.Stamp,
		Pose:      pose,
		Localizer: localizer,
		Points:    len(cloud),
	}
	if n := len(s.keyframes); n > 0 {
		prev := s.keyframes[n-1]
		c := Constraint{
			From:        prev.Key,
			To:          kf.Key,
			Relative:    geom.FromPose(prev.Pose).Inverse().Mul(geom.FromPose(pose)).Pose(),
			Information: [6]float64{1, 1, 1, 1, 1, 1},
		}
		s.constraints = append(s.constraints, c)
		kf.Constraint = &c
	}
	s.keyframes = append(s.keyframes, kf)

	for _, sink := range s.keyframeSinks {
		if err := sink.AddKeyframe(ctx, kf); err != nil {
			s.scope(scan.Seq).Opsf("keyframe sink: %v", err)
		}
	}
	return kf.Key
}

func (s *Session) publish(ctx context.Context, p PoseUpdate) {
	for _, sink := range s.poseSinks {
		if err := sink.PublishPose(ctx, p); err != nil {
			s.scope(p.Seq).Opsf("pose sink: %v", err)
		}
	}
}

func (s *Session) finish(ctx context.Context, rep Report, start time.Time) Report {
	rep.Timings.Total = s.clock.Since(start)
	for _, sink := range s.diagSinks {
		if err := sink.RecordScan(ctx, rep); err != nil {
			s.scope(rep.Seq).Opsf("diagnostics sink: %v", err)
		}
	}
	return rep
}

// Trajectory returns the pose of every registered scan, including the
// bootstrap scan at the origin.
func (s *Session) Trajectory() []TrajectoryPoint {
	return append([]TrajectoryPoint(nil), s.trajectory...)
}

// Keyframes returns the keyframes in insertion order.
func (s *Session) Keyframes() []Keyframe {
	return append([]Keyframe(nil), s.keyframes...)
}

// Constraints returns the edges between consecutive keyframes.
func (s *Session) Constraints() []Constraint {
	return append([]Constraint(nil), s.constraints...)
}

// Summary aggregates the session so far.
func (s *Session) Summary() Summary {
	sum := Summary{
		SessionID:    s.id,
		Method:       s.registrar.Method().String(),
		Scans:        s.scans,
		Skipped:      s.skipped,
		Registered:   len(s.fitness),
		NonConverged: s.nonConverged,
		Searches:     s.searches,
		Keyframes:    len(s.keyframes),
		MapPoints:    s.tiles.Len(),
		Tiles:        s.tiles.TileCount(),
		Elapsed:      s.clock.Since(s.started),
	}
	for i := 1; i < len(s.trajectory); i++ {
		sum.Distance += s.trajectory[i].Pose.PlanarDistance(s.trajectory[i-1].Pose)
	}
	sum.FitnessMean, sum.FitnessStdDev = fitnessStats(s.fitness)
	return sum
}
