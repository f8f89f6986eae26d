package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/lidarmap/internal/slam/session"
)

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// InsertScan stores one scan report. Non-finite fitness is stored as NULL.
func (s *Store) InsertScan(ctx context.Context, sessionID string, r session.Report) error {
	var fitness sql.NullFloat64
	if !math.IsNaN(r.Fitness) && !math.IsInf(r.Fitness, 0) {
		fitness = sql.NullFloat64{Float64: r.Fitness, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_diagnostics (
			session_id, seq, stamp_ns, bootstrap, skipped, converged, fitness, iterations,
			hypothesis, x, y, yaw, raw_points, filtered_points, target_points, map_points,
			keyframe, total_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, r.Seq, r.Stamp.UnixNano(), boolInt(r.Bootstrap), boolInt(r.Skipped), boolInt(r.Converged),
		fitness, r.Iterations, r.Hypothesis, r.Pose.X, r.Pose.Y, r.Pose.Yaw,
		r.RawPoints, r.FilteredPoints, r.TargetPoints, r.MapPoints, boolInt(r.Keyframe),
		r.Timings.Total.Microseconds())
	if err != nil {
		return fmt.Errorf("inserting scan %d: %w", r.Seq, err)
	}
	return nil
}

// Scans returns the stored reports of a session in sequence order. Only
// the persisted columns are populated.
func (s *Store) Scans(ctx context.Context, sessionID string) ([]session.Report, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, stamp_ns, bootstrap, skipped, converged, fitness, iterations, hypothesis,
		       x, y, yaw, raw_points, filtered_points, target_points, map_points, keyframe, total_us
		FROM scan_diagnostics WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Report
	for rows.Next() {
		var r session.Report
		var ns, totalUS int64
		var bootstrap, skipped, converged, keyframe int
		var fitness sql.NullFloat64
		if err := rows.Scan(&r.Seq, &ns, &bootstrap, &skipped, &converged, &fitness, &r.Iterations, &r.Hypothesis,
			&r.Pose.X, &r.Pose.Y, &r.Pose.Yaw, &r.RawPoints, &r.FilteredPoints, &r.TargetPoints, &r.MapPoints,
			&keyframe, &totalUS); err != nil {
			return nil, err
		}
		r.Stamp = time.Unix(0, ns).UTC()
		r.Bootstrap = bootstrap != 0
		r.Skipped = skipped != 0
		r.Converged = converged != 0
		r.Keyframe = keyframe != 0
		r.Fitness = math.Inf(1)
		if fitness.Valid {
			r.Fitness = fitness.Float64
		}
		r.Timings.Total = time.Duration(totalUS) * time.Microsecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sink records one session's keyframes and scan reports. It satisfies
// session.KeyframeSink and session.DiagnosticsSink.
type Sink struct {
	store     *Store
	sessionID string
}

// Sink returns a sink bound to sessionID.
func (s *Store) Sink(sessionID string) *Sink {
	return &Sink{store: s, sessionID: sessionID}
}

// AddKeyframe implements session.KeyframeSink.
func (k *Sink) AddKeyframe(ctx context.Context, kf session.Keyframe) error {
	return k.store.InsertKeyframe(ctx, k.sessionID, kf)
}

// RecordScan implements session.DiagnosticsSink.
func (k *Sink) RecordScan(ctx context.Context, r session.Report) error {
	return k.store.InsertScan(ctx, k.sessionID, r)
}
