package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/session"
)

// SessionRecord is one row of mapping_sessions.
type SessionRecord struct {
	ID            string
	Method        string
	Config        *config.MappingConfig
	StartedAt     time.Time
	FinishedAt    *time.Time
	Scans         int
	Keyframes     int
	MapPoints     int
	DistanceM     float64
	FitnessMean   float64
	FitnessStdDev float64
}

// CreateSession inserts a session row. An empty id is replaced with a new
// UUID; the id used is returned.
func (s *Store) CreateSession(ctx context.Context, id, method string, cfg *config.MappingConfig, started time.Time) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mapping_sessions (session_id, method, config_json, started_at) VALUES (?, ?, ?, ?)`,
		id, method, string(cfgJSON), started.UTC())
	if err != nil {
		return "", fmt.Errorf("inserting session: %w", err)
	}
	return id, nil
}

// FinishSession stores the final summary of a session.
func (s *Store) FinishSession(ctx context.Context, sum session.Summary, finished time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mapping_sessions
		SET finished_at = ?, scans = ?, keyframes = ?, map_points = ?,
		    distance_m = ?, fitness_mean = ?, fitness_stddev = ?
		WHERE session_id = ?`,
		finished.UTC(), sum.Scans, sum.Keyframes, sum.MapPoints,
		sum.Distance, sum.FitnessMean, sum.FitnessStdDev, sum.SessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", sum.SessionID, ErrNotFound)
	}
	return nil
}

// GetSession loads one session.
func (s *Store) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, method, config_json, started_at, finished_at,
		       scans, keyframes, map_points, distance_m, fitness_mean, fitness_stddev
		FROM mapping_sessions WHERE session_id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListSessions returns every session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]*SessionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, method, config_json, started_at, finished_at,
		       scans, keyframes, map_points, distance_m, fitness_mean, fitness_stddev
		FROM mapping_sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*SessionRecord, error) {
	var rec SessionRecord
	var cfgJSON string
	var finished sql.NullTime
	if err := r.Scan(&rec.ID, &rec.Method, &cfgJSON, &rec.StartedAt, &finished,
		&rec.Scans, &rec.Keyframes, &rec.MapPoints, &rec.DistanceM, &rec.FitnessMean, &rec.FitnessStdDev); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		rec.FinishedAt = &t
	}
	rec.Config = &config.MappingConfig{}
	if err := json.Unmarshal([]byte(cfgJSON), rec.Config); err != nil {
		return nil, fmt.Errorf("decoding config of %s: %w", rec.ID, err)
	}
	return &rec, nil
}

// InsertKeyframe stores kf and, when present, its constraint.
func (s *Store) InsertKeyframe(ctx context.Context, sessionID string, kf session.Keyframe) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p := kf.Pose
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO keyframes (session_id, key, seq, stamp_ns, x, y, z, roll, pitch, yaw, points)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, kf.Key, kf.Seq, kf.Stamp.UnixNano(), p.X, p.Y, p.Z, p.Roll, p.Pitch, p.Yaw, kf.Points); err != nil {
		return fmt.Errorf("inserting keyframe %d: %w", kf.Key, err)
	}
	if c := kf.Constraint; c != nil {
		info, err := json.Marshal(c.Information)
		if err != nil {
			return err
		}
		r := c.Relative
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO keyframe_constraints (session_id, from_key, to_key, x, y, z, roll, pitch, yaw, info_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, c.From, c.To, r.X, r.Y, r.Z, r.Roll, r.Pitch, r.Yaw, string(info)); err != nil {
			return fmt.Errorf("inserting constraint %d->%d: %w", c.From, c.To, err)
		}
	}
	return tx.Commit()
}

// Keyframes returns the stored keyframes of a session in key order.
// Constraints are not attached; see Constraints.
func (s *Store) Keyframes(ctx context.Context, sessionID string) ([]session.Keyframe, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, seq, stamp_ns, x, y, z, roll, pitch, yaw, points
		FROM keyframes WHERE session_id = ? ORDER BY key`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Keyframe
	for rows.Next() {
		var kf session.Keyframe
		var ns int64
		var p geom.Pose6D
		if err := rows.Scan(&kf.Key, &kf.Seq, &ns, &p.X, &p.Y, &p.Z, &p.Roll, &p.Pitch, &p.Yaw, &kf.Points); err != nil {
			return nil, err
		}
		kf.Stamp = time.Unix(0, ns).UTC()
		kf.Pose = p
		out = append(out, kf)
	}
	return out, rows.Err()
}

// Constraints returns the stored keyframe constraints of a session.
func (s *Store) Constraints(ctx context.Context, sessionID string) ([]session.Constraint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_key, to_key, x, y, z, roll, pitch, yaw, info_json
		FROM keyframe_constraints WHERE session_id = ? ORDER BY from_key, to_key`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []session.Constraint
	for rows.Next() {
		var c session.Constraint
		var info string
		r := &c.Relative
		if err := rows.Scan(&c.From, &c.To, &r.X, &r.Y, &r.Z, &r.Roll, &r.Pitch, &r.Yaw, &info); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(info), &c.Information); err != nil {
			return nil, fmt.Errorf("decoding information %d->%d: %w", c.From, c.To, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
