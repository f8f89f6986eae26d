package session

import (
	"context"

	"github.com/banshee-data/lidarmap/internal/slam/registration"
	"github.com/banshee-data/lidarmap/internal/timeutil"
)

// KeyframeSink receives every keyframe once it has been inserted into the
// map, together with the constraint linking it to the previous keyframe.
type KeyframeSink interface {
	AddKeyframe(ctx context.Context, kf Keyframe) error
}

// PoseSink receives the pose of every registered scan.
type PoseSink interface {
	PublishPose(ctx context.Context, p PoseUpdate) error
}

// DiagnosticsSink receives the report of every processed scan, including
// skipped and bootstrap scans.
type DiagnosticsSink interface {
	RecordScan(ctx context.Context, r Report) error
}

// Option customises a Session.
type Option func(*Session)

// WithClock sets the clock used for stage timings.
func WithClock(c timeutil.Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithRegistrarFactory replaces the registrar built from the configured
// method. The factory is also used for hypothesis search workers.
func WithRegistrarFactory(f registration.Factory) Option {
	return func(s *Session) { s.factory = f }
}

// WithKeyframeSink adds a keyframe sink.
func WithKeyframeSink(k KeyframeSink) Option {
	return func(s *Session) { s.keyframeSinks = append(s.keyframeSinks, k) }
}

// WithPoseSink adds a pose sink.
func WithPoseSink(p PoseSink) Option {
	return func(s *Session) { s.poseSinks = append(s.poseSinks, p) }
}

// WithDiagnosticsSink adds a diagnostics sink.
func WithDiagnosticsSink(d DiagnosticsSink) Option {
	return func(s *Session) { s.diagSinks = append(s.diagSinks, d) }
}
