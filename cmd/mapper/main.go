// Command mapper replays a directory of lidar frames through a mapping
// session and exports the resulting map and trajectory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/monitoring"
	"github.com/banshee-data/lidarmap/internal/slam"
	"github.com/banshee-data/lidarmap/internal/slam/export"
	"github.com/banshee-data/lidarmap/internal/slam/publish"
	"github.com/banshee-data/lidarmap/internal/slam/session"
	"github.com/banshee-data/lidarmap/internal/slam/storage"
	"github.com/banshee-data/lidarmap/internal/slam/tilemap"
	"github.com/banshee-data/lidarmap/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to the mapping configuration (JSON or YAML, required; must set the calibration)")
	framesDir   = flag.String("frames", "", "Directory of .asc frames to replay (required)")
	outDir      = flag.String("out", "out", "Output directory for exported files")
	dbPath      = flag.String("db", "", "SQLite database for session records (optional)")
	mqttBroker  = flag.String("mqtt", "", "MQTT broker URL for pose updates, e.g. tcp://localhost:1883 (optional)")
	mqttPrefix  = flag.String("mqtt-prefix", publish.DefaultTopicPrefix, "MQTT topic prefix")
	method      = flag.String("method", "", "Override the registration method (icp or ndt)")
	retile      = flag.Bool("retile", false, "Split map-frame clouds from -frames into per-tile files under -out instead of mapping")
	tileWidth   = flag.Float64("tile-width", 0, "Tile width in metres for -retile (default: the mapping default)")
	verbose     = flag.Bool("v", false, "Log per-scan diagnostics")
	trace       = flag.Bool("trace", false, "Log per-iteration registration telemetry")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("mapper: %v", err)
	}
}

// errUsage reports a missing required flag.
var errUsage = errors.New("usage")

func run(ctx context.Context) error {
	if *retile {
		return runRetile(ctx)
	}
	if *configPath == "" {
		return fmt.Errorf("%w: -config is required; the sensor calibration has no default", errUsage)
	}
	if *framesDir == "" {
		return fmt.Errorf("%w: -frames is required", errUsage)
	}
	cfg, err := config.LoadMappingConfig(*configPath)
	if err != nil {
		return err
	}
	if *method != "" {
		cfg.Method = method
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	streams := slam.LogWriters{Ops: monitoring.Writer("[ops]")}
	if *verbose {
		streams.Diag = monitoring.Writer("[diag]")
	}
	if *trace {
		streams.Trace = os.Stderr
	}
	slam.SetLogWriters(streams)

	id := uuid.NewString()
	opts := []session.Option{session.WithID(id)}

	var store *storage.Store
	if *dbPath != "" {
		store, err = storage.Open(*dbPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()
		if _, err := store.CreateSession(ctx, id, cfg.GetMethod(), cfg.Resolved(), time.Now()); err != nil {
			return err
		}
		sink := store.Sink(id)
		opts = append(opts, session.WithKeyframeSink(sink), session.WithDiagnosticsSink(sink))
	}

	if *mqttBroker != "" {
		client, err := publish.Dial(*mqttBroker, "lidarmap-"+id[:8], 10*time.Second)
		if err != nil {
			return err
		}
		pub := publish.NewPublisher(client, *mqttPrefix)
		defer pub.Close()
		opts = append(opts,
			session.WithPoseSink(pub),
			session.WithKeyframeSink(publish.KeyframePublisher{Publisher: pub, SessionID: id}))
	}

	sess, err := session.New(cfg, opts...)
	if err != nil {
		return err
	}

	interval := time.Duration(cfg.GetScanIntervalSecs() * float64(time.Second))
	frames, err := listFrames(*framesDir, time.Now().UTC(), interval)
	if err != nil {
		return err
	}
	monitoring.Logf("replaying %d frames from %s (session %s)", len(frames), *framesDir, id)

	reports, replayErr := replay(ctx, sess, frames)
	if errors.Is(replayErr, context.Canceled) {
		monitoring.Logf("interrupted after %d frames; exporting partial map", len(reports))
		replayErr = nil
	}

	sum := sess.Summary()
	monitoring.Logf("%s", sum)

	// Export with a fresh context so an interrupt still yields output.
	exportCtx := context.Background()
	if store != nil {
		if err := store.FinishSession(exportCtx, sum, time.Now()); err != nil {
			monitoring.Logf("finishing session record: %v", err)
		}
	}
	if err := exportAll(sess, reports); err != nil {
		return err
	}
	return replayErr
}

func replay(ctx context.Context, sess *session.Session, frames []frame) ([]session.Report, error) {
	reports := make([]session.Report, 0, len(frames))
	for i, f := range frames {
		points, err := export.LoadCloud(f.Path)
		if err != nil {
			return reports, err
		}
		rep, err := sess.ProcessScan(ctx, session.Scan{Seq: uint32(i), Stamp: f.Stamp, Points: points})
		if err != nil {
			return reports, err
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func exportAll(sess *session.Session, reports []session.Report) error {
	dir, err := export.NewDir(*outDir)
	if err != nil {
		return err
	}
	cloud := sess.Map().Export()
	traj := sess.Trajectory()
	kfs := sess.Keyframes()
	sum := sess.Summary()

	steps := []struct {
		name string
		fn   func() (string, error)
	}{
		{"map", func() (string, error) { return dir.SaveASC("map.asc", cloud) }},
		{"pcd", func() (string, error) { return dir.SavePCD("map.pcd", cloud) }},
		{"tiles", func() (string, error) {
			n, err := dir.SaveTiles("tiles", sess.Map())
			return fmt.Sprintf("%d tiles", n), err
		}},
		{"trajectory", func() (string, error) { return dir.SaveTrajectoryCSV("trajectory.csv", traj) }},
		{"constraints", func() (string, error) { return dir.SaveConstraintsCSV("constraints.csv", sess.Constraints()) }},
		{"geojson", func() (string, error) { return dir.SaveGeoJSON("trajectory.geojson", traj, kfs, 0.05) }},
		{"summary", func() (string, error) {
			return dir.SaveSummary("summary.yaml", export.NewSummaryDocument(sum, sess.Config()))
		}},
		{"plot", func() (string, error) { return dir.SaveMapPlot("map.png", cloud, traj) }},
		{"report", func() (string, error) { return dir.SaveHTMLReport("report.html", sess.ID(), reports) }},
	}
	for _, s := range steps {
		out, err := s.fn()
		if err != nil {
			return fmt.Errorf("exporting %s: %w", s.name, err)
		}
		monitoring.Logf("wrote %s: %s", s.name, out)
	}
	return nil
}

// runRetile loads every cloud under -frames as map-frame points and writes
// them back out one file per tile.
func runRetile(ctx context.Context) error {
	if *framesDir == "" {
		return fmt.Errorf("%w: -frames is required", errUsage)
	}
	width := *tileWidth
	if width <= 0 {
		width = config.DefaultMappingConfig().GetTileWidth()
	}
	n, err := retileFrames(ctx, *framesDir, *outDir, width)
	if err != nil {
		return err
	}
	monitoring.Logf("retiled into %d tiles of %.1f m under %s", n, width, *outDir)
	return nil
}

func retileFrames(ctx context.Context, dir, out string, width float64) (int, error) {
	frames, err := listFrames(dir, time.Time{}, 0)
	if err != nil {
		return 0, err
	}
	tiles, err := tilemap.NewTileMap(width)
	if err != nil {
		return 0, err
	}
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		cloud, err := export.LoadCloud(f.Path)
		if err != nil {
			return 0, err
		}
		tiles.Insert(cloud)
	}
	d, err := export.NewDir(out)
	if err != nil {
		return 0, err
	}
	return d.SaveTiles("", tiles)
}
