package export

import (
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam/session"
	"github.com/banshee-data/lidarmap/internal/version"
)

// SummaryDocument is the YAML layout of the session summary file: build
// metadata, the aggregate counters and every parameter the session ran with.
type SummaryDocument struct {
	Version       string                `yaml:"version"`
	SessionID     string                `yaml:"session_id"`
	Method        string                `yaml:"method"`
	Scans         int                   `yaml:"scans"`
	Skipped       int                   `yaml:"skipped"`
	Registered    int                   `yaml:"registered"`
	NonConverged  int                   `yaml:"non_converged"`
	Searches      int                   `yaml:"searches"`
	Keyframes     int                   `yaml:"keyframes"`
	MapPoints     int                   `yaml:"map_points"`
	Tiles         int                   `yaml:"tiles"`
	DistanceM     float64               `yaml:"distance_m"`
	FitnessMean   float64               `yaml:"fitness_mean"`
	FitnessStdDev float64               `yaml:"fitness_stddev"`
	Elapsed       string                `yaml:"elapsed"`
	Parameters    *config.MappingConfig `yaml:"parameters"`
}

// NewSummaryDocument assembles the summary of sum run with cfg.
func NewSummaryDocument(sum session.Summary, cfg *config.MappingConfig) SummaryDocument {
	return SummaryDocument{
		Version:       version.String(),
		SessionID:     sum.SessionID,
		Method:        sum.Method,
		Scans:         sum.Scans,
		Skipped:       sum.Skipped,
		Registered:    sum.Registered,
		NonConverged:  sum.NonConverged,
		Searches:      sum.Searches,
		Keyframes:     sum.Keyframes,
		MapPoints:     sum.MapPoints,
		Tiles:         sum.Tiles,
		DistanceM:     sum.Distance,
		FitnessMean:   sum.FitnessMean,
		FitnessStdDev: sum.FitnessStdDev,
		Elapsed:       sum.Elapsed.Round(time.Millisecond).String(),
		Parameters:    cfg,
	}
}

// WriteSummary encodes doc as YAML.
func WriteSummary(w io.Writer, doc SummaryDocument) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}

// SaveSummary writes the YAML summary to name inside d.
func (d *Dir) SaveSummary(name string, doc SummaryDocument) (string, error) {
	return d.save(name, func(f *os.File) error { return WriteSummary(f, doc) })
}
