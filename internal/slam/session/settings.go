package session

import (
	"fmt"

	"github.com/banshee-data/lidarmap/internal/config"
	"github.com/banshee-data/lidarmap/internal/slam/geom"
	"github.com/banshee-data/lidarmap/internal/slam/preprocess"
	"github.com/banshee-data/lidarmap/internal/slam/registration"
	"github.com/banshee-data/lidarmap/internal/slam/search"
	"github.com/banshee-data/lidarmap/internal/slam/tracker"
)

// settings is the mapping config translated into component configs.
type settings struct {
	method       registration.Method
	registration registration.Config
	pipeline     preprocess.PipelineConfig
	tracker      tracker.Config
	tileWidth    float64
	windowRadius int

	searchEnabled bool
	searchAlways  bool
	workers       int
	grid          search.GridConfig
}

func resolve(cfg *config.MappingConfig) (settings, error) {
	var s settings
	if cfg == nil {
		return s, fmt.Errorf("%w: no configuration", config.ErrMissingCalibration)
	}
	if err := cfg.Validate(); err != nil {
		return s, fmt.Errorf("invalid configuration: %w", err)
	}
	m, err := registration.ParseMethod(cfg.GetMethod())
	if err != nil {
		return s, err
	}
	s.method = m

	x, y, z, roll, pitch, yaw, _ := cfg.GetCalibration()
	s.tracker = tracker.Config{
		Calibration:        geom.FromPose(geom.Pose6D{X: x, Y: y, Z: z, Roll: roll, Pitch: pitch, Yaw: yaw}),
		MinKeyframeShift:   cfg.GetMinAddScanShift(),
		MinKeyframeYawDiff: cfg.GetMinAddScanYawDiff(),
	}

	s.registration = registration.Config{
		MaxIterations:             cfg.GetMaxIterations(),
		TransformationEpsilon:     cfg.GetTransformationEpsilon(),
		MaxCorrespondenceDistance: cfg.GetMaxCorrespondenceDistance(),
		EuclideanFitnessEpsilon:   cfg.GetEuclideanFitnessEpsilon(),
		OutlierRejectionThreshold: cfg.GetOutlierRejectionThreshold(),
		OutlierPercentile:         cfg.GetOutlierPercentile(),
		Resolution:                cfg.GetNDTResolution(),
		StepSize:                  cfg.GetNDTStepSize(),
		OutlierRatio:              cfg.GetNDTOutlierRatio(),
		MaxFitnessRange:           cfg.GetMaxFitnessRange(),
	}

	s.pipeline = preprocess.PipelineConfig{
		MinScanRange:  cfg.GetMinScanRange(),
		VoxelLeafSize: cfg.GetVoxelLeafSize(),
	}
	if cfg.GetDistortionEnabled() {
		s.pipeline.Distortion = &preprocess.DistortionCorrector{
			ScanInterval:    cfg.GetScanIntervalSecs(),
			MinAngleDiffDeg: cfg.GetMinAngleDiffDeg(),
		}
	}

	s.tileWidth = cfg.GetTileWidth()
	s.windowRadius = cfg.GetWindowRadius()

	s.searchEnabled = cfg.GetSearchEnabled()
	s.searchAlways = cfg.GetSearchMode() == config.SearchModeAlways
	s.workers = cfg.GetSearchWorkers()
	s.grid = search.GridConfig{
		TranslationStart: cfg.GetSearchTranslationStart(),
		TranslationStep:  cfg.GetSearchTranslationStep(),
		TranslationSteps: cfg.GetSearchTranslationSteps(),
		RotationStart:    cfg.GetSearchRotationStart(),
		RotationStep:     cfg.GetSearchRotationStep(),
		RotationSteps:    cfg.GetSearchRotationSteps(),
	}
	if err := s.grid.Validate(); err != nil {
		return s, err
	}
	return s, nil
}
