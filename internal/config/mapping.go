package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is the path to the canonical mapping defaults file.
const DefaultConfigPath = "config/mapping.defaults.json"

// ErrMissingCalibration is returned when any of the six sensor-to-vehicle
// calibration values is absent. A session cannot start without them.
var ErrMissingCalibration = errors.New("calibration is required")

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Search modes.
const (
	SearchModeFallback = "fallback"
	SearchModeAlways   = "always"
)

// MappingConfig is the root configuration of a mapping session. Every field
// is optional except Calibration; the Get* methods supply defaults for
// anything omitted, so partial files are safe.
type MappingConfig struct {
	// Method selects the registration algorithm: "icp" or "ndt".
	Method *string `json:"method,omitempty" yaml:"method,omitempty"`

	Calibration *Calibration `json:"calibration,omitempty" yaml:"calibration,omitempty"`

	// Map maintenance
	TileWidth    *float64 `json:"tile_width,omitempty" yaml:"tile_width,omitempty"`
	WindowRadius *int     `json:"window_radius,omitempty" yaml:"window_radius,omitempty"`

	// Preprocessing
	MinScanRange     *float64          `json:"min_scan_range,omitempty" yaml:"min_scan_range,omitempty"`
	VoxelLeafSize    *float64          `json:"voxel_leaf_size,omitempty" yaml:"voxel_leaf_size,omitempty"`
	ScanIntervalSecs *float64          `json:"scan_interval_secs,omitempty" yaml:"scan_interval_secs,omitempty"`
	Distortion       *DistortionConfig `json:"distortion,omitempty" yaml:"distortion,omitempty"`

	// Keyframe admission
	MinAddScanShift   *float64 `json:"min_add_scan_shift,omitempty" yaml:"min_add_scan_shift,omitempty"`
	MinAddScanYawDiff *float64 `json:"min_add_scan_yaw_diff,omitempty" yaml:"min_add_scan_yaw_diff,omitempty"`

	Registration *RegistrationConfig `json:"registration,omitempty" yaml:"registration,omitempty"`
	Search       *SearchConfig       `json:"search,omitempty" yaml:"search,omitempty"`
}

// Calibration is the static sensor-to-vehicle transform.
type Calibration struct {
	X     *float64 `json:"x,omitempty" yaml:"x,omitempty"`
	Y     *float64 `json:"y,omitempty" yaml:"y,omitempty"`
	Z     *float64 `json:"z,omitempty" yaml:"z,omitempty"`
	Roll  *float64 `json:"roll,omitempty" yaml:"roll,omitempty"`
	Pitch *float64 `json:"pitch,omitempty" yaml:"pitch,omitempty"`
	Yaw   *float64 `json:"yaw,omitempty" yaml:"yaw,omitempty"`
}

// DistortionConfig controls motion-distortion correction.
type DistortionConfig struct {
	Enabled         *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MinAngleDiffDeg *float64 `json:"min_angle_diff_deg,omitempty" yaml:"min_angle_diff_deg,omitempty"`
}

// RegistrationConfig holds the algorithm tunables. Defaults depend on Method.
type RegistrationConfig struct {
	MaxIterations             *int     `json:"max_iterations,omitempty" yaml:"max_iterations,omitempty"`
	TransformationEpsilon     *float64 `json:"transformation_epsilon,omitempty" yaml:"transformation_epsilon,omitempty"`
	MaxCorrespondenceDistance *float64 `json:"max_correspondence_distance,omitempty" yaml:"max_correspondence_distance,omitempty"`
	EuclideanFitnessEpsilon   *float64 `json:"euclidean_fitness_epsilon,omitempty" yaml:"euclidean_fitness_epsilon,omitempty"`
	OutlierRejectionThreshold *float64 `json:"outlier_rejection_threshold,omitempty" yaml:"outlier_rejection_threshold,omitempty"`
	OutlierPercentile         *float64 `json:"outlier_percentile,omitempty" yaml:"outlier_percentile,omitempty"`
	NDTResolution             *float64 `json:"ndt_resolution,omitempty" yaml:"ndt_resolution,omitempty"`
	NDTStepSize               *float64 `json:"ndt_step_size,omitempty" yaml:"ndt_step_size,omitempty"`
	NDTOutlierRatio           *float64 `json:"ndt_outlier_ratio,omitempty" yaml:"ndt_outlier_ratio,omitempty"`
	MaxFitnessRange           *float64 `json:"max_fitness_range,omitempty" yaml:"max_fitness_range,omitempty"`
}

// SearchConfig controls the parallel hypothesis search.
type SearchConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Mode is "fallback" (search only when plain registration fails to
	// converge) or "always".
	Mode    *string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Workers *int    `json:"workers,omitempty" yaml:"workers,omitempty"`

	TranslationStart *float64 `json:"translation_start,omitempty" yaml:"translation_start,omitempty"`
	TranslationStep  *float64 `json:"translation_step,omitempty" yaml:"translation_step,omitempty"`
	TranslationSteps *int     `json:"translation_steps,omitempty" yaml:"translation_steps,omitempty"`
	RotationStart    *float64 `json:"rotation_start,omitempty" yaml:"rotation_start,omitempty"`
	RotationStep     *float64 `json:"rotation_step,omitempty" yaml:"rotation_step,omitempty"`
	RotationSteps    *int     `json:"rotation_steps,omitempty" yaml:"rotation_steps,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// NewCalibration builds a complete Calibration.
func NewCalibration(x, y, z, roll, pitch, yaw float64) *Calibration {
	return &Calibration{
		X: ptrFloat64(x), Y: ptrFloat64(y), Z: ptrFloat64(z),
		Roll: ptrFloat64(roll), Pitch: ptrFloat64(pitch), Yaw: ptrFloat64(yaw),
	}
}

// EmptyMappingConfig returns a MappingConfig with all fields set to nil.
func EmptyMappingConfig() *MappingConfig {
	return &MappingConfig{}
}

// DefaultMappingConfig returns a config with every optional field set to
// its default. Calibration is left nil; callers must supply it.
func DefaultMappingConfig() *MappingConfig {
	return EmptyMappingConfig().Resolved()
}

// LoadMappingConfig loads a MappingConfig from a .json, .yaml or .yml file
// and validates it. A file without a complete calibration is rejected with
// ErrMissingCalibration.
func LoadMappingConfig(path string) (*MappingConfig, error) {
	cfg, err := readMappingConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// readMappingConfig parses path without validating it.
func readMappingConfig(path string) (*MappingConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMappingConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return cfg, nil
}

// SaveYAML writes the config as YAML.
func (c *MappingConfig) SaveYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath
// and sets cal as the calibration, which the defaults file does not
// carry. It searches the current directory and its parents. Panics if the
// file cannot be loaded or the result is invalid; intended for test setup.
func MustLoadDefaultConfig(cal *Calibration) *MappingConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,          // from internal/config/
		"../../../" + DefaultConfigPath,       // from internal/slam/session/
		"../../../../" + DefaultConfigPath,    // deeper packages
		"../../../../../" + DefaultConfigPath, // even deeper
	}
	for _, path := range candidates {
		cfg, err := readMappingConfig(path)
		if err != nil {
			continue
		}
		cfg.Calibration = cal
		if err := cfg.Validate(); err != nil {
			panic(fmt.Sprintf("%s: %v", path, err))
		}
		return cfg
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are usable.
func (c *MappingConfig) Validate() error {
	if err := c.Calibration.validate(); err != nil {
		return err
	}
	if m := c.GetMethod(); m != "icp" && m != "ndt" {
		return fmt.Errorf("method must be \"icp\" or \"ndt\", got %q", m)
	}
	if v := c.GetTileWidth(); !(v > 0) {
		return fmt.Errorf("tile_width must be positive, got %v", v)
	}
	if v := c.GetWindowRadius(); v < 0 {
		return fmt.Errorf("window_radius must be non-negative, got %d", v)
	}
	if v := c.GetMinScanRange(); v < 0 {
		return fmt.Errorf("min_scan_range must be non-negative, got %v", v)
	}
	if v := c.GetVoxelLeafSize(); v < 0 {
		return fmt.Errorf("voxel_leaf_size must be non-negative, got %v", v)
	}
	if v := c.GetScanIntervalSecs(); !(v > 0) {
		return fmt.Errorf("scan_interval_secs must be positive, got %v", v)
	}
	if v := c.GetMinAngleDiffDeg(); !(v > 0) {
		return fmt.Errorf("distortion.min_angle_diff_deg must be positive, got %v", v)
	}
	if c.GetMinAddScanShift() < 0 || c.GetMinAddScanYawDiff() < 0 {
		return fmt.Errorf("keyframe thresholds must be non-negative")
	}
	if v := c.GetMaxIterations(); v <= 0 {
		return fmt.Errorf("registration.max_iterations must be positive, got %d", v)
	}
	if v := c.GetTransformationEpsilon(); !(v > 0) {
		return fmt.Errorf("registration.transformation_epsilon must be positive, got %v", v)
	}
	if v := c.GetMaxCorrespondenceDistance(); !(v > 0) {
		return fmt.Errorf("registration.max_correspondence_distance must be positive, got %v", v)
	}
	if v := c.GetOutlierPercentile(); !(v > 0 && v <= 1) {
		return fmt.Errorf("registration.outlier_percentile must be in (0, 1], got %v", v)
	}
	if v := c.GetNDTResolution(); !(v > 0) {
		return fmt.Errorf("registration.ndt_resolution must be positive, got %v", v)
	}
	if v := c.GetNDTStepSize(); !(v > 0) {
		return fmt.Errorf("registration.ndt_step_size must be positive, got %v", v)
	}
	if v := c.GetNDTOutlierRatio(); v <= 0 || v >= 1 {
		return fmt.Errorf("registration.ndt_outlier_ratio must be in (0, 1), got %v", v)
	}
	if m := c.GetSearchMode(); m != SearchModeFallback && m != SearchModeAlways {
		return fmt.Errorf("search.mode must be %q or %q, got %q", SearchModeFallback, SearchModeAlways, m)
	}
	if c.GetSearchTranslationSteps() <= 0 || c.GetSearchRotationSteps() <= 0 {
		return fmt.Errorf("search grid must have at least one step per axis")
	}
	return nil
}

func (cal *Calibration) validate() error {
	if cal == nil {
		return ErrMissingCalibration
	}
	var missing []string
	for _, f := range []struct {
		name string
		v    *float64
	}{
		{"x", cal.X}, {"y", cal.Y}, {"z", cal.Z},
		{"roll", cal.Roll}, {"pitch", cal.Pitch}, {"yaw", cal.Yaw},
	} {
		if f.v == nil {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMissingCalibration, strings.Join(missing, ", "))
	}
	return nil
}

// GetCalibration returns the six calibration values. ok is false unless
// all six are present.
func (c *MappingConfig) GetCalibration() (x, y, z, roll, pitch, yaw float64, ok bool) {
	cal := c.Calibration
	if cal.validate() != nil {
		return 0, 0, 0, 0, 0, 0, false
	}
	return *cal.X, *cal.Y, *cal.Z, *cal.Roll, *cal.Pitch, *cal.Yaw, true
}

// GetMethod returns the lower-cased registration method or "icp".
func (c *MappingConfig) GetMethod() string {
	if c.Method == nil || *c.Method == "" {
		return "icp"
	}
	return strings.ToLower(strings.TrimSpace(*c.Method))
}

func (c *MappingConfig) isNDT() bool { return c.GetMethod() == "ndt" }

// GetTileWidth returns the tile width or the default.
func (c *MappingConfig) GetTileWidth() float64 {
	if c.TileWidth == nil {
		return 35
	}
	return *c.TileWidth
}

// GetWindowRadius returns the local window radius in tiles or the default.
func (c *MappingConfig) GetWindowRadius() int {
	if c.WindowRadius == nil {
		return 2
	}
	return *c.WindowRadius
}

// GetMinScanRange returns the range gate or the default.
func (c *MappingConfig) GetMinScanRange() float64 {
	if c.MinScanRange == nil {
		return 2.0
	}
	return *c.MinScanRange
}

// GetVoxelLeafSize returns the voxel leaf size or the default.
func (c *MappingConfig) GetVoxelLeafSize() float64 {
	if c.VoxelLeafSize == nil {
		return 1.0
	}
	return *c.VoxelLeafSize
}

// GetScanIntervalSecs returns the sweep period or the default.
func (c *MappingConfig) GetScanIntervalSecs() float64 {
	if c.ScanIntervalSecs == nil {
		return 0.100085
	}
	return *c.ScanIntervalSecs
}

// GetDistortionEnabled returns whether motion-distortion correction runs.
func (c *MappingConfig) GetDistortionEnabled() bool {
	if c.Distortion == nil || c.Distortion.Enabled == nil {
		return false
	}
	return *c.Distortion.Enabled
}

// GetMinAngleDiffDeg returns the packet split threshold or the default.
func (c *MappingConfig) GetMinAngleDiffDeg() float64 {
	if c.Distortion == nil || c.Distortion.MinAngleDiffDeg == nil {
		return 0.01
	}
	return *c.Distortion.MinAngleDiffDeg
}

// GetMinAddScanShift returns the keyframe shift threshold or the default.
func (c *MappingConfig) GetMinAddScanShift() float64 {
	if c.MinAddScanShift == nil {
		return 1.0
	}
	return *c.MinAddScanShift
}

// GetMinAddScanYawDiff returns the keyframe yaw threshold or the default.
func (c *MappingConfig) GetMinAddScanYawDiff() float64 {
	if c.MinAddScanYawDiff == nil {
		return 0.005
	}
	return *c.MinAddScanYawDiff
}

func (c *MappingConfig) reg() *RegistrationConfig {
	if c.Registration == nil {
		return &RegistrationConfig{}
	}
	return c.Registration
}

// GetMaxIterations returns the iteration budget or the method default.
func (c *MappingConfig) GetMaxIterations() int {
	if v := c.reg().MaxIterations; v != nil {
		return *v
	}
	if c.isNDT() {
		return 300
	}
	return 100
}

// GetTransformationEpsilon returns the convergence epsilon or the method default.
func (c *MappingConfig) GetTransformationEpsilon() float64 {
	if v := c.reg().TransformationEpsilon; v != nil {
		return *v
	}
	if c.isNDT() {
		return 0.001
	}
	return 1e-4
}

// GetMaxCorrespondenceDistance returns the ICP pairing gate or the default.
func (c *MappingConfig) GetMaxCorrespondenceDistance() float64 {
	if v := c.reg().MaxCorrespondenceDistance; v != nil {
		return *v
	}
	return 1.0
}

// GetEuclideanFitnessEpsilon returns the ICP residual stop or the default.
func (c *MappingConfig) GetEuclideanFitnessEpsilon() float64 {
	if v := c.reg().EuclideanFitnessEpsilon; v != nil {
		return *v
	}
	return 0.01
}

// GetOutlierRejectionThreshold returns the ICP outlier gate or the default.
func (c *MappingConfig) GetOutlierRejectionThreshold() float64 {
	if v := c.reg().OutlierRejectionThreshold; v != nil {
		return *v
	}
	return 1.0
}

// GetOutlierPercentile returns the fraction of ICP pairs kept after the
// distance gates, or the default of 1.
func (c *MappingConfig) GetOutlierPercentile() float64 {
	if v := c.reg().OutlierPercentile; v != nil {
		return *v
	}
	return 1.0
}

// GetNDTResolution returns the NDT voxel size or the default.
func (c *MappingConfig) GetNDTResolution() float64 {
	if v := c.reg().NDTResolution; v != nil {
		return *v
	}
	return 2.8
}

// GetNDTStepSize returns the NDT step bound or the default.
func (c *MappingConfig) GetNDTStepSize() float64 {
	if v := c.reg().NDTStepSize; v != nil {
		return *v
	}
	return 0.05
}

// GetNDTOutlierRatio returns the NDT outlier mixture weight or the default.
func (c *MappingConfig) GetNDTOutlierRatio() float64 {
	if v := c.reg().NDTOutlierRatio; v != nil {
		return *v
	}
	return 0.55
}

// GetMaxFitnessRange returns the fitness scoring range; 0 means unbounded.
func (c *MappingConfig) GetMaxFitnessRange() float64 {
	if v := c.reg().MaxFitnessRange; v != nil {
		return *v
	}
	return 0
}

func (c *MappingConfig) srch() *SearchConfig {
	if c.Search == nil {
		return &SearchConfig{}
	}
	return c.Search
}

// GetSearchEnabled returns whether hypothesis search is used.
func (c *MappingConfig) GetSearchEnabled() bool {
	if v := c.srch().Enabled; v != nil {
		return *v
	}
	return false
}

// GetSearchMode returns the search mode or "fallback".
func (c *MappingConfig) GetSearchMode() string {
	if v := c.srch().Mode; v != nil && *v != "" {
		return strings.ToLower(*v)
	}
	return SearchModeFallback
}

// GetSearchWorkers returns the worker pool size or GOMAXPROCS.
func (c *MappingConfig) GetSearchWorkers() int {
	if v := c.srch().Workers; v != nil && *v > 0 {
		return *v
	}
	return runtime.GOMAXPROCS(0)
}

// GetSearchTranslationStart returns the first forward distance or 0.
func (c *MappingConfig) GetSearchTranslationStart() float64 {
	if v := c.srch().TranslationStart; v != nil {
		return *v
	}
	return 0
}

// GetSearchTranslationStep returns the forward distance step or 1.0.
func (c *MappingConfig) GetSearchTranslationStep() float64 {
	if v := c.srch().TranslationStep; v != nil {
		return *v
	}
	return 1.0
}

// GetSearchTranslationSteps returns the number of distances or 11.
func (c *MappingConfig) GetSearchTranslationSteps() int {
	if v := c.srch().TranslationSteps; v != nil {
		return *v
	}
	return 11
}

// GetSearchRotationStart returns the first bearing or -0.25.
func (c *MappingConfig) GetSearchRotationStart() float64 {
	if v := c.srch().RotationStart; v != nil {
		return *v
	}
	return -0.25
}

// GetSearchRotationStep returns the bearing step or 0.025.
func (c *MappingConfig) GetSearchRotationStep() float64 {
	if v := c.srch().RotationStep; v != nil {
		return *v
	}
	return 0.025
}

// GetSearchRotationSteps returns the number of bearings or 21.
func (c *MappingConfig) GetSearchRotationSteps() int {
	if v := c.srch().RotationSteps; v != nil {
		return *v
	}
	return 21
}

// Resolved returns a copy with every optional field filled from its Get*
// accessor. Calibration is copied as-is. The result is what a session
// actually runs with and is what gets written to the session summary.
func (c *MappingConfig) Resolved() *MappingConfig {
	out := &MappingConfig{
		Method:            ptrString(c.GetMethod()),
		TileWidth:         ptrFloat64(c.GetTileWidth()),
		WindowRadius:      ptrInt(c.GetWindowRadius()),
		MinScanRange:      ptrFloat64(c.GetMinScanRange()),
		VoxelLeafSize:     ptrFloat64(c.GetVoxelLeafSize()),
		ScanIntervalSecs:  ptrFloat64(c.GetScanIntervalSecs()),
		MinAddScanShift:   ptrFloat64(c.GetMinAddScanShift()),
		MinAddScanYawDiff: ptrFloat64(c.GetMinAddScanYawDiff()),
		Distortion: &DistortionConfig{
			Enabled:         ptrBool(c.GetDistortionEnabled()),
			MinAngleDiffDeg: ptrFloat64(c.GetMinAngleDiffDeg()),
		},
		Registration: &RegistrationConfig{
			MaxIterations:             ptrInt(c.GetMaxIterations()),
			TransformationEpsilon:     ptrFloat64(c.GetTransformationEpsilon()),
			MaxCorrespondenceDistance: ptrFloat64(c.GetMaxCorrespondenceDistance()),
			EuclideanFitnessEpsilon:   ptrFloat64(c.GetEuclideanFitnessEpsilon()),
			OutlierRejectionThreshold: ptrFloat64(c.GetOutlierRejectionThreshold()),
			OutlierPercentile:         ptrFloat64(c.GetOutlierPercentile()),
			NDTResolution:             ptrFloat64(c.GetNDTResolution()),
			NDTStepSize:               ptrFloat64(c.GetNDTStepSize()),
			NDTOutlierRatio:           ptrFloat64(c.GetNDTOutlierRatio()),
			MaxFitnessRange:           ptrFloat64(c.GetMaxFitnessRange()),
		},
		Search: &SearchConfig{
			Enabled:          ptrBool(c.GetSearchEnabled()),
			Mode:             ptrString(c.GetSearchMode()),
			Workers:          ptrInt(c.GetSearchWorkers()),
			TranslationStart: ptrFloat64(c.GetSearchTranslationStart()),
			TranslationStep:  ptrFloat64(c.GetSearchTranslationStep()),
			TranslationSteps: ptrInt(c.GetSearchTranslationSteps()),
			RotationStart:    ptrFloat64(c.GetSearchRotationStart()),
			RotationStep:     ptrFloat64(c.GetSearchRotationStep()),
			RotationSteps:    ptrInt(c.GetSearchRotationSteps()),
		},
	}
	if c.Calibration != nil {
		cal := *c.Calibration
		out.Calibration = &cal
	}
	return out
}
