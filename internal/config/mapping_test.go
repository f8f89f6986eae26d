package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestEmptyConfigDefaults(t *testing.T) {
	c := EmptyMappingConfig()
	if c.GetMethod() != "icp" {
		t.Errorf("method = %q, want icp", c.GetMethod())
	}
	if c.GetTileWidth() != 35 {
		t.Errorf("tile width = %v, want 35", c.GetTileWidth())
	}
	if c.GetWindowRadius() != 2 {
		t.Errorf("window radius = %d, want 2", c.GetWindowRadius())
	}
	if c.GetMinScanRange() != 2.0 {
		t.Errorf("min scan range = %v, want 2.0", c.GetMinScanRange())
	}
	if c.GetScanIntervalSecs() != 0.100085 {
		t.Errorf("scan interval = %v", c.GetScanIntervalSecs())
	}
	if c.GetMaxIterations() != 100 || c.GetTransformationEpsilon() != 1e-4 {
		t.Errorf("icp defaults = %d/%v", c.GetMaxIterations(), c.GetTransformationEpsilon())
	}
	if c.GetSearchEnabled() {
		t.Error("search should be disabled by default")
	}
	if c.GetSearchMode() != SearchModeFallback {
		t.Errorf("search mode = %q", c.GetSearchMode())
	}
	if c.GetSearchTranslationSteps()*c.GetSearchRotationSteps() != 231 {
		t.Errorf("grid size = %d, want 231", c.GetSearchTranslationSteps()*c.GetSearchRotationSteps())
	}
	if c.GetSearchWorkers() <= 0 {
		t.Errorf("workers = %d", c.GetSearchWorkers())
	}
}

func TestNDTMethodDefaults(t *testing.T) {
	c := &MappingConfig{Method: ptrString("NDT")}
	if c.GetMethod() != "ndt" {
		t.Fatalf("method = %q", c.GetMethod())
	}
	if c.GetMaxIterations() != 300 {
		t.Errorf("max iterations = %d, want 300", c.GetMaxIterations())
	}
	if c.GetTransformationEpsilon() != 0.001 {
		t.Errorf("epsilon = %v, want 0.001", c.GetTransformationEpsilon())
	}
	if c.GetNDTResolution() != 2.8 || c.GetNDTStepSize() != 0.05 {
		t.Errorf("ndt defaults = %v/%v", c.GetNDTResolution(), c.GetNDTStepSize())
	}
}

func TestValidateRequiresCalibration(t *testing.T) {
	c := EmptyMappingConfig()
	if err := c.Validate(); !errors.Is(err, ErrMissingCalibration) {
		t.Fatalf("Validate() = %v, want ErrMissingCalibration", err)
	}

	c.Calibration = &Calibration{X: ptrFloat64(1), Y: ptrFloat64(0)}
	err := c.Validate()
	if !errors.Is(err, ErrMissingCalibration) {
		t.Fatalf("Validate() = %v, want ErrMissingCalibration", err)
	}
	if !strings.Contains(err.Error(), "z, roll, pitch, yaw") {
		t.Errorf("error should name missing fields: %v", err)
	}

	c.Calibration = NewCalibration(1.2, 0, 2.0, 0, 0, 0)
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	x, _, z, _, _, _, ok := c.GetCalibration()
	if !ok || x != 1.2 || z != 2.0 {
		t.Errorf("GetCalibration() = %v %v %v", x, z, ok)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*MappingConfig)
	}{
		{"method", func(c *MappingConfig) { c.Method = ptrString("gicp") }},
		{"tile width", func(c *MappingConfig) { c.TileWidth = ptrFloat64(0) }},
		{"window radius", func(c *MappingConfig) { c.WindowRadius = ptrInt(-1) }},
		{"scan interval", func(c *MappingConfig) { c.ScanIntervalSecs = ptrFloat64(0) }},
		{"iterations", func(c *MappingConfig) {
			c.Registration = &RegistrationConfig{MaxIterations: ptrInt(0)}
		}},
		{"outlier ratio", func(c *MappingConfig) {
			c.Registration = &RegistrationConfig{NDTOutlierRatio: ptrFloat64(1)}
		}},
		{"outlier percentile", func(c *MappingConfig) {
			c.Registration = &RegistrationConfig{OutlierPercentile: ptrFloat64(0)}
		}},
		{"search mode", func(c *MappingConfig) {
			c.Search = &SearchConfig{Mode: ptrString("sometimes")}
		}},
		{"grid", func(c *MappingConfig) {
			c.Search = &SearchConfig{RotationSteps: ptrInt(0)}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &MappingConfig{Calibration: NewCalibration(0, 0, 0, 0, 0, 0)}
			tc.mutate(c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadMappingConfigJSON(t *testing.T) {
	path := writeFile(t, "cfg.json", `{
		"method": "ndt",
		"calibration": {"x": 1.2, "y": 0, "z": 2.0, "roll": 0, "pitch": 0, "yaw": 0},
		"tile_width": 20,
		"search": {"enabled": true, "mode": "always", "workers": 3}
	}`)
	c, err := LoadMappingConfig(path)
	if err != nil {
		t.Fatalf("LoadMappingConfig: %v", err)
	}
	if c.GetMethod() != "ndt" || c.GetTileWidth() != 20 {
		t.Errorf("got method %q width %v", c.GetMethod(), c.GetTileWidth())
	}
	if !c.GetSearchEnabled() || c.GetSearchMode() != SearchModeAlways || c.GetSearchWorkers() != 3 {
		t.Errorf("search = %v %q %d", c.GetSearchEnabled(), c.GetSearchMode(), c.GetSearchWorkers())
	}
	// Omitted fields fall back.
	if c.GetMinScanRange() != 2.0 {
		t.Errorf("min scan range = %v", c.GetMinScanRange())
	}
}

func TestLoadMappingConfigYAML(t *testing.T) {
	path := writeFile(t, "cfg.yaml", `
method: icp
calibration: {x: 0, y: 0, z: 1.5, roll: 0, pitch: 0, yaw: 0.1}
voxel_leaf_size: 0.5
distortion:
  enabled: true
registration:
  max_iterations: 40
`)
	c, err := LoadMappingConfig(path)
	if err != nil {
		t.Fatalf("LoadMappingConfig: %v", err)
	}
	if c.GetVoxelLeafSize() != 0.5 || !c.GetDistortionEnabled() || c.GetMaxIterations() != 40 {
		t.Errorf("got leaf %v distortion %v iterations %d",
			c.GetVoxelLeafSize(), c.GetDistortionEnabled(), c.GetMaxIterations())
	}
	_, _, _, _, _, yaw, ok := c.GetCalibration()
	if !ok || yaw != 0.1 {
		t.Errorf("calibration yaw = %v ok=%v", yaw, ok)
	}
}

func TestLoadMappingConfigErrors(t *testing.T) {
	if _, err := LoadMappingConfig(writeFile(t, "cfg.txt", "{}")); err == nil {
		t.Error("expected extension error")
	}
	if _, err := LoadMappingConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected stat error")
	}
	if _, err := LoadMappingConfig(writeFile(t, "bad.json", "{not json")); err == nil {
		t.Error("expected parse error")
	}
	_, err := LoadMappingConfig(writeFile(t, "nocal.yml", "method: icp\n"))
	if !errors.Is(err, ErrMissingCalibration) {
		t.Errorf("expected ErrMissingCalibration, got %v", err)
	}

	big := writeFile(t, "big.json", `{"method":"icp","pad":"`+strings.Repeat("x", maxFileSize)+`"}`)
	if _, err := LoadMappingConfig(big); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestResolvedAndSaveYAML(t *testing.T) {
	c := &MappingConfig{
		Calibration: NewCalibration(1, 2, 3, 0, 0, 0),
		TileWidth:   ptrFloat64(10),
	}
	r := c.Resolved()
	if r.TileWidth == nil || *r.TileWidth != 10 {
		t.Errorf("resolved tile width = %v", r.TileWidth)
	}
	if r.Registration == nil || r.Registration.MaxIterations == nil || *r.Registration.MaxIterations != 100 {
		t.Error("resolved registration defaults missing")
	}
	if r.Calibration == c.Calibration {
		t.Error("Resolved should copy calibration")
	}

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := r.SaveYAML(path); err != nil {
		t.Fatalf("SaveYAML: %v", err)
	}
	back, err := LoadMappingConfig(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if back.GetTileWidth() != 10 || back.GetSearchRotationStart() != -0.25 {
		t.Errorf("reloaded width %v rotation start %v", back.GetTileWidth(), back.GetSearchRotationStart())
	}
}

func TestDefaultMappingConfig(t *testing.T) {
	d := DefaultMappingConfig()
	if d.Calibration != nil {
		t.Error("defaults must not invent a calibration")
	}
	if *d.Method != "icp" || *d.TileWidth != 35 {
		t.Errorf("defaults = %q %v", *d.Method, *d.TileWidth)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	c := MustLoadDefaultConfig(NewCalibration(0.5, 0, 1.8, 0, 0, 0.01))
	if c.GetTileWidth() != 35 || c.GetMethod() != "icp" {
		t.Errorf("defaults file = %v %q", c.GetTileWidth(), c.GetMethod())
	}
	if c.GetSearchRotationStep() != 0.025 {
		t.Errorf("rotation step = %v", c.GetSearchRotationStep())
	}
	x, _, z, _, _, yaw, ok := c.GetCalibration()
	if !ok || x != 0.5 || z != 1.8 || yaw != 0.01 {
		t.Errorf("calibration = %v %v %v %v", x, z, yaw, ok)
	}
}

func TestMustLoadDefaultConfig_PanicsWithoutCalibration(t *testing.T) {
	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("expected panic")
		}
		if !strings.Contains(fmt.Sprint(r), "calibration") {
			t.Errorf("panic = %v", r)
		}
	}()
	MustLoadDefaultConfig(nil)
}

func TestDefaultsFile_HasNoCalibration(t *testing.T) {
	_, err := LoadMappingConfig(filepath.Join("..", "..", DefaultConfigPath))
	if !errors.Is(err, ErrMissingCalibration) {
		t.Fatalf("loading the defaults file alone: err = %v, want ErrMissingCalibration", err)
	}
}
