package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Camera.DeviceID != 0 {
		t.Errorf("expected DeviceID 0, got %d", cfg.Camera.DeviceID)
	}
	if cfg.Camera.Width != 640 {
		t.Errorf("expected Width 640, got %d", cfg.Camera.Width)
	}
	if cfg.Camera.Height != 480 {
		t.Errorf("expected Height 480, got %d", cfg.Camera.Height)
	}
	if cfg.Camera.FPS != 60 {
		t.Errorf("expected FPS 60, got %d", cfg.Camera.FPS)
	}
	if cfg.Estimator.MaxResidual != 75 {
		t.Errorf("expected MaxResidual 75, got %f", cfg.Estimator.MaxResidual)
	}
	if cfg.Target.LinearVelocityDecay != 0.9 {
		t.Errorf("expected LinearVelocityDecay 0.9, got %f", cfg.Target.LinearVelocityDecay)
	}
	if cfg.Calibration.RequiredSamples != 15 {
		t.Errorf("expected RequiredSamples 15, got %d", cfg.Calibration.RequiredSamples)
	}
	if !cfg.Report.Enabled {
		t.Error("expected Report.Enabled to be true")
	}
	if cfg.Report.Port != 39570 {
		t.Errorf("expected Report.Port 39570, got %d", cfg.Report.Port)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected non-nil config")
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.toml")
	if err != nil {
		t.Fatalf("unexpected error for non-existent file: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config for non-existent file")
	}
}

func TestLoad_ValidFile(t *testing.T) {
	content := `
[camera]
device_id = 1
width = 1920
height = 1080
fps = 90

[estimator]
max_residual = 50.0
should_skip_bright_leds = true

[report]
enabled = false
address = "192.168.1.100"
port = 39580
`
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Camera.DeviceID != 1 {
		t.Errorf("expected DeviceID 1, got %d", cfg.Camera.DeviceID)
	}
	if cfg.Camera.Width != 1920 {
		t.Errorf("expected Width 1920, got %d", cfg.Camera.Width)
	}
	if cfg.Estimator.MaxResidual != 50.0 {
		t.Errorf("expected MaxResidual 50.0, got %f", cfg.Estimator.MaxResidual)
	}
	if !cfg.Estimator.ShouldSkipBrightLeds {
		t.Error("expected ShouldSkipBrightLeds to be true")
	}
	if cfg.Report.Enabled {
		t.Error("expected Report.Enabled to be false")
	}
	if cfg.Report.Address != "192.168.1.100" {
		t.Errorf("expected Report.Address 192.168.1.100, got %s", cfg.Report.Address)
	}
	if cfg.Report.Port != 39580 {
		t.Errorf("expected Report.Port 39580, got %d", cfg.Report.Port)
	}
}

func TestLoad_InvalidTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "invalid.toml")
	if err := os.WriteFile(path, []byte("invalid [ toml"), 0644); err != nil {
		t.Fatalf("failed to write test file: %v", err)
	}

	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestValidate_InvalidWidth(t *testing.T) {
	cfg := Default()
	cfg.Camera.Width = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid width")
	}
}

func TestValidate_InvalidHeight(t *testing.T) {
	cfg := Default()
	cfg.Camera.Height = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid height")
	}
}

func TestValidate_InvalidFPS(t *testing.T) {
	cfg := Default()
	cfg.Camera.FPS = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid FPS")
	}
}

func TestValidate_InvalidDecayCoefficient(t *testing.T) {
	cfg := Default()
	cfg.Target.LinearVelocityDecay = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for decay coefficient > 1")
	}

	cfg = Default()
	cfg.Target.AngularVelocityDecay = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for decay coefficient <= 0")
	}
}

func TestValidate_InvalidReportPort(t *testing.T) {
	cfg := Default()
	cfg.Report.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for report port 0")
	}

	cfg.Report.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for report port > 65535")
	}
}
