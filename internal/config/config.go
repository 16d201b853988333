// Package config provides TOML configuration loading for the unified
// video-inertial tracker.
//
// The configuration file supports the following structure:
//
//	[camera]
//	device_id = 0
//	width = 640
//	height = 480
//	fps = 60
//
//	[estimator]
//	max_residual = 75.0
//	initial_beacon_error = 1e-9
//	measurement_variance_scale_factor = 1.0
//	should_skip_bright_leds = false
//	max_z_component = -0.3
//
//	[calibration]
//	required_samples = 15
//	linear_velocity_cutoff = 0.75
//	angular_velocity_cutoff = 0.75
//	near_message_cutoff = 0.4
//
//	[report]
//	enabled = true
//	address = "127.0.0.1"
//	port = 39570
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Camera device: %d\n", cfg.Camera.DeviceID)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the complete configuration for the tracker, covering the flat
// option table in SPEC_FULL.md §6.
type Config struct {
	Camera      CameraConfig      `toml:"camera"`
	Target      TargetConfig      `toml:"target"`
	Estimator   EstimatorConfig   `toml:"estimator"`
	Blob        BlobConfig        `toml:"blob"`
	Calibration CalibrationConfig `toml:"calibration"`
	Report      ReportConfig      `toml:"report"`
}

// CameraConfig holds camera capture settings.
type CameraConfig struct {
	DeviceID int `toml:"device_id"`
	Width    int `toml:"width"`
	Height   int `toml:"height"`
	FPS      int `toml:"fps"`

	// FocalLengthX, FocalLengthY are in pixels; PrincipalX/Y default to the
	// image center when zero. K1-K3/P1-P2 are Brown-Conrady distortion terms.
	FocalLengthX float64 `toml:"focal_length_x"`
	FocalLengthY float64 `toml:"focal_length_y"`
	PrincipalX   float64 `toml:"principal_x"`
	PrincipalY   float64 `toml:"principal_y"`
	K1           float64 `toml:"k1"`
	K2           float64 `toml:"k2"`
	K3           float64 `toml:"k3"`
	P1           float64 `toml:"p1"`
	P2           float64 `toml:"p2"`
}

// TargetConfig holds target-controller and process-model tuning.
type TargetConfig struct {
	// ProcessNoiseAutocorrelation holds position (x3) then orientation (x3) noise mu.
	ProcessNoiseAutocorrelation [6]float64 `toml:"process_noise_autocorrelation"`
	LinearVelocityDecay         float64    `toml:"linear_velocity_decay_coefficient"`
	AngularVelocityDecay        float64    `toml:"angular_velocity_decay_coefficient"`
	BlobMoveThreshold           float64    `toml:"blob_move_threshold"`
	OffsetToCentroid            bool       `toml:"offset_to_centroid"`
	ManualBeaconOffset          [3]float64 `toml:"manual_beacon_offset"`
	HeadCircumference           float64    `toml:"head_circumference"`
	HeadToFrontBeaconOriginDist float64    `toml:"head_to_front_beacon_origin_distance"`
	IncludeRearPanel            bool       `toml:"include_rear_panel"`
	AdditionalPrediction        float64    `toml:"additional_prediction"`
}

// EstimatorConfig holds RANSAC/SCAAT pose-estimator tuning.
type EstimatorConfig struct {
	MaxResidual                     float64 `toml:"max_residual"`
	InitialBeaconError               float64 `toml:"initial_beacon_error"`
	BeaconProcessNoise                float64 `toml:"beacon_process_noise"`
	HighResidualVariancePenalty       float64 `toml:"high_residual_variance_penalty"`
	MeasurementVarianceScaleFactor     float64 `toml:"measurement_variance_scale_factor"`
	MaxZComponent                      float64 `toml:"max_z_component"`
	ShouldSkipBrightLeds               bool    `toml:"should_skip_bright_leds"`
	DimBeaconCutoffToSkipBrights       int     `toml:"dim_beacon_cutoff_to_skip_brights"`
	BrightPenalty                      float64 `toml:"bright_penalty"`
	BlobsKeepIdentity                  bool    `toml:"blobs_keep_identity"`
	ExtraVerbose                       bool    `toml:"extra_verbose"`
	Debug                              bool    `toml:"debug"`
}

// BlobConfig mirrors the original's BlobParams (SPEC_FULL.md §4.4).
type BlobConfig struct {
	MinDistBetweenBlobs float64 `toml:"min_dist_between_blobs"`
	MinArea             float64 `toml:"min_area"`
	FilterByCircularity bool    `toml:"filter_by_circularity"`
	MinCircularity      float64 `toml:"min_circularity"`
	FilterByConvexity   bool    `toml:"filter_by_convexity"`
	MinConvexity        float64 `toml:"min_convexity"`
	AbsoluteMinThreshold float64 `toml:"absolute_min_threshold"`
	MinThresholdAlpha   float64 `toml:"min_threshold_alpha"`
	MaxThresholdAlpha   float64 `toml:"max_threshold_alpha"`
	ThresholdSteps      int     `toml:"threshold_steps"`
}

// CalibrationConfig holds room-calibration tuning (SPEC_FULL.md §4.10).
type CalibrationConfig struct {
	RequiredSamples       int        `toml:"required_samples"`
	LinearVelocityCutoff  float64    `toml:"linear_velocity_cutoff"`
	AngularVelocityCutoff float64    `toml:"angular_velocity_cutoff"`
	NearMessageCutoff     float64    `toml:"near_message_cutoff"`
	CameraFacesForward    bool       `toml:"camera_faces_forward"`
	CameraPosition        [3]float64 `toml:"camera_position"`
}

// ReportConfig holds the downstream OSC reporting sink settings.
type ReportConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Default returns the default configuration, values drawn from ConfigParams.h
// in the original tracker this design is derived from.
func Default() *Config {
	return &Config{
		Camera: CameraConfig{
			DeviceID:     0,
			Width:        640,
			Height:       480,
			FPS:          60,
			FocalLengthX: 700,
			FocalLengthY: 700,
		},
		Target: TargetConfig{
			ProcessNoiseAutocorrelation: [6]float64{3, 3, 3, 10, 10, 10},
			LinearVelocityDecay:         0.9,
			AngularVelocityDecay:        0.9,
			BlobMoveThreshold:           4.0,
			OffsetToCentroid:            true,
			HeadCircumference:           55.75,
			AdditionalPrediction:        24.0 / 1000.0,
		},
		Estimator: EstimatorConfig{
			MaxResidual:                    75,
			InitialBeaconError:             1e-9,
			BeaconProcessNoise:             1e-13,
			HighResidualVariancePenalty:    10,
			MeasurementVarianceScaleFactor: 1,
			MaxZComponent:                  -0.3,
			ShouldSkipBrightLeds:           false,
			DimBeaconCutoffToSkipBrights:   4,
			BrightPenalty:                  8.0,
		},
		Blob: BlobConfig{
			MinDistBetweenBlobs:  3.0,
			MinArea:              2.0,
			FilterByCircularity:  false,
			MinCircularity:       0.2,
			FilterByConvexity:    true,
			MinConvexity:         0.90,
			AbsoluteMinThreshold: 75,
			MinThresholdAlpha:    0.5,
			MaxThresholdAlpha:    0.8,
			ThresholdSteps:       4,
		},
		Calibration: CalibrationConfig{
			RequiredSamples:       15,
			LinearVelocityCutoff:  0.75,
			AngularVelocityCutoff: 0.75,
			NearMessageCutoff:     0.4,
			CameraFacesForward:    true,
			CameraPosition:        [3]float64{0, 1.2, -0.5},
		},
		Report: ReportConfig{
			Enabled: true,
			Address: "127.0.0.1",
			Port:    39570,
		},
	}
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Camera.Width <= 0 {
		return fmt.Errorf("camera width must be positive, got %d", c.Camera.Width)
	}
	if c.Camera.Height <= 0 {
		return fmt.Errorf("camera height must be positive, got %d", c.Camera.Height)
	}
	if c.Camera.FPS <= 0 {
		return fmt.Errorf("camera FPS must be positive, got %d", c.Camera.FPS)
	}
	if c.Target.LinearVelocityDecay <= 0 || c.Target.LinearVelocityDecay >= 1 {
		return fmt.Errorf("linear velocity decay coefficient must be in (0,1), got %f", c.Target.LinearVelocityDecay)
	}
	if c.Target.AngularVelocityDecay <= 0 || c.Target.AngularVelocityDecay >= 1 {
		return fmt.Errorf("angular velocity decay coefficient must be in (0,1), got %f", c.Target.AngularVelocityDecay)
	}
	if c.Estimator.MeasurementVarianceScaleFactor <= 0 {
		return fmt.Errorf("measurement variance scale factor must be positive, got %f", c.Estimator.MeasurementVarianceScaleFactor)
	}
	if c.Calibration.RequiredSamples <= 0 {
		return fmt.Errorf("calibration required samples must be positive, got %d", c.Calibration.RequiredSamples)
	}
	if c.Report.Enabled && (c.Report.Port <= 0 || c.Report.Port > 65535) {
		return fmt.Errorf("report port must be between 1 and 65535, got %d", c.Report.Port)
	}
	return nil
}
