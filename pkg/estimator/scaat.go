package estimator

import (
	"math"

	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
	"github.com/osvr-go/unifiedtracker/pkg/measurement"
)

// SCAAT tuning constants, grounded on PoseEstimator_SCAATKalman.cpp.
const (
	dimBeaconCutoffToSkipBrights = 4
	brightPenalty                = 8.0

	// getTrackingHealth's own thresholds are not implemented in the
	// original source available for grounding; these cutoffs are a design
	// decision (SPEC_FULL.md §9 Open Question), chosen well below the
	// target controller's hard 150-frame lost-sight cap so the Kalman
	// estimator can request an earlier, softer reset.
	framesWithoutIdentifiedBlobsCutoff = 30
	framesInProbationCutoff            = 30
)

// TrackingHealth mirrors SCAATKalmanPoseEstimator::TrackingHealth.
type TrackingHealth int

const (
	Functioning TrackingHealth = iota
	NeedsResetNow
	ResetWhenBeaconsSeen
)

// SCAATParams mirrors the subset of ConfigParams the SCAAT estimator reads.
type SCAATParams struct {
	ShouldSkipBrightLeds           bool
	MaxResidual                    float64
	MaxZComponent                  float64
	HighResidualVariancePenalty    float64
	BeaconProcessNoise             float64
	MeasurementVarianceScaleFactor float64
}

// SCAATEstimator corrects body and per-beacon state one measurement at a
// time (single constraint at a time), grounded on SCAATKalmanPoseEstimator.
type SCAATEstimator struct {
	params                       SCAATParams
	maxSquaredResidual           float64
	framesInProbation            int
	framesWithoutUtilized        int
	framesWithoutIdentifiedBlobs int
}

// NewSCAATEstimator constructs an estimator from its tuning parameters.
func NewSCAATEstimator(params SCAATParams) *SCAATEstimator {
	return &SCAATEstimator{
		params:             params,
		maxSquaredResidual: params.MaxResidual * params.MaxResidual,
	}
}

// FramesInProbation reports the current probation streak length.
func (e *SCAATEstimator) FramesInProbation() int { return e.framesInProbation }

// FramesWithoutUtilizedMeasurements reports consecutive frames in which no
// correction was actually applied, even though identified LEDs were seen.
func (e *SCAATEstimator) FramesWithoutUtilizedMeasurements() int {
	return e.framesWithoutUtilized
}

// ResetCounters clears all streak counters, called when the target
// controller re-enters Kalman mode after a RANSAC bootstrap.
func (e *SCAATEstimator) ResetCounters() {
	e.framesInProbation = 0
	e.framesWithoutUtilized = 0
	e.framesWithoutIdentifiedBlobs = 0
}

// GetTrackingHealth reports whether the filter is functioning normally,
// needs an immediate reset, or should reset once beacons reappear, per
// SCAATKalmanPoseEstimator::getTrackingHealth.
func (e *SCAATEstimator) GetTrackingHealth() TrackingHealth {
	if e.framesWithoutIdentifiedBlobs > framesWithoutIdentifiedBlobsCutoff {
		return NeedsResetNow
	}
	if e.framesInProbation > framesInProbationCutoff {
		return ResetWhenBeaconsSeen
	}
	return Functioning
}

// Correct applies one SCAAT Kalman correction per identified, accepted LED
// against the given body state and per-beacon calibration states, in the
// order the LEDs are provided in.
func (e *SCAATEstimator) Correct(cam CameraModel, leds []IdentifiedLED, table *beacon.Table, states []*beacon.State, body *bodystate.State, processModel kalman.ProcessModel, videoDt float64) {
	if len(leds) == 0 {
		e.framesWithoutIdentifiedBlobs++
	} else {
		e.framesWithoutIdentifiedBlobs = 0
	}

	skipBright := e.decideSkipBright(leds)

	rot := mathkernel.QuatToRotationMatrix(body.CombinedQuaternion())

	var numBad, numGood int
	var gotMeasurement bool

	for _, led := range leds {
		b := table.Beacons[led.BeaconIndex]
		if skipBright && led.Bright {
			continue
		}

		emission := mathkernel.RotateVec3(rot, b.EmissionDirection)
		zComponent := emission[2]
		if zComponent > 0 {
			// Pointed away from the camera; cannot be a legitimate sighting.
			continue
		} else if zComponent > e.params.MaxZComponent {
			continue
		}

		st := states[led.BeaconIndex]
		if !b.Fixed {
			beacon.PredictConstantProcess(st, b.Fixed, e.params.BeaconProcessNoise, videoDt)
		}

		aug := measurement.NewAugmentedState(body, st.Position, st.Covariance, b.Fixed)

		meas := measurement.NewProjectedImagePoint(
			[2]float64{led.PixelX, led.PixelY},
			cam.FocalX, cam.FocalY, cam.PrincipalX, cam.PrincipalY, 1.0)

		residual := meas.Residual(aug)
		sqResidual := residual.AtVec(0)*residual.AtVec(0) + residual.AtVec(1)*residual.AtVec(1)

		localVarianceFactor := 1.0
		if sqResidual > e.maxSquaredResidual {
			numBad++
			localVarianceFactor *= e.params.HighResidualVariancePenalty
		} else {
			numGood++
		}

		noveltyPenalty := math.Pow(2.0, float64(led.Novelty))
		brightFactor := 1.0
		if led.Bright {
			brightFactor = brightPenalty
		}
		area := led.Area
		if area <= 0 {
			area = 1
		}
		variance := localVarianceFactor * e.params.MeasurementVarianceScaleFactor *
			noveltyPenalty * brightFactor * b.BaseMeasurementVariance / area
		meas.SetVariance(variance)

		ok, err := kalman.Correct(aug, meas)
		if err == nil && ok {
			gotMeasurement = true
		}

		st.Position = aug.BeaconPos
		st.Covariance = aug.BeaconCovariance()
	}

	e.updateProbation(numBad, numGood)

	if gotMeasurement {
		e.framesWithoutUtilized = 0
	} else if len(leds) > 0 {
		e.framesWithoutUtilized++
	}
}

func (e *SCAATEstimator) decideSkipBright(leds []IdentifiedLED) bool {
	if !e.params.ShouldSkipBrightLeds {
		return false
	}
	var bright int
	for _, led := range leds {
		if led.Bright {
			bright++
		}
	}
	return len(leds)-bright > dimBeaconCutoffToSkipBrights
}

func (e *SCAATEstimator) updateProbation(numBad, numGood int) {
	var increment bool
	if e.framesInProbation == 0 {
		increment = numBad*3 > numGood*2
	} else {
		increment = numBad*2 > numGood
		if !increment {
			e.framesInProbation = 0
		}
	}
	if increment {
		e.framesInProbation++
	}
}
