//go:build cgo
// +build cgo

// Package target implements the per-target tracking state machine that
// drives pose estimation for one rigid constellation of beacons on a body,
// grounded on TrackedBodyTarget.cpp. It depends on the RANSAC estimators
// in pkg/estimator, which require OpenCV's PnP solver via cgo.
package target

import (
	"time"

	"github.com/osvr-go/unifiedtracker/pkg/associate"
	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/estimator"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// TrackingState is the three-mode (plus transitional) pose-estimation state
// machine, grounded on TrackedBodyTarget.cpp's TargetTrackingState.
type TrackingState int

const (
	StateRANSAC TrackingState = iota
	StateEnteringKalman
	StateKalman
	StateRANSACWhenBlobDetected
)

func (s TrackingState) String() string {
	switch s {
	case StateRANSAC:
		return "RANSAC"
	case StateEnteringKalman:
		return "EnteringKalman"
	case StateKalman:
		return "Kalman"
	case StateRANSACWhenBlobDetected:
		return "RANSACWhenBlobDetected"
	default:
		return "Unknown"
	}
}

// HealthState is the outcome of the per-frame health evaluation, grounded
// on TrackedBodyTarget.cpp's TargetHealthEvaluator.
type HealthState int

const (
	HealthOK HealthState = iota
	HealthErrorBoundsExceeded
	HealthLostSight
)

// Health check constants, grounded on TrackedBodyTarget.cpp.
const (
	MaxFramesWithoutBeacons    = 150
	MaxPositionalErrorVariance = 15.0
)

// Target owns one body's beacon constellation, its live auto-calibration
// state, and the pose-estimation state machine that drives it.
type Target struct {
	Body         *bodystate.State
	ProcessModel kalman.ProcessModel
	Table        *beacon.Table
	BeaconStates []*beacon.State
	BeaconOffset mathkernel.Vec3

	leds    []*beacon.TrackedLED
	matcher *associate.Matcher

	ransac          *estimator.RANSACEstimator
	scaat           *estimator.SCAATEstimator
	ransacKalman    *estimator.RANSACKalmanEstimator
	useRANSACKalman bool

	state                TrackingState
	hasPoseEstimate      bool
	framesWithoutBeacons int

	lastUpdate    time.Time
	hasLastUpdate bool
}

// Options configures a new Target's behavior.
type Options struct {
	BlobMoveThreshold float64
	OffsetToCentroid  bool
	ManualOffset      mathkernel.Vec3
	SCAATParams       estimator.SCAATParams

	// UseRANSACKalman selects the RANSAC-seeded ordinary Kalman correction
	// instead of SCAAT for the single EnteringKalman step after a RANSAC
	// bootstrap; the steady Kalman state always runs SCAAT. It stands in for
	// the original's OSVR_RANSACKALMAN build-time toggle.
	UseRANSACKalman bool
}

// New builds a target from a validated beacon table and tracking options.
// The beacon offset is the centroid of all enabled beacons (when
// OffsetToCentroid is set) or the manual offset otherwise; beacon locations
// used internally are expressed relative to that offset, matching
// createBeaconStateVec.
func New(table *beacon.Table, body *bodystate.State, processModel kalman.ProcessModel, opts Options) *Target {
	offset := opts.ManualOffset
	if opts.OffsetToCentroid {
		offset = table.Centroid()
	}

	offsetTable := &beacon.Table{Beacons: make([]beacon.Beacon, len(table.Beacons))}
	states := make([]*beacon.State, len(table.Beacons))
	for i, b := range table.Beacons {
		b.Location = mathkernel.Sub(b.Location, offset)
		offsetTable.Beacons[i] = b
		st := beacon.NewState(b)
		states[i] = &st
	}

	return &Target{
		Body:            body,
		ProcessModel:    processModel,
		Table:           offsetTable,
		BeaconStates:    states,
		BeaconOffset:    offset,
		matcher:         associate.NewMatcher(opts.BlobMoveThreshold),
		ransac:          estimator.NewRANSACEstimator(),
		scaat:           estimator.NewSCAATEstimator(opts.SCAATParams),
		ransacKalman:    estimator.NewRANSACKalmanEstimator(),
		useRANSACKalman: opts.UseRANSACKalman,
		state:           StateRANSAC,
	}
}

// State returns the current tracking-state machine value.
func (t *Target) State() TrackingState { return t.state }

// HasPoseEstimate reports whether the most recent ProcessFrame call
// produced an accepted pose.
func (t *Target) HasPoseEstimate() bool { return t.hasPoseEstimate }

// LastUpdate returns the timestamp of the most recent frame processed for
// this target, per TrackedBodyTarget::getLastUpdate. The container uses it
// to bound how much state history needs to be kept around for IMU replay.
func (t *Target) LastUpdate() (time.Time, bool) { return t.lastUpdate, t.hasLastUpdate }

// SetLastUpdate records the timestamp of the frame about to be processed.
// The tracker orchestrator calls this before ProcessFrame since
// ProcessFrame itself only receives a relative dt.
func (t *Target) SetLastUpdate(tv time.Time) {
	t.lastUpdate = tv
	t.hasLastUpdate = true
}

// stateCorrection returns the body-orientation-rotated beacon offset, added
// to body.position() before estimation and subtracted after, matching
// TrackedBodyTarget::getStateCorrection / updatePoseEstimateFromLeds.
func (t *Target) stateCorrection() mathkernel.Vec3 {
	r := mathkernel.QuatToRotationMatrix(t.Body.Quaternion())
	return mathkernel.RotateVec3(r, t.BeaconOffset)
}

// evaluateHealth mirrors TargetHealthEvaluator::operator().
func (t *Target) evaluateHealth(usableLEDCount int) HealthState {
	if usableLEDCount == 0 {
		t.framesWithoutBeacons++
	} else {
		t.framesWithoutBeacons = 0
	}

	if t.state != StateRANSAC {
		cov := t.Body.ErrorCovariance()
		maxPositionalError := cov.At(0, 0)
		if cov.At(1, 1) > maxPositionalError {
			maxPositionalError = cov.At(1, 1)
		}
		if cov.At(2, 2) > maxPositionalError {
			maxPositionalError = cov.At(2, 2)
		}
		if maxPositionalError > MaxPositionalErrorVariance {
			return HealthErrorBoundsExceeded
		}
	}

	if t.framesWithoutBeacons > MaxFramesWithoutBeacons {
		return HealthLostSight
	}
	return HealthOK
}

func (t *Target) enterKalmanMode() {
	t.state = StateEnteringKalman
	t.scaat.ResetCounters()
}

func (t *Target) enterRANSACMode() {
	switch t.state {
	case StateRANSACWhenBlobDetected, StateKalman:
		t.Body.SetVelocity(mathkernel.Vec3{})
		t.Body.SetAngularVelocity(mathkernel.Vec3{})
	case StateEnteringKalman:
		// unlikely to have messed up velocity in one step; leave it.
	}
	t.state = StateRANSAC
}

// ProcessFrame associates blobs with tracked LEDs, drives one frame of the
// tracking state machine, and returns whether a pose estimate was produced.
// identifyLED assigns a beacon identity (or a sentinel) to each tracked LED
// from its brightness history; this package does not implement pattern
// identification itself (see pkg/beacon's sentinel IDs), so the caller
// supplies it.
func (t *Target) ProcessFrame(cam estimator.CameraModel, blobs []associate.Measurement, identifyLED func(*beacon.TrackedLED), validStateAndTime bool, dt float64) bool {
	t.associateBlobs(blobs, identifyLED)

	usable := t.usableLEDs()

	t.Body.SetPosition(mathkernel.Add(t.Body.Position(), t.stateCorrection()))

	permitKalman := validStateAndTime

	if !t.hasPoseEstimate && t.state != StateRANSAC {
		t.enterRANSACMode()
	}

	switch t.evaluateHealth(len(usable)) {
	case HealthErrorBoundsExceeded, HealthLostSight:
		t.enterRANSACMode()
	case HealthOK:
	}

	if t.state == StateRANSACWhenBlobDetected && len(usable) > 0 {
		t.enterRANSACMode()
	}

	leds := t.toIdentifiedLEDs(usable)

	switch t.state {
	case StateRANSAC:
		result := t.ransac.Estimate(cam, leds, t.Table, t.Body)
		t.hasPoseEstimate = result.Accepted
		t.markUsed(usable, result.UsedLEDs)
	case StateEnteringKalman:
		if t.useRANSACKalman {
			result := t.ransacKalman.Correct(cam, leds, t.Table, t.Body, t.ProcessModel, dt)
			t.hasPoseEstimate = result.Accepted
			t.markUsed(usable, result.UsedLEDs)
		} else {
			t.scaat.Correct(cam, leds, t.Table, t.BeaconStates, t.Body, t.ProcessModel, dt)
			markAllUsed(usable)
			t.hasPoseEstimate = true
		}
	default:
		t.scaat.Correct(cam, leds, t.Table, t.BeaconStates, t.Body, t.ProcessModel, dt)
		markAllUsed(usable)
		t.hasPoseEstimate = true
	}

	switch t.state {
	case StateRANSAC:
		if t.hasPoseEstimate && permitKalman {
			t.enterKalmanMode()
		}
	case StateEnteringKalman:
		t.state = StateKalman
	case StateKalman:
		switch t.scaat.GetTrackingHealth() {
		case estimator.NeedsResetNow:
			t.enterRANSACMode()
		case estimator.ResetWhenBeaconsSeen:
			t.state = StateRANSACWhenBlobDetected
		case estimator.Functioning:
		}
	}

	t.Body.SetPosition(mathkernel.Sub(t.Body.Position(), t.stateCorrection()))

	return t.hasPoseEstimate
}

func markAllUsed(leds []*beacon.TrackedLED) {
	for _, led := range leds {
		led.MarkAsUsed()
	}
}

func (t *Target) associateBlobs(blobs []associate.Measurement, identifyLED func(*beacon.TrackedLED)) {
	for _, led := range t.leds {
		led.ResetUsed()
	}

	measurements := make([]associate.Measurement, len(blobs))
	copy(measurements, blobs)

	ledPositions := make([][2]float64, len(t.leds))
	for i, led := range t.leds {
		m := led.Measurement()
		ledPositions[i] = [2]float64{m.X, m.Y}
	}

	matches := t.matcher.Assign(nil, ledPositions, measurements)

	matchedLED := make([]bool, len(t.leds))
	matchedMeas := make([]bool, len(measurements))
	for _, m := range matches {
		matchedLED[m.LEDIndex] = true
		matchedMeas[m.MeasurementIndex] = true
		meas := measurements[m.MeasurementIndex]
		t.leds[m.LEDIndex].AddMeasurement(beacon.Measurement{X: meas.X, Y: meas.Y, Diameter: meas.Diameter})
		if identifyLED != nil {
			identifyLED(t.leds[m.LEDIndex])
		}
	}

	var survivors []*beacon.TrackedLED
	for i, led := range t.leds {
		if matchedLED[i] {
			survivors = append(survivors, led)
		}
	}
	for i, meas := range measurements {
		if matchedMeas[i] {
			continue
		}
		newLED := beacon.NewTrackedLED(beacon.Measurement{X: meas.X, Y: meas.Y, Diameter: meas.Diameter})
		if identifyLED != nil {
			identifyLED(newLED)
		}
		survivors = append(survivors, newLED)
	}
	t.leds = survivors
}

func (t *Target) usableLEDs() []*beacon.TrackedLED {
	var usable []*beacon.TrackedLED
	for _, led := range t.leds {
		if led.Identified() {
			usable = append(usable, led)
		}
	}
	return usable
}

func (t *Target) toIdentifiedLEDs(usable []*beacon.TrackedLED) []estimator.IdentifiedLED {
	out := make([]estimator.IdentifiedLED, 0, len(usable))
	for _, led := range usable {
		id := led.ID()
		if int(id) < 0 || int(id) >= len(t.Table.Beacons) {
			led.MarkMisidentified()
			continue
		}
		m := led.Measurement()
		out = append(out, estimator.IdentifiedLED{
			BeaconIndex: int(id),
			PixelX:      m.X,
			PixelY:      m.Y,
			Area:        m.Area,
			Bright:      led.IsBright(),
			Novelty:     led.Novelty(),
		})
	}
	return out
}

func (t *Target) markUsed(usable []*beacon.TrackedLED, usedBeaconIndices []int) {
	usedSet := make(map[int]bool, len(usedBeaconIndices))
	for _, idx := range usedBeaconIndices {
		usedSet[idx] = true
	}
	for _, led := range usable {
		if usedSet[int(led.ID())] {
			led.MarkAsUsed()
		}
	}
}
