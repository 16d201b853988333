//go:build cgo
// +build cgo

package estimator

import (
	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
	"github.com/osvr-go/unifiedtracker/pkg/measurement"
)

// Tuning constants grounded on PoseEstimator_RANSACKalman.cpp.
const (
	ransacKalmanPositionVarianceScale = 1e-1
	ransacKalmanOrientationVariance   = 1.0
)

// RANSACKalmanEstimator runs the RANSAC PnP solve to produce an absolute
// pose, then filters that pose into the body state through two ordinary
// Kalman corrections (orientation, then position) rather than overwriting
// the state outright. Used while exiting the initial RANSAC bootstrap mode
// (EnteringKalman), per SPEC_FULL.md §4.7.
type RANSACKalmanEstimator struct{}

// NewRANSACKalmanEstimator constructs a RANSAC-seeded Kalman estimator.
func NewRANSACKalmanEstimator() *RANSACKalmanEstimator { return &RANSACKalmanEstimator{} }

// Correct runs the PnP solve and, on success, filters the resulting
// orientation and position into body via two Kalman corrections, predicting
// first when dt is positive (the frame clock has advanced since the body's
// last update).
func (e *RANSACKalmanEstimator) Correct(cam CameraModel, leds []IdentifiedLED, table *beacon.Table, body *bodystate.State, processModel kalman.ProcessModel, dt float64) Result {
	xlate, quat, used, ok := solvePnP(cam, leds, table)
	if !ok {
		return Result{Accepted: false}
	}

	if dt > 0 {
		kalman.Predict(body, processModel, dt)
	}

	orientationMeas := measurement.NewAbsoluteOrientation(quat, mathkernel.Vec3{
		ransacKalmanOrientationVariance, ransacKalmanOrientationVariance, ransacKalmanOrientationVariance,
	})
	_, _ = kalman.Correct(body, orientationMeas)

	positionVariance := ransacKalmanPositionVarianceScale * xlate[2] * xlate[2]
	positionMeas := measurement.NewAbsolutePosition(xlate, mathkernel.Vec3{
		positionVariance, positionVariance, positionVariance,
	})
	_, _ = kalman.Correct(body, positionMeas)

	return Result{Accepted: true, UsedLEDs: used}
}
