// Package estimator implements the three pose-estimation strategies the
// tracker cycles through: RANSAC-only bootstrap, RANSAC seeding a Kalman
// correction, and steady-state single constraint at a time (SCAAT) Kalman
// filtering. Grounded on PoseEstimator_RANSAC.cpp, PoseEstimator_RANSACKalman.cpp
// and PoseEstimator_SCAATKalman.cpp.
package estimator

import (
	"github.com/osvr-go/unifiedtracker/pkg/beacon"
)

// CameraModel is the pinhole intrinsics needed to turn 3-D beacon positions
// into pixel measurements and back, grounded on CameraParameters.h.
type CameraModel struct {
	FocalX, FocalY         float64
	PrincipalX, PrincipalY float64
	K1, K2, K3, P1, P2     float64
}

// IdentifiedLED is one LED observation already carrying a resolved beacon
// identity, the minimum an estimator needs to build correspondences.
type IdentifiedLED struct {
	BeaconIndex       int
	PixelX, PixelY    float64
	Area              float64
	Bright            bool
	Novelty           uint8
}

// Result is the outcome of a pose-estimation attempt.
type Result struct {
	Accepted bool
	UsedLEDs []int // beacon indices marked as used on acceptance
}

// BeaconSet bundles per-beacon static and filter state an estimator needs.
type BeaconSet struct {
	Table   *beacon.Table
	States  []*beacon.State // parallel to Table.Beacons
}
