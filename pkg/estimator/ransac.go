//go:build cgo
// +build cgo

package estimator

import (
	"math"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// RANSAC tuning constants, grounded on PoseEstimator_RANSAC.h/.cpp.
const (
	ransacRequiredInliers     = 4
	ransacPermittedOutliers   = 0
	ransacIterationsCount     = 5
	ransacReprojectionCutoff  = 8.0
	ransacConfidence          = 0.99
	maxSingleAxisReprojectErr = 4.0
)

// Initial state error variance applied after a successful RANSAC bootstrap:
// position fully trusted (from PnP), orientation carries residual
// uncertainty, velocities are unobserved and reset to zero-variance.
var ransacInitialStateError = [bodystate.Dim]float64{
	0, 0, 0,
	0.5, 0.5, 0.5,
	0, 0, 0,
	0, 0, 0,
}

// RANSACEstimator bootstraps an absolute pose from a set of beacon
// correspondences via OpenCV's RANSAC PnP solver.
type RANSACEstimator struct{}

// NewRANSACEstimator constructs a RANSAC pose estimator.
func NewRANSACEstimator() *RANSACEstimator { return &RANSACEstimator{} }

// Estimate attempts to recover an absolute pose from the given identified
// LEDs and beacon table. On success it overwrites body's position,
// orientation, and error covariance and zeroes the unobserved velocity
// terms, matching RANSACPoseEstimator::operator()(EstimatorInOutParams).
func (e *RANSACEstimator) Estimate(cam CameraModel, leds []IdentifiedLED, table *beacon.Table, body *bodystate.State) Result {
	xlate, quat, used, ok := solvePnP(cam, leds, table)
	if !ok {
		return Result{Accepted: false}
	}

	body.SetPosition(xlate)
	body.ExternalizeRotation()
	body.SetQuaternion(quat)
	body.SetVelocity(mathkernel.Vec3{})
	body.SetAngularVelocity(mathkernel.Vec3{})

	cov := diagSymDense(ransacInitialStateError[:])
	body.SetErrorCovariance(cov)

	return Result{Accepted: true, UsedLEDs: used}
}

// solvePnP runs the RANSAC PnP solve and reprojection-error gate shared by
// RANSACEstimator and RANSACKalmanEstimator, without mutating any state.
func solvePnP(cam CameraModel, leds []IdentifiedLED, table *beacon.Table) (mathkernel.Vec3, mathkernel.Quaternion, []int, bool) {
	if len(leds) < ransacRequiredInliers+ransacPermittedOutliers {
		return mathkernel.Vec3{}, mathkernel.Quaternion{}, nil, false
	}

	objectPoints := make([]gocv.Point3f, len(leds))
	imagePoints := make([]gocv.Point2f, len(leds))
	for i, led := range leds {
		loc := table.Beacons[led.BeaconIndex].Location
		objectPoints[i] = gocv.Point3f{X: float32(loc[0]), Y: float32(loc[1]), Z: float32(loc[2])}
		imagePoints[i] = gocv.Point2f{X: float32(led.PixelX), Y: float32(led.PixelY)}
	}

	cameraMatrix := buildCameraMatrix(cam)
	defer cameraMatrix.Close()
	distCoeffs := buildDistCoeffs(cam)
	defer distCoeffs.Close()

	objVec := gocv.NewPoint3fVectorFromPoints(objectPoints)
	defer objVec.Close()
	imgVec := gocv.NewPoint2fVectorFromPoints(imagePoints)
	defer imgVec.Close()

	rvec := gocv.NewMat()
	defer rvec.Close()
	tvec := gocv.NewMat()
	defer tvec.Close()
	inliers := gocv.NewMat()
	defer inliers.Close()

	ok := gocv.SolvePnPRansac(objVec, imgVec, cameraMatrix, distCoeffs, &rvec, &tvec,
		false, ransacIterationsCount, ransacReprojectionCutoff, ransacConfidence, &inliers)
	if !ok {
		return mathkernel.Vec3{}, mathkernel.Quaternion{}, nil, false
	}
	if inliers.Rows() < ransacRequiredInliers {
		return mathkernel.Vec3{}, mathkernel.Quaternion{}, nil, false
	}

	reprojected := gocv.NewPoint2fVector()
	defer reprojected.Close()
	jacobian := gocv.NewMat()
	defer jacobian.Close()
	gocv.ProjectPoints(objVec, &rvec, &tvec, cameraMatrix, distCoeffs, reprojected, &jacobian, 0)

	reprojPts := reprojected.ToPoints()
	var used []int
	for i := 0; i < inliers.Rows(); i++ {
		idx := int(inliers.GetIntAt(i, 0))
		if idx < 0 || idx >= len(leds) {
			continue
		}
		if i >= len(reprojPts) {
			continue
		}
		dx := float64(reprojPts[idx].X) - imagePoints[idx].X
		dy := float64(reprojPts[idx].Y) - imagePoints[idx].Y
		if math.Abs(dx) > maxSingleAxisReprojectErr || math.Abs(dy) > maxSingleAxisReprojectErr {
			return mathkernel.Vec3{}, mathkernel.Quaternion{}, nil, false
		}
		used = append(used, leds[idx].BeaconIndex)
	}

	xlate, quat := rvecTvecToPose(rvec, tvec)
	return xlate, quat, used, true
}

func buildCameraMatrix(cam CameraModel) gocv.Mat {
	m := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	m.SetDoubleAt(0, 0, cam.FocalX)
	m.SetDoubleAt(1, 1, cam.FocalY)
	m.SetDoubleAt(0, 2, cam.PrincipalX)
	m.SetDoubleAt(1, 2, cam.PrincipalY)
	m.SetDoubleAt(2, 2, 1)
	return m
}

func buildDistCoeffs(cam CameraModel) gocv.Mat {
	m := gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	m.SetDoubleAt(0, 0, cam.K1)
	m.SetDoubleAt(0, 1, cam.K2)
	m.SetDoubleAt(0, 2, cam.P1)
	m.SetDoubleAt(0, 3, cam.P2)
	m.SetDoubleAt(0, 4, cam.K3)
	return m
}

// rvecTvecToPose converts OpenCV's Rodrigues rotation vector and
// translation vector (model space, in meters, into camera space) into the
// tracker's position+quaternion convention.
func rvecTvecToPose(rvec, tvec gocv.Mat) (mathkernel.Vec3, mathkernel.Quaternion) {
	w := mathkernel.Vec3{rvec.GetDoubleAt(0, 0), rvec.GetDoubleAt(1, 0), rvec.GetDoubleAt(2, 0)}
	quat := mathkernel.QuatExpMap(w)
	pos := mathkernel.Vec3{tvec.GetDoubleAt(0, 0), tvec.GetDoubleAt(1, 0), tvec.GetDoubleAt(2, 0)}
	return pos, quat
}

func diagSymDense(diag []float64) *mat.SymDense {
	n := len(diag)
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		s.SetSym(i, i, diag[i])
	}
	return s
}
