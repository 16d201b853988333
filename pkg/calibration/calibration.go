package calibration

import (
	"log"
	"math"
	"time"

	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// Tuning constants, grounded on RoomCalibration.cpp's non-second-euro-filter
// branch (the default build configuration).
const (
	LinearVelocityCutoff  = 0.75
	AngularVelocityCutoff = 0.75
	RequiredSamples       = 15
	NearMessageCutoff     = 0.4

	poseFilterMinCutoff = 1.0
	poseFilterBeta      = 0.0
	poseFilterDCutoff   = 1.0
)

// BodyTargetID identifies one video target on one tracked body.
type BodyTargetID struct {
	Body   int
	Target int
}

// InstructionState is the user-prompt sub-state machine, grounded on
// RoomCalibration::InstructionState.
type InstructionState int

const (
	Uninstructed InstructionState = iota
	ToldToMoveCloser
	ToldDistanceIsGood
)

// RoomCalibration learns the camera's pose in room space and a single
// IMU's yaw offset by holding a tracked target steady in front of the
// camera while reading its IMU, grounded on RoomCalibration.h/.cpp.
type RoomCalibration struct {
	suppliedCamPosition mathkernel.Vec3
	cameraIsForward     bool

	steadyVideoReports int
	instructionState   InstructionState

	haveVideoTarget bool
	videoTarget     BodyTargetID
	lastVideoData   time.Time

	positionFilter    *OneEuroFilter
	orientationFilter *OneEuroFilter
	prevXlate         mathkernel.Vec3
	prevRot           mathkernel.Quaternion
	linVel, angVel    float64

	haveIMU        bool
	imuBody        int
	imuOrientation mathkernel.Quaternion

	rTcLnAccum mathkernel.Vec3

	calibComplete     bool
	imuYaw            float64 // radians
	cameraPosition    mathkernel.Vec3
	cameraOrientation mathkernel.Quaternion
}

// New builds a room calibration session. camPosition is the camera's
// supplied (operator-configured) position in room space; cameraIsForward
// requests the extra step of rotating the solved pose so the camera looks
// down the room's -Z axis, per the original's m_cameraIsForward flag.
func New(camPosition mathkernel.Vec3, cameraIsForward bool) *RoomCalibration {
	return &RoomCalibration{
		suppliedCamPosition: camPosition,
		cameraIsForward:     cameraIsForward,
		lastVideoData:       time.Now(),
		positionFilter:      NewOneEuroFilter(3, poseFilterMinCutoff, poseFilterBeta, poseFilterDCutoff),
		orientationFilter:   NewOneEuroFilter(4, poseFilterMinCutoff, poseFilterBeta, poseFilterDCutoff),
	}
}

func (c *RoomCalibration) haveVideoData() bool { return c.haveVideoTarget }
func (c *RoomCalibration) haveIMUData() bool   { return c.haveIMU }

// WantVideoData reports whether video from the given target should be fed
// in right now: only once an IMU has reported, and only ever from the
// single target first seen, per RoomCalibration::wantVideoData.
func (c *RoomCalibration) WantVideoData(target BodyTargetID) bool {
	if !c.haveIMUData() {
		return false
	}
	if !c.haveVideoData() {
		return target.Body == c.imuBody
	}
	return c.videoTarget == target
}

// ProcessVideoData feeds one frame's video-derived target pose (camera
// space) into the running filter, accumulating log(rTc) while the target
// is held steady, per RoomCalibration::processVideoData.
func (c *RoomCalibration) ProcessVideoData(target BodyTargetID, timestamp time.Time, xlate mathkernel.Vec3, quat mathkernel.Quaternion) {
	if !c.WantVideoData(target) {
		return
	}
	if !mathkernel.AllFinite(xlate[:]) || !mathkernel.AllFinite([]float64{quat.X, quat.Y, quat.Z, quat.W}) {
		return
	}

	firstData := !c.haveVideoData()
	if firstData {
		log.Printf("[room calibration] got first video report from target %+v", target)
	}
	c.videoTarget = target
	c.haveVideoTarget = true

	dt := timestamp.Sub(c.lastVideoData).Seconds()
	c.lastVideoData = timestamp
	if dt <= 0 {
		dt = 1
	}

	prevXlate := c.prevXlate
	prevRot := c.prevRot

	filteredPos := c.positionFilter.Filter(dt, xlate[:])
	filteredQuatRaw := c.orientationFilter.Filter(dt, []float64{quat.X, quat.Y, quat.Z, quat.W})
	filteredQuat := mathkernel.QuatNormalize(mathkernel.Quaternion{
		X: filteredQuatRaw[0], Y: filteredQuatRaw[1], Z: filteredQuatRaw[2], W: filteredQuatRaw[3],
	})

	c.prevXlate = mathkernel.Vec3{filteredPos[0], filteredPos[1], filteredPos[2]}
	c.prevRot = filteredQuat

	// rTc: camera in room space (what we're solving for), via
	// imuOrientation * filteredOrientation^-1.
	rTc := mathkernel.QuatMul(c.imuOrientation, mathkernel.QuatConjugate(filteredQuat))
	rTcLn := mathkernel.QuatLogMap(rTc)

	if !firstData {
		linDeriv := mathkernel.Scale(mathkernel.Sub(c.prevXlate, prevXlate), 1/dt)
		c.linVel = mathkernel.Norm(linDeriv)

		rotDelta := mathkernel.QuatMul(mathkernel.QuatConjugate(prevRot), filteredQuat)
		angDeriv := mathkernel.Scale(mathkernel.QuatLogMap(rotDelta), 1/dt)
		c.angVel = mathkernel.Norm(angDeriv)
	}

	if c.linVel < LinearVelocityCutoff && c.angVel < AngularVelocityCutoff {
		if c.steadyVideoReports == 0 {
			log.Printf("[room calibration] hold still, performing room calibration")
		}
		c.rTcLnAccum = mathkernel.Add(c.rTcLnAccum, rTcLn)
		c.steadyVideoReports++
	} else {
		c.handleExcessVelocity(xlate[2])
	}
}

func (c *RoomCalibration) handleExcessVelocity(zTranslation float64) {
	if c.steadyVideoReports > 0 {
		log.Printf("[room calibration] restarting: linear velocity %v (cutoff %v), angular velocity %v (cutoff %v)",
			c.linVel, LinearVelocityCutoff, c.angVel, AngularVelocityCutoff)
	}
	c.steadyVideoReports = 0
	c.rTcLnAccum = mathkernel.Vec3{}

	switch c.instructionState {
	case Uninstructed:
		if zTranslation > NearMessageCutoff {
			log.Printf("[room calibration] NOTE: hold your device still closer than %v meters from the camera for a few seconds, then rotate slowly in all directions", NearMessageCutoff)
			c.instructionState = ToldToMoveCloser
		}
	case ToldToMoveCloser:
		if zTranslation < 0.9*NearMessageCutoff {
			log.Printf("[room calibration] that distance looks good, rotate the device gently until you get a 'hold still' message")
			c.instructionState = ToldDistanceIsGood
		}
	case ToldDistanceIsGood:
		// nothing to do.
	}
}

// ProcessIMUData feeds one IMU orientation report. Only the first body to
// report is adopted; reports from any other body are ignored, per
// RoomCalibration::processIMUData (absent OSVR_UVBI_ASSUME_SINGLE_IMU).
func (c *RoomCalibration) ProcessIMUData(body int, quat mathkernel.Quaternion) {
	if c.haveIMUData() && c.imuBody != body {
		return
	}
	if !mathkernel.AllFinite([]float64{quat.X, quat.Y, quat.Z, quat.W}) {
		log.Printf("[room calibration] non-finite IMU quaternion ignored")
		return
	}

	first := !c.haveIMUData()
	if first {
		log.Printf("[room calibration] got first IMU report from body %d", body)
		c.imuBody = body
		c.haveIMU = true
		// Constrain w to be positive for a stable log-average starting point.
		if quat.W >= 0 {
			c.imuOrientation = quat
		} else {
			c.imuOrientation = mathkernel.QuatNegate(quat)
		}
		return
	}

	c.imuOrientation = flipQuatSignToMatch(c.imuOrientation, quat)
}

// flipQuatSignToMatch returns q or its negation, whichever has the shorter
// geodesic distance from reference, keeping a running quaternion sequence
// continuous so an average of logs isn't corrupted by a sign flip.
func flipQuatSignToMatch(reference, q mathkernel.Quaternion) mathkernel.Quaternion {
	if mathkernel.QuatDot(reference, q) < 0 {
		return mathkernel.QuatNegate(q)
	}
	return q
}

// extractYaw derives the rotation of q about the room's vertical (Y) axis
// by rotating the forward vector and reading off the horizontal angle; the
// original's ExtractYaw.h is not present in this design's reference
// material, so this is a from-scratch but standard technique.
func extractYaw(q mathkernel.Quaternion) float64 {
	rot := mathkernel.QuatToRotationMatrix(q)
	forward := mathkernel.RotateVec3(rot, mathkernel.Vec3{0, 0, -1})
	return math.Atan2(-forward[0], -forward[2])
}

func quatAroundY(angle float64) mathkernel.Quaternion {
	return mathkernel.QuatExpMap(mathkernel.Vec3{0, angle, 0})
}

func (c *RoomCalibration) finished() bool {
	return c.steadyVideoReports >= RequiredSamples
}

// CalibrationComplete reports whether enough steady frames have
// accumulated to solve for the camera pose.
func (c *RoomCalibration) CalibrationComplete() bool { return c.calibComplete }

// PostCalibrationUpdate checks whether enough steady frames have
// accumulated and, the first time they have, solves for the camera's room
// pose and the IMU's yaw offset, per RoomCalibration::postCalibrationUpdate.
// Returns true the moment calibration completes (and every call after).
func (c *RoomCalibration) PostCalibrationUpdate() bool {
	if c.calibComplete {
		return true
	}
	if !c.finished() {
		return false
	}
	log.Printf("[room calibration] room calibration process complete")

	meanLn := mathkernel.Scale(c.rTcLnAccum, 1/float64(c.steadyVideoReports))
	iRc := mathkernel.QuatExpMap(meanLn)

	if c.cameraIsForward {
		yaw := extractYaw(iRc)
		iRc = mathkernel.QuatMul(quatAroundY(-yaw), iRc)
		c.imuYaw = -yaw
	} else {
		c.imuYaw = 0
	}

	c.cameraPosition = c.suppliedCamPosition
	c.cameraOrientation = iRc
	c.calibComplete = true
	return true
}

// CalibrationYaw returns the IMU yaw offset (radians) solved for body, and
// whether body was the one used to calibrate.
func (c *RoomCalibration) CalibrationYaw(body int) (float64, bool) {
	if !c.calibComplete || c.imuBody != body {
		return 0, false
	}
	return c.imuYaw, true
}

// CameraPose returns the camera's solved position and orientation in room
// space. Only valid once CalibrationComplete reports true.
func (c *RoomCalibration) CameraPose() (mathkernel.Vec3, mathkernel.Quaternion) {
	return c.cameraPosition, c.cameraOrientation
}
