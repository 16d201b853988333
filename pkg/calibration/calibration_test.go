package calibration

import (
	"testing"
	"time"

	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

func TestWantVideoDataFalseBeforeIMU(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	if c.WantVideoData(BodyTargetID{Body: 0, Target: 0}) {
		t.Error("expected no video wanted before any IMU report")
	}
}

func TestWantVideoDataLocksToFirstTarget(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	c.ProcessIMUData(0, mathkernel.IdentityQuaternion())

	first := BodyTargetID{Body: 0, Target: 0}
	if !c.WantVideoData(first) {
		t.Fatal("expected the first target on the IMU's body to be wanted")
	}

	c.ProcessVideoData(first, time.Unix(1, 0), mathkernel.Vec3{0, 0, 1}, mathkernel.IdentityQuaternion())

	other := BodyTargetID{Body: 0, Target: 1}
	if c.WantVideoData(other) {
		t.Error("expected a different target on the same body to be rejected once locked")
	}
}

func TestProcessVideoDataAccumulatesSteadyReports(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	c.ProcessIMUData(0, mathkernel.IdentityQuaternion())

	target := BodyTargetID{Body: 0, Target: 0}
	base := time.Unix(10, 0)
	for i := 0; i < RequiredSamples; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		c.ProcessVideoData(target, ts, mathkernel.Vec3{0, 0, 0.3}, mathkernel.IdentityQuaternion())
	}

	if !c.finished() {
		t.Fatalf("expected %d steady reports to finish calibration, got %d", RequiredSamples, c.steadyVideoReports)
	}
}

func TestHandleExcessVelocityResetsAccumulation(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	c.steadyVideoReports = 5
	c.rTcLnAccum = mathkernel.Vec3{1, 2, 3}

	c.handleExcessVelocity(0.1)

	if c.steadyVideoReports != 0 {
		t.Errorf("expected steady report count reset, got %d", c.steadyVideoReports)
	}
	if c.rTcLnAccum != (mathkernel.Vec3{}) {
		t.Errorf("expected log accumulator reset, got %+v", c.rTcLnAccum)
	}
}

func TestHandleExcessVelocityInstructionStateMachine(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)

	if c.instructionState != Uninstructed {
		t.Fatalf("expected to start uninstructed, got %v", c.instructionState)
	}

	c.handleExcessVelocity(NearMessageCutoff + 0.1)
	if c.instructionState != ToldToMoveCloser {
		t.Fatalf("expected ToldToMoveCloser after a far-away reading, got %v", c.instructionState)
	}

	c.handleExcessVelocity(0.9*NearMessageCutoff - 0.01)
	if c.instructionState != ToldDistanceIsGood {
		t.Fatalf("expected ToldDistanceIsGood after moving close enough, got %v", c.instructionState)
	}
}

func TestProcessIMUDataIgnoresSecondBody(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	c.ProcessIMUData(0, mathkernel.IdentityQuaternion())
	c.ProcessIMUData(1, mathkernel.Quaternion{X: 1, Y: 0, Z: 0, W: 0})

	if c.imuBody != 0 {
		t.Errorf("expected the first IMU body to stick, got %d", c.imuBody)
	}
}

func TestProcessIMUDataConstrainsPositiveW(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	negativeW := mathkernel.Quaternion{X: 0, Y: 0, Z: 0, W: -1}
	c.ProcessIMUData(0, negativeW)

	if c.imuOrientation.W < 0 {
		t.Errorf("expected w to be constrained positive, got %+v", c.imuOrientation)
	}
}

func TestPostCalibrationUpdateNotCompleteBeforeEnoughSamples(t *testing.T) {
	c := New(mathkernel.Vec3{1, 2, 3}, false)
	if c.PostCalibrationUpdate() {
		t.Error("expected calibration to remain incomplete with zero steady reports")
	}
	if c.CalibrationComplete() {
		t.Error("expected CalibrationComplete to report false")
	}
}

func TestPostCalibrationUpdateSolvesCameraPose(t *testing.T) {
	c := New(mathkernel.Vec3{1, 2, 3}, false)
	c.ProcessIMUData(0, mathkernel.IdentityQuaternion())
	c.steadyVideoReports = RequiredSamples
	c.rTcLnAccum = mathkernel.Vec3{}

	if !c.PostCalibrationUpdate() {
		t.Fatal("expected calibration to complete once enough steady samples accumulated")
	}
	if !c.CalibrationComplete() {
		t.Error("expected CalibrationComplete to report true")
	}

	pos, _ := c.CameraPose()
	if pos != (mathkernel.Vec3{1, 2, 3}) {
		t.Errorf("expected the supplied camera position to be adopted, got %+v", pos)
	}

	if yaw, ok := c.CalibrationYaw(0); !ok || yaw != 0 {
		t.Errorf("expected zero yaw offset for a non-forward camera, got %v, %v", yaw, ok)
	}
}

func TestCalibrationYawUnknownForOtherBody(t *testing.T) {
	c := New(mathkernel.Vec3{0, 0, 0}, false)
	c.ProcessIMUData(0, mathkernel.IdentityQuaternion())
	c.steadyVideoReports = RequiredSamples
	c.PostCalibrationUpdate()

	if _, ok := c.CalibrationYaw(1); ok {
		t.Error("expected no calibration yaw for a body that was never calibrated")
	}
}

func TestExtractYawIdentityIsZero(t *testing.T) {
	if got := extractYaw(mathkernel.IdentityQuaternion()); got < -1e-9 || got > 1e-9 {
		t.Errorf("expected ~0 yaw for the identity orientation, got %v", got)
	}
}

func TestFlipQuatSignToMatchPicksShorterArc(t *testing.T) {
	reference := mathkernel.IdentityQuaternion()
	far := mathkernel.Quaternion{X: 0, Y: 0, Z: 0, W: -1}

	got := flipQuatSignToMatch(reference, far)
	if mathkernel.QuatDot(reference, got) < 0 {
		t.Errorf("expected the flipped quaternion to be on the same hemisphere as reference, got %+v", got)
	}
}
