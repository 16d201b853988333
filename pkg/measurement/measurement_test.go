package measurement

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

func TestAbsolutePositionResidualZeroWhenMatched(t *testing.T) {
	s := bodystate.New()
	s.SetPosition(mathkernel.Vec3{1, 2, 3})

	m := NewAbsolutePosition(mathkernel.Vec3{1, 2, 3}, mathkernel.Vec3{1, 1, 1})
	r := m.Residual(s)
	for i := 0; i < 3; i++ {
		if math.Abs(r.AtVec(i)) > 1e-12 {
			t.Errorf("residual[%d] = %f, want 0", i, r.AtVec(i))
		}
	}
}

func TestAbsolutePositionCorrectionPullsTowardMeasurement(t *testing.T) {
	s := bodystate.New()
	sym := mat.NewSymDense(bodystate.Dim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		sym.SetSym(i, i, 100)
	}
	s.SetErrorCovariance(sym)

	m := NewAbsolutePosition(mathkernel.Vec3{1, 0, 0}, mathkernel.Vec3{0.01, 0.01, 0.01})
	ok, err := kalman.Correct(s, m)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected correction to apply")
	}
	pos := s.Position()
	if pos[0] <= 0 || pos[0] > 1 {
		t.Errorf("expected position.x pulled toward 1, got %f", pos[0])
	}
}

func TestAngularVelocityResidual(t *testing.T) {
	s := bodystate.New()
	s.SetAngularVelocity(mathkernel.Vec3{0.1, 0, 0})

	m := NewAngularVelocity(mathkernel.Vec3{0.3, 0, 0}, mathkernel.Vec3{1, 1, 1})
	r := m.Residual(s)
	if math.Abs(r.AtVec(0)-0.2) > 1e-12 {
		t.Errorf("residual[0] = %f, want 0.2", r.AtVec(0))
	}
}

func TestAbsoluteOrientationResidualZeroWhenMatched(t *testing.T) {
	s := bodystate.New()
	q := mathkernel.QuatExpMap(mathkernel.Vec3{0.1, 0.2, 0.3})
	s.SetQuaternion(q)

	m := NewAbsoluteOrientation(q, mathkernel.Vec3{1, 1, 1})
	r := m.Residual(s)
	for i := 0; i < 3; i++ {
		if math.Abs(r.AtVec(i)) > 1e-9 {
			t.Errorf("residual[%d] = %f, want ~0", i, r.AtVec(i))
		}
	}
}

func TestAbsoluteOrientationShortArcSelection(t *testing.T) {
	s := bodystate.New()
	q := mathkernel.QuatExpMap(mathkernel.Vec3{0.1, 0, 0})
	s.SetQuaternion(q)

	// The sign-flipped equivalent quaternion represents the same rotation;
	// the residual should still be ~zero via short-arc selection.
	negQ := mathkernel.QuatNegate(q)
	m := NewAbsoluteOrientation(negQ, mathkernel.Vec3{1, 1, 1})
	r := m.Residual(s)
	for i := 0; i < 3; i++ {
		if math.Abs(r.AtVec(i)) > 1e-9 {
			t.Errorf("residual[%d] = %f, want ~0 under short-arc selection", i, r.AtVec(i))
		}
	}
}

func TestAngularVelocityFromDeltaQuatNearIdentity(t *testing.T) {
	deltaQ := mathkernel.QuatExpMap(mathkernel.Vec3{0, 0, 0})
	v := AngularVelocityFromDeltaQuat(deltaQ, 0.01)
	if v != (mathkernel.Vec3{}) {
		t.Errorf("expected zero angular velocity from identity delta, got %v", v)
	}
}

func TestAngularVelocityFromDeltaQuatRecoversKnownRate(t *testing.T) {
	dt := 0.01
	trueRate := mathkernel.Vec3{0, 1.0, 0} // rad/s about y
	deltaQ := mathkernel.QuatExpMap(mathkernel.Scale(trueRate, dt))

	got := AngularVelocityFromDeltaQuat(deltaQ, dt)
	if math.Abs(got[1]-1.0) > 1e-6 {
		t.Errorf("recovered rate = %v, want ~1.0 rad/s about y", got)
	}
}

func TestProjectedImagePointResidualZeroWhenAligned(t *testing.T) {
	body := bodystate.New()
	body.SetPosition(mathkernel.Vec3{0, 0, 1})

	beaconPos := mathkernel.Vec3{0, 0, 0}
	aug := NewAugmentedState(body, beaconPos, [3][3]float64{}, false)

	focalX, focalY := 700.0, 700.0
	principalX, principalY := 320.0, 240.0

	// camPoint = beaconPos rotated (identity) + body position = (0,0,1)
	targetPixel := [2]float64{principalX, principalY}
	m := NewProjectedImagePoint(targetPixel, focalX, focalY, principalX, principalY, 1.0)

	r := m.Residual(aug)
	if math.Abs(r.AtVec(0)) > 1e-9 || math.Abs(r.AtVec(1)) > 1e-9 {
		t.Errorf("residual = (%f, %f), want (0, 0)", r.AtVec(0), r.AtVec(1))
	}
}

func TestProjectedImagePointJacobianShape(t *testing.T) {
	body := bodystate.New()
	body.SetPosition(mathkernel.Vec3{0.1, 0, 1})
	aug := NewAugmentedState(body, mathkernel.Vec3{0, 0, 0}, [3][3]float64{}, false)

	m := NewProjectedImagePoint([2]float64{300, 200}, 700, 700, 320, 240, 1.0)
	h := m.Jacobian(aug)
	r, c := h.Dims()
	if r != 2 || c != AugmentedDim {
		t.Errorf("Jacobian dims = (%d, %d), want (2, %d)", r, c, AugmentedDim)
	}
}
