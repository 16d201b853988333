// Package measurement implements the EKF measurement models consumed by
// pkg/kalman's Correct/BeginCorrection, grounded on
// original_source/inc/osvr/Kalman/AbsoluteOrientationMeasurement.h,
// AbsolutePositionMeasurement.h, AngularVelocityMeasurement.h, and
// ApplyIMUToState.cpp.
package measurement

import (
	"gonum.org/v1/gonum/mat"

	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// AbsoluteOrientation measures the full external+incremental orientation
// against a reference quaternion, residual taken in tangent space with
// short-arc sign selection, grounded on AbsoluteOrientationMeasurement.h's
// getResidual and ApplyIMUToState.cpp's applyOriToState.
type AbsoluteOrientation struct {
	target   mathkernel.Quaternion
	variance mathkernel.Vec3
}

// NewAbsoluteOrientation builds an orientation measurement from a target
// quaternion (already expressed in the state's reference frame) and a
// diagonal tangent-space variance.
func NewAbsoluteOrientation(target mathkernel.Quaternion, variance mathkernel.Vec3) *AbsoluteOrientation {
	return &AbsoluteOrientation{target: target, variance: variance}
}

// SetMeasurement replaces the target quaternion, letting callers reuse one
// instance across frames.
func (a *AbsoluteOrientation) SetMeasurement(target mathkernel.Quaternion) {
	a.target = target
}

// Jacobian places a 3x3 identity over the incremental-rotation block
// (columns 3:6) of the 12-D state, per
// AbsoluteOrientationMeasurement<pose_externalized_rotation::State>::getJacobian.
func (a *AbsoluteOrientation) Jacobian(_ kalman.State) mat.Matrix {
	h := mat.NewDense(3, bodystate.Dim, nil)
	h.Set(0, 3, 1)
	h.Set(1, 4, 1)
	h.Set(2, 5, 1)
	return h
}

// Covariance is diagonal in the supplied tangent-space variance.
func (a *AbsoluteOrientation) Covariance(_ kalman.State) mat.Symmetric {
	return mat.NewSymDense(3, []float64{a.variance[0], 0, 0, 0, a.variance[1], 0, 0, 0, a.variance[2]})
}

// Residual computes r = log(z * xq^-1), choosing the short-arc sign by the
// dot product against the combined-state quaternion, per
// AbsoluteOrientationBase::getResidual.
func (a *AbsoluteOrientation) Residual(s kalman.State) mat.Vector {
	st := s.(*bodystate.State)
	predicted := st.CombinedQuaternion()

	residual := mathkernel.QuatMul(a.target, mathkernel.QuatConjugate(predicted))
	equivalentResidual := mathkernel.QuatNegate(residual)

	var chosen mathkernel.Quaternion
	if mathkernel.QuatDot(a.target, predicted) >= 0 {
		chosen = residual
	} else {
		chosen = equivalentResidual
	}

	v := mathkernel.QuatLogMap(chosen)
	return mat.NewVecDense(3, []float64{v[0], v[1], v[2]})
}

// AbsolutePosition is a direct, linear measurement of the state's position
// block, grounded on AbsolutePositionMeasurement.h.
type AbsolutePosition struct {
	target   mathkernel.Vec3
	variance mathkernel.Vec3
}

// NewAbsolutePosition builds a position measurement.
func NewAbsolutePosition(target mathkernel.Vec3, variance mathkernel.Vec3) *AbsolutePosition {
	return &AbsolutePosition{target: target, variance: variance}
}

// SetMeasurement replaces the target position.
func (p *AbsolutePosition) SetMeasurement(target mathkernel.Vec3) { p.target = target }

// Jacobian places a 3x3 identity over the position block (columns 0:3).
func (p *AbsolutePosition) Jacobian(_ kalman.State) mat.Matrix {
	h := mat.NewDense(3, bodystate.Dim, nil)
	h.Set(0, 0, 1)
	h.Set(1, 1, 1)
	h.Set(2, 2, 1)
	return h
}

// Covariance is diagonal in the supplied position variance.
func (p *AbsolutePosition) Covariance(_ kalman.State) mat.Symmetric {
	return mat.NewSymDense(3, []float64{p.variance[0], 0, 0, 0, p.variance[1], 0, 0, 0, p.variance[2]})
}

// Residual is z - x_p.
func (p *AbsolutePosition) Residual(s kalman.State) mat.Vector {
	st := s.(*bodystate.State)
	pos := st.Position()
	r := mathkernel.Sub(p.target, pos)
	return mat.NewVecDense(3, []float64{r[0], r[1], r[2]})
}

// AngularVelocity is a direct, linear measurement of the state's angular
// velocity block.
type AngularVelocity struct {
	target   mathkernel.Vec3
	variance mathkernel.Vec3
}

// NewAngularVelocity builds an angular velocity measurement.
func NewAngularVelocity(target mathkernel.Vec3, variance mathkernel.Vec3) *AngularVelocity {
	return &AngularVelocity{target: target, variance: variance}
}

// SetMeasurement replaces the target angular velocity.
func (w *AngularVelocity) SetMeasurement(target mathkernel.Vec3) { w.target = target }

// Jacobian places a 3x3 identity over the angular-velocity block (columns 9:12).
func (w *AngularVelocity) Jacobian(_ kalman.State) mat.Matrix {
	h := mat.NewDense(3, bodystate.Dim, nil)
	h.Set(0, 9, 1)
	h.Set(1, 10, 1)
	h.Set(2, 11, 1)
	return h
}

// Covariance is diagonal in the supplied variance.
func (w *AngularVelocity) Covariance(_ kalman.State) mat.Symmetric {
	return mat.NewSymDense(3, []float64{w.variance[0], 0, 0, 0, w.variance[1], 0, 0, 0, w.variance[2]})
}

// Residual is z - x_omega.
func (w *AngularVelocity) Residual(s kalman.State) mat.Vector {
	st := s.(*bodystate.State)
	omega := st.AngularVelocity()
	r := mathkernel.Sub(w.target, omega)
	return mat.NewVecDense(3, []float64{r[0], r[1], r[2]})
}

// AngularVelocityFromDeltaQuat reconstructs an angular-velocity magnitude
// from a small-rotation quaternion and a dt, per SPEC_FULL.md §6's IMU
// input contract: 2*acos(deltaQ.w)/dt, using the same near-identity
// tolerance as mathkernel's qsinc cutoff to avoid a 0/0 blowup when deltaQ
// is (numerically) identity.
func AngularVelocityFromDeltaQuat(deltaQ mathkernel.Quaternion, dt float64) mathkernel.Vec3 {
	if dt <= 0 {
		return mathkernel.Vec3{}
	}
	v := mathkernel.QuatLogMap(deltaQ)
	return mathkernel.Scale(v, 1.0/dt)
}

// ProjectedImagePoint is the beacon-reprojection measurement used by the
// SCAAT estimator, grounded on SPEC_FULL.md §4.3's projected-image-point
// description (no single original header covers this directly; the
// formula is the standard pinhole projection composed with the
// externalized-rotation state and the per-beacon augmented position).
// Its Jacobian spans the 12 body-state columns plus 3 beacon-state columns
// (index 12:15 in the augmented vector), so this type operates on
// AugmentedVector/AugmentedState from this same package rather than on
// bodystate.State directly.
type ProjectedImagePoint struct {
	targetPixel            [2]float64
	focalX, focalY         float64
	principalX, principalY float64
	variance               float64
}

// NewProjectedImagePoint builds a projected-image-point measurement. The
// beacon's body-frame position is supplied per-correction via the
// AugmentedState, not stored here, since it is itself part of the live
// auto-calibration state being corrected.
func NewProjectedImagePoint(targetPixel [2]float64, focalX, focalY, principalX, principalY, variance float64) *ProjectedImagePoint {
	return &ProjectedImagePoint{
		targetPixel: targetPixel,
		focalX:      focalX, focalY: focalY,
		principalX: principalX, principalY: principalY,
		variance: variance,
	}
}

// AugmentedState couples a body pose state with one beacon's live
// auto-calibration position, per SPEC_FULL.md §9's augmented-state design
// note: no fused 12+3N global state, just an ad-hoc 15-D view formed fresh
// for one correction.
type AugmentedState struct {
	Body        *bodystate.State
	BeaconPos   mathkernel.Vec3
	BeaconFixed bool

	beaconCov [3][3]float64
}

// NewAugmentedState builds an augmented state view over a body and a
// beacon's live auto-calibration state, copying the beacon's covariance in
// so ErrorCovariance/SetErrorCovariance can round-trip it.
func NewAugmentedState(body *bodystate.State, beaconPos mathkernel.Vec3, beaconCov [3][3]float64, fixed bool) *AugmentedState {
	return &AugmentedState{Body: body, BeaconPos: beaconPos, BeaconFixed: fixed, beaconCov: beaconCov}
}

// BeaconCovariance returns the 3x3 beacon covariance block as last written
// by SetErrorCovariance, for the caller to copy back into beacon.State.
func (a *AugmentedState) BeaconCovariance() [3][3]float64 {
	return a.beaconCov
}

// AugmentedDim is the augmented state's dimension: 12 body + 3 beacon.
const AugmentedDim = bodystate.Dim + 3

// StateVector implements kalman.State over the augmented 15-D vector.
func (a *AugmentedState) StateVector() mat.Vector {
	bv := a.Body.StateVector()
	out := mat.NewVecDense(AugmentedDim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		out.SetVec(i, bv.AtVec(i))
	}
	out.SetVec(bodystate.Dim, a.BeaconPos[0])
	out.SetVec(bodystate.Dim+1, a.BeaconPos[1])
	out.SetVec(bodystate.Dim+2, a.BeaconPos[2])
	return out
}

// SetStateVector writes the augmented vector back into the body state and
// the local beacon position field (the caller is responsible for copying
// BeaconPos back into the live beacon.State after correction).
func (a *AugmentedState) SetStateVector(v mat.Vector) {
	bv := mat.NewVecDense(bodystate.Dim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		bv.SetVec(i, v.AtVec(i))
	}
	a.Body.SetStateVector(bv)
	a.BeaconPos = mathkernel.Vec3{v.AtVec(bodystate.Dim), v.AtVec(bodystate.Dim + 1), v.AtVec(bodystate.Dim + 2)}
}

// ErrorCovariance builds the augmented P by block-joining the body's 12x12
// covariance with a 3x3 beacon-only block, leaving cross-covariance at
// zero (consistent with forming the augmentation fresh for each
// correction, per SPEC_FULL.md §9).
func (a *AugmentedState) ErrorCovariance() mat.Symmetric {
	bodyCov := a.Body.ErrorCovariance()
	out := mat.NewSymDense(AugmentedDim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		for j := i; j < bodystate.Dim; j++ {
			out.SetSym(i, j, bodyCov.At(i, j))
		}
	}
	for i := 0; i < 3; i++ {
		out.SetSym(bodystate.Dim+i, bodystate.Dim+i, a.beaconCov[i][i])
	}
	return out
}

// SetErrorCovariance writes the augmented P back, splitting it into the
// body's 12x12 block (stored back on Body) and the beacon's 3x3 block
// (retained for the caller to copy into the live beacon.State).
func (a *AugmentedState) SetErrorCovariance(p mat.Symmetric) {
	bodyCov := mat.NewSymDense(bodystate.Dim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		for j := i; j < bodystate.Dim; j++ {
			bodyCov.SetSym(i, j, p.At(i, j))
		}
	}
	a.Body.SetErrorCovariance(bodyCov)
	for i := 0; i < 3; i++ {
		a.beaconCov[i][i] = p.At(bodystate.Dim+i, bodystate.Dim+i)
	}
}

// PostCorrect delegates to the body state's own post-correction hook; the
// beacon position has no analogous cleanup.
func (a *AugmentedState) PostCorrect() {
	a.Body.PostCorrect()
}

// Jacobian computes d(pixel)/d(augmented state) by chain rule through the
// pinhole projection and the small-angle rotation derivative
// d(R*b)/d(theta) = -[R*b]x, covering both the body's incremental
// rotation columns and the beacon's position columns, per SPEC_FULL.md
// §4.3's "Jacobian rows cover both the 12-D body state and the 3-D beacon
// state" description.
func (p *ProjectedImagePoint) Jacobian(s kalman.State) mat.Matrix {
	aug := s.(*AugmentedState)
	r := mathkernel.QuatToRotationMatrix(aug.Body.CombinedQuaternion())
	camPoint := mathkernel.Add(mathkernel.RotateVec3(r, aug.BeaconPos), aug.Body.Position())

	x, y, z := camPoint[0], camPoint[1], camPoint[2]
	if z == 0 {
		z = 1e-9
	}

	// d(u,v)/d(camPoint)
	dudc := [3]float64{p.focalX / z, 0, -p.focalX * x / (z * z)}
	dvdc := [3]float64{0, p.focalY / z, -p.focalY * y / (z * z)}

	h := mat.NewDense(2, AugmentedDim, nil)

	// d(camPoint)/d(position) = I
	for k := 0; k < 3; k++ {
		h.Set(0, k, dudc[k])
		h.Set(1, k, dvdc[k])
	}

	// d(camPoint)/d(incrementalOrientation): R is itself a function of the
	// incremental rotation via exp map composed with the external
	// quaternion; approximate with the skew-symmetric derivative
	// d(R*b)/d(theta) = -[R*b]x, the standard small-angle rotation
	// derivative used throughout the reference implementation's Jacobians.
	rb := mathkernel.RotateVec3(r, aug.BeaconPos)
	skew := mathkernel.Skew(rb)
	for col := 0; col < 3; col++ {
		dc := mathkernel.Vec3{-skew[0][col], -skew[1][col], -skew[2][col]}
		h.Set(0, 3+col, dudc[0]*dc[0]+dudc[1]*dc[1]+dudc[2]*dc[2])
		h.Set(1, 3+col, dvdc[0]*dc[0]+dvdc[1]*dc[1]+dvdc[2]*dc[2])
	}

	// d(camPoint)/d(beaconPos) = R
	for col := 0; col < 3; col++ {
		dc := mathkernel.Vec3{r[0][col], r[1][col], r[2][col]}
		h.Set(0, bodystate.Dim+col, dudc[0]*dc[0]+dudc[1]*dc[1]+dudc[2]*dc[2])
		h.Set(1, bodystate.Dim+col, dvdc[0]*dc[0]+dvdc[1]*dc[1]+dvdc[2]*dc[2])
	}

	return h
}

// SetVariance replaces the measurement's isotropic pixel variance, letting
// callers apply per-frame novelty/bright/area penalties without
// reallocating the measurement.
func (p *ProjectedImagePoint) SetVariance(variance float64) { p.variance = variance }

// Covariance is isotropic per SPEC_FULL.md §4.3; callers scale p.variance
// by novelty/bright/area penalties before constructing the measurement.
func (p *ProjectedImagePoint) Covariance(_ kalman.State) mat.Symmetric {
	return mat.NewSymDense(2, []float64{p.variance, 0, 0, p.variance})
}

// Residual is the 2-D pixel difference between the observed and predicted
// projection.
func (p *ProjectedImagePoint) Residual(s kalman.State) mat.Vector {
	aug := s.(*AugmentedState)
	r := mathkernel.QuatToRotationMatrix(aug.Body.CombinedQuaternion())
	camPoint := mathkernel.Add(mathkernel.RotateVec3(r, aug.BeaconPos), aug.Body.Position())

	z := camPoint[2]
	if z == 0 {
		z = 1e-9
	}
	predictedU := p.focalX*camPoint[0]/z + p.principalX
	predictedV := p.focalY*camPoint[1]/z + p.principalY

	return mat.NewVecDense(2, []float64{p.targetPixel[0] - predictedU, p.targetPixel[1] - predictedV})
}
