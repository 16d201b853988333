// Package bodystate implements the 12-dimensional externalized-rotation
// pose state used by the tracker's per-body Kalman filter, grounded on
// original_source/inc/osvr/Kalman/PoseState.h,
// PoseConstantVelocity.h and PoseDampedConstantVelocity.h.
//
// The state vector packs position, an incremental (small-angle) rotation,
// linear velocity and angular velocity in that order:
//
//	[0:3]  position
//	[3:6]  incremental orientation (axis-angle tangent vector)
//	[6:9]  linear velocity
//	[9:12] angular velocity
//
// The "externalized rotation" trick keeps the filter's own notion of
// orientation as a small tangent-space perturbation around a separately
// maintained unit quaternion, which PostCorrect folds back in after every
// measurement update so the incremental block stays near zero (and thus
// well inside every small-angle approximation used in mathkernel).
package bodystate

import (
	"gonum.org/v1/gonum/mat"

	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// Dim is the dimension of the state vector.
const Dim = 12

// State is the 12-D pose state plus its externally maintained orientation.
type State struct {
	vector       *mat.VecDense
	cov          *mat.SymDense
	orientation  mathkernel.Quaternion
}

// New returns a state at the origin, identity orientation, and identity
// error covariance — the same defaults PoseState.h's default constructor
// uses.
func New() *State {
	cov := mat.NewSymDense(Dim, nil)
	for i := 0; i < Dim; i++ {
		cov.SetSym(i, i, 1)
	}
	return &State{
		vector:      mat.NewVecDense(Dim, nil),
		cov:         cov,
		orientation: mathkernel.IdentityQuaternion(),
	}
}

// StateVector returns xhat.
func (s *State) StateVector() mat.Vector { return s.vector }

// SetStateVector sets xhat.
func (s *State) SetStateVector(v mat.Vector) {
	n := v.Len()
	vec := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		vec.SetVec(i, v.AtVec(i))
	}
	s.vector = vec
}

// ErrorCovariance returns P.
func (s *State) ErrorCovariance() mat.Symmetric { return s.cov }

// SetErrorCovariance sets P.
func (s *State) SetErrorCovariance(p mat.Symmetric) {
	n, _ := p.Dims()
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sym.SetSym(i, j, p.At(i, j))
		}
	}
	s.cov = sym
}

// Position returns the position block of the state vector.
func (s *State) Position() mathkernel.Vec3 {
	return mathkernel.Vec3{s.vector.AtVec(0), s.vector.AtVec(1), s.vector.AtVec(2)}
}

// SetPosition overwrites the position block.
func (s *State) SetPosition(p mathkernel.Vec3) {
	s.vector.SetVec(0, p[0])
	s.vector.SetVec(1, p[1])
	s.vector.SetVec(2, p[2])
}

// IncrementalOrientation returns the small-angle tangent-space rotation
// block.
func (s *State) IncrementalOrientation() mathkernel.Vec3 {
	return mathkernel.Vec3{s.vector.AtVec(3), s.vector.AtVec(4), s.vector.AtVec(5)}
}

func (s *State) setIncrementalOrientation(v mathkernel.Vec3) {
	s.vector.SetVec(3, v[0])
	s.vector.SetVec(4, v[1])
	s.vector.SetVec(5, v[2])
}

// Velocity returns the linear velocity block.
func (s *State) Velocity() mathkernel.Vec3 {
	return mathkernel.Vec3{s.vector.AtVec(6), s.vector.AtVec(7), s.vector.AtVec(8)}
}

// SetVelocity overwrites the linear velocity block.
func (s *State) SetVelocity(v mathkernel.Vec3) {
	s.vector.SetVec(6, v[0])
	s.vector.SetVec(7, v[1])
	s.vector.SetVec(8, v[2])
}

// AngularVelocity returns the angular velocity block.
func (s *State) AngularVelocity() mathkernel.Vec3 {
	return mathkernel.Vec3{s.vector.AtVec(9), s.vector.AtVec(10), s.vector.AtVec(11)}
}

// SetAngularVelocity overwrites the angular velocity block.
func (s *State) SetAngularVelocity(v mathkernel.Vec3) {
	s.vector.SetVec(9, v[0])
	s.vector.SetVec(10, v[1])
	s.vector.SetVec(11, v[2])
}

// Quaternion returns the externally maintained orientation.
func (s *State) Quaternion() mathkernel.Quaternion { return s.orientation }

// SetQuaternion overwrites the externally maintained orientation, used
// during startup/bootstrap.
func (s *State) SetQuaternion(q mathkernel.Quaternion) {
	s.orientation = mathkernel.QuatNormalize(q)
}

// CombinedQuaternion returns the incremental orientation composed with the
// externally maintained orientation: exp(incrementalOrientation) * m_orientation.
func (s *State) CombinedQuaternion() mathkernel.Quaternion {
	incremental := mathkernel.QuatExpMap(s.IncrementalOrientation())
	return mathkernel.QuatMul(incremental, s.orientation)
}

// ExternalizeRotation folds the incremental rotation into the externally
// maintained orientation and resets the incremental block to zero, exactly
// matching PoseState::externalizeRotation.
func (s *State) ExternalizeRotation() {
	s.orientation = mathkernel.QuatNormalize(s.CombinedQuaternion())
	s.setIncrementalOrientation(mathkernel.Vec3{})
}

// PostCorrect re-externalizes the rotation after every correction, matching
// PoseState::postCorrect.
func (s *State) PostCorrect() {
	s.ExternalizeRotation()
}

// stateTransitionMatrix builds A(dt) per pose_externalized_rotation::stateTransitionMatrix:
// identity with dt*I in the top-right 6x6 block (position/orientation driven by their
// velocities).
func stateTransitionMatrix(dt float64) *mat.Dense {
	a := mat.NewDense(Dim, Dim, nil)
	for i := 0; i < Dim; i++ {
		a.Set(i, i, 1)
	}
	for i := 0; i < 6; i++ {
		a.Set(i, i+6, dt)
	}
	return a
}

// ApplyVelocity computes A(dt)*xhat(t-dt) the cheap way, matching
// pose_externalized_rotation::applyVelocity: position += velocity*dt,
// incrementalOrientation += angularVelocity*dt, velocities unchanged.
func (s *State) ApplyVelocity(dt float64) {
	pos := s.Position()
	vel := s.Velocity()
	s.SetPosition(mathkernel.Add(pos, mathkernel.Scale(vel, dt)))

	incr := s.IncrementalOrientation()
	angVel := s.AngularVelocity()
	s.setIncrementalOrientation(mathkernel.Add(incr, mathkernel.Scale(angVel, dt)))
}

// SeparatelyDampenVelocities scales the linear and angular velocity blocks
// by their own independent damping^dt attenuation, matching
// pose_externalized_rotation::separatelyDampenVelocities.
func (s *State) SeparatelyDampenVelocities(posDamping, oriDamping, dt float64) {
	s.SetVelocity(mathkernel.Scale(s.Velocity(), mathkernel.DecayPower(posDamping, dt)))
	s.SetAngularVelocity(mathkernel.Scale(s.AngularVelocity(), mathkernel.DecayPower(oriDamping, dt)))
}

// sampledProcessNoiseCovariance builds Q(dt) from a 6-element noise
// autocorrelation mu (position x3, orientation x3), matching
// PoseConstantVelocityProcessModel::getSampledProcessNoiseCovariance
// exactly: diag blocks mu*dt^3/3 and mu*dt, with the mu*dt^2/2
// cross-terms, for each of the 6 position/orientation DOFs.
func sampledProcessNoiseCovariance(mu [6]float64, dt float64) *mat.SymDense {
	cov := mat.NewSymDense(Dim, nil)
	dt3 := dt * dt * dt / 3
	dt2 := dt * dt / 2
	for i := 0; i < 6; i++ {
		j := i + 6
		cov.SetSym(i, i, mu[i]*dt3)
		cov.SetSym(i, j, mu[i]*dt2)
		cov.SetSym(j, j, mu[i]*dt)
	}
	return cov
}

// ConstantVelocityProcessModel is the undamped constant-velocity process
// model, grounded on PoseConstantVelocityProcessModel.
type ConstantVelocityProcessModel struct {
	Noise [6]float64
}

// NewConstantVelocityProcessModel builds a process model with the default
// noise autocorrelation the original uses absent configuration (position
// 0.01, orientation 0.1 for each axis).
func NewConstantVelocityProcessModel() *ConstantVelocityProcessModel {
	return &ConstantVelocityProcessModel{Noise: [6]float64{0.01, 0.01, 0.01, 0.1, 0.1, 0.1}}
}

// StateTransitionMatrix implements kalman.ProcessModel.
func (m *ConstantVelocityProcessModel) StateTransitionMatrix(_ kalman.State, dt float64) mat.Matrix {
	return stateTransitionMatrix(dt)
}

// SampledProcessNoiseCovariance implements kalman.ProcessModel.
func (m *ConstantVelocityProcessModel) SampledProcessNoiseCovariance(dt float64) mat.Symmetric {
	return sampledProcessNoiseCovariance(m.Noise, dt)
}

// PredictState implements kalman.ProcessModel: xhat- = applyVelocity(xhat, dt).
func (m *ConstantVelocityProcessModel) PredictState(s kalman.State, dt float64) {
	st := s.(*State)
	st.ApplyVelocity(dt)
}

// DampedConstantVelocityProcessModel decays the linear and angular velocity
// blocks by independent damping^dt attenuations every prediction, grounded
// on PoseSeparatelyDampedConstantVelocityProcessModel (the production
// process model per ModelTypes.h's BodyProcessModel typedef).
type DampedConstantVelocityProcessModel struct {
	Noise              [6]float64
	PositionDamping    float64
	OrientationDamping float64
}

// NewDampedConstantVelocityProcessModel builds a process model with
// independent position/orientation velocity damping. Values outside (0,1)
// fall back to the original's constructor defaults
// (positionDamping=0.3, orientationDamping=0.01), per
// PoseSeparatelyDampedConstantVelocityProcessModel::setDamping's (0,1) guard.
func NewDampedConstantVelocityProcessModel(positionDamping, orientationDamping float64) *DampedConstantVelocityProcessModel {
	if positionDamping <= 0 || positionDamping >= 1 {
		positionDamping = 0.3
	}
	if orientationDamping <= 0 || orientationDamping >= 1 {
		orientationDamping = 0.01
	}
	return &DampedConstantVelocityProcessModel{
		Noise:              [6]float64{0.01, 0.01, 0.01, 0.1, 0.1, 0.1},
		PositionDamping:    positionDamping,
		OrientationDamping: orientationDamping,
	}
}

// StateTransitionMatrix scales the linear- and angular-velocity blocks of
// A(dt) by their own damping^dt attenuation, per
// stateTransitionMatrixWithSeparateVelocityDamping.
func (m *DampedConstantVelocityProcessModel) StateTransitionMatrix(_ kalman.State, dt float64) mat.Matrix {
	a := stateTransitionMatrix(dt)
	posAttenuation := mathkernel.DecayPower(m.PositionDamping, dt)
	oriAttenuation := mathkernel.DecayPower(m.OrientationDamping, dt)
	for i := 6; i < 9; i++ {
		for j := 6; j < 9; j++ {
			a.Set(i, j, a.At(i, j)*posAttenuation)
		}
	}
	for i := 9; i < Dim; i++ {
		for j := 9; j < Dim; j++ {
			a.Set(i, j, a.At(i, j)*oriAttenuation)
		}
	}
	return a
}

// SampledProcessNoiseCovariance implements kalman.ProcessModel, identical
// to the undamped model's (the original shares getSampledProcessNoiseCovariance
// unmodified).
func (m *DampedConstantVelocityProcessModel) SampledProcessNoiseCovariance(dt float64) mat.Symmetric {
	return sampledProcessNoiseCovariance(m.Noise, dt)
}

// PredictState applies the velocity-driven estimate then separately
// dampens the linear and angular velocity blocks, per
// PoseSeparatelyDampedConstantVelocityProcessModel::computeEstimate.
func (m *DampedConstantVelocityProcessModel) PredictState(s kalman.State, dt float64) {
	st := s.(*State)
	st.ApplyVelocity(dt)
	st.SeparatelyDampenVelocities(m.PositionDamping, m.OrientationDamping, dt)
}
