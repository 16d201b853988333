// Package kalman implements a generic extended Kalman filter correction
// kernel, grounded on
// original_source/inc/osvr/Kalman/FlexibleKalmanCorrect.h and
// FlexibleKalmanBase.h. The two-phase begin/finish split is kept exactly as
// in the original: beginCorrection computes the innovation and the state
// correction before the caller gets a chance to bail out (for example after
// a residual gate check), and FinishCorrection applies it and lets the
// state do its own post-correction cleanup (re-externalizing a rotation,
// say).
//
// Unlike the Eigen-based original, the innovation covariance solve goes
// through gonum's Cholesky decomposition rather than forming S^-1 directly,
// which is the Go-ecosystem equivalent of the original's LDLT-based
// "denom.solve" pattern.
package kalman

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrNotPositiveDefinite is returned when the innovation covariance S is not
// positive definite and therefore cannot be Cholesky-decomposed.
var ErrNotPositiveDefinite = errors.New("kalman: innovation covariance is not positive definite")

// State is the minimal interface a filtered state must implement to
// participate in a correction.
type State interface {
	StateVector() mat.Vector
	SetStateVector(v mat.Vector)
	ErrorCovariance() mat.Symmetric
	SetErrorCovariance(p mat.Symmetric)
	// PostCorrect performs any state-specific cleanup after a correction is
	// applied, such as re-externalizing an incremental rotation.
	PostCorrect()
}

// Measurement is the minimal interface a measurement must implement.
// Jacobian has shape (m x n), Covariance is (m x m) and Residual is the
// innovation z - h(xhat), length m.
type Measurement interface {
	Jacobian(s State) mat.Matrix
	Covariance(s State) mat.Symmetric
	Residual(s State) mat.Vector
}

// ProcessModel advances a state by dt and supplies the corresponding
// process noise covariance, grounded on PoseConstantVelocity.h's
// getStateTransitionMatrix/getSampledProcessNoiseCovariance pair.
type ProcessModel interface {
	StateTransitionMatrix(s State, dt float64) mat.Matrix
	SampledProcessNoiseCovariance(dt float64) mat.Symmetric
	PredictState(s State, dt float64)
}

// Predict advances a state using a process model, implementing
// P- = A P A^T + Q the way FlexibleKalmanBase.predictErrorCovariance does,
// then delegates to the process model's own PredictState for xhat-.
func Predict(s State, pm ProcessModel, dt float64) {
	n, _ := s.ErrorCovariance().Dims()
	a := pm.StateTransitionMatrix(s, dt)
	p := s.ErrorCovariance()

	var ap mat.Dense
	ap.Mul(a, p)
	var apat mat.Dense
	apat.Mul(&ap, a.T())

	q := pm.SampledProcessNoiseCovariance(dt)

	var pMinus mat.Dense
	pMinus.Add(&apat, q)

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (pMinus.At(i, j) + pMinus.At(j, i))
			sym.SetSym(i, j, v)
		}
	}
	s.SetErrorCovariance(sym)

	pm.PredictState(s, dt)
}

// CorrectionInProgress mirrors osvr::kalman::CorrectionInProgress: it holds
// everything computed in BeginCorrection so the caller can inspect the
// innovation/gate it before committing with FinishCorrection.
type CorrectionInProgress struct {
	state State

	p   mat.Symmetric
	pht *mat.Dense
	chS *mat.Cholesky

	// Deltaz is the measurement residual/innovation.
	Deltaz *mat.VecDense
	// StateCorrection is the state delta that FinishCorrection would apply.
	StateCorrection *mat.VecDense
	// Finite reports whether StateCorrection is free of NaN/Inf, mirroring
	// stateCorrectionFinite in the original.
	Finite bool
}

// BeginCorrection computes the Kalman gain numerator (PHt), the innovation
// covariance S = H P H^T + R, and the resulting state correction, without
// yet mutating the state. It is the direct analogue of
// osvr::kalman::beginCorrection.
func BeginCorrection(s State, meas Measurement) (*CorrectionInProgress, error) {
	h := meas.Jacobian(s)
	r := meas.Covariance(s)
	p := s.ErrorCovariance()

	m, _ := r.Dims()
	n, _ := p.Dims()

	var ph mat.Dense
	ph.Mul(p, h.T())

	var hph mat.Dense
	hph.Mul(h, &ph)

	var sMat mat.Dense
	sMat.Add(&hph, r)

	sSym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			v := 0.5 * (sMat.At(i, j) + sMat.At(j, i))
			sSym.SetSym(i, j, v)
		}
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(sSym); !ok {
		return nil, ErrNotPositiveDefinite
	}

	deltaz := meas.Residual(s)
	deltazVec := toVecDense(deltaz)

	var solved mat.VecDense
	if err := chol.SolveVecTo(&solved, deltazVec); err != nil {
		return nil, fmt.Errorf("kalman: solving innovation: %w", err)
	}

	var correction mat.VecDense
	correction.MulVec(&ph, &solved)

	finite := true
	for i := 0; i < n; i++ {
		v := correction.AtVec(i)
		if isNonFinite(v) {
			finite = false
			break
		}
	}

	return &CorrectionInProgress{
		state:           s,
		p:               p,
		pht:             &ph,
		chS:             &chol,
		Deltaz:          deltazVec,
		StateCorrection: &correction,
		Finite:          finite,
	}, nil
}

// FinishCorrection applies the pending correction to the state: xhat = xhat
// + stateCorrection, P = P - PHt S^-1 (PHt)^T (solved via the cached
// Cholesky factorization rather than inverting S), followed by the state's
// own PostCorrect hook. If cancelIfNotFinite is true and the new covariance
// contains non-finite values, the correction is not applied and false is
// returned, exactly like the original's finishCorrection.
func (c *CorrectionInProgress) FinishCorrection(cancelIfNotFinite bool) (bool, error) {
	n, _ := c.p.Dims()

	var solvedPHtT mat.Dense
	if err := c.chS.SolveTo(&solvedPHtT, c.pht.T()); err != nil {
		return false, fmt.Errorf("kalman: solving gain term: %w", err)
	}

	var gainTerm mat.Dense
	gainTerm.Mul(c.pht, &solvedPHtT)

	newP := mat.NewDense(n, n, nil)
	newP.Sub(c.p, &gainTerm)

	if cancelIfNotFinite {
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if isNonFinite(newP.At(i, j)) {
					return false, nil
				}
			}
		}
	}

	newState := mat.NewVecDense(n, nil)
	newState.AddVec(c.state.StateVector(), c.StateCorrection)
	c.state.SetStateVector(newState)

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (newP.At(i, j) + newP.At(j, i))
			sym.SetSym(i, j, v)
		}
	}
	c.state.SetErrorCovariance(sym)

	c.state.PostCorrect()
	return true, nil
}

// Correct is the common case: begin a correction and immediately finish it,
// canceling if the state correction or resulting covariance is non-finite.
func Correct(s State, meas Measurement) (bool, error) {
	cip, err := BeginCorrection(s, meas)
	if err != nil {
		return false, err
	}
	if !cip.Finite {
		return false, nil
	}
	return cip.FinishCorrection(true)
}

func toVecDense(v mat.Vector) *mat.VecDense {
	if vd, ok := v.(*mat.VecDense); ok {
		return vd
	}
	n := v.Len()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		out.SetVec(i, v.AtVec(i))
	}
	return out
}

func isNonFinite(v float64) bool {
	return v != v || v > maxFinite || v < -maxFinite
}

const maxFinite = 1.7976931348623157e+308
