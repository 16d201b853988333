// Package calibration implements the room-calibration startup step: letting
// the camera's reported target pose and a body's IMU orientation converge
// on the camera's pose in room space and the IMU's yaw offset, grounded on
// RoomCalibration.h/.cpp.
package calibration

import "math"

// OneEuroFilter is a 1-euro low-pass filter over a fixed-size channel
// vector (3 for a position, 4 for quaternion coefficients), grounded on
// the algorithm behind EigenFilters.h's OneEuroFilter: an exponential
// moving average whose cutoff frequency widens with the signal's own
// derivative, trading lag for responsiveness only when the signal is
// actually moving fast.
type OneEuroFilter struct {
	minCutoff, beta, dCutoff float64

	initialized bool
	prevValue   []float64
	prevDeriv   []float64
}

// NewOneEuroFilter builds a filter for a channel vector of the given
// width. minCutoff sets the baseline smoothing; beta scales how much
// faster motion is allowed to widen the cutoff; dCutoff smooths the
// derivative estimate itself.
func NewOneEuroFilter(width int, minCutoff, beta, dCutoff float64) *OneEuroFilter {
	return &OneEuroFilter{
		minCutoff: minCutoff,
		beta:      beta,
		dCutoff:   dCutoff,
		prevValue: make([]float64, width),
		prevDeriv: make([]float64, width),
	}
}

func oneEuroAlpha(cutoff, dt float64) float64 {
	tau := 1.0 / (2 * math.Pi * cutoff)
	return 1.0 / (1.0 + tau/dt)
}

func lowpass(raw, alpha float64, prev float64, havePrev bool) float64 {
	if !havePrev {
		return raw
	}
	return alpha*raw + (1-alpha)*prev
}

// Filter runs one step of the filter over value, returning the smoothed
// output. dt must be positive.
func (f *OneEuroFilter) Filter(dt float64, value []float64) []float64 {
	if dt <= 0 {
		dt = 1
	}
	out := make([]float64, len(value))
	dAlpha := oneEuroAlpha(f.dCutoff, dt)
	for i, raw := range value {
		deriv := 0.0
		if f.initialized {
			deriv = (raw - f.prevValue[i]) / dt
		}
		smoothDeriv := lowpass(deriv, dAlpha, f.prevDeriv[i], f.initialized)
		cutoff := f.minCutoff + f.beta*math.Abs(smoothDeriv)
		alpha := oneEuroAlpha(cutoff, dt)
		out[i] = lowpass(raw, alpha, f.prevValue[i], f.initialized)
		f.prevDeriv[i] = smoothDeriv
	}
	f.prevValue = out
	f.initialized = true
	return out
}
