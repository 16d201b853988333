package calibration

import "testing"

func TestOneEuroFilterFirstSampleIsPassthrough(t *testing.T) {
	f := NewOneEuroFilter(3, 1.0, 0.0, 1.0)
	in := []float64{1, 2, 3}
	out := f.Filter(0.1, in)
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("expected first sample passthrough at %d, got %v want %v", i, out[i], in[i])
		}
	}
}

func TestOneEuroFilterSmoothsConstantSignalToItself(t *testing.T) {
	f := NewOneEuroFilter(1, 1.0, 0.0, 1.0)
	var out []float64
	for i := 0; i < 10; i++ {
		out = f.Filter(0.1, []float64{5})
	}
	if out[0] < 4.999 || out[0] > 5.001 {
		t.Errorf("expected a constant input to converge to itself, got %v", out[0])
	}
}

func TestOneEuroFilterLagsASuddenStep(t *testing.T) {
	f := NewOneEuroFilter(1, 1.0, 0.0, 1.0)
	f.Filter(0.1, []float64{0})
	out := f.Filter(0.1, []float64{10})
	if out[0] <= 0 || out[0] >= 10 {
		t.Errorf("expected a step response to lag strictly between 0 and 10, got %v", out[0])
	}
}

func TestOneEuroFilterNonPositiveDtTreatedAsOne(t *testing.T) {
	f := NewOneEuroFilter(1, 1.0, 0.0, 1.0)
	f.Filter(0.1, []float64{0})
	out := f.Filter(0, []float64{1})
	if out[0] <= 0 || out[0] >= 1 {
		t.Errorf("expected a zero-dt step to still lag strictly between 0 and 1, got %v", out[0])
	}
}

func TestOneEuroFilterHigherBetaRespondsFaster(t *testing.T) {
	lowBeta := NewOneEuroFilter(1, 1.0, 0.0, 1.0)
	highBeta := NewOneEuroFilter(1, 1.0, 5.0, 1.0)

	lowBeta.Filter(0.1, []float64{0})
	highBeta.Filter(0.1, []float64{0})

	lowOut := lowBeta.Filter(0.1, []float64{10})
	highOut := highBeta.Filter(0.1, []float64{10})

	if highOut[0] <= lowOut[0] {
		t.Errorf("expected a higher beta to track the step more closely: low=%v high=%v", lowOut[0], highOut[0])
	}
}
