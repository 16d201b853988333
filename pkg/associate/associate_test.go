package associate

import (
	"testing"

	"github.com/osvr-go/unifiedtracker/pkg/beacon"
)

func TestAssignPicksNearestPairFirst(t *testing.T) {
	m := NewMatcher(10.0)
	ledPositions := [][2]float64{{0, 0}, {100, 100}}
	measurements := []Measurement{
		{X: 1, Y: 1, Diameter: 5},
		{X: 99, Y: 99, Diameter: 5},
	}

	matches := m.Assign(nil, ledPositions, measurements)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	seen := map[int]int{}
	for _, match := range matches {
		seen[match.LEDIndex] = match.MeasurementIndex
	}
	if seen[0] != 0 || seen[1] != 1 {
		t.Errorf("expected LED 0 -> meas 0 and LED 1 -> meas 1, got %v", seen)
	}
}

func TestAssignRejectsPairsBeyondThreshold(t *testing.T) {
	m := NewMatcher(1.0)
	ledPositions := [][2]float64{{0, 0}}
	measurements := []Measurement{{X: 1000, Y: 1000, Diameter: 2}}

	matches := m.Assign(nil, ledPositions, measurements)
	if len(matches) != 0 {
		t.Errorf("expected no matches beyond threshold, got %v", matches)
	}
}

func TestAssignDoesNotDoubleClaim(t *testing.T) {
	m := NewMatcher(100.0)
	ledPositions := [][2]float64{{0, 0}, {1, 1}}
	measurements := []Measurement{{X: 0, Y: 0, Diameter: 5}}

	matches := m.Assign(nil, ledPositions, measurements)
	if len(matches) != 1 {
		t.Fatalf("expected exactly 1 match when only one measurement exists, got %d", len(matches))
	}
	if matches[0].MeasurementIndex != 0 {
		t.Errorf("expected measurement 0 claimed, got %d", matches[0].MeasurementIndex)
	}
}

func TestAssignPrefersCloserLEDOverFartherOne(t *testing.T) {
	m := NewMatcher(1000.0)
	ledPositions := [][2]float64{{0, 0}, {2, 2}}
	measurements := []Measurement{{X: 1, Y: 1, Diameter: 5}}

	matches := m.Assign(nil, ledPositions, measurements)
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].LEDIndex != 0 {
		t.Errorf("expected the closer LED (index 0) to claim the measurement, got LED %d", matches[0].LEDIndex)
	}
}

func TestOutOfRangeIDsFlagsOnlyIdentifiedOverflow(t *testing.T) {
	ids := []beacon.ZeroBasedID{0, 5, beacon.SentinelNoIdentifierOrInsufficientData}
	out := OutOfRangeIDs(ids, 3)
	if len(out) != 1 || out[0] != 1 {
		t.Errorf("expected only index 1 flagged out of range, got %v", out)
	}
}
