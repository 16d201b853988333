package beacon

import (
	"errors"
	"testing"

	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

func TestParseTableAcceptsValidRows(t *testing.T) {
	rows := []RawBeaconRow{
		{
			Pattern:                 "*.*.",
			LocationMM:               mathkernel.Vec3{10, 20, 30},
			EmissionDirection:        mathkernel.Vec3{0, 0, 1},
			BaseMeasurementVariance:  0.001,
			InitialAutocalibError:    1e-9,
			Fixed:                    false,
		},
	}

	table, err := ParseTable(rows)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Beacons[0].Disabled {
		t.Error("expected beacon to be enabled")
	}
	want := mathkernel.Vec3{0.01, 0.02, 0.03}
	if table.Beacons[0].Location != want {
		t.Errorf("location = %v, want %v (mm -> m)", table.Beacons[0].Location, want)
	}
}

func TestParseTableDisablesEmptyPattern(t *testing.T) {
	rows := []RawBeaconRow{{Pattern: "", EmissionDirection: mathkernel.Vec3{0, 0, 1}, BaseMeasurementVariance: 1}}
	table, err := ParseTable(rows)
	if err == nil {
		t.Fatal("expected error for empty pattern")
	}
	if !errors.Is(err, ErrInvalidBeaconTable) {
		t.Errorf("expected ErrInvalidBeaconTable, got %v", err)
	}
	if !table.Beacons[0].Disabled {
		t.Error("expected beacon to be disabled")
	}
}

func TestParseTableDisablesBadPatternChar(t *testing.T) {
	rows := []RawBeaconRow{{Pattern: "*X.", EmissionDirection: mathkernel.Vec3{0, 0, 1}, BaseMeasurementVariance: 1}}
	table, err := ParseTable(rows)
	if err == nil {
		t.Fatal("expected error for invalid pattern character")
	}
	if !table.Beacons[0].Disabled {
		t.Error("expected beacon to be disabled")
	}
}

func TestParseTableRejectsZeroEmissionDirection(t *testing.T) {
	rows := []RawBeaconRow{{
		Pattern:                 "*",
		EmissionDirection:       mathkernel.Vec3{},
		BaseMeasurementVariance: 1,
	}}
	_, err := ParseTable(rows)
	if err == nil {
		t.Fatal("expected error for zero emission direction")
	}
}

func TestParseTableRejectsNonPositiveVariance(t *testing.T) {
	rows := []RawBeaconRow{{
		Pattern:                 "*",
		EmissionDirection:       mathkernel.Vec3{0, 0, 1},
		BaseMeasurementVariance: 0,
	}}
	_, err := ParseTable(rows)
	if err == nil {
		t.Fatal("expected error for non-positive variance")
	}
}

func TestParseTableRejectsFixedFlagMismatch(t *testing.T) {
	rows := []RawBeaconRow{{
		Pattern:                 "*",
		EmissionDirection:       mathkernel.Vec3{0, 0, 1},
		BaseMeasurementVariance: 1,
		Fixed:                   true,
		InitialAutocalibError:   1e-9,
	}}
	_, err := ParseTable(rows)
	if err == nil {
		t.Fatal("expected error for fixed/initial-error mismatch")
	}
}

func TestTableCentroidIgnoresDisabled(t *testing.T) {
	table := &Table{Beacons: []Beacon{
		{Location: mathkernel.Vec3{0, 0, 0}},
		{Location: mathkernel.Vec3{2, 0, 0}},
		{Location: mathkernel.Vec3{100, 100, 100}, Disabled: true},
	}}
	centroid := table.Centroid()
	want := mathkernel.Vec3{1, 0, 0}
	if centroid != want {
		t.Errorf("centroid = %v, want %v", centroid, want)
	}
}

func TestTrackedLEDNoveltyResetsOnIdentityChange(t *testing.T) {
	led := NewTrackedLED(Measurement{X: 1, Y: 1})
	led.DecayNovelty()
	if led.Novelty() != 0 {
		t.Errorf("expected novelty 0 before identification, got %d", led.Novelty())
	}

	led.SetID(3)
	if led.Novelty() != MaxNovelty {
		t.Errorf("expected novelty reset to max on identity change, got %d", led.Novelty())
	}

	led.DecayNovelty()
	if led.Novelty() != MaxNovelty-1 {
		t.Errorf("expected novelty decayed by one, got %d", led.Novelty())
	}

	led.SetID(3)
	if led.Novelty() != MaxNovelty-1 {
		t.Errorf("expected novelty unchanged when identity repeats, got %d", led.Novelty())
	}
}

func TestTrackedLEDMarkMisidentifiedIsSticky(t *testing.T) {
	led := NewTrackedLED(Measurement{})
	led.SetID(2)
	led.MarkMisidentified()

	if led.Identified() {
		t.Error("expected misidentified LED to report not identified")
	}
	if led.ID() != SentinelMarkedMisidentified {
		t.Errorf("ID = %v, want SentinelMarkedMisidentified", led.ID())
	}
}

func TestTrackedLEDBrightnessHistoryBounded(t *testing.T) {
	led := NewTrackedLED(Measurement{Brightness: 0})
	for i := 0; i < BrightnessHistoryCap+5; i++ {
		led.AddMeasurement(Measurement{Brightness: float64(i)})
	}
	hist := led.BrightnessHistory()
	if len(hist) != BrightnessHistoryCap {
		t.Errorf("history length = %d, want %d", len(hist), BrightnessHistoryCap)
	}
	if hist[len(hist)-1] != float64(BrightnessHistoryCap+4) {
		t.Errorf("expected most recent sample retained, got %v", hist[len(hist)-1])
	}
}

func TestTrackedLEDUsedFlagLifecycle(t *testing.T) {
	led := NewTrackedLED(Measurement{})
	if led.WasUsedLastFrame() {
		t.Error("expected new LED to start unused")
	}
	led.MarkAsUsed()
	if !led.WasUsedLastFrame() {
		t.Error("expected MarkAsUsed to set used flag")
	}
	led.ResetUsed()
	if led.WasUsedLastFrame() {
		t.Error("expected ResetUsed to clear used flag")
	}
}

func TestBeaconStateFixedHasNoCovariance(t *testing.T) {
	b := Beacon{Location: mathkernel.Vec3{1, 2, 3}, Fixed: true, InitialAutocalibError: 0}
	s := NewState(b)
	if s.Covariance[0][0] != 0 {
		t.Errorf("expected zero covariance for fixed beacon, got %f", s.Covariance[0][0])
	}
}

func TestPredictConstantProcessGrowsCovariance(t *testing.T) {
	s := State{}
	PredictConstantProcess(&s, false, 1e-9, 2.0)
	if s.Covariance[0][0] != 2e-9 {
		t.Errorf("covariance[0][0] = %e, want 2e-9", s.Covariance[0][0])
	}
}

func TestPredictConstantProcessSkipsFixed(t *testing.T) {
	s := State{}
	PredictConstantProcess(&s, true, 1e-9, 2.0)
	if s.Covariance[0][0] != 0 {
		t.Errorf("expected fixed beacon covariance unchanged, got %e", s.Covariance[0][0])
	}
}
