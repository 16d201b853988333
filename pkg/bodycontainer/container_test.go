//go:build cgo
// +build cgo

package bodycontainer

import (
	"testing"
	"time"

	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

func TestNewSetsLargeInitialErrorCovariance(t *testing.T) {
	state := bodystate.New()
	pm := bodystate.NewConstantVelocityProcessModel()
	c := New(state, pm, nil, nil)

	cov := c.State.ErrorCovariance()
	if got := cov.At(0, 0); got != 10 {
		t.Errorf("expected initial position error variance 10, got %v", got)
	}
}

func TestRecordAndRestoreSnapshotRoundTrips(t *testing.T) {
	state := bodystate.New()
	state.SetPosition(mathkernel.Vec3{1, 2, 3})
	pm := bodystate.NewConstantVelocityProcessModel()
	c := New(state, pm, nil, nil)

	base := time.Unix(1000, 0)
	c.RecordSnapshot(base)

	state.SetPosition(mathkernel.Vec3{9, 9, 9})
	c.RecordSnapshot(base.Add(time.Second))

	out := bodystate.New()
	foundAt, ok := c.GetStateAtOrBefore(base, out)
	if !ok {
		t.Fatal("expected a snapshot at or before the base timestamp")
	}
	if !foundAt.Equal(base) {
		t.Errorf("expected snapshot timestamp %v, got %v", base, foundAt)
	}
	if out.Position() != (mathkernel.Vec3{1, 2, 3}) {
		t.Errorf("expected restored position {1,2,3}, got %+v", out.Position())
	}
}

func TestGetStateAtOrBeforeReturnsFalseWhenHistoryEmpty(t *testing.T) {
	state := bodystate.New()
	pm := bodystate.NewConstantVelocityProcessModel()
	c := New(state, pm, nil, nil)

	out := bodystate.New()
	if _, ok := c.GetStateAtOrBefore(time.Now(), out); ok {
		t.Error("expected no snapshot to be found in an empty history")
	}
}

func TestReplaceStateSnapshotDiscardsNewerEntries(t *testing.T) {
	state := bodystate.New()
	pm := bodystate.NewConstantVelocityProcessModel()
	c := New(state, pm, nil, nil)

	base := time.Unix(2000, 0)
	c.RecordSnapshot(base)
	c.RecordSnapshot(base.Add(time.Second))
	c.RecordSnapshot(base.Add(2 * time.Second))

	replacement := bodystate.New()
	replacement.SetPosition(mathkernel.Vec3{5, 5, 5})
	c.ReplaceStateSnapshot(base, base.Add(500*time.Millisecond), replacement)

	newest, ok := c.history.NewestTimestamp()
	if !ok {
		t.Fatal("expected a newest timestamp after replacement")
	}
	if !newest.Equal(base.Add(500 * time.Millisecond)) {
		t.Errorf("expected newest timestamp to be the replacement time, got %v", newest)
	}
	if c.State.Position() != (mathkernel.Vec3{5, 5, 5}) {
		t.Error("expected the live state to be swapped to the replacement")
	}
}

func TestHasPoseEstimateFalseWithoutTarget(t *testing.T) {
	state := bodystate.New()
	pm := bodystate.NewConstantVelocityProcessModel()
	c := New(state, pm, nil, nil)

	if c.HasPoseEstimate() {
		t.Error("expected no pose estimate for a container without a target")
	}
}

func TestMemoryHistoryPopBeforeRemovesOnlyOlderEntries(t *testing.T) {
	h := NewMemoryHistory()
	base := time.Unix(3000, 0)
	h.PushNewest(base, Snapshot{})
	h.PushNewest(base.Add(time.Second), Snapshot{})
	h.PushNewest(base.Add(2*time.Second), Snapshot{})

	removed := h.PopBefore(base.Add(time.Second))
	if removed != 1 {
		t.Errorf("expected exactly 1 entry removed, got %d", removed)
	}
	if h.Empty() {
		t.Error("expected entries to remain after a partial prune")
	}
}
