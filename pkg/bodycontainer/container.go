//go:build cgo
// +build cgo

// Package bodycontainer implements the per-rigid-body container that owns
// a body's pose state, process model, target and IMU collaborators, and a
// pruned time-ordered history of past states used to replay IMU
// measurements that arrive out of order relative to camera frames.
// Grounded on TrackedBody.h/.cpp and StateHistory.h.
package bodycontainer

import (
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/osvr-go/unifiedtracker/pkg/bodystate"
	"github.com/osvr-go/unifiedtracker/pkg/kalman"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
	"github.com/osvr-go/unifiedtracker/pkg/target"
)

// Snapshot is a point-in-time backup of a body's filter state, grounded on
// StateHistoryEntry<State>: the state vector, its error covariance, and
// (since the filter uses externalized rotation) the maintained quaternion,
// all copied out so later filter updates cannot mutate the archived entry.
type Snapshot struct {
	StateVector []float64
	Covariance  []float64 // row-major Dim x Dim
	Quaternion  mathkernel.Quaternion
}

// snapshotOf copies a body's current state into a new Snapshot, per
// StateHistoryEntryBase's constructor.
func snapshotOf(s *bodystate.State) Snapshot {
	vec := s.StateVector()
	n := vec.Len()
	sv := make([]float64, n)
	for i := 0; i < n; i++ {
		sv[i] = vec.AtVec(i)
	}

	cov := s.ErrorCovariance()
	covFlat := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			covFlat[i*n+j] = cov.At(i, j)
		}
	}

	return Snapshot{StateVector: sv, Covariance: covFlat, Quaternion: s.Quaternion()}
}

// restore writes a Snapshot back into a body's live state, per
// StateHistoryEntry::restore.
func (snap Snapshot) restore(s *bodystate.State) {
	n := len(snap.StateVector)
	vec := mat.NewVecDense(n, append([]float64(nil), snap.StateVector...))
	s.SetStateVector(vec)

	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			cov.SetSym(i, j, snap.Covariance[i*n+j])
		}
	}
	s.SetErrorCovariance(cov)

	s.SetQuaternion(snap.Quaternion)
}

// HistorySnapshotter stores and retrieves timestamped Snapshots in
// ascending time order. The in-memory implementation is the hot-path
// default; internal/history provides a badger-backed variant for the
// calibrate subcommand, where history needs to survive a process restart.
type HistorySnapshotter interface {
	// PushNewest records a snapshot that is newer than every existing entry.
	PushNewest(t time.Time, snap Snapshot)
	// ClosestNotNewer returns the latest entry at or before t, per
	// HistoryContainer::closest_not_newer.
	ClosestNotNewer(t time.Time) (time.Time, Snapshot, bool)
	// PopBefore discards every entry strictly older than t, per
	// HistoryContainer::pop_before, returning the count removed.
	PopBefore(t time.Time) int
	// PopAfter discards every entry strictly newer than t, per
	// HistoryContainer::pop_after, returning the count removed.
	PopAfter(t time.Time) int
	// NewestTimestamp returns the timestamp of the most recent entry.
	NewestTimestamp() (time.Time, bool)
	// Empty reports whether the history holds no entries.
	Empty() bool
}

// MemoryHistory is the default in-memory HistorySnapshotter, a slice kept
// sorted by ascending timestamp.
type MemoryHistory struct {
	entries []historyEntry
}

type historyEntry struct {
	t    time.Time
	snap Snapshot
}

// NewMemoryHistory constructs an empty in-memory history.
func NewMemoryHistory() *MemoryHistory { return &MemoryHistory{} }

func (h *MemoryHistory) PushNewest(t time.Time, snap Snapshot) {
	h.entries = append(h.entries, historyEntry{t: t, snap: snap})
}

func (h *MemoryHistory) ClosestNotNewer(t time.Time) (time.Time, Snapshot, bool) {
	for i := len(h.entries) - 1; i >= 0; i-- {
		if !h.entries[i].t.After(t) {
			return h.entries[i].t, h.entries[i].snap, true
		}
	}
	return time.Time{}, Snapshot{}, false
}

func (h *MemoryHistory) PopBefore(t time.Time) int {
	var kept []historyEntry
	removed := 0
	for _, e := range h.entries {
		if e.t.Before(t) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
	return removed
}

func (h *MemoryHistory) PopAfter(t time.Time) int {
	var kept []historyEntry
	removed := 0
	for _, e := range h.entries {
		if e.t.After(t) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	h.entries = kept
	return removed
}

func (h *MemoryHistory) NewestTimestamp() (time.Time, bool) {
	if len(h.entries) == 0 {
		return time.Time{}, false
	}
	return h.entries[len(h.entries)-1].t, true
}

func (h *MemoryHistory) Empty() bool { return len(h.entries) == 0 }

// IMUSource is the subset of a tracked body's IMU collaborator the
// container needs for history pruning: just the timestamp of its last
// accepted measurement, per TrackedBodyIMU::getLastUpdate.
type IMUSource interface {
	LastUpdate() (time.Time, bool)
}

// Container owns one rigid body's pose state, process model, target, and
// optional IMU, plus the pruned state history needed to replay out-of-order
// IMU measurements against past camera-driven corrections.
type Container struct {
	State        *bodystate.State
	ProcessModel kalman.ProcessModel
	Target       *target.Target
	IMU          IMUSource

	history   HistorySnapshotter
	stateTime time.Time
}

// New builds a container around an already-constructed state, process
// model and target. Target may be nil until createTarget-equivalent setup
// runs; IMU may be nil if the body has no integrated inertial sensor.
func New(state *bodystate.State, processModel kalman.ProcessModel, tgt *target.Target, history HistorySnapshotter) *Container {
	if history == nil {
		history = NewMemoryHistory()
	}
	// Initial error covariance diagonal set large for safety, per
	// TrackedBody's constructor.
	cov := mat.NewSymDense(bodystate.Dim, nil)
	for i := 0; i < bodystate.Dim; i++ {
		cov.SetSym(i, i, 10)
	}
	state.SetErrorCovariance(cov)

	return &Container{State: state, ProcessModel: processModel, Target: tgt, history: history}
}

// StateTime returns the timestamp of the container's live state.
func (c *Container) StateTime() time.Time { return c.stateTime }

// RecordSnapshot archives the container's current live state at t, per
// TrackedBody's pattern of pushing a StateHistoryEntry each frame.
func (c *Container) RecordSnapshot(t time.Time) {
	c.history.PushNewest(t, snapshotOf(c.State))
	c.stateTime = t
}

// GetStateAtOrBefore looks up the most recent archived state at or before
// desiredTime, restoring it into outState without touching the container's
// live state. Returns false if no such entry exists, per
// TrackedBody::getStateAtOrBefore.
func (c *Container) GetStateAtOrBefore(desiredTime time.Time, outState *bodystate.State) (time.Time, bool) {
	t, snap, ok := c.history.ClosestNotNewer(desiredTime)
	if !ok {
		return time.Time{}, false
	}
	snap.restore(outState)
	return t, true
}

// ReplaceStateSnapshot discards every archived state newer than origTime,
// pushes newState as the newest entry at newTime, and adopts it as the
// live state. Per TrackedBody::replaceStateSnapshot, this assumes a single
// camera whose measurements always lag the most recent IMU sample, so the
// only history ever replayed after a rewind is IMU-sourced.
func (c *Container) ReplaceStateSnapshot(origTime, newTime time.Time, newState *bodystate.State) {
	c.history.PopAfter(origTime)
	c.history.PushNewest(newTime, snapshotOf(newState))
	c.State = newState
	c.stateTime = newTime
}

// PruneHistory discards every archived state older than the oldest
// timestamp any measurement source (the target or the IMU) might still
// need to replay against, per TrackedBody::pruneHistory. At least one
// entry is always left behind.
func (c *Container) PruneHistory() {
	if c.history.Empty() {
		return
	}

	oldest, haveOldest := c.oldestPossibleMeasurementSource()
	if !haveOldest {
		return
	}

	newest, _ := c.history.NewestTimestamp()
	if newest.Before(oldest) {
		oldest = newest
	}

	c.history.PopBefore(oldest)
}

func (c *Container) oldestPossibleMeasurementSource() (time.Time, bool) {
	var oldest time.Time
	var have bool

	update := func(t time.Time, ok bool) {
		if !ok {
			return
		}
		if !have || t.Before(oldest) {
			oldest = t
			have = true
		}
	}

	if c.Target != nil {
		update(c.Target.LastUpdate())
	}
	if c.IMU != nil {
		update(c.IMU.LastUpdate())
	}
	return oldest, have
}

// HasPoseEstimate reports whether the body's target currently carries an
// accepted pose (IMU-only bodies without a vision target never do), per
// TrackedBody::hasPoseEstimate.
func (c *Container) HasPoseEstimate() bool {
	if c.Target == nil {
		return false
	}
	return c.Target.HasPoseEstimate()
}
