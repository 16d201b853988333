// Package associate implements greedy nearest-neighbor assignment of blob
// measurements to tracked LEDs via a min-heap over squared pixel distance,
// grounded on AssignMeasurementsToLeds.h. Each LED and each measurement may
// be claimed at most once; candidate pairs whose distance exceeds a
// per-measurement threshold (proportional to the measurement's diameter)
// are never pushed onto the heap at all.
package associate

import (
	"container/heap"

	"github.com/osvr-go/unifiedtracker/pkg/beacon"
)

// Measurement is the minimal per-blob data the matcher needs: a location
// and a diameter used to scale the distance-threshold gate.
type Measurement struct {
	X, Y     float64
	Diameter float64
}

// Match pairs a tracked LED index with a measurement index.
type Match struct {
	LEDIndex         int
	MeasurementIndex int
}

type candidateEntry struct {
	ledIdx, measIdx int
	sqDist          float64
}

type candidateHeap []candidateEntry

func (h candidateHeap) Len() int            { return len(h) }
func (h candidateHeap) Less(i, j int) bool  { return h[i].sqDist < h[j].sqDist }
func (h candidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *candidateHeap) Push(x interface{}) { *h = append(*h, x.(candidateEntry)) }
func (h *candidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Matcher associates measurements to tracked LED locations by distance,
// honoring a per-measurement movement threshold.
type Matcher struct {
	blobMoveThreshFactor float64
}

// NewMatcher builds a matcher; blobMoveThreshFactor scales each
// measurement's diameter into its maximum allowed jump distance, matching
// AssignMeasurementsToLeds::getDistanceThresholdSquared.
func NewMatcher(blobMoveThreshFactor float64) *Matcher {
	return &Matcher{blobMoveThreshFactor: blobMoveThreshFactor}
}

// Assign greedily matches LEDs to measurements in increasing order of
// squared distance. Each LED and measurement index appears in at most one
// returned Match. Out-of-range beacon identities are not checked here; the
// caller finds them with OutOfRangeIDs and marks them misidentified before
// matching (handleOutOfRangeIds in the original).
func (m *Matcher) Assign(ledLocations []beacon.Beacon, ledPositions [][2]float64, measurements []Measurement) []Match {
	h := &candidateHeap{}
	for measIdx, meas := range measurements {
		threshold := m.blobMoveThreshFactor * meas.Diameter
		distThreshSq := threshold * threshold
		for ledIdx, ledPos := range ledPositions {
			dx := ledPos[0] - meas.X
			dy := ledPos[1] - meas.Y
			sq := dx*dx + dy*dy
			if sq < distThreshSq {
				heap.Push(h, candidateEntry{ledIdx: ledIdx, measIdx: measIdx, sqDist: sq})
			}
		}
	}

	ledClaimed := make([]bool, len(ledPositions))
	measClaimed := make([]bool, len(measurements))

	var matches []Match
	for h.Len() > 0 {
		entry := heap.Pop(h).(candidateEntry)
		if ledClaimed[entry.ledIdx] || measClaimed[entry.measIdx] {
			continue
		}
		ledClaimed[entry.ledIdx] = true
		measClaimed[entry.measIdx] = true
		matches = append(matches, Match{LEDIndex: entry.ledIdx, MeasurementIndex: entry.measIdx})
	}
	return matches
}

// OutOfRangeIDs reports which LED indices hold an identified beacon index
// that is numBeacons or larger, per handleOutOfRangeIds: these should be marked
// misidentified by the caller before being offered to Assign.
func OutOfRangeIDs(ids []beacon.ZeroBasedID, numBeacons int) []int {
	var out []int
	for i, id := range ids {
		if beacon.Identified(id) && int(id) >= numBeacons {
			out = append(out, i)
		}
	}
	return out
}
