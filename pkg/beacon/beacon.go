// Package beacon implements the rigid-body beacon model and the live,
// per-beacon auto-calibration state, grounded on
// original_source/plugins/unifiedvideoinertialtracker/LED.h and
// BeaconSetupData.cpp/.h.
package beacon

import (
	"errors"
	"fmt"

	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// ZeroBasedID is a 0-based beacon index, or one of the sentinel values
// below when negative. Mirrors LED.h's ZeroBasedBeaconId.
type ZeroBasedID int

// Sentinel identities, preserved verbatim from LED.h.
const (
	SentinelNoIdentifierOrInsufficientData ZeroBasedID = -1
	SentinelInsufficientExtremaDifference  ZeroBasedID = -2
	SentinelNoPatternRecognized            ZeroBasedID = -3
	SentinelMarkedMisidentified            ZeroBasedID = -4
)

// Identified reports whether id represents a positively identified beacon
// (non-negative).
func Identified(id ZeroBasedID) bool {
	return id >= 0
}

// OneBased converts a zero-based id to a one-based id for display purposes.
// Sentinels pass through unchanged.
func OneBased(id ZeroBasedID) int {
	if id < 0 {
		return int(id)
	}
	return int(id) + 1
}

// MaxNovelty is the value novelty is reset to on every identity change.
const MaxNovelty uint8 = 4

// Sentinel validation errors, per BeaconSetupData.cpp's table-checking.
var (
	ErrDisabledByEmptyPattern  = errors.New("beacon: disabled by empty pattern")
	ErrDisabledByBadChar       = errors.New("beacon: disabled by invalid pattern character")
	ErrBogusLocationSentinel   = errors.New("beacon: bogus location sentinel")
	ErrZeroEmissionDirection   = errors.New("beacon: zero emission direction")
	ErrNonPositiveVariance     = errors.New("beacon: non-positive variance")
	ErrFixedFlagMismatch       = errors.New("beacon: fixed flag inconsistent with zero initial error")
	ErrMismatchedArrayLengths  = errors.New("beacon: parallel beacon arrays have mismatched lengths")
)

// ErrInvalidBeaconTable is the structural error surfaced to callers when a
// beacon table fails validation, following the teacher's sentinel-error +
// errors.Is convention.
var ErrInvalidBeaconTable = errors.New("beacon: invalid beacon table")

// bogusLocationSentinel mirrors the reference implementation's convention
// of flagging an obviously-invalid location with a very large coordinate.
const bogusLocationSentinel = 1e10

// Beacon is one immutable, nominal LED position/behavior on the rigid body,
// grounded on BeaconSetupData.h's per-beacon fields.
type Beacon struct {
	// Disabled beacons still occupy a slot so array indices remain stable.
	Disabled bool

	// Location is the beacon's nominal position in target (body) frame, in
	// meters.
	Location mathkernel.Vec3

	// EmissionDirection is the unit vector the beacon's LED points along,
	// in target frame.
	EmissionDirection mathkernel.Vec3

	// BaseMeasurementVariance is the per-beacon measurement variance floor.
	BaseMeasurementVariance float64

	// InitialAutocalibError is the starting auto-calibration variance; zero
	// iff Fixed is true.
	InitialAutocalibError float64

	// Fixed beacons never participate in auto-calibration.
	Fixed bool

	// Pattern is the beacon's blink pattern ('*' bright / '.' dim per
	// frame), retained for the brightness-history identifier in
	// pkg/identify. Empty for disabled beacons.
	Pattern string
}

// Table is a validated, parallel-array beacon model for one rigid body.
type Table struct {
	Beacons []Beacon
}

// RawBeaconRow is the wire/YAML-facing parallel-array row shape consumed by
// ParseTable, mirroring the collaborator contract in SPEC_FULL.md §6.
type RawBeaconRow struct {
	Pattern                 string
	LocationMM              mathkernel.Vec3
	EmissionDirection       mathkernel.Vec3
	BaseMeasurementVariance float64
	InitialAutocalibError   float64
	Fixed                   bool
}

// ParseTable validates and converts raw beacon rows into a Table. Disabled
// beacons (empty pattern, or a pattern containing a character other than
// '*' or '.') are kept as disabled slots rather than removed, so indices
// stay 0-based and stable. A non-nil error means at least one row was
// disabled or failed validation; all
// well-formed rows are still returned in Table so construction is not
// all-or-nothing, following "the affected beacons are disabled" in
// SPEC_FULL.md §7.
func ParseTable(rows []RawBeaconRow) (*Table, error) {
	beacons := make([]Beacon, len(rows))
	var errs []error

	for i, row := range rows {
		b := Beacon{
			Location:                mathkernel.Scale(row.LocationMM, 0.001),
			EmissionDirection:       row.EmissionDirection,
			BaseMeasurementVariance: row.BaseMeasurementVariance,
			InitialAutocalibError:   row.InitialAutocalibError,
			Fixed:                   row.Fixed,
			Pattern:                 row.Pattern,
		}

		if row.Pattern == "" {
			b.Disabled = true
			errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrDisabledByEmptyPattern))
			beacons[i] = b
			continue
		}
		for _, c := range row.Pattern {
			if c != '*' && c != '.' {
				b.Disabled = true
				errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrDisabledByBadChar))
				break
			}
		}
		if b.Disabled {
			beacons[i] = b
			continue
		}

		if row.LocationMM[0] >= bogusLocationSentinel ||
			row.LocationMM[1] >= bogusLocationSentinel ||
			row.LocationMM[2] >= bogusLocationSentinel {
			errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrBogusLocationSentinel))
			b.Disabled = true
		}
		if mathkernel.Norm(row.EmissionDirection) == 0 {
			errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrZeroEmissionDirection))
			b.Disabled = true
		}
		if row.BaseMeasurementVariance <= 0 {
			errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrNonPositiveVariance))
			b.Disabled = true
		}
		if row.Fixed != (row.InitialAutocalibError == 0) {
			errs = append(errs, fmt.Errorf("beacon %d: %w", i, ErrFixedFlagMismatch))
		}

		beacons[i] = b
	}

	table := &Table{Beacons: beacons}
	if len(errs) > 0 {
		return table, fmt.Errorf("%w: %d of %d beacons rejected (%v)", ErrInvalidBeaconTable, len(errs), len(rows), errs[0])
	}
	return table, nil
}

// Centroid returns the mean location of all enabled beacons, used to
// compute the target's beacon-centroid offset (SPEC_FULL.md §4.7).
func (t *Table) Centroid() mathkernel.Vec3 {
	var sum mathkernel.Vec3
	n := 0
	for _, b := range t.Beacons {
		if b.Disabled {
			continue
		}
		sum = mathkernel.Add(sum, b.Location)
		n++
	}
	if n == 0 {
		return mathkernel.Vec3{}
	}
	return mathkernel.Scale(sum, 1.0/float64(n))
}

// State is the live, per-beacon auto-calibration position and covariance.
type State struct {
	Position   mathkernel.Vec3
	Covariance [3][3]float64
}

// NewState seeds a beacon's live auto-calibration state from its nominal
// model: the position starts at the nominal location, and the covariance
// is isotropic at InitialAutocalibError (zero for fixed beacons).
func NewState(b Beacon) State {
	var cov [3][3]float64
	if !b.Fixed {
		cov[0][0] = b.InitialAutocalibError
		cov[1][1] = b.InitialAutocalibError
		cov[2][2] = b.InitialAutocalibError
	}
	return State{Position: b.Location, Covariance: cov}
}

// PredictConstantProcess advances a non-fixed beacon state's covariance
// linearly by dt*processNoise (the "constant process" model referenced in
// SPEC_FULL.md §3); fixed beacons are left untouched.
func PredictConstantProcess(s *State, fixed bool, processNoise, dt float64) {
	if fixed {
		return
	}
	for i := 0; i < 3; i++ {
		s.Covariance[i][i] += processNoise * dt
	}
}
