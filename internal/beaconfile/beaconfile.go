// Package beaconfile loads a rigid body's beacon table from a YAML fixture
// file, for use by tests and the trackerd run and calibrate subcommands. The hot
// tracking path never touches this package: pkg/beacon.ParseTable is the
// core's actual input boundary, and this is simply one convenient way to
// produce the parallel-array rows it expects from a file on disk.
package beaconfile

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/osvr-go/unifiedtracker/pkg/beacon"
	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// beaconYAML is the on-disk shape of one beacon row, kept separate from
// beacon.RawBeaconRow so the YAML field names can stay snake_case without
// imposing tags on the core's own type.
type beaconYAML struct {
	Pattern                 string     `yaml:"pattern"`
	LocationMM              [3]float64 `yaml:"location_mm"`
	EmissionDirection       [3]float64 `yaml:"emission_direction"`
	BaseMeasurementVariance float64    `yaml:"base_measurement_variance"`
	InitialAutocalibError   float64    `yaml:"initial_autocalib_error"`
	Fixed                   bool       `yaml:"fixed"`
}

// fileYAML is the top-level document shape: a single rigid body's full
// beacon table.
type fileYAML struct {
	Beacons []beaconYAML `yaml:"beacons"`
}

// Load reads a beacon table from a YAML file at path and validates it via
// beacon.ParseTable. A non-nil error from ParseTable is still returned
// alongside a usable *beacon.Table, matching ParseTable's own
// not-all-or-nothing contract.
func Load(path string) (*beacon.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("beaconfile: read %s: %w", path, err)
	}

	var doc fileYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("beaconfile: parse %s: %w", path, err)
	}

	rows := make([]beacon.RawBeaconRow, len(doc.Beacons))
	for i, b := range doc.Beacons {
		rows[i] = beacon.RawBeaconRow{
			Pattern:                 b.Pattern,
			LocationMM:              mathkernel.Vec3(b.LocationMM),
			EmissionDirection:       mathkernel.Vec3(b.EmissionDirection),
			BaseMeasurementVariance: b.BaseMeasurementVariance,
			InitialAutocalibError:   b.InitialAutocalibError,
			Fixed:                   b.Fixed,
		}
	}

	return beacon.ParseTable(rows)
}

// Save writes table back out as a YAML fixture, the inverse of Load.
func Save(path string, table *beacon.Table) error {
	doc := fileYAML{Beacons: make([]beaconYAML, len(table.Beacons))}
	for i, b := range table.Beacons {
		doc.Beacons[i] = beaconYAML{
			Pattern:                 b.Pattern,
			LocationMM:              [3]float64(mathkernel.Scale(b.Location, 1000)),
			EmissionDirection:       [3]float64(b.EmissionDirection),
			BaseMeasurementVariance: b.BaseMeasurementVariance,
			InitialAutocalibError:   b.InitialAutocalibError,
			Fixed:                   b.Fixed,
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("beaconfile: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("beaconfile: write %s: %w", path, err)
	}
	return nil
}
