// Package imuserial is an optional reference IMU source: it reads a
// line-oriented text protocol off a serial port and turns each line into
// one of the two callback shapes the tracker core's IMU input expects
// (orientation(tv, q) / angular_velocity(tv, delta_q, dt)). The physical
// link is an external collaborator to the core; this package exists only
// to give it one concrete, exercised implementation.
//
// Line protocol (one sample per line, fields space-separated):
//
//	O <bodyID> <unixNanos> <qx> <qy> <qz> <qw>
//	V <bodyID> <unixNanos> <dqx> <dqy> <dqz> <dqw> <dtSeconds>
//
// Unparseable or malformed lines are logged and skipped rather than
// treated as fatal, matching a serial link's inherent unreliability.
package imuserial

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/osvr-go/unifiedtracker/pkg/mathkernel"
)

// Sink receives parsed IMU samples. pkg/tracker.Tracker satisfies this
// directly via its SubmitOrientation/SubmitAngularVelocity methods.
type Sink interface {
	SubmitOrientation(bodyID int, tv time.Time, q mathkernel.Quaternion) error
	SubmitAngularVelocity(bodyID int, tv time.Time, deltaQ mathkernel.Quaternion, dt float64) error
}

// DefaultMode is the serial mode used by reference IMU firmware: 115200
// baud, 8N1, matching the one other serial collaborator in this design's
// reference material.
var DefaultMode = &serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// Port reads IMU samples from a serial port and dispatches them to a Sink.
type Port struct {
	port serial.Port
}

// Open opens portName with mode (DefaultMode if nil).
func Open(portName string, mode *serial.Mode) (*Port, error) {
	if mode == nil {
		mode = DefaultMode
	}
	p, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("imuserial: open %s: %w", portName, err)
	}
	return &Port{port: p}, nil
}

// Close closes the underlying serial port.
func (p *Port) Close() error {
	return p.port.Close()
}

// Run scans lines from the port until ctx is canceled or the port's read
// fails, dispatching each successfully parsed sample to sink. Intended to
// be run on its own goroutine by the host application, mirroring the one
// other serial reader in this design's reference material.
func (p *Port) Run(ctx context.Context, sink Sink) error {
	scan := bufio.NewScanner(p.port)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scan.Scan() {
			return scan.Err()
		}
		line := scan.Text()
		if err := dispatchLine(line, sink); err != nil {
			log.Printf("imuserial: %v", err)
		}
	}
}

func dispatchLine(line string, sink Sink) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "O":
		return dispatchOrientation(fields, sink)
	case "V":
		return dispatchAngularVelocity(fields, sink)
	default:
		return fmt.Errorf("unrecognized line kind %q", fields[0])
	}
}

func dispatchOrientation(fields []string, sink Sink) error {
	if len(fields) != 7 {
		return fmt.Errorf("orientation line: expected 7 fields, got %d", len(fields))
	}
	bodyID, tv, err := parseHeader(fields[1], fields[2])
	if err != nil {
		return fmt.Errorf("orientation line: %w", err)
	}
	q, err := parseQuaternion(fields[3:7])
	if err != nil {
		return fmt.Errorf("orientation line: %w", err)
	}
	return sink.SubmitOrientation(bodyID, tv, q)
}

func dispatchAngularVelocity(fields []string, sink Sink) error {
	if len(fields) != 8 {
		return fmt.Errorf("angular_velocity line: expected 8 fields, got %d", len(fields))
	}
	bodyID, tv, err := parseHeader(fields[1], fields[2])
	if err != nil {
		return fmt.Errorf("angular_velocity line: %w", err)
	}
	deltaQ, err := parseQuaternion(fields[3:7])
	if err != nil {
		return fmt.Errorf("angular_velocity line: %w", err)
	}
	dt, err := strconv.ParseFloat(fields[7], 64)
	if err != nil {
		return fmt.Errorf("angular_velocity line: bad dt: %w", err)
	}
	return sink.SubmitAngularVelocity(bodyID, tv, deltaQ, dt)
}

func parseHeader(bodyField, tvField string) (int, time.Time, error) {
	bodyID, err := strconv.Atoi(bodyField)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bad body id: %w", err)
	}
	nanos, err := strconv.ParseInt(tvField, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("bad timestamp: %w", err)
	}
	return bodyID, time.Unix(0, nanos), nil
}

func parseQuaternion(fields []string) (mathkernel.Quaternion, error) {
	v := make([]float64, 4)
	for i, f := range fields {
		x, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return mathkernel.Quaternion{}, fmt.Errorf("bad quaternion component: %w", err)
		}
		v[i] = x
	}
	return mathkernel.Quaternion{X: v[0], Y: v[1], Z: v[2], W: v[3]}, nil
}
