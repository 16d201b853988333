// Package report implements the downstream reporting surface referenced as
// an external collaborator by SPEC_FULL.md §1/§6. It is intentionally kept
// outside the tracker core's public API: the tracker publishes body-pose
// snapshots to an interface, and this package is one concrete sink.
package report

import (
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"sync"
)

// BodyPose is the minimal per-body snapshot this sender transmits.
type BodyPose struct {
	BodyID                          int
	PositionX, PositionY, PositionZ float64
	QuatX, QuatY, QuatZ, QuatW       float64
	Valid                            bool
}

// OSCSender transmits body pose snapshots over OSC/UDP. Grounded on the
// teacher's VMC/OSC sender (pkg/miface/sender.go), generalized from VMC bone
// transforms to a single "/osvr/body/<id>/pose" address.
type OSCSender struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	enabled bool
}

// NewOSCSender creates a new OSC protocol sender targeting address:port.
func NewOSCSender(address string, port int) (*OSCSender, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", address, port))
	if err != nil {
		return nil, fmt.Errorf("resolving OSC address: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("connecting to OSC endpoint: %w", err)
	}

	return &OSCSender{conn: conn, enabled: true}, nil
}

// Send transmits a body pose snapshot.
func (s *OSCSender) Send(pose BodyPose) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.enabled || s.conn == nil {
		return nil
	}

	address := fmt.Sprintf("/osvr/body/%d/pose", pose.BodyID)
	msg := buildOSCMessage(address,
		float32(pose.PositionX), float32(pose.PositionY), float32(pose.PositionZ),
		float32(pose.QuatX), float32(pose.QuatY), float32(pose.QuatZ), float32(pose.QuatW),
		boolToInt32(pose.Valid),
	)
	if _, err := s.conn.Write(msg); err != nil {
		return fmt.Errorf("sending body pose: %w", err)
	}
	return nil
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// Close releases sender resources.
func (s *OSCSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.enabled = false
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// buildOSCMessage creates an OSC message with the given address and arguments.
func buildOSCMessage(address string, args ...interface{}) []byte {
	buf := make([]byte, 0, 256)

	buf = appendOSCString(buf, address)

	typeTag := ","
	for _, arg := range args {
		switch arg.(type) {
		case int32:
			typeTag += "i"
		case float32:
			typeTag += "f"
		case string:
			typeTag += "s"
		}
	}
	buf = appendOSCString(buf, typeTag)

	for _, arg := range args {
		switch v := arg.(type) {
		case int32:
			buf = appendInt32(buf, v)
		case float32:
			buf = appendFloat32(buf, v)
		case string:
			buf = appendOSCString(buf, v)
		}
	}

	return buf
}

// appendOSCString appends a null-terminated, 4-byte aligned string.
func appendOSCString(buf []byte, s string) []byte {
	buf = append(buf, []byte(s)...)
	buf = append(buf, 0)

	padding := (4 - (len(s)+1)%4) % 4
	for i := 0; i < padding; i++ {
		buf = append(buf, 0)
	}

	return buf
}

// appendInt32 appends a big-endian 32-bit integer.
func appendInt32(buf []byte, v int32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(v))
	return append(buf, b...)
}

// appendFloat32 appends a big-endian 32-bit float.
func appendFloat32(buf []byte, v float32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, math.Float32bits(v))
	return append(buf, b...)
}
