//go:build cgo
// +build cgo

package capture

import (
	"testing"
	"time"
)

func TestOpenCVCamera_Open(t *testing.T) {
	camera := NewOpenCVCamera()

	err := camera.Open(0, 640, 480, 30)
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	width, height := camera.GetActualResolution()
	if width <= 0 || height <= 0 {
		t.Errorf("Invalid resolution: %dx%d", width, height)
	}

	fps := camera.GetActualFPS()
	if fps <= 0 {
		t.Errorf("Invalid FPS: %d", fps)
	}
}

func TestOpenCVCamera_Grab(t *testing.T) {
	camera := NewOpenCVCamera()

	err := camera.Open(0, 640, 480, 30)
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	var frame Frame
	var grabErr error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		time.Sleep(100 * time.Millisecond)
		frame, grabErr = camera.Grab()
		if grabErr == nil {
			break
		}
	}
	if grabErr != nil {
		t.Fatalf("Failed to grab frame after %d attempts: %v", maxRetries, grabErr)
	}
	defer frame.Close()

	if frame.Gray.Cols() <= 0 || frame.Gray.Rows() <= 0 {
		t.Errorf("Invalid grayscale frame dimensions: %dx%d", frame.Gray.Cols(), frame.Gray.Rows())
	}
	if frame.Gray.Channels() != 1 {
		t.Errorf("expected single-channel grayscale frame, got %d channels", frame.Gray.Channels())
	}
	if frame.Timestamp.IsZero() {
		t.Error("expected non-zero trigger timestamp")
	}
}

func TestOpenCVCamera_DoubleOpen(t *testing.T) {
	camera := NewOpenCVCamera()

	err := camera.Open(0, 640, 480, 30)
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	err = camera.Open(0, 640, 480, 30)
	if err == nil {
		t.Error("Expected error when opening already opened camera")
	}
}

func TestOpenCVCamera_GrabWithoutOpen(t *testing.T) {
	camera := NewOpenCVCamera()

	_, err := camera.Grab()
	if err == nil {
		t.Error("Expected error when grabbing from unopened camera")
	}
}

func TestOpenCVCamera_InvalidDevice(t *testing.T) {
	camera := NewOpenCVCamera()

	err := camera.Open(999, 640, 480, 30)
	if err == nil {
		camera.Close()
		t.Skip("Device 999 unexpectedly exists")
	}

	if err.Error() == "" {
		t.Error("Expected non-empty error message")
	}
}

func TestOpenCVCamera_Close(t *testing.T) {
	camera := NewOpenCVCamera()

	err := camera.Open(0, 640, 480, 30)
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}

	if err = camera.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	// Second close should be safe
	if err = camera.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestEnumerateCameras(t *testing.T) {
	devices := EnumerateCameras(5)
	t.Logf("Found %d camera device(s): %v", len(devices), devices)
}

func BenchmarkOpenCVCamera_Grab(b *testing.B) {
	camera := NewOpenCVCamera()

	err := camera.Open(0, 640, 480, 30)
	if err != nil {
		b.Skipf("Skipping benchmark: no camera available: %v", err)
	}
	defer camera.Close()

	if f, err := camera.Grab(); err == nil {
		f.Close()
	}
	time.Sleep(100 * time.Millisecond)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		frame, err := camera.Grab()
		if err != nil {
			b.Fatalf("Grab failed: %v", err)
		}
		frame.Close()
	}
}
