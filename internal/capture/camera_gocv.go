//go:build cgo
// +build cgo

// Package capture provides the camera collaborator implementation: a
// gocv-backed grayscale frame source matching the FrameSource contract
// consumed by the blob extractor and tracker orchestrator.
package capture

import (
	"fmt"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

const (
	// fourccMJPEG is the FourCC code for Motion JPEG codec.
	// MJPEG is widely supported by USB webcams and provides good compression.
	fourccMJPEG = 0x47504A4D
)

// Frame is a single captured camera frame: grayscale Mat for tracking plus
// an optional color Mat for preview/debug display, with the trigger timestamp.
type Frame struct {
	Gray      gocv.Mat
	Color     gocv.Mat
	Timestamp time.Time
}

// Close releases both Mats. Safe to call even if one is empty.
func (f *Frame) Close() {
	f.Gray.Close()
	f.Color.Close()
}

// OpenCVCamera implements the camera input collaborator using OpenCV via GoCV.
//
// Implementation notes:
//   - Uses V4L2 backend on Linux to avoid GStreamer "Internal data stream error"
//   - Sets MJPEG codec explicitly for maximum USB webcam compatibility
//   - Emits grayscale frames, since blob detection (SPEC_FULL.md §4.4) only
//     needs luminance
//   - Thread-safe: mu protects all fields and camera operations
type OpenCVCamera struct {
	mu sync.Mutex

	deviceID int
	width    int
	height   int
	fps      int

	webcam *gocv.VideoCapture
	opened bool
}

// NewOpenCVCamera creates a new OpenCV-based camera source.
func NewOpenCVCamera() *OpenCVCamera {
	return &OpenCVCamera{}
}

// Open initializes the camera with the given configuration.
func (c *OpenCVCamera) Open(deviceID, width, height, fps int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera already opened")
	}

	webcam, err := gocv.OpenVideoCaptureWithAPI(deviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("failed to open camera device %d: %w", deviceID, err)
	}

	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("camera device %d not found or unavailable", deviceID)
	}

	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)

	if width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	if fps > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(fps))
	}

	actualWidth := webcam.Get(gocv.VideoCaptureFrameWidth)
	actualHeight := webcam.Get(gocv.VideoCaptureFrameHeight)
	actualFPS := webcam.Get(gocv.VideoCaptureFPS)

	c.deviceID = deviceID
	c.width = int(actualWidth)
	c.height = int(actualHeight)
	c.fps = int(actualFPS)
	c.webcam = webcam
	c.opened = true

	// Warm up camera - read and discard first frame
	warmupMat := gocv.NewMat()
	c.webcam.Read(&warmupMat)
	warmupMat.Close()

	return nil
}

// Grab triggers a capture and returns the grayscale and color frames plus a
// trigger timestamp, matching the tracker orchestrator's "record the trigger
// timestamp as the frame's nominal time" contract (SPEC_FULL.md §4.9 step 1).
func (c *OpenCVCamera) Grab() (Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return Frame{}, fmt.Errorf("camera not opened")
	}

	triggerTime := time.Now()

	color := gocv.NewMat()
	if ok := c.webcam.Read(&color); !ok {
		color.Close()
		return Frame{}, fmt.Errorf("failed to read frame from camera")
	}
	if color.Empty() {
		color.Close()
		return Frame{}, fmt.Errorf("captured frame is empty")
	}

	gray := gocv.NewMat()
	gocv.CvtColor(color, &gray, gocv.ColorBGRToGray) //nolint:errcheck

	return Frame{Gray: gray, Color: color, Timestamp: triggerTime}, nil
}

// Close releases camera resources.
func (c *OpenCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}

	if c.webcam != nil {
		if err := c.webcam.Close(); err != nil {
			c.opened = false
			return fmt.Errorf("closing webcam: %w", err)
		}
	}

	c.opened = false
	return nil
}

// GetActualResolution returns the actual configured resolution.
func (c *OpenCVCamera) GetActualResolution() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// GetActualFPS returns the actual configured frame rate.
func (c *OpenCVCamera) GetActualFPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// EnumerateCameras attempts to detect available camera devices.
// Best-effort; may not work on all systems.
func EnumerateCameras(maxDevices int) []int {
	var devices []int

	if maxDevices <= 0 {
		maxDevices = 10
	}

	for i := 0; i < maxDevices; i++ {
		cam, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cam.IsOpened() {
			devices = append(devices, i)
		}
		cam.Close()
	}

	return devices
}
