//go:build cgo
// +build cgo

package capture

import (
	"image/color"
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// PreviewWindow provides a simple debug window for tracker diagnostics.
// OpenCV UI functions must be called from the main thread on Linux/X11.
type PreviewWindow struct {
	window   *gocv.Window
	frameCh  chan gocv.Mat
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

// NewPreviewWindow creates a new preview window with the given title.
func NewPreviewWindow(title string) *PreviewWindow {
	p := &PreviewWindow{
		frameCh:  make(chan gocv.Mat, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}

	go p.previewLoop(title)

	<-p.initDone

	return p
}

// previewLoop runs the OpenCV UI loop on a dedicated OS thread.
func (p *PreviewWindow) previewLoop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case frame := <-p.frameCh:
			p.window.IMShow(frame)
			p.window.WaitKey(1)
			frame.Close()

		case <-p.closeCh:
			if p.window != nil {
				p.window.Close()
			}
			close(p.doneCh)
			return
		}
	}
}

// Show displays a frame in the preview window.
// The frame is cloned internally, so the caller can close the original.
func (p *PreviewWindow) Show(frame gocv.Mat) {
	if frame.Empty() {
		return
	}

	cloned := frame.Clone()

	select {
	case p.frameCh <- cloned:
	default:
		cloned.Close() // Drop frame if preview is slow
	}
}

// ShowWithBlobs converts a grayscale frame to BGR and overlays a small circle
// at each blob center, for visualizing the output of the blob extractor
// (SPEC_FULL.md §4.4) alongside the raw image.
func (p *PreviewWindow) ShowWithBlobs(gray gocv.Mat, blobs []Point2D) {
	if gray.Empty() {
		return
	}

	annotated := gocv.NewMat()
	gocv.CvtColor(gray, &annotated, gocv.ColorGrayToBGR) //nolint:errcheck

	for _, b := range blobs {
		gocv.Circle(&annotated, toPoint(b), 5, color.RGBA{R: 0, G: 255, B: 0, A: 255}, 2)
	}

	p.Show(annotated)
	annotated.Close()
}

// Close closes the preview window and releases resources.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}
