//go:build cgo
// +build cgo

package capture

import "image"

// Point2D is a minimal pixel-space point, kept independent of pkg/blobs so
// this package never needs to import tracking internals just to draw a dot.
type Point2D struct {
	X, Y float64
}

func toPoint(p Point2D) image.Point {
	return image.Point{X: int(p.X), Y: int(p.Y)}
}
