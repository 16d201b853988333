//go:build cgo
// +build cgo

// Package blobs implements the adaptive-threshold blob extractor, grounded
// on SPEC_FULL.md §4.4 and the ConfigParams.h BlobParams defaults captured
// in internal/config. gocv provides the thresholding, contour extraction,
// and moment computation the original's SBDBlobExtractor performs through
// OpenCV.
package blobs

import (
	"image"
	"sort"

	"gocv.io/x/gocv"

	"github.com/osvr-go/unifiedtracker/internal/config"
)

// Blob is one extracted, possibly-undistorted centroid.
type Blob struct {
	X, Y        float64
	Diameter    float64
	Area        float64
	Circularity float64
}

// Extractor runs the adaptive multi-threshold contour extraction described
// in SPEC_FULL.md §4.4.
type Extractor struct {
	params config.BlobConfig
}

// NewExtractor builds an extractor from blob-detector configuration.
func NewExtractor(params config.BlobConfig) *Extractor {
	return &Extractor{params: params}
}

// Extract finds blob candidates in a grayscale image. Thresholds step
// between min_alpha and max_alpha of the image's min/max pixel value,
// clamped below by AbsoluteMinThreshold, across ThresholdSteps discrete
// levels; centroids within MinDistBetweenBlobs of each other across levels
// are clustered into one blob.
func (e *Extractor) Extract(gray gocv.Mat) []Blob {
	minVal, maxVal, _, _ := gocv.MinMaxIdx(gray)

	steps := e.params.ThresholdSteps
	if steps < 1 {
		steps = 1
	}

	var candidates []Blob
	for i := 0; i < steps; i++ {
		alpha := e.params.MinThresholdAlpha
		if steps > 1 {
			frac := float64(i) / float64(steps-1)
			alpha = e.params.MinThresholdAlpha + frac*(e.params.MaxThresholdAlpha-e.params.MinThresholdAlpha)
		}
		threshold := minVal + alpha*(maxVal-minVal)
		if threshold < e.params.AbsoluteMinThreshold {
			threshold = e.params.AbsoluteMinThreshold
		}

		candidates = append(candidates, e.extractAtThreshold(gray, threshold)...)
	}

	return clusterBlobs(candidates, e.params.MinDistBetweenBlobs)
}

func (e *Extractor) extractAtThreshold(gray gocv.Mat, threshold float64) []Blob {
	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, float32(threshold), 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var out []Blob
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < e.params.MinArea {
			continue
		}

		perimeter := gocv.ArcLength(contour, true)
		var circularity float64
		if perimeter > 0 {
			circularity = 4 * 3.14159265358979 * area / (perimeter * perimeter)
		}
		if e.params.FilterByCircularity && circularity < e.params.MinCircularity {
			continue
		}

		if e.params.FilterByConvexity {
			hull := gocv.NewMat()
			gocv.ConvexHull(contour, &hull, false, true)
			hullArea := gocv.ContourArea(toPointVector(hull))
			hull.Close()
			if hullArea > 0 && area/hullArea < e.params.MinConvexity {
				continue
			}
		}

		moments := gocv.Moments(contour, false)
		if moments["m00"] == 0 {
			continue
		}
		cx := moments["m10"] / moments["m00"]
		cy := moments["m01"] / moments["m00"]

		rect := gocv.BoundingRect(contour)
		diameter := float64(rect.Dx()+rect.Dy()) / 2.0

		out = append(out, Blob{X: cx, Y: cy, Diameter: diameter, Area: area, Circularity: circularity})
	}
	return out
}

func toPointVector(m gocv.Mat) gocv.PointVector {
	// ConvexHull's output Mat holds indices or points depending on mode; the
	// caller passes returnPoints=true so m holds 2-channel point data that
	// NewPointVectorFromMat can consume directly.
	return gocv.NewPointVectorFromMat(m)
}

func clusterBlobs(candidates []Blob, minDist float64) []Blob {
	if len(candidates) == 0 {
		return nil
	}

	used := make([]bool, len(candidates))
	var clusters []Blob

	for i := range candidates {
		if used[i] {
			continue
		}
		sumX, sumY, sumArea, sumDiam, sumCirc := 0.0, 0.0, 0.0, 0.0, 0.0
		n := 0
		for j := i; j < len(candidates); j++ {
			if used[j] {
				continue
			}
			dx := candidates[j].X - candidates[i].X
			dy := candidates[j].Y - candidates[i].Y
			if dx*dx+dy*dy <= minDist*minDist {
				used[j] = true
				sumX += candidates[j].X
				sumY += candidates[j].Y
				sumArea += candidates[j].Area
				sumDiam += candidates[j].Diameter
				sumCirc += candidates[j].Circularity
				n++
			}
		}
		clusters = append(clusters, Blob{
			X:           sumX / float64(n),
			Y:           sumY / float64(n),
			Area:        sumArea / float64(n),
			Diameter:    sumDiam / float64(n),
			Circularity: sumCirc / float64(n),
		})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].X != clusters[j].X {
			return clusters[i].X < clusters[j].X
		}
		return clusters[i].Y < clusters[j].Y
	})
	return clusters
}

// Intrinsics is the subset of camera intrinsics undistortion needs,
// grounded on original_source/plugins/unifiedvideoinertialtracker/CameraParameters.h.
type Intrinsics struct {
	FocalX, FocalY         float64
	PrincipalX, PrincipalY float64
	K1, K2, K3, P1, P2     float64
}

// Undistort removes Brown-Conrady lens distortion from a list of blob
// centroids via gocv.UndistortPoints, matching SPEC_FULL.md §4.4's
// "Undistortion ... is applied to each centroid after extraction but
// before association" step.
func Undistort(blobs []Blob, intr Intrinsics) []Blob {
	if len(blobs) == 0 {
		return blobs
	}

	cameraMatrix := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV64F)
	defer cameraMatrix.Close()
	cameraMatrix.SetDoubleAt(0, 0, intr.FocalX)
	cameraMatrix.SetDoubleAt(1, 1, intr.FocalY)
	cameraMatrix.SetDoubleAt(0, 2, intr.PrincipalX)
	cameraMatrix.SetDoubleAt(1, 2, intr.PrincipalY)
	cameraMatrix.SetDoubleAt(2, 2, 1)

	distCoeffs := gocv.NewMatWithSize(1, 5, gocv.MatTypeCV64F)
	defer distCoeffs.Close()
	distCoeffs.SetDoubleAt(0, 0, intr.K1)
	distCoeffs.SetDoubleAt(0, 1, intr.K2)
	distCoeffs.SetDoubleAt(0, 2, intr.P1)
	distCoeffs.SetDoubleAt(0, 3, intr.P2)
	distCoeffs.SetDoubleAt(0, 4, intr.K3)

	src := make([]image.Point, len(blobs))
	for i, b := range blobs {
		src[i] = image.Point{X: int(b.X), Y: int(b.Y)}
	}
	srcVec := gocv.NewPointVectorFromPoints(src)
	defer srcVec.Close()

	srcMat, err := gocv.NewPointVectorToMat(srcVec)
	if err != nil {
		return blobs
	}
	defer srcMat.Close()

	dstMat := gocv.NewMat()
	defer dstMat.Close()
	gocv.UndistortPoints(srcMat, &dstMat, cameraMatrix, distCoeffs)

	out := make([]Blob, len(blobs))
	for i, b := range blobs {
		out[i] = b
		out[i].X = dstMat.GetDoubleAt(i, 0)
		out[i].Y = dstMat.GetDoubleAt(i, 1)
	}
	return out
}
