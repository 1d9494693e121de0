package imageprocessor

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// sharpnessEdge bounds the working size for the sharpness estimate so very
// large images do not dominate the scoring phase.
const sharpnessEdge = 512

// ComputeSharpness estimates focus quality as the variance of the Laplacian,
// a standard blur metric: crisp edges produce a high-variance response, blur
// flattens it. The value is unbounded; callers normalize it for scoring.
func ComputeSharpness(img gocv.Mat) (float64, error) {
	if img.Empty() {
		return 0, fmt.Errorf("cannot compute sharpness for empty image")
	}

	gray := toGray(img)
	defer gray.Close()

	// Downscale large images; the Laplacian is stable enough at this size
	// and the cost stays bounded.
	work := gocv.NewMat()
	defer work.Close()
	if gray.Cols() > sharpnessEdge || gray.Rows() > sharpnessEdge {
		scale := float64(sharpnessEdge) / float64(max(gray.Cols(), gray.Rows()))
		w := int(float64(gray.Cols()) * scale)
		h := int(float64(gray.Rows()) * scale)
		gocv.Resize(gray, &work, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	} else {
		gray.CopyTo(&work)
	}

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(work, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	if lap.Empty() {
		return 0, fmt.Errorf("laplacian failed")
	}

	// Variance computed manually over the response
	var sum float64
	count := lap.Rows() * lap.Cols()
	if count == 0 {
		return 0, fmt.Errorf("empty laplacian response")
	}
	for y := 0; y < lap.Rows(); y++ {
		for x := 0; x < lap.Cols(); x++ {
			sum += lap.GetDoubleAt(y, x)
		}
	}
	mean := sum / float64(count)

	var variance float64
	for y := 0; y < lap.Rows(); y++ {
		for x := 0; x < lap.Cols(); x++ {
			d := lap.GetDoubleAt(y, x) - mean
			variance += d * d
		}
	}
	return variance / float64(count), nil
}
