package imageprocessor

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// embeddingGrid gives 256-dimensional embeddings (16x16 intensity grid).
const embeddingGrid = 16

// EmbeddingSize is the fixed length of embedding vectors.
const EmbeddingSize = embeddingGrid * embeddingGrid

// SimilarityUnavailableError means the similarity tier cannot run at all.
// The scan fails with it unless the tier is disabled; retrying with a smaller
// batch size or with the tier disabled is the documented recovery.
type SimilarityUnavailableError struct {
	Reason string
	Err    error
}

func (e *SimilarityUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("similarity engine unavailable: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("similarity engine unavailable: %s", e.Reason)
}

func (e *SimilarityUnavailableError) Unwrap() error { return e.Err }

// Embedder computes fixed-length visual embeddings. The embedding is an
// area-averaged grayscale grid normalized to zero mean and unit variance,
// which makes it invariant to global brightness and contrast shifts.
type Embedder struct {
	grid int
}

// NewEmbedder verifies the pixel pipeline works before any batch starts, so
// an unusable OpenCV build surfaces as a session-initialization failure
// rather than per-image errors.
func NewEmbedder() (*Embedder, error) {
	probe := gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8U)
	defer probe.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(probe, &resized, image.Point{X: 2, Y: 2}, 0, 0, gocv.InterpolationArea)
	if resized.Empty() {
		return nil, &SimilarityUnavailableError{Reason: "resize pipeline not functional"}
	}

	return &Embedder{grid: embeddingGrid}, nil
}

// Compute returns the embedding vector for a loaded image.
func (e *Embedder) Compute(img gocv.Mat) ([]float32, error) {
	if img.Empty() {
		return nil, fmt.Errorf("cannot embed empty image")
	}

	gray := toGray(img)
	defer gray.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: e.grid, Y: e.grid}, 0, 0, gocv.InterpolationArea)
	if resized.Empty() {
		return nil, fmt.Errorf("resize failed during embedding")
	}

	vec := make([]float32, 0, e.grid*e.grid)
	var sum float64
	for y := 0; y < resized.Rows(); y++ {
		for x := 0; x < resized.Cols(); x++ {
			v := float64(resized.GetUCharAt(y, x))
			vec = append(vec, float32(v))
			sum += v
		}
	}

	// Normalize: zero mean, unit variance
	mean := sum / float64(len(vec))
	var variance float64
	for _, v := range vec {
		d := float64(v) - mean
		variance += d * d
	}
	variance /= float64(len(vec))

	stddev := math.Sqrt(variance)
	if stddev < 1e-6 {
		// Flat image (solid color); leave a zero vector
		for i := range vec {
			vec[i] = 0
		}
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32((float64(vec[i]) - mean) / stddev)
	}
	return vec, nil
}

// EmbeddingDistance is the root-mean-square distance between two embeddings;
// smaller means more similar. Identical images give 0, unrelated images
// cluster near sqrt(2). Returns false when the vectors are not comparable.
func EmbeddingDistance(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}

	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a))), true
}
