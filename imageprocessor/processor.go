package imageprocessor

import (
	"fmt"

	"imagedupes/types"
)

// HashComputeError marks one unreadable or corrupt image. Records carrying
// it are excluded from grouping; the scan itself continues.
type HashComputeError struct {
	Path string
	Err  error
}

func (e *HashComputeError) Error() string {
	return fmt.Sprintf("cannot hash %s: %v", e.Path, e.Err)
}

func (e *HashComputeError) Unwrap() error { return e.Err }

// ComputeRecordHashes fills the content and perceptual fingerprints of one
// record, plus pixel dimensions when discovery could not know them. On
// failure the record is marked invalid and a HashComputeError returned.
func ComputeRecordHashes(registry *ImageLoaderRegistry, rec *types.ImageRecord) error {
	contentHash, err := ComputeContentHash(rec.Path)
	if err != nil {
		rec.Valid = false
		return &HashComputeError{Path: rec.Path, Err: err}
	}

	img, err := registry.LoadImage(rec.Path)
	if err != nil {
		rec.Valid = false
		return &HashComputeError{Path: rec.Path, Err: err}
	}
	defer img.Close()

	avgHash, err := ComputeAverageHash(img)
	if err != nil {
		rec.Valid = false
		return &HashComputeError{Path: rec.Path, Err: err}
	}

	diffHash, err := ComputeDifferenceHash(img)
	if err != nil {
		rec.Valid = false
		return &HashComputeError{Path: rec.Path, Err: err}
	}

	rec.ContentHash = contentHash
	rec.AverageHash = avgHash
	rec.PerceptualHash = diffHash
	rec.Width = img.Cols()
	rec.Height = img.Rows()
	rec.Valid = true
	return nil
}

// ComputeRecordEmbedding fills the embedding vector of one record. A
// per-image failure leaves the record valid but without an embedding, so it
// still participates in the exact and perceptual tiers.
func ComputeRecordEmbedding(registry *ImageLoaderRegistry, embedder *Embedder, rec *types.ImageRecord) error {
	img, err := registry.LoadImage(rec.Path)
	if err != nil {
		return &HashComputeError{Path: rec.Path, Err: err}
	}
	defer img.Close()

	vec, err := embedder.Compute(img)
	if err != nil {
		return &HashComputeError{Path: rec.Path, Err: err}
	}
	rec.Embedding = vec
	return nil
}

// ComputeRecordSharpness loads one image and estimates its focus quality.
func ComputeRecordSharpness(registry *ImageLoaderRegistry, path string) (float64, error) {
	img, err := registry.LoadImage(path)
	if err != nil {
		return 0, err
	}
	defer img.Close()

	return ComputeSharpness(img)
}
