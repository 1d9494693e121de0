package imageprocessor

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"io"
	"math/bits"
	"os"

	"gocv.io/x/gocv"
)

// hashSize gives 64-bit perceptual hashes (8x8 comparisons).
const hashSize = 8

// ComputeContentHash returns the sha256 of the file's raw bytes as a hex
// string. Equal hashes mean byte-identical files for practical purposes.
func ComputeContentHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("cannot open %s: %v", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("cannot read %s: %v", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeAverageHash calculates a simple average hash for the image.
// Always returns a hexadecimal string representation.
func ComputeAverageHash(img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("cannot compute hash for empty image")
	}

	gray := toGray(img)
	defer gray.Close()

	// Resize to 8x8
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: hashSize, Y: hashSize}, 0, 0, gocv.InterpolationLinear)

	// Calculate mean pixel value manually
	var sum uint64
	var count int
	for y := 0; y < resized.Rows(); y++ {
		for x := 0; x < resized.Cols(); x++ {
			sum += uint64(resized.GetUCharAt(y, x))
			count++
		}
	}

	var threshold float64
	if count > 0 {
		threshold = float64(sum) / float64(count)
	}

	// Set bits for pixels at or above the mean
	bitsOut := make([]bool, 0, hashSize*hashSize)
	for y := 0; y < resized.Rows(); y++ {
		for x := 0; x < resized.Cols(); x++ {
			bitsOut = append(bitsOut, float64(resized.GetUCharAt(y, x)) >= threshold)
		}
	}

	return packBitsToHex(bitsOut), nil
}

// ComputeDifferenceHash calculates a difference hash (dHash) for the image:
// each bit compares a pixel to its right neighbor on a 9x8 reduction, which
// makes the hash resistant to re-encoding and minor resizing. Always returns
// a hexadecimal string representation.
func ComputeDifferenceHash(img gocv.Mat) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("cannot compute hash for empty image")
	}

	gray := toGray(img)
	defer gray.Close()

	// Resize to 9x8 so each row yields 8 adjacent-pixel comparisons
	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(gray, &resized, image.Point{X: hashSize + 1, Y: hashSize}, 0, 0, gocv.InterpolationLinear)

	bitsOut := make([]bool, 0, hashSize*hashSize)
	for y := 0; y < hashSize; y++ {
		for x := 0; x < hashSize; x++ {
			left := resized.GetUCharAt(y, x)
			right := resized.GetUCharAt(y, x+1)
			bitsOut = append(bitsOut, left > right)
		}
	}

	return packBitsToHex(bitsOut), nil
}

// packBitsToHex packs a bit slice MSB-first into bytes and renders them as a
// hex string. Trailing bits of a partial byte are zero-padded on the right.
func packBitsToHex(bitsIn []bool) string {
	var hashBytes []byte
	var currentByte byte
	var bitCount uint

	for _, bit := range bitsIn {
		currentByte <<= 1
		if bit {
			currentByte |= 1
		}
		bitCount++
		if bitCount == 8 {
			hashBytes = append(hashBytes, currentByte)
			currentByte = 0
			bitCount = 0
		}
	}
	if bitCount > 0 {
		currentByte <<= 8 - bitCount
		hashBytes = append(hashBytes, currentByte)
	}

	return hex.EncodeToString(hashBytes)
}

// HammingDistance counts differing bits between two hex-encoded hashes of
// equal length.
func HammingDistance(a, b string) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("hash length mismatch: %d vs %d", len(a), len(b))
	}

	rawA, err := hex.DecodeString(a)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %v", a, err)
	}
	rawB, err := hex.DecodeString(b)
	if err != nil {
		return 0, fmt.Errorf("invalid hash %q: %v", b, err)
	}

	distance := 0
	for i := range rawA {
		distance += bits.OnesCount8(rawA[i] ^ rawB[i])
	}
	return distance, nil
}

// HashBits is the length in bits of the perceptual hashes produced here.
const HashBits = hashSize * hashSize

// toGray returns a single-channel copy of img. The caller owns the result.
func toGray(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() != 1 {
		gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	} else {
		img.CopyTo(&gray)
	}
	return gray
}
