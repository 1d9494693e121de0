package imageprocessor

import (
	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"

	// Register decoders OpenCV builds sometimes lack.
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// loadWithFallbackDecoder decodes through the pure-Go image stack when the
// OpenCV codecs fail. imaging applies EXIF auto-orientation so rotated phone
// photos hash the same as their upright re-encodes.
func loadWithFallbackDecoder(path string) (gocv.Mat, error) {
	decoded, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return gocv.NewMat(), newImageLoadError("failed to load image", path)
	}

	rgb, err := gocv.ImageToMatRGB(decoded)
	if err != nil {
		return gocv.NewMat(), newImageLoadError("failed to convert decoded image", path)
	}
	defer rgb.Close()

	gray := toGray(rgb)
	if gray.Empty() {
		gray.Close()
		return gocv.NewMat(), newImageLoadError("failed to convert decoded image", path)
	}
	return gray, nil
}
