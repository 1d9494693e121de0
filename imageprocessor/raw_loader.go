package imageprocessor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"imagedupes/logging"

	"github.com/barasher/go-exiftool"

	"gocv.io/x/gocv"
)

// Preview tags tried in order of fidelity. Camera RAW files usually embed a
// full-size JPEG rendition under one of these.
var previewTags = []string{
	"JpgFromRaw",
	"PreviewImage",
	"LargePreviewImage",
	"OtherImage",
	"ThumbnailImage",
}

// RawImageLoader loads camera RAW formats by extracting the embedded JPEG
// preview with exiftool. The preview is what the camera itself rendered, so
// it hashes consistently with exported JPEG copies of the same shot.
type RawImageLoader struct {
	TempDir string
}

// NewRawImageLoader creates a RAW loader using the system temp directory for
// extracted previews.
func NewRawImageLoader() *RawImageLoader {
	return &RawImageLoader{TempDir: os.TempDir()}
}

// CanLoad requires both a RAW extension and a working exiftool binary.
func (l *RawImageLoader) CanLoad(path string) bool {
	if !fileExists(path) {
		return false
	}
	_, ok := rawExtensionSet()[strings.ToLower(filepath.Ext(path))]
	return ok && exiftoolAvailable()
}

// LoadImage extracts the best available embedded preview and loads it.
func (l *RawImageLoader) LoadImage(path string) (gocv.Mat, error) {
	tags, err := l.availablePreviewTags(path)
	if err != nil {
		logging.LogWarning("Cannot probe RAW metadata for %s: %v", path, err)
		tags = previewTags
	}

	for _, tag := range tags {
		tempFile := filepath.Join(l.TempDir, fmt.Sprintf("raw_preview_%d_%s.jpg", os.Getpid(), tag))

		if err := extractPreview(path, tempFile, tag); err != nil {
			continue
		}
		if !hasFileContent(tempFile) {
			os.Remove(tempFile)
			continue
		}

		img := gocv.IMRead(tempFile, gocv.IMReadGrayScale)
		os.Remove(tempFile)
		if !img.Empty() {
			logging.DebugLog("Extracted %s preview from %s", tag, path)
			return img, nil
		}
	}

	return gocv.NewMat(), newImageLoadError("could not extract any preview image", path)
}

// availablePreviewTags asks go-exiftool which preview tags this file carries
// so extraction attempts only run for tags that exist.
func (l *RawImageLoader) availablePreviewTags(path string) ([]string, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize exiftool: %v", err)
	}
	defer et.Close()

	infos := et.ExtractMetadata(path)
	if len(infos) == 0 {
		return nil, fmt.Errorf("no metadata extracted")
	}
	if infos[0].Err != nil {
		return nil, infos[0].Err
	}

	var present []string
	for _, tag := range previewTags {
		if _, ok := infos[0].Fields[tag]; ok {
			present = append(present, tag)
		}
	}
	if len(present) == 0 {
		return nil, fmt.Errorf("no preview tags present")
	}
	return present, nil
}

// extractPreview shells out to exiftool for the binary extraction, which
// go-exiftool does not expose.
func extractPreview(path, outputPath, tag string) error {
	cmd := exec.Command("exiftool", "-b", "-"+tag, "-w", outputPath, path)
	return cmd.Run()
}

// exiftoolAvailable checks for the exiftool binary on PATH.
func exiftoolAvailable() bool {
	_, err := exec.LookPath("exiftool")
	return err == nil
}
