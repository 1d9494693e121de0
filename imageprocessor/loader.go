package imageprocessor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"imagedupes/logging"

	"gocv.io/x/gocv"
)

// ImageLoader turns a file on disk into a grayscale gocv.Mat ready for
// hashing. Loaders are registered per extension.
type ImageLoader interface {
	// CanLoad determines if this loader can handle the given file
	CanLoad(path string) bool

	// LoadImage loads an image and returns the gocv.Mat representation
	LoadImage(path string) (gocv.Mat, error)
}

// StandardImageLoader handles common formats through OpenCV's codecs.
type StandardImageLoader struct{}

// NewStandardImageLoader creates a loader for standard image formats.
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{}
}

// CanLoad checks that the file exists; format dispatch happens in the registry.
func (l *StandardImageLoader) CanLoad(path string) bool {
	return fileExists(path)
}

// LoadImage loads via OpenCV, falling back to the pure-Go decoder when the
// OpenCV codecs cannot read the file.
func (l *StandardImageLoader) LoadImage(path string) (gocv.Mat, error) {
	img := gocv.IMRead(path, gocv.IMReadGrayScale)
	if !img.Empty() {
		return img, nil
	}

	logging.DebugLog("OpenCV could not read %s, trying pure-Go decoder", path)
	return loadWithFallbackDecoder(path)
}

// ImageLoaderRegistry maintains the set of loaders keyed by file extension.
type ImageLoaderRegistry struct {
	loaders       map[string]ImageLoader
	defaultLoader ImageLoader
	mutex         sync.RWMutex
}

// NewImageLoaderRegistry creates a registry with loaders for all supported
// formats registered.
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}

	standardLoader := NewStandardImageLoader()
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".webp", ".tif", ".tiff"} {
		registry.RegisterLoader(ext, standardLoader)
	}
	registry.defaultLoader = standardLoader

	rawLoader := NewRawImageLoader()
	for ext := range rawExtensionSet() {
		registry.RegisterLoader(ext, rawLoader)
	}

	return registry
}

func rawExtensionSet() map[string]struct{} {
	exts := map[string]struct{}{}
	for _, ext := range []string{".dng", ".raf", ".arw", ".nef", ".cr2", ".cr3", ".nrw", ".srf", ".raw", ".orf", ".rw2", ".pef"} {
		exts[ext] = struct{}{}
	}
	return exts
}

// RegisterLoader registers a new loader for a specific file extension
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.loaders[strings.ToLower(ext)] = loader
}

// GetLoader returns the appropriate loader for the given path
func (r *ImageLoaderRegistry) GetLoader(path string) ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	if loader, ok := r.loaders[ext]; ok {
		return loader
	}
	return r.defaultLoader
}

// CanLoadFile checks if any registered loader can handle the given file
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	_, ok := r.loaders[ext]
	return ok
}

// LoadImage loads an image using the appropriate registered loader
func (r *ImageLoaderRegistry) LoadImage(path string) (gocv.Mat, error) {
	loader := r.GetLoader(path)
	if loader == nil {
		return gocv.NewMat(), fmt.Errorf("no suitable loader found for: %s", path)
	}
	if !loader.CanLoad(path) {
		return gocv.NewMat(), newImageLoadError("loader cannot handle file", path)
	}
	return loader.LoadImage(path)
}

// fileExists checks if a file exists and is accessible
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// hasFileContent checks if a file exists and has a non-zero size
func hasFileContent(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// newImageLoadError creates a standardized error for image loading failures
func newImageLoadError(message, path string) error {
	return fmt.Errorf("%s: %s", message, path)
}
