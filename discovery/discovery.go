package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imagedupes/config"
	"imagedupes/logging"
	"imagedupes/progress"
	"imagedupes/types"
)

// Well-known system files that are never images worth considering.
var skipNames = map[string]struct{}{
	".DS_Store":   {},
	"._.DS_Store": {},
	"Thumbs.db":   {},
	"desktop.ini": {},
	".localized":  {},
}

// Directories that are never worth descending into.
var skipDirNames = map[string]struct{}{
	"__pycache__":  {},
	"node_modules": {},
	".git":         {},
	".svn":         {},
	"$RECYCLE.BIN": {},
}

var rawExtensions = map[string]struct{}{
	".dng": {}, ".raf": {}, ".arw": {}, ".nef": {},
	".cr2": {}, ".cr3": {}, ".nrw": {}, ".srf": {},
	".raw": {}, ".orf": {}, ".rw2": {}, ".pef": {},
}

// IsRawExtension reports whether ext (with leading dot, any case) is a camera
// RAW format.
func IsRawExtension(ext string) bool {
	_, ok := rawExtensions[strings.ToLower(ext)]
	return ok
}

// Stats summarizes one directory walk.
type Stats struct {
	Found      int
	SkippedDir int
	Errors     int
}

// Walk recursively discovers image files under root and hands a skeleton
// ImageRecord for each to yield, in directory order. Hidden entries, known
// system files and entries that cannot be stat'ed are skipped, never fatal.
// Cancellation is checked once per directory level.
func Walk(root string, cfg *config.Config, coord *progress.Coordinator, yield func(*types.ImageRecord)) (Stats, error) {
	var stats Stats

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return stats, fmt.Errorf("cannot resolve root %s: %v", root, err)
	}

	walkDir(absRoot, cfg, coord, yield, &stats)
	return stats, nil
}

func walkDir(dir string, cfg *config.Config, coord *progress.Coordinator, yield func(*types.ImageRecord), stats *Stats) {
	if coord.Cancelled() {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// Permission errors on individual directories are recorded and
		// skipped, the walk continues elsewhere.
		logging.LogWarning("Cannot read directory %s: %v", dir, err)
		stats.Errors++
		return
	}

	// Deterministic order regardless of filesystem quirks.
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	// Files first, then recurse, matching how results are reported.
	var subdirs []string
	for _, entry := range entries {
		name := entry.Name()

		if entry.IsDir() {
			if shouldSkipDir(name) {
				stats.SkippedDir++
				continue
			}
			subdirs = append(subdirs, filepath.Join(dir, name))
			continue
		}

		if shouldSkipFile(name) {
			continue
		}

		ext := strings.ToLower(filepath.Ext(name))
		if !cfg.AllowsExtension(ext) {
			continue
		}

		path := filepath.Join(dir, name)
		info, err := entry.Info()
		if err != nil {
			logging.LogWarning("Cannot stat file %s: %v", path, err)
			stats.Errors++
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}

		stats.Found++
		coord.AddTotal(1)
		yield(&types.ImageRecord{
			Path:        path,
			Format:      strings.TrimPrefix(ext, "."),
			Size:        info.Size(),
			ModifiedAt:  info.ModTime(),
			IsRawFormat: IsRawExtension(ext),
			Valid:       true,
		})
		coord.Step(1)
	}

	for _, sub := range subdirs {
		if coord.Cancelled() {
			return
		}
		walkDir(sub, cfg, coord, yield, stats)
	}
}

func shouldSkipFile(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, skip := skipNames[name]
	return skip
}

func shouldSkipDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, skip := skipDirNames[name]
	return skip
}
