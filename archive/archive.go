package archive

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"imagedupes/logging"
	"imagedupes/progress"
	"imagedupes/types"
)

// maxConflictRetries bounds the numeric-suffix search for a free destination
// name before the item is skipped.
const maxConflictRetries = 1000

// Archive relocates the given records into destination, in the order they
// are passed (callers order by group id, then member order). Every item ends
// in exactly one terminal state: fully moved with timestamps and permissions
// preserved, or completely untouched. Per-item failures are recorded and do
// not abort the remaining items. Cancellation is honored only between items,
// never mid-move; items not yet attempted when cancellation hits are simply
// absent from the result.
func Archive(records []*types.ImageRecord, destination string, coord *progress.Coordinator) (*types.ArchiveOperation, error) {
	if err := os.MkdirAll(destination, 0755); err != nil {
		return nil, fmt.Errorf("cannot create destination %s: %v", destination, err)
	}

	op := &types.ArchiveOperation{Destination: destination}
	coord.SetTotal(int64(len(records)))

	for _, rec := range records {
		if coord.Cancelled() {
			break
		}

		item := archiveOne(rec, destination)
		op.Items = append(op.Items, item)
		switch {
		case item.Outcome == types.OutcomeMoved:
			op.MovedCount++
			op.BytesMoved += rec.Size
		case item.Outcome == types.OutcomeSkippedConflict:
			op.SkippedCount++
		default:
			op.FailedCount++
		}
		logging.LogArchiveItem(rec.Path, item.Outcome)
		coord.Step(1)
	}

	return op, nil
}

func archiveOne(rec *types.ImageRecord, destination string) types.ArchiveItem {
	item := types.ArchiveItem{RecordID: rec.ID, SourcePath: rec.Path}

	info, err := os.Stat(rec.Path)
	if err != nil {
		if os.IsNotExist(err) {
			item.Outcome = types.FailedOutcome("source-vanished")
		} else {
			item.Outcome = types.FailedOutcome("source-unreadable")
		}
		logging.LogError("Archive source check failed for %s: %v", rec.Path, err)
		return item
	}

	destPath, ok := resolveConflict(destination, filepath.Base(rec.Path))
	if !ok {
		item.Outcome = types.OutcomeSkippedConflict
		return item
	}

	if err := moveFile(rec.Path, destPath, info); err != nil {
		item.Outcome = types.FailedOutcome(reasonFor(err))
		logging.LogError("Archive move failed for %s: %v", rec.Path, err)
		return item
	}

	item.DestPath = destPath
	item.Outcome = types.OutcomeMoved
	return item
}

// resolveConflict finds a free destination path, appending a numeric suffix
// before the extension when the plain name is taken.
func resolveConflict(destination, name string) (string, bool) {
	candidate := filepath.Join(destination, name)
	if !pathExists(candidate) {
		return candidate, true
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n <= maxConflictRetries; n++ {
		candidate = filepath.Join(destination, fmt.Sprintf("%s_%d%s", stem, n, ext))
		if !pathExists(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func pathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// moveError tags a failure with the reason that ends up in the outcome.
type moveError struct {
	reason string
	err    error
}

func (e *moveError) Error() string { return fmt.Sprintf("%s: %v", e.reason, e.err) }

func reasonFor(err error) string {
	if me, ok := err.(*moveError); ok {
		return me.reason
	}
	return "move-failed"
}

// moveFile relocates src to dst leaving no partially-written state
// observable: either the rename succeeds, or the copy fallback stages the
// bytes in a temp file inside the destination directory and renames it into
// place only once fully written and synced.
func moveFile(src, dst string, info os.FileInfo) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	// Rename failed, typically a cross-device move. Copy then remove.
	in, err := os.Open(src)
	if err != nil {
		return &moveError{reason: "source-unreadable", err: err}
	}
	defer in.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".archive-*")
	if err != nil {
		return &moveError{reason: "destination-unwritable", err: err}
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, in); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &moveError{reason: "copy-failed", err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &moveError{reason: "copy-failed", err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &moveError{reason: "copy-failed", err: err}
	}

	// Preserve permissions and timestamps on the staged copy.
	if err := os.Chmod(tmpName, info.Mode().Perm()); err != nil {
		logging.LogWarning("Cannot preserve permissions for %s: %v", dst, err)
	}
	if err := os.Chtimes(tmpName, time.Now(), info.ModTime()); err != nil {
		logging.LogWarning("Cannot preserve timestamps for %s: %v", dst, err)
	}

	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return &moveError{reason: "destination-unwritable", err: err}
	}

	if err := os.Remove(src); err != nil {
		// Keep the invariant: roll the copy back so the item stays
		// fully untouched rather than duplicated.
		os.Remove(dst)
		return &moveError{reason: "source-locked", err: err}
	}
	return nil
}
