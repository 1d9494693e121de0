package types

import "time"

// ImageRecord holds the metadata and fingerprints of one discovered image.
// The absolute path is the unique key within a session; the numeric ID is
// assigned in discovery order and is what callers use to address a record.
type ImageRecord struct {
	ID             int64     `json:"id"`
	Path           string    `json:"path"`
	Format         string    `json:"format"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	Size           int64     `json:"size"`
	ModifiedAt     time.Time `json:"modified_at"`
	ContentHash    string    `json:"content_hash"`
	AverageHash    string    `json:"average_hash"`
	PerceptualHash string    `json:"perceptual_hash"`
	Embedding      []float32 `json:"-"`
	Quality        float64   `json:"quality"`
	QualityValid   bool      `json:"quality_valid"`
	IsRawFormat    bool      `json:"is_raw_format"`
	Valid          bool      `json:"valid"`
}

// Pixels returns the pixel count, or zero when dimensions are unknown.
func (r *ImageRecord) Pixels() int64 {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return int64(r.Width) * int64(r.Height)
}

// MatchKind tells how the members of a group were matched.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchSimilar MatchKind = "similar"
)

// SelectionOrigin records who made a selection decision.
type SelectionOrigin string

const (
	OriginAutoPreselected SelectionOrigin = "auto-preselected"
	OriginUserOverride    SelectionOrigin = "user-override"
)

// SelectionState tracks the archival checkbox of one record inside a group.
type SelectionState struct {
	RecordID int64           `json:"record_id"`
	GroupID  int             `json:"group_id"`
	Selected bool            `json:"selected"`
	Origin   SelectionOrigin `json:"origin"`
}

// DuplicateGroup is a maximal set of records mutually connected by a match
// decision at the active threshold. Members is ordered lexicographically by
// path; Selections is parallel to Members.
type DuplicateGroup struct {
	ID         int               `json:"id"`
	Kind       MatchKind         `json:"kind"`
	Score      float64           `json:"score"`
	Members    []*ImageRecord    `json:"members"`
	Selections []*SelectionState `json:"selections"`
}

// TotalSize returns the summed byte size of all members.
func (g *DuplicateGroup) TotalSize() int64 {
	var total int64
	for _, m := range g.Members {
		total += m.Size
	}
	return total
}

// SessionStatus is the lifecycle state of a scan session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCancelled SessionStatus = "cancelled"
	StatusCompleted SessionStatus = "completed"
	StatusFailed    SessionStatus = "failed"
)

// Terminal reports whether the status will not change anymore.
func (s SessionStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusFailed
}

// ScanSession describes one scan invocation.
type ScanSession struct {
	ID         string        `json:"id"`
	Root       string        `json:"root"`
	Strictness int           `json:"strictness"`
	Status     SessionStatus `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// Archive item outcomes. Failed outcomes carry a reason suffix, see
// FailedOutcome.
const (
	OutcomeMoved           = "moved"
	OutcomeSkippedConflict = "skipped-conflict"
	outcomeFailedPrefix    = "failed:"
)

// FailedOutcome builds the terminal outcome string for a failed item.
func FailedOutcome(reason string) string {
	return outcomeFailedPrefix + reason
}

// ArchiveItem is the terminal outcome of relocating a single record. The
// source file is either fully moved to DestPath or completely untouched.
type ArchiveItem struct {
	RecordID   int64  `json:"record_id"`
	SourcePath string `json:"source_path"`
	DestPath   string `json:"dest_path,omitempty"`
	Outcome    string `json:"outcome"`
}

// Moved reports whether the item was relocated.
func (i ArchiveItem) Moved() bool { return i.Outcome == OutcomeMoved }

// ArchiveOperation summarizes one archive invocation.
type ArchiveOperation struct {
	Destination  string        `json:"destination"`
	Items        []ArchiveItem `json:"items"`
	MovedCount   int           `json:"moved"`
	SkippedCount int           `json:"skipped"`
	FailedCount  int           `json:"failed"`
	BytesMoved   int64         `json:"bytes_moved"`
}
