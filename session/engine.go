package session

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"imagedupes/archive"
	"imagedupes/config"
	"imagedupes/database"
	"imagedupes/imageprocessor"
	"imagedupes/progress"
	"imagedupes/types"

	"github.com/google/uuid"
)

// Sentinel errors of the engine API.
var (
	ErrInvalidRoot        = errors.New("invalid root path")
	ErrUnknownSession     = errors.New("unknown session")
	ErrUnknownRecord      = errors.New("unknown record")
	ErrRecordNotGrouped   = errors.New("record does not belong to a group")
	ErrInvalidDestination = errors.New("invalid destination path")
	ErrScanInProgress     = errors.New("scan still in progress")
)

// Progress is the poll result of one session.
type Progress struct {
	Phase     progress.Phase      `json:"phase"`
	Processed int64               `json:"processed"`
	Total     int64               `json:"total"`
	Status    types.SessionStatus `json:"status"`
}

// Summary is the scan statistics reported after completion.
type Summary struct {
	Discovered   int `json:"discovered"`
	HashFailures int `json:"hash_failures"`
	Groups       int `json:"groups"`
	Duplicates   int `json:"duplicates"`
}

// Engine runs scan sessions and exposes the typed API the presentation layer
// consumes: start, poll, cancel, review groups, flip selections, archive.
type Engine struct {
	store    *database.Store
	registry *imageprocessor.ImageLoaderRegistry

	// storeMu serializes store writes; scan workers and the archive path
	// both funnel through it so each session has a single effective writer.
	storeMu sync.Mutex

	mu       sync.RWMutex
	sessions map[string]*state
}

// state is the in-memory record of one scan session.
type state struct {
	mu      sync.RWMutex
	session *types.ScanSession
	cfg     config.Config
	coord   *progress.Coordinator

	records []*types.ImageRecord
	byID    map[int64]*types.ImageRecord
	groups  []*types.DuplicateGroup

	hashFailures int
	done         chan struct{}
}

// NewEngine creates an engine over the given session store.
func NewEngine(store *database.Store) *Engine {
	return &Engine{
		store:    store,
		registry: imageprocessor.NewImageLoaderRegistry(),
		sessions: make(map[string]*state),
	}
}

// StartScan validates the root, registers a new session and launches the
// pipeline in the background. The returned session id is used for all
// subsequent calls.
func (e *Engine) StartScan(root string, cfg config.Config) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrInvalidRoot, root)
	}
	if f, err := os.Open(root); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrInvalidRoot, root, err)
	} else {
		f.Close()
	}

	sess := &types.ScanSession{
		ID:         uuid.NewString(),
		Root:       root,
		Strictness: cfg.Strictness,
		Status:     types.StatusRunning,
		StartedAt:  time.Now(),
	}

	st := &state{
		session: sess,
		cfg:     cfg,
		coord:   progress.NewCoordinator(),
		byID:    make(map[int64]*types.ImageRecord),
		done:    make(chan struct{}),
	}

	e.storeMu.Lock()
	err = e.store.SaveSession(sess)
	e.storeMu.Unlock()
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.sessions[sess.ID] = st
	e.mu.Unlock()

	go e.runScan(st)
	return sess.ID, nil
}

// Wait blocks until the session's scan pipeline reaches a terminal status.
func (e *Engine) Wait(sessionID string) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}
	<-st.done
	return nil
}

// Progress returns the current phase, counters and status of a session.
func (e *Engine) Progress(sessionID string) (Progress, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return Progress{}, err
	}

	snap := st.coord.Snapshot()
	st.mu.RLock()
	status := st.session.Status
	st.mu.RUnlock()

	return Progress{
		Phase:     snap.Phase,
		Processed: snap.Processed,
		Total:     snap.Total,
		Status:    status,
	}, nil
}

// Summary reports scan statistics for a session.
func (e *Engine) Summary(sessionID string) (Summary, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return Summary{}, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	sum := Summary{
		Discovered:   len(st.records),
		HashFailures: st.hashFailures,
		Groups:       len(st.groups),
	}
	for _, g := range st.groups {
		sum.Duplicates += len(g.Members)
	}
	return sum, nil
}

// Cancel requests cooperative cancellation. Idempotent; a no-op once the
// session is terminal.
func (e *Engine) Cancel(sessionID string) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.RLock()
	terminal := st.session.Status.Terminal()
	st.mu.RUnlock()
	if terminal {
		return nil
	}

	st.coord.Cancel()
	return nil
}

// Groups returns the session's duplicate groups with their current selection
// state. Archived (invalidated) members are filtered out; groups reduced
// below two members disappear entirely.
func (e *Engine) Groups(sessionID string) ([]*types.DuplicateGroup, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return visibleGroups(st.groups), nil
}

// SetSelection flips the selected flag of one record as a user override.
// PreSelector never re-asserts its choice afterwards.
func (e *Engine) SetSelection(sessionID string, recordID int64, selected bool) error {
	st, err := e.lookup(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	rec, ok := st.byID[recordID]
	if !ok {
		st.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrUnknownRecord, recordID)
	}

	var sel *types.SelectionState
	for _, g := range st.groups {
		for i, member := range g.Members {
			if member.ID == recordID && i < len(g.Selections) {
				sel = g.Selections[i]
			}
		}
	}
	if sel == nil {
		st.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrRecordNotGrouped, recordID)
	}

	sel.Selected = selected
	sel.Origin = types.OriginUserOverride
	sessID := st.session.ID
	st.mu.Unlock()

	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	return e.store.SaveSelection(sessID, rec.Path, sel)
}

// Archive relocates all currently-selected records of a completed session to
// destination. Moved records are invalidated and disappear from subsequent
// Groups results. Per-item failures are isolated in the returned operation.
func (e *Engine) Archive(sessionID, destination string) (*types.ArchiveOperation, error) {
	st, err := e.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	st.mu.RLock()
	status := st.session.Status
	st.mu.RUnlock()
	if status == types.StatusRunning {
		return nil, fmt.Errorf("%w: %s", ErrScanInProgress, sessionID)
	}

	if err := validateDestination(destination); err != nil {
		return nil, err
	}

	// Deterministic order: group id, then member order within the group.
	st.mu.RLock()
	var selectedRecs []*types.ImageRecord
	for _, g := range st.groups {
		for i, member := range g.Members {
			if !member.Valid || i >= len(g.Selections) {
				continue
			}
			if g.Selections[i].Selected {
				selectedRecs = append(selectedRecs, member)
			}
		}
	}
	st.mu.RUnlock()

	st.coord.StartPhase(progress.PhaseArchiving)
	op, err := archive.Archive(selectedRecs, destination, st.coord)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDestination, err)
	}

	// Invalidate everything that actually moved.
	st.mu.Lock()
	moved := make(map[int64]bool, op.MovedCount)
	for _, item := range op.Items {
		if item.Moved() {
			moved[item.RecordID] = true
		}
	}
	for _, rec := range st.records {
		if moved[rec.ID] {
			rec.Valid = false
		}
	}
	remaining := visibleGroups(st.groups)
	sessID := st.session.ID
	st.mu.Unlock()

	e.storeMu.Lock()
	if err := e.store.SaveGroups(sessID, remaining); err != nil {
		// Snapshot staleness is recoverable; the moves themselves are done.
		e.storeMu.Unlock()
		return op, nil
	}
	e.storeMu.Unlock()
	return op, nil
}

func (e *Engine) lookup(sessionID string) (*state, error) {
	e.mu.RLock()
	st, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return st, nil
}

// visibleGroups copies groups, dropping invalidated members and groups left
// with fewer than two members.
func visibleGroups(groups []*types.DuplicateGroup) []*types.DuplicateGroup {
	out := make([]*types.DuplicateGroup, 0, len(groups))
	for _, g := range groups {
		copied := &types.DuplicateGroup{
			ID:    g.ID,
			Kind:  g.Kind,
			Score: g.Score,
		}
		for i, member := range g.Members {
			if !member.Valid {
				continue
			}
			copied.Members = append(copied.Members, member)
			if i < len(g.Selections) {
				copied.Selections = append(copied.Selections, g.Selections[i])
			}
		}
		if len(copied.Members) >= 2 {
			out = append(out, copied)
		}
	}
	return out
}

func validateDestination(destination string) error {
	if destination == "" {
		return fmt.Errorf("%w: empty path", ErrInvalidDestination)
	}
	if err := os.MkdirAll(destination, 0755); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDestination, destination, err)
	}
	probe, err := os.CreateTemp(destination, ".probe-*")
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidDestination, destination, err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
