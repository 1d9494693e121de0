package progress

import (
	"sync"
	"sync/atomic"
)

// Phase identifies the pipeline stage a session is currently in.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseDiscovery  Phase = "discovery"
	PhaseHashing    Phase = "hashing"
	PhaseSimilarity Phase = "similarity"
	PhaseGrouping   Phase = "grouping"
	PhaseScoring    Phase = "scoring"
	PhaseArchiving  Phase = "archiving"
)

// Snapshot is a point-in-time view of a session's progress.
type Snapshot struct {
	Phase     Phase `json:"phase"`
	Processed int64 `json:"processed"`
	Total     int64 `json:"total"`
}

// Coordinator tracks phase and counters for one session and carries the
// cooperative cancellation flag every pipeline component checks between
// discrete work units. All methods are safe for concurrent use; counter
// writes come from worker goroutines while callers poll Snapshot.
type Coordinator struct {
	mu        sync.Mutex
	phase     Phase
	processed atomic.Int64
	total     atomic.Int64
	cancelled atomic.Bool
}

// NewCoordinator returns a coordinator in the idle phase.
func NewCoordinator() *Coordinator {
	return &Coordinator{phase: PhaseIdle}
}

// StartPhase switches to a new phase and resets the counters.
func (c *Coordinator) StartPhase(phase Phase) {
	c.mu.Lock()
	c.phase = phase
	c.mu.Unlock()
	c.processed.Store(0)
	c.total.Store(0)
}

// SetTotal records the number of items known for the current phase. Discovery
// grows the total incrementally, so the value may rise while a phase runs.
func (c *Coordinator) SetTotal(n int64) {
	c.total.Store(n)
}

// AddTotal bumps the known total by n.
func (c *Coordinator) AddTotal(n int64) {
	c.total.Add(n)
}

// Step records n processed items.
func (c *Coordinator) Step(n int64) {
	c.processed.Add(n)
}

// Cancel raises the cancellation flag. Idempotent.
func (c *Coordinator) Cancel() {
	c.cancelled.Store(true)
}

// Cancelled reports whether cancellation has been requested.
func (c *Coordinator) Cancelled() bool {
	return c.cancelled.Load()
}

// Snapshot returns the current phase and counters.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	phase := c.phase
	c.mu.Unlock()
	return Snapshot{
		Phase:     phase,
		Processed: c.processed.Load(),
		Total:     c.total.Load(),
	}
}
