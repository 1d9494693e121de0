package session

import (
	"sync"
	"time"

	"imagedupes/discovery"
	"imagedupes/grouping"
	"imagedupes/imageprocessor"
	"imagedupes/logging"
	"imagedupes/matching"
	"imagedupes/progress"
	"imagedupes/quality"
	"imagedupes/types"
)

// runScan drives the pipeline: discovery, hashing, similarity, grouping,
// scoring and preselection. Each phase checks cancellation between discrete
// work units and leaves whatever cache was safely written.
func (e *Engine) runScan(st *state) {
	if !e.discoverPhase(st) {
		return
	}
	if !e.hashPhase(st) {
		return
	}
	if !e.similarityPhase(st) {
		return
	}
	if !e.groupPhase(st) {
		return
	}
	e.finalize(st, types.StatusCompleted)
}

func (e *Engine) discoverPhase(st *state) bool {
	st.coord.StartPhase(progress.PhaseDiscovery)

	var nextID int64
	stats, err := discovery.Walk(st.session.Root, &st.cfg, st.coord, func(rec *types.ImageRecord) {
		nextID++
		rec.ID = nextID
		st.mu.Lock()
		st.records = append(st.records, rec)
		st.byID[rec.ID] = rec
		st.mu.Unlock()
	})
	if err != nil {
		logging.LogError("Discovery failed for %s: %v", st.session.Root, err)
		e.finalize(st, types.StatusFailed)
		return false
	}
	logging.DebugLog("Discovery found %d images (%d skipped dirs, %d errors)",
		stats.Found, stats.SkippedDir, stats.Errors)

	return e.continueOrCancel(st)
}

func (e *Engine) hashPhase(st *state) bool {
	st.coord.StartPhase(progress.PhaseHashing)

	st.mu.RLock()
	records := append([]*types.ImageRecord(nil), st.records...)
	st.mu.RUnlock()
	st.coord.SetTotal(int64(len(records)))

	var wg sync.WaitGroup
	var failMu sync.Mutex
	failures := 0
	semaphore := make(chan struct{}, st.cfg.MaxWorkers)

	for _, rec := range records {
		if st.coord.Cancelled() {
			break
		}
		wg.Add(1)
		semaphore <- struct{}{}

		go func(rec *types.ImageRecord) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := e.hashRecord(st, rec); err != nil {
				failMu.Lock()
				failures++
				failMu.Unlock()
				logging.LogImageProcessed(rec.Path, false, err.Error())
			} else {
				logging.LogImageProcessed(rec.Path, true, "")
			}
			st.coord.Step(1)
		}(rec)
	}
	wg.Wait()

	st.mu.Lock()
	st.hashFailures = failures
	st.mu.Unlock()

	return e.continueOrCancel(st)
}

// hashRecord fills one record's fingerprints, consulting the cache first so
// unchanged files are never re-hashed.
func (e *Engine) hashRecord(st *state, rec *types.ImageRecord) error {
	if st.cfg.Incremental {
		if fp, ok := e.store.LookupFingerprint(rec.Path, rec.Size, rec.ModifiedAt); ok {
			rec.ContentHash = fp.ContentHash
			rec.AverageHash = fp.AverageHash
			rec.PerceptualHash = fp.PerceptualHash
			rec.Width = fp.Width
			rec.Height = fp.Height
			return nil
		}
	}

	if err := imageprocessor.ComputeRecordHashes(e.registry, rec); err != nil {
		return err
	}

	e.storeMu.Lock()
	defer e.storeMu.Unlock()
	if err := e.store.SaveFingerprint(rec); err != nil {
		// A cache write failure only costs a future re-hash.
		logging.LogWarning("%v", err)
	}
	return nil
}

// similarityPhase computes embeddings in bounded batches. A whole-tier
// failure fails the scan; callers recover by retrying with a smaller batch
// or with the tier disabled.
func (e *Engine) similarityPhase(st *state) bool {
	if st.cfg.DisableSimilarity {
		return true
	}

	st.coord.StartPhase(progress.PhaseSimilarity)

	embedder, err := imageprocessor.NewEmbedder()
	if err != nil {
		logging.LogError("Similarity engine init failed: %v", err)
		e.finalize(st, types.StatusFailed)
		return false
	}

	st.mu.RLock()
	var valid []*types.ImageRecord
	for _, rec := range st.records {
		if rec.Valid && rec.ContentHash != "" {
			valid = append(valid, rec)
		}
	}
	st.mu.RUnlock()
	st.coord.SetTotal(int64(len(valid)))

	semaphore := make(chan struct{}, st.cfg.MaxWorkers)
	for start := 0; start < len(valid); start += st.cfg.EmbeddingBatch {
		if st.coord.Cancelled() {
			break
		}

		end := start + st.cfg.EmbeddingBatch
		if end > len(valid) {
			end = len(valid)
		}

		var wg sync.WaitGroup
		for _, rec := range valid[start:end] {
			wg.Add(1)
			semaphore <- struct{}{}
			go func(rec *types.ImageRecord) {
				defer wg.Done()
				defer func() { <-semaphore }()

				if err := imageprocessor.ComputeRecordEmbedding(e.registry, embedder, rec); err != nil {
					// The record still plays in the exact and
					// perceptual tiers.
					logging.LogWarning("No embedding for %s: %v", rec.Path, err)
				}
				st.coord.Step(1)
			}(rec)
		}
		wg.Wait()
	}

	return e.continueOrCancel(st)
}

func (e *Engine) groupPhase(st *state) bool {
	st.coord.StartPhase(progress.PhaseGrouping)

	thresholds := matching.MapStrictness(st.cfg.Strictness)
	matchers := matching.Matchers(thresholds, !st.cfg.DisableSimilarity)

	st.mu.RLock()
	records := append([]*types.ImageRecord(nil), st.records...)
	st.mu.RUnlock()

	groups := grouping.NewEngine(matchers).Build(records, st.coord)
	if st.coord.Cancelled() {
		e.finalize(st, types.StatusCancelled)
		return false
	}

	st.coord.StartPhase(progress.PhaseScoring)
	scorer := quality.NewScorer(st.cfg.Weights, e.registry)
	scorer.ScoreGroups(groups, st.coord)
	if st.coord.Cancelled() {
		e.finalize(st, types.StatusCancelled)
		return false
	}
	quality.Preselect(groups, st.cfg.NearTieMargin)

	st.mu.Lock()
	st.groups = groups
	sessID := st.session.ID
	st.mu.Unlock()

	e.storeMu.Lock()
	if err := e.store.SaveGroups(sessID, groups); err != nil {
		logging.LogWarning("%v", err)
	}
	e.storeMu.Unlock()

	return true
}

// continueOrCancel finalizes the session as cancelled when the flag is up.
func (e *Engine) continueOrCancel(st *state) bool {
	if st.coord.Cancelled() {
		e.finalize(st, types.StatusCancelled)
		return false
	}
	return true
}

func (e *Engine) finalize(st *state, status types.SessionStatus) {
	st.mu.Lock()
	st.session.Status = status
	st.session.FinishedAt = time.Now()
	sess := *st.session
	st.mu.Unlock()

	e.storeMu.Lock()
	if err := e.store.UpdateSessionStatus(sess.ID, status, sess.FinishedAt); err != nil {
		logging.LogWarning("%v", err)
	}
	e.storeMu.Unlock()

	close(st.done)
}
