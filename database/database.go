package database

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"imagedupes/logging"
	"imagedupes/types"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever the layout changes. The store is an
// internal cache, not a compatibility contract: a version mismatch discards
// and rebuilds it instead of migrating.
const schemaVersion = 1

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	root TEXT NOT NULL,
	strictness INTEGER,
	status TEXT,
	started_at TEXT,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS fingerprints (
	path TEXT NOT NULL,
	size INTEGER NOT NULL,
	modified_at TEXT NOT NULL,
	format TEXT,
	width INTEGER,
	height INTEGER,
	content_hash TEXT,
	average_hash TEXT,
	perceptual_hash TEXT,
	PRIMARY KEY (path, size, modified_at)
);
CREATE INDEX IF NOT EXISTS idx_fingerprints_path ON fingerprints(path);
CREATE TABLE IF NOT EXISTS groups (
	session_id TEXT NOT NULL,
	group_id INTEGER NOT NULL,
	kind TEXT,
	score REAL,
	PRIMARY KEY (session_id, group_id)
);
CREATE TABLE IF NOT EXISTS group_members (
	session_id TEXT NOT NULL,
	group_id INTEGER NOT NULL,
	position INTEGER NOT NULL,
	path TEXT NOT NULL,
	PRIMARY KEY (session_id, group_id, position)
);
CREATE TABLE IF NOT EXISTS selections (
	session_id TEXT NOT NULL,
	path TEXT NOT NULL,
	group_id INTEGER,
	selected INTEGER,
	origin TEXT,
	PRIMARY KEY (session_id, path)
);`

// Store persists scan state: cached fingerprints keyed by (path, size,
// mtime), session status, and the last grouping/selection snapshot. A file
// lock enforces the single-writer-per-store discipline across processes.
type Store struct {
	db   *sql.DB
	lock *flock.Flock
	path string
}

// Open opens (or creates) the store at path. A corrupt or
// schema-incompatible file is discarded and rebuilt, never a hard error:
// callers simply see an empty cache and rescan.
func Open(path string) (*Store, error) {
	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("cannot lock session store: %v", err)
	}
	if !locked {
		return nil, fmt.Errorf("session store %s is locked by another process", path)
	}

	db, err := openAndCheck(path)
	if err != nil {
		logging.LogWarning("Session store unusable (%v), rebuilding: %s", err, path)
		if db != nil {
			db.Close()
		}
		os.Remove(path)
		db, err = openAndCheck(path)
		if err != nil {
			fileLock.Unlock()
			return nil, fmt.Errorf("cannot rebuild session store %s: %v", path, err)
		}
	}

	return &Store{db: db, lock: fileLock, path: path}, nil
}

func openAndCheck(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return db, fmt.Errorf("cannot read schema version: %v", err)
	}
	if version != 0 && version != schemaVersion {
		return db, fmt.Errorf("schema version mismatch: have %d, want %d", version, schemaVersion)
	}

	if _, err := db.Exec(createSchemaSQL); err != nil {
		return db, fmt.Errorf("cannot create schema: %v", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return db, fmt.Errorf("cannot set schema version: %v", err)
	}
	return db, nil
}

// Close releases the database and the writer lock.
func (s *Store) Close() error {
	err := s.db.Close()
	s.lock.Unlock()
	return err
}

// SaveSession inserts or replaces the session row.
func (s *Store) SaveSession(sess *types.ScanSession) error {
	finished := ""
	if !sess.FinishedAt.IsZero() {
		finished = sess.FinishedAt.Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, root, strictness, status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Root, sess.Strictness, string(sess.Status),
		sess.StartedAt.Format(time.RFC3339), finished)
	if err != nil {
		return fmt.Errorf("cannot save session %s: %v", sess.ID, err)
	}
	return nil
}

// UpdateSessionStatus records a status transition.
func (s *Store) UpdateSessionStatus(id string, status types.SessionStatus, finishedAt time.Time) error {
	finished := ""
	if !finishedAt.IsZero() {
		finished = finishedAt.Format(time.RFC3339)
	}
	_, err := s.db.Exec(`UPDATE sessions SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), finished, id)
	if err != nil {
		return fmt.Errorf("cannot update session %s: %v", id, err)
	}
	return nil
}

// CachedFingerprint is what the fingerprint cache returns for an unchanged
// file.
type CachedFingerprint struct {
	Format         string
	Width          int
	Height         int
	ContentHash    string
	AverageHash    string
	PerceptualHash string
}

// LookupFingerprint returns the cached fingerprints for an unchanged file
// (same path, size and mtime). Any database error is treated as a cache
// miss.
func (s *Store) LookupFingerprint(path string, size int64, modifiedAt time.Time) (*CachedFingerprint, bool) {
	var fp CachedFingerprint
	err := s.db.QueryRow(`
		SELECT format, width, height, content_hash, average_hash, perceptual_hash
		FROM fingerprints WHERE path = ? AND size = ? AND modified_at = ?`,
		path, size, modifiedAt.Format(time.RFC3339)).
		Scan(&fp.Format, &fp.Width, &fp.Height, &fp.ContentHash, &fp.AverageHash, &fp.PerceptualHash)
	if err != nil {
		if err != sql.ErrNoRows {
			logging.LogWarning("Fingerprint lookup failed for %s: %v", path, err)
		}
		return nil, false
	}
	if fp.ContentHash == "" || fp.PerceptualHash == "" {
		return nil, false
	}
	return &fp, true
}

// SaveFingerprint caches the fingerprints of one hashed record.
func (s *Store) SaveFingerprint(rec *types.ImageRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO fingerprints
			(path, size, modified_at, format, width, height, content_hash, average_hash, perceptual_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Path, rec.Size, rec.ModifiedAt.Format(time.RFC3339),
		rec.Format, rec.Width, rec.Height,
		rec.ContentHash, rec.AverageHash, rec.PerceptualHash)
	if err != nil {
		return fmt.Errorf("cannot cache fingerprint for %s: %v", rec.Path, err)
	}
	return nil
}

// SaveGroups replaces the grouping and selection snapshot for a session.
func (s *Store) SaveGroups(sessionID string, groups []*types.DuplicateGroup) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("cannot start snapshot transaction: %v", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"groups", "group_members", "selections"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
			return fmt.Errorf("cannot clear %s snapshot: %v", table, err)
		}
	}

	for _, g := range groups {
		if _, err := tx.Exec(`INSERT INTO groups (session_id, group_id, kind, score) VALUES (?, ?, ?, ?)`,
			sessionID, g.ID, string(g.Kind), g.Score); err != nil {
			return fmt.Errorf("cannot save group %d: %v", g.ID, err)
		}
		for pos, member := range g.Members {
			if _, err := tx.Exec(`INSERT INTO group_members (session_id, group_id, position, path) VALUES (?, ?, ?, ?)`,
				sessionID, g.ID, pos, member.Path); err != nil {
				return fmt.Errorf("cannot save member %s: %v", member.Path, err)
			}
			if pos < len(g.Selections) {
				sel := g.Selections[pos]
				if _, err := tx.Exec(`INSERT OR REPLACE INTO selections (session_id, path, group_id, selected, origin) VALUES (?, ?, ?, ?, ?)`,
					sessionID, member.Path, g.ID, boolToInt(sel.Selected), string(sel.Origin)); err != nil {
					return fmt.Errorf("cannot save selection for %s: %v", member.Path, err)
				}
			}
		}
	}

	return tx.Commit()
}

// SaveSelection persists one selection override.
func (s *Store) SaveSelection(sessionID, path string, sel *types.SelectionState) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO selections (session_id, path, group_id, selected, origin) VALUES (?, ?, ?, ?, ?)`,
		sessionID, path, sel.GroupID, boolToInt(sel.Selected), string(sel.Origin))
	if err != nil {
		return fmt.Errorf("cannot save selection for %s: %v", path, err)
	}
	return nil
}

// GroupSnapshot is one persisted group with its member paths in order.
type GroupSnapshot struct {
	GroupID     int
	Kind        string
	Score       float64
	MemberPaths []string
}

// SelectionSnapshot is one persisted selection row.
type SelectionSnapshot struct {
	Path     string
	GroupID  int
	Selected bool
	Origin   string
}

// LoadGroups returns a session's persisted grouping snapshot so a caller can
// resume review without recomputation. Errors degrade to an empty snapshot.
func (s *Store) LoadGroups(sessionID string) ([]GroupSnapshot, []SelectionSnapshot) {
	rows, err := s.db.Query(`
		SELECT g.group_id, g.kind, g.score, m.path
		FROM groups g JOIN group_members m
		  ON m.session_id = g.session_id AND m.group_id = g.group_id
		WHERE g.session_id = ?
		ORDER BY g.group_id, m.position`, sessionID)
	if err != nil {
		logging.LogWarning("Cannot load group snapshot for %s: %v", sessionID, err)
		return nil, nil
	}
	defer rows.Close()

	var groups []GroupSnapshot
	for rows.Next() {
		var gid int
		var kind string
		var score float64
		var path string
		if err := rows.Scan(&gid, &kind, &score, &path); err != nil {
			logging.LogWarning("Corrupt group snapshot row for %s: %v", sessionID, err)
			return nil, nil
		}
		if len(groups) == 0 || groups[len(groups)-1].GroupID != gid {
			groups = append(groups, GroupSnapshot{GroupID: gid, Kind: kind, Score: score})
		}
		last := &groups[len(groups)-1]
		last.MemberPaths = append(last.MemberPaths, path)
	}

	selRows, err := s.db.Query(`SELECT path, group_id, selected, origin FROM selections WHERE session_id = ?`, sessionID)
	if err != nil {
		logging.LogWarning("Cannot load selections for %s: %v", sessionID, err)
		return groups, nil
	}
	defer selRows.Close()

	var selections []SelectionSnapshot
	for selRows.Next() {
		var sel SelectionSnapshot
		var selected int
		if err := selRows.Scan(&sel.Path, &sel.GroupID, &selected, &sel.Origin); err != nil {
			logging.LogWarning("Corrupt selection row for %s: %v", sessionID, err)
			return groups, nil
		}
		sel.Selected = selected != 0
		selections = append(selections, sel)
	}
	return groups, selections
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
