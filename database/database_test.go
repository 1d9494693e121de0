package database

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"imagedupes/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFingerprintRoundtrip(t *testing.T) {
	store := openTestStore(t)

	modified := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := &types.ImageRecord{
		Path:           "/photos/a.jpg",
		Format:         "jpg",
		Width:          4000,
		Height:         3000,
		Size:           123456,
		ModifiedAt:     modified,
		ContentHash:    "cafe",
		AverageHash:    "aa00",
		PerceptualHash: "bb11",
	}
	if err := store.SaveFingerprint(rec); err != nil {
		t.Fatalf("SaveFingerprint: %v", err)
	}

	fp, ok := store.LookupFingerprint(rec.Path, rec.Size, modified)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if fp.ContentHash != "cafe" || fp.PerceptualHash != "bb11" || fp.AverageHash != "aa00" {
		t.Errorf("cached hashes = %+v", fp)
	}
	if fp.Width != 4000 || fp.Height != 3000 {
		t.Errorf("cached dimensions = %dx%d, want 4000x3000", fp.Width, fp.Height)
	}
}

func TestFingerprintMissOnChangedFile(t *testing.T) {
	store := openTestStore(t)

	modified := time.Now().UTC().Truncate(time.Second)
	rec := &types.ImageRecord{
		Path:           "/photos/a.jpg",
		Size:           100,
		ModifiedAt:     modified,
		ContentHash:    "cafe",
		PerceptualHash: "bb11",
	}
	if err := store.SaveFingerprint(rec); err != nil {
		t.Fatalf("SaveFingerprint: %v", err)
	}

	if _, ok := store.LookupFingerprint(rec.Path, 101, modified); ok {
		t.Error("size change should be a cache miss")
	}
	if _, ok := store.LookupFingerprint(rec.Path, 100, modified.Add(time.Second)); ok {
		t.Error("mtime change should be a cache miss")
	}
	if _, ok := store.LookupFingerprint("/photos/other.jpg", 100, modified); ok {
		t.Error("unknown path should be a cache miss")
	}
}

func TestOpenRebuildsCorruptStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sessions.db")
	if err := os.WriteFile(path, []byte("this is not a sqlite file at all"), 0644); err != nil {
		t.Fatal(err)
	}

	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open should rebuild a corrupt store, got %v", err)
	}
	defer store.Close()

	// The rebuilt store is empty but fully usable.
	if _, ok := store.LookupFingerprint("/any", 1, time.Now()); ok {
		t.Error("rebuilt store should be empty")
	}
	if err := store.SaveSession(&types.ScanSession{
		ID: "s1", Root: "/photos", Status: types.StatusRunning, StartedAt: time.Now(),
	}); err != nil {
		t.Errorf("rebuilt store should accept writes: %v", err)
	}
}

func TestOpenRefusesSecondWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")

	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer first.Close()

	if second, err := Open(path); err == nil {
		second.Close()
		t.Error("second Open on a locked store should fail")
	}
}

func TestGroupSnapshotRoundtrip(t *testing.T) {
	store := openTestStore(t)

	groups := []*types.DuplicateGroup{
		{
			ID:    1,
			Kind:  types.MatchExact,
			Score: 1.0,
			Members: []*types.ImageRecord{
				{ID: 1, Path: "/p/a.jpg"},
				{ID: 2, Path: "/p/b.jpg"},
			},
			Selections: []*types.SelectionState{
				{RecordID: 1, GroupID: 1, Selected: false, Origin: types.OriginAutoPreselected},
				{RecordID: 2, GroupID: 1, Selected: true, Origin: types.OriginAutoPreselected},
			},
		},
		{
			ID:    2,
			Kind:  types.MatchSimilar,
			Score: 0.85,
			Members: []*types.ImageRecord{
				{ID: 3, Path: "/p/c.jpg"},
				{ID: 4, Path: "/p/d.jpg"},
			},
			Selections: []*types.SelectionState{
				{RecordID: 3, GroupID: 2, Selected: true, Origin: types.OriginUserOverride},
				{RecordID: 4, GroupID: 2, Selected: false, Origin: types.OriginAutoPreselected},
			},
		},
	}

	if err := store.SaveGroups("sess", groups); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}

	loaded, selections := store.LoadGroups("sess")
	if len(loaded) != 2 {
		t.Fatalf("loaded %d groups, want 2", len(loaded))
	}
	if loaded[0].Kind != "exact" || loaded[1].Kind != "similar" {
		t.Errorf("kinds = %s, %s", loaded[0].Kind, loaded[1].Kind)
	}
	if got := loaded[0].MemberPaths; len(got) != 2 || got[0] != "/p/a.jpg" || got[1] != "/p/b.jpg" {
		t.Errorf("group 1 members = %v", got)
	}
	if loaded[1].Score != 0.85 {
		t.Errorf("group 2 score = %v, want 0.85", loaded[1].Score)
	}

	selectedByPath := make(map[string]bool)
	for _, sel := range selections {
		selectedByPath[sel.Path] = sel.Selected
	}
	if selectedByPath["/p/a.jpg"] || !selectedByPath["/p/b.jpg"] || !selectedByPath["/p/c.jpg"] {
		t.Errorf("selections = %v", selectedByPath)
	}
}

func TestSaveGroupsReplacesSnapshot(t *testing.T) {
	store := openTestStore(t)

	first := []*types.DuplicateGroup{{
		ID: 1, Kind: types.MatchExact, Score: 1,
		Members:    []*types.ImageRecord{{ID: 1, Path: "/p/a.jpg"}, {ID: 2, Path: "/p/b.jpg"}},
		Selections: []*types.SelectionState{{RecordID: 1, GroupID: 1}, {RecordID: 2, GroupID: 1, Selected: true}},
	}}
	if err := store.SaveGroups("sess", first); err != nil {
		t.Fatalf("SaveGroups: %v", err)
	}
	if err := store.SaveGroups("sess", nil); err != nil {
		t.Fatalf("SaveGroups with empty snapshot: %v", err)
	}

	loaded, selections := store.LoadGroups("sess")
	if len(loaded) != 0 || len(selections) != 0 {
		t.Errorf("snapshot not replaced: %d groups, %d selections", len(loaded), len(selections))
	}
}

func TestSessionStatusUpdate(t *testing.T) {
	store := openTestStore(t)

	sess := &types.ScanSession{
		ID:         "sess",
		Root:       "/photos",
		Strictness: 2,
		Status:     types.StatusRunning,
		StartedAt:  time.Now(),
	}
	if err := store.SaveSession(sess); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := store.UpdateSessionStatus("sess", types.StatusCompleted, time.Now()); err != nil {
		t.Fatalf("UpdateSessionStatus: %v", err)
	}

	var status string
	if err := store.db.QueryRow("SELECT status FROM sessions WHERE id = ?", "sess").Scan(&status); err != nil {
		t.Fatalf("query: %v", err)
	}
	if status != "completed" {
		t.Errorf("status = %q, want completed", status)
	}
}
