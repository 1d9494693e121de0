package session

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"imagedupes/config"
	"imagedupes/database"
	"imagedupes/types"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := database.Open(filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewEngine(store)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DisableSimilarity = true
	cfg.Incremental = false
	return cfg
}

func TestStartScanInvalidRoot(t *testing.T) {
	e := testEngine(t)

	_, err := e.StartScan(filepath.Join(t.TempDir(), "missing"), testConfig())
	if !errors.Is(err, ErrInvalidRoot) {
		t.Errorf("missing root: err = %v, want ErrInvalidRoot", err)
	}

	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = e.StartScan(file, testConfig())
	if !errors.Is(err, ErrInvalidRoot) {
		t.Errorf("file root: err = %v, want ErrInvalidRoot", err)
	}
}

func TestStartScanRejectsInvalidConfig(t *testing.T) {
	e := testEngine(t)
	cfg := testConfig()
	cfg.Strictness = 42
	if _, err := e.StartScan(t.TempDir(), cfg); err == nil {
		t.Error("invalid config should fail StartScan")
	}
}

func TestUnknownSession(t *testing.T) {
	e := testEngine(t)

	if _, err := e.Progress("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Progress: err = %v, want ErrUnknownSession", err)
	}
	if _, err := e.Summary("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Summary: err = %v, want ErrUnknownSession", err)
	}
	if err := e.Cancel("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Cancel: err = %v, want ErrUnknownSession", err)
	}
	if _, err := e.Groups("nope"); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Groups: err = %v, want ErrUnknownSession", err)
	}
	if _, err := e.Archive("nope", t.TempDir()); !errors.Is(err, ErrUnknownSession) {
		t.Errorf("Archive: err = %v, want ErrUnknownSession", err)
	}
}

func TestScanEmptyRootCompletes(t *testing.T) {
	e := testEngine(t)

	id, err := e.StartScan(t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := e.Wait(id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	prog, err := e.Progress(id)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if prog.Status != types.StatusCompleted {
		t.Errorf("status = %s, want %s", prog.Status, types.StatusCompleted)
	}

	sum, err := e.Summary(id)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.Discovered != 0 || sum.Groups != 0 {
		t.Errorf("summary = %+v, want all zero", sum)
	}

	groups, err := e.Groups(id)
	if err != nil {
		t.Fatalf("Groups: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("got %d groups, want 0", len(groups))
	}
}

func TestCancelAfterCompletionIsNoop(t *testing.T) {
	e := testEngine(t)

	id, err := e.StartScan(t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := e.Wait(id); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if err := e.Cancel(id); err != nil {
		t.Errorf("Cancel after completion: %v", err)
	}

	prog, _ := e.Progress(id)
	if prog.Status != types.StatusCompleted {
		t.Errorf("status = %s after late cancel, want %s", prog.Status, types.StatusCompleted)
	}
}

func TestSetSelectionUnknownRecord(t *testing.T) {
	e := testEngine(t)

	id, err := e.StartScan(t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := e.Wait(id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if err := e.SetSelection(id, 999, true); !errors.Is(err, ErrUnknownRecord) {
		t.Errorf("err = %v, want ErrUnknownRecord", err)
	}
}

func TestArchiveInvalidDestination(t *testing.T) {
	e := testEngine(t)

	id, err := e.StartScan(t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := e.Wait(id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if _, err := e.Archive(id, ""); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("empty destination: err = %v, want ErrInvalidDestination", err)
	}

	// A regular file cannot become the destination directory.
	file := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Archive(id, file); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("file destination: err = %v, want ErrInvalidDestination", err)
	}
}

func TestArchiveNothingSelected(t *testing.T) {
	e := testEngine(t)

	id, err := e.StartScan(t.TempDir(), testConfig())
	if err != nil {
		t.Fatalf("StartScan: %v", err)
	}
	if err := e.Wait(id); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	op, err := e.Archive(id, t.TempDir())
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if len(op.Items) != 0 || op.MovedCount != 0 {
		t.Errorf("op = %+v, want empty", op)
	}
}

func TestVisibleGroupsFiltersInvalidMembers(t *testing.T) {
	a := &types.ImageRecord{ID: 1, Path: "/p/a.jpg", Valid: true}
	b := &types.ImageRecord{ID: 2, Path: "/p/b.jpg", Valid: false}
	c := &types.ImageRecord{ID: 3, Path: "/p/c.jpg", Valid: true}

	groups := []*types.DuplicateGroup{
		{
			ID:      1,
			Members: []*types.ImageRecord{a, b, c},
			Selections: []*types.SelectionState{
				{RecordID: 1}, {RecordID: 2}, {RecordID: 3, Selected: true},
			},
		},
		{
			ID:         2,
			Members:    []*types.ImageRecord{a, b},
			Selections: []*types.SelectionState{{RecordID: 1}, {RecordID: 2}},
		},
	}

	visible := visibleGroups(groups)
	if len(visible) != 1 {
		t.Fatalf("got %d visible groups, want 1", len(visible))
	}
	if got := len(visible[0].Members); got != 2 {
		t.Errorf("visible members = %d, want 2", got)
	}
	// Selections stay parallel to the filtered member list.
	if visible[0].Selections[1].RecordID != 3 {
		t.Errorf("selection misaligned after filtering: %+v", visible[0].Selections[1])
	}
}
