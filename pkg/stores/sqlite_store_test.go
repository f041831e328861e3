package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	inst := sampleInstance("inst-1")
	if err := store.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	loaded, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if loaded.TemplateKind != "donation" {
		t.Errorf("expected template kind donation, got %s", loaded.TemplateKind)
	}
	if loaded.Beneficiary != "shelter-1" || loaded.Contributor != "donor-1" {
		t.Errorf("parties did not round-trip: %s / %s", loaded.Beneficiary, loaded.Contributor)
	}
	if len(loaded.Tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(loaded.Tasks))
	}

	branch := loaded.Tasks["choose_commitment"]
	if branch == nil {
		t.Fatal("choose_commitment missing")
	}
	if branch.Kind != workflow.KindBranchDecision {
		t.Errorf("expected branch_decision kind, got %s", branch.Kind)
	}
	if len(branch.Options) != 2 {
		t.Fatalf("expected 2 branch options, got %d", len(branch.Options))
	}
	if branch.Options[0].Name != "commit_now" {
		t.Errorf("expected first option commit_now, got %s", branch.Options[0].Name)
	}
	if len(branch.Options[0].Requires) != 1 || !branch.Options[0].Requires[0].Positive {
		t.Error("field rules did not round-trip")
	}
	if len(branch.Dependencies) != 1 || branch.Dependencies[0] != "register_donation" {
		t.Errorf("dependencies did not round-trip: %v", branch.Dependencies)
	}
}

func TestSQLiteStoreLoadMissing(t *testing.T) {
	store := newTestSQLiteStore(t)

	_, err := store.LoadInstance(context.Background(), "nope")
	if !errors.Is(err, workflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestSQLiteStoreSaveCompletion(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.CreateInstance(ctx, sampleInstance("inst-1")); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	inst, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	task := inst.Tasks["register_donation"]
	task.CompletedAt = &now
	task.CompletedBy = "shelter-1"
	task.Payload = workflow.Payload{"note": "received"}
	inst.UpdatedAt = now

	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}

	loaded, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	got := loaded.Tasks["register_donation"]
	if !got.Completed() {
		t.Fatal("expected task to be completed after save")
	}
	if got.CompletedBy != "shelter-1" {
		t.Errorf("expected completed_by shelter-1, got %s", got.CompletedBy)
	}
	if got.Payload.String("note") != "received" {
		t.Errorf("payload did not round-trip: %v", got.Payload)
	}
	if loaded.Version != 1 {
		t.Errorf("expected version 1 after save, got %d", loaded.Version)
	}
}

func TestSQLiteStoreSaveStaleVersion(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := store.CreateInstance(ctx, sampleInstance("inst-1")); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	first, _ := store.LoadInstance(ctx, "inst-1")
	second, _ := store.LoadInstance(ctx, "inst-1")

	if err := store.SaveInstance(ctx, first); err != nil {
		t.Fatalf("first save failed: %v", err)
	}

	err := store.SaveInstance(ctx, second)
	if !errors.Is(err, workflow.ErrVersionConflict) {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}

	// The losing save must leave the stored state untouched.
	loaded, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("expected version 1, got %d", loaded.Version)
	}
}

func TestSQLiteStoreListInstanceIDs(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"inst-b", "inst-a"} {
		if err := store.CreateInstance(ctx, sampleInstance(id)); err != nil {
			t.Fatalf("CreateInstance %s failed: %v", id, err)
		}
	}

	ids, err := store.ListInstanceIDs(ctx)
	if err != nil {
		t.Fatalf("ListInstanceIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != "inst-a" || ids[1] != "inst-b" {
		t.Errorf("unexpected ids: %v", ids)
	}
}

func TestSQLiteStoreMigrateIdempotent(t *testing.T) {
	store := newTestSQLiteStore(t)

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}
}
