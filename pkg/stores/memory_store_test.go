package stores

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func sampleInstance(id string) *workflow.Instance {
	now := time.Now().UTC()
	return &workflow.Instance{
		ID:           id,
		TemplateKind: "donation",
		Beneficiary:  "shelter-1",
		Contributor:  "donor-1",
		Version:      0,
		CreatedAt:    now,
		UpdatedAt:    now,
		Tasks: map[string]*workflow.Task{
			"register_donation": {
				ID:    "register_donation",
				Title: "Register donation",
				Kind:  workflow.KindSimple,
				Role:  workflow.RoleBeneficiary,
				Order: 0,
			},
			"choose_commitment": {
				ID:           "choose_commitment",
				Title:        "Choose commitment",
				Kind:         workflow.KindBranchDecision,
				Role:         workflow.RoleContributor,
				Dependencies: []string{"register_donation"},
				Order:        1,
				Options: []workflow.BranchOption{
					{Name: "commit_now", Requires: []workflow.FieldRule{{Field: "amount", Type: "number", Positive: true}}},
					{Name: "commit_after_appraisal"},
				},
			},
		},
	}
}

func TestMemoryStoreCreateAndLoad(t *testing.T) {
	store := NewMemoryStore()
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
	if len(loaded.Tasks) != 2 {
		t.Errorf("expected 2 tasks, got %d", len(loaded.Tasks))
	}

	// Mutating the loaded copy must not leak into the store.
	loaded.Tasks["register_donation"].Title = "mutated"
	again, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if again.Tasks["register_donation"].Title != "Register donation" {
		t.Error("store shared task pointers with a caller")
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, sampleInstance("inst-1")); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	if err := store.CreateInstance(ctx, sampleInstance("inst-1")); err == nil {
		t.Error("expected error creating duplicate instance")
	}
}

func TestMemoryStoreLoadMissing(t *testing.T) {
	store := NewMemoryStore()

	_, err := store.LoadInstance(context.Background(), "nope")
	if !errors.Is(err, workflow.ErrInstanceNotFound) {
		t.Errorf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestMemoryStoreSaveBumpsVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.CreateInstance(ctx, sampleInstance("inst-1")); err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}

	inst, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}

	now := time.Now().UTC()
	inst.Tasks["register_donation"].CompletedAt = &now
	inst.Tasks["register_donation"].CompletedBy = "shelter-1"

	if err := store.SaveInstance(ctx, inst); err != nil {
		t.Fatalf("SaveInstance failed: %v", err)
	}
	if inst.Version != 1 {
		t.Errorf("expected caller version bumped to 1, got %d", inst.Version)
	}

	loaded, err := store.LoadInstance(ctx, "inst-1")
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if loaded.Version != 1 {
		t.Errorf("expected stored version 1, got %d", loaded.Version)
	}
	if !loaded.Tasks["register_donation"].Completed() {
		t.Error("expected completion to persist")
	}
}

func TestMemoryStoreSaveStaleVersion(t *testing.T) {
	store := NewMemoryStore()
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
}

func TestMemoryStoreListInstanceIDs(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"inst-b", "inst-a", "inst-c"} {
		if err := store.CreateInstance(ctx, sampleInstance(id)); err != nil {
			t.Fatalf("CreateInstance %s failed: %v", id, err)
		}
	}

	ids, err := store.ListInstanceIDs(ctx)
	if err != nil {
		t.Fatalf("ListInstanceIDs failed: %v", err)
	}
	want := []string{"inst-a", "inst-b", "inst-c"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("expected ids[%d]=%s, got %s", i, id, ids[i])
		}
	}
}
