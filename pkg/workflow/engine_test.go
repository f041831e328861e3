package workflow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/pledgeflow/pledgeflow/pkg/stores"
	"github.com/pledgeflow/pledgeflow/pkg/workflow"
)

func testDefs() []workflow.TaskDef {
	return []workflow.TaskDef{
		{ID: "register_donation", Title: "Register donation",
			Kind: workflow.KindSimple, Role: workflow.RoleBeneficiary, Order: 0},
		{ID: "choose_commitment", Title: "Choose commitment",
			Kind: workflow.KindBranchDecision, Role: workflow.RoleContributor,
			Dependencies: []string{"register_donation"}, Order: 1,
			Options: []workflow.BranchOption{
				{
					Name:     "commit_now",
					Requires: []workflow.FieldRule{{Field: "amount", Type: "number", Positive: true}},
					Converts: []workflow.KindConversion{{TaskID: "invite_valuator", NewKind: workflow.KindSimple, NewTitle: "Record commitment"}},
					Skips:    []string{"appraise_donation"},
				},
				{Name: "commit_after_appraisal"},
			}},
		{ID: "invite_valuator", Title: "Invite valuator",
			Kind: workflow.KindInvitation, Role: workflow.RoleBeneficiary,
			Dependencies: []string{"choose_commitment"}, Order: 2},
		{ID: "appraise_donation", Title: "Appraise donation",
			Kind: workflow.KindDocumentUpload, Role: workflow.RoleValuator,
			Dependencies: []string{"invite_valuator"}, Order: 3},
		{ID: "sign_agreement", Title: "Sign agreement",
			Kind: workflow.KindSignatureRequest, Role: workflow.RoleContributor,
			Dependencies: []string{"appraise_donation"}, Order: 4},
		{ID: "confirm_receipt", Title: "Confirm receipt",
			Kind: workflow.KindSimple, Role: workflow.RoleBeneficiary,
			Dependencies: []string{"sign_agreement"}, Order: 5},
	}
}

var (
	beneficiary = workflow.Actor{ID: "shelter-1", Role: workflow.RoleBeneficiary}
	contributor = workflow.Actor{ID: "donor-1", Role: workflow.RoleContributor}
	valuator    = workflow.Actor{ID: "appraiser-1", Role: workflow.RoleValuator}
)

// mapIdentity resolves the three test actors.
type mapIdentity map[string]workflow.Actor

func (m mapIdentity) Resolve(_ context.Context, actorID string) (workflow.Actor, error) {
	actor, ok := m[actorID]
	if !ok {
		return workflow.Actor{}, errors.New("unknown actor")
	}
	return actor, nil
}

// recordingNotifier captures sent notifications; fail makes every send error.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []workflow.Notification
	fail bool
}

func (n *recordingNotifier) Send(_ context.Context, notification workflow.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("smtp unreachable")
	}
	n.sent = append(n.sent, notification)
	return nil
}

func newTestEngine(t *testing.T, notifier workflow.Notifier) (*workflow.Engine, *stores.MemoryStore) {
	t.Helper()

	tmpl, err := workflow.NewTemplate("donation", testDefs())
	if err != nil {
		t.Fatalf("NewTemplate failed: %v", err)
	}

	store := stores.NewMemoryStore()
	engine, err := workflow.NewEngine(workflow.EngineOptions{
		Template: tmpl,
		Store:    store,
		Identity: mapIdentity{
			beneficiary.ID: beneficiary,
			contributor.ID: contributor,
			valuator.ID:    valuator,
		},
		Notifier: notifier,
	})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine, store
}

func createInstance(t *testing.T, engine *workflow.Engine) *workflow.Instance {
	t.Helper()
	inst, err := engine.CreateInstance(context.Background(), beneficiary.ID, contributor.ID)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	return inst
}

func TestEngineCreateInstance(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)

	if inst.TemplateKind != "donation" {
		t.Errorf("expected donation kind, got %s", inst.TemplateKind)
	}
	if len(inst.Tasks) != 6 {
		t.Errorf("expected 6 tasks, got %d", len(inst.Tasks))
	}

	views, err := engine.ListTasks(context.Background(), inst.ID, beneficiary)
	if err != nil {
		t.Fatalf("ListTasks failed: %v", err)
	}
	for _, v := range views {
		if v.ID == "register_donation" && v.Status != workflow.StatusAvailable {
			t.Errorf("root should be available, got %s", v.Status)
		}
		if v.ID != "register_donation" && v.Status != workflow.StatusBlocked {
			t.Errorf("%s should be blocked, got %s", v.ID, v.Status)
		}
	}
}

func TestEngineCreateInstanceRequiresParties(t *testing.T) {
	engine, _ := newTestEngine(t, nil)

	if _, err := engine.CreateInstance(context.Background(), "", "donor-1"); !workflow.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestEngineFullAppraisalPath(t *testing.T) {
	notifier := &recordingNotifier{}
	engine, _ := newTestEngine(t, notifier)
	inst := createInstance(t, engine)
	ctx := context.Background()

	steps := []struct {
		task    string
		actor   workflow.Actor
		payload workflow.Payload
	}{
		{"register_donation", beneficiary, nil},
		{"choose_commitment", contributor, workflow.Payload{"option": "commit_after_appraisal"}},
		{"invite_valuator", beneficiary, workflow.Payload{"invitee_email": "appraiser@example.org"}},
		{"appraise_donation", valuator, workflow.Payload{"artifacts": []string{"appraisal.pdf"}}},
		{"sign_agreement", contributor, workflow.Payload{"envelope_id": "env-42"}},
		{"confirm_receipt", beneficiary, nil},
	}

	for _, step := range steps {
		result, err := engine.CompleteTask(ctx, inst.ID, step.task, step.actor, step.payload)
		if err != nil {
			t.Fatalf("complete %s failed: %v", step.task, err)
		}
		if result.DispatchError != nil {
			t.Fatalf("unexpected dispatch error on %s: %v", step.task, result.DispatchError)
		}
	}

	views, err := engine.Refresh(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for _, v := range views {
		if v.Status != workflow.StatusCompleted {
			t.Errorf("%s not completed at end of run: %s", v.ID, v.Status)
		}
	}

	if len(notifier.sent) != 1 {
		t.Fatalf("expected exactly one invitation dispatch, got %d", len(notifier.sent))
	}
	if notifier.sent[0].Recipient != "appraiser@example.org" {
		t.Errorf("unexpected recipient: %s", notifier.sent[0].Recipient)
	}
}

func TestEngineCommitNowBranch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	if _, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	result, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_now", "amount": float64(500)})
	if err != nil {
		t.Fatalf("commit_now failed: %v", err)
	}

	// The converted recording task surfaces as newly available; the skipped
	// appraisal does not.
	foundInvite := false
	for _, task := range result.NowAvailable {
		if task.ID == "invite_valuator" {
			foundInvite = true
			if task.Kind != workflow.KindSimple {
				t.Errorf("expected converted kind simple, got %s", task.Kind)
			}
		}
		if task.ID == "appraise_donation" {
			t.Error("skipped task must not be reported as available")
		}
	}
	if !foundInvite {
		t.Error("converted task missing from cascade result")
	}

	views, err := engine.Refresh(ctx, inst.ID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for _, v := range views {
		switch v.ID {
		case "appraise_donation":
			if !v.Skipped || v.Status != workflow.StatusCompleted {
				t.Errorf("appraisal should be completed by skip: %+v", v)
			}
		case "invite_valuator":
			if v.Kind != workflow.KindSimple || v.Title != "Record commitment" {
				t.Errorf("invitation not converted: %+v", v)
			}
		}
	}

	// Completing the converted task needs no invitation payload, and the
	// signature unblocks straight past the skipped appraisal.
	result, err = engine.CompleteTask(ctx, inst.ID, "invite_valuator", beneficiary, nil)
	if err != nil {
		t.Fatalf("record commitment failed: %v", err)
	}
	if len(result.NowAvailable) != 1 || result.NowAvailable[0].ID != "sign_agreement" {
		t.Errorf("expected sign_agreement newly available, got %v", result.NowAvailable)
	}
}

func TestEngineBranchValidation(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	if _, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	// commit_now without an amount fails and leaves the decision incomplete.
	_, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_now"})
	if !workflow.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	views, _ := engine.Refresh(ctx, inst.ID)
	for _, v := range views {
		if v.ID == "choose_commitment" && v.Status != workflow.StatusAvailable {
			t.Errorf("failed validation must not complete the task: %s", v.Status)
		}
		if v.ID == "appraise_donation" && v.Skipped {
			t.Error("failed validation must not apply the branch rewrite")
		}
	}

	// The same option with an amount then succeeds.
	if _, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_now", "amount": float64(500)}); err != nil {
		t.Fatalf("commit_now with amount failed: %v", err)
	}
}

func TestEngineCompleteIdempotency(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	if _, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil); err != nil {
		t.Fatalf("first complete failed: %v", err)
	}

	saved, err := store.LoadInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	firstCompletedAt := *saved.Tasks["register_donation"].CompletedAt

	_, err = engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil)
	if !workflow.IsConflict(err) {
		t.Fatalf("expected conflict on double completion, got %v", err)
	}

	// The conflict must not have written anything.
	after, err := store.LoadInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if after.Version != saved.Version {
		t.Errorf("conflict bumped the version: %d -> %d", saved.Version, after.Version)
	}
	if !after.Tasks["register_donation"].CompletedAt.Equal(firstCompletedAt) {
		t.Error("conflict rewrote the completion timestamp")
	}
}

func TestEngineConcurrentSameTask(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	const goroutines = 16
	var wg sync.WaitGroup
	errs := make(chan error, goroutines)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	successes, conflicts := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case workflow.IsConflict(err):
			conflicts++
		default:
			t.Errorf("unexpected error class: %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one success, got %d", successes)
	}
	if conflicts != goroutines-1 {
		t.Errorf("expected %d conflicts, got %d", goroutines-1, conflicts)
	}
}

func TestEngineBlockedAndMismatch(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	// Blocked task.
	_, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_after_appraisal"})
	if !workflow.IsDependencyViolation(err) {
		t.Errorf("expected dependency violation, got %v", err)
	}

	// Wrong role on an available task.
	_, err = engine.CompleteTask(ctx, inst.ID, "register_donation", contributor, nil)
	if !workflow.IsValidation(err) {
		t.Errorf("expected validation error for role mismatch, got %v", err)
	}

	// Unknown task and unknown instance.
	_, err = engine.CompleteTask(ctx, inst.ID, "ghost", beneficiary, nil)
	if !workflow.IsNotFound(err) {
		t.Errorf("expected not-found for unknown task, got %v", err)
	}
	_, err = engine.CompleteTask(ctx, "ghost-instance", "register_donation", beneficiary, nil)
	if !workflow.IsNotFound(err) {
		t.Errorf("expected not-found for unknown instance, got %v", err)
	}
}

func TestEngineCompleteTaskAs(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	if _, err := engine.CompleteTaskAs(ctx, inst.ID, "register_donation", "shelter-1", nil); err != nil {
		t.Fatalf("CompleteTaskAs failed: %v", err)
	}

	_, err := engine.CompleteTaskAs(ctx, inst.ID, "choose_commitment", "stranger", nil)
	if !workflow.IsNotFound(err) {
		t.Errorf("expected not-found for unknown actor, got %v", err)
	}
}

func TestEngineDispatchErrorDoesNotRollBack(t *testing.T) {
	notifier := &recordingNotifier{fail: true}
	engine, _ := newTestEngine(t, notifier)
	inst := createInstance(t, engine)
	ctx := context.Background()

	mustComplete := func(task string, actor workflow.Actor, payload workflow.Payload) *workflow.CompletionResult {
		result, err := engine.CompleteTask(ctx, inst.ID, task, actor, payload)
		if err != nil {
			t.Fatalf("complete %s failed: %v", task, err)
		}
		return result
	}

	mustComplete("register_donation", beneficiary, nil)
	mustComplete("choose_commitment", contributor, workflow.Payload{"option": "commit_after_appraisal"})

	result := mustComplete("invite_valuator", beneficiary,
		workflow.Payload{"invitee_email": "appraiser@example.org"})
	if result.DispatchError == nil {
		t.Fatal("expected a dispatch error from the failing notifier")
	}
	if !workflow.IsDispatch(result.DispatchError) {
		t.Errorf("expected dispatch class, got %v", result.DispatchError)
	}

	// The completion stands: the valuator's appraisal is available.
	views, _ := engine.Refresh(ctx, inst.ID)
	for _, v := range views {
		if v.ID == "invite_valuator" && v.Status != workflow.StatusCompleted {
			t.Errorf("dispatch failure rolled back the completion: %s", v.Status)
		}
		if v.ID == "appraise_donation" && v.Status != workflow.StatusAvailable {
			t.Errorf("dependent not unblocked: %s", v.Status)
		}
	}
}

func TestEngineExpireTask(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	// Simple tasks never expire.
	_, err := engine.ExpireTask(ctx, inst.ID, "register_donation")
	if !workflow.IsValidation(err) {
		t.Errorf("expected validation error for non-expirable kind, got %v", err)
	}

	// Blocked expirable tasks cannot expire either.
	_, err = engine.ExpireTask(ctx, inst.ID, "invite_valuator")
	if !workflow.IsDependencyViolation(err) {
		t.Errorf("expected dependency violation for blocked task, got %v", err)
	}

	if _, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_after_appraisal"}); err != nil {
		t.Fatalf("choose failed: %v", err)
	}

	task, err := engine.ExpireTask(ctx, inst.ID, "invite_valuator")
	if err != nil {
		t.Fatalf("ExpireTask failed: %v", err)
	}
	if !task.Payload.Expired() || !task.Completed() {
		t.Errorf("expired task not marked: %+v", task)
	}

	// Expiry completes the task, so its dependent unblocks and a second
	// expiry conflicts.
	views, _ := engine.Refresh(ctx, inst.ID)
	for _, v := range views {
		if v.ID == "appraise_donation" && v.Status != workflow.StatusAvailable {
			t.Errorf("dependent of expired task not available: %s", v.Status)
		}
	}
	if _, err := engine.ExpireTask(ctx, inst.ID, "invite_valuator"); !workflow.IsConflict(err) {
		t.Errorf("expected conflict on double expiry, got %v", err)
	}
}

func TestEngineResetInstance(t *testing.T) {
	engine, store := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	if _, err := engine.CompleteTask(ctx, inst.ID, "register_donation", beneficiary, nil); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := engine.CompleteTask(ctx, inst.ID, "choose_commitment", contributor,
		workflow.Payload{"option": "commit_now", "amount": float64(500)}); err != nil {
		t.Fatalf("choose failed: %v", err)
	}

	if err := engine.ResetInstance(ctx, inst.ID); err != nil {
		t.Fatalf("ResetInstance failed: %v", err)
	}

	first, err := store.LoadInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	for id, task := range first.Tasks {
		if task.Completed() {
			t.Errorf("task %s still completed after reset", id)
		}
		if task.Payload != nil {
			t.Errorf("task %s kept its payload after reset", id)
		}
	}
	// The branch rewrite is undone too.
	if first.Tasks["invite_valuator"].Kind != workflow.KindInvitation {
		t.Errorf("conversion survived reset: %s", first.Tasks["invite_valuator"].Kind)
	}

	// Reset is idempotent: a second reset yields the same initial task set.
	if err := engine.ResetInstance(ctx, inst.ID); err != nil {
		t.Fatalf("second ResetInstance failed: %v", err)
	}
	second, err := store.LoadInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("LoadInstance failed: %v", err)
	}
	if len(second.Tasks) != len(first.Tasks) {
		t.Fatalf("task set size changed: %d -> %d", len(first.Tasks), len(second.Tasks))
	}
	for id, task := range second.Tasks {
		prev := first.Tasks[id]
		if task.Kind != prev.Kind || task.Completed() != prev.Completed() {
			t.Errorf("task %s differs between resets", id)
		}
	}
}

func TestEngineNextTask(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)
	ctx := context.Background()

	next, err := engine.NextTask(ctx, inst.ID, workflow.RoleBeneficiary)
	if err != nil {
		t.Fatalf("NextTask failed: %v", err)
	}
	if next == nil || next.ID != "register_donation" {
		t.Errorf("expected register_donation, got %v", next)
	}

	next, err = engine.NextTask(ctx, inst.ID, workflow.RoleValuator)
	if err != nil {
		t.Fatalf("NextTask failed: %v", err)
	}
	if next != nil {
		t.Errorf("valuator should have no available task, got %v", next)
	}
}

func TestEngineRefreshAnonymous(t *testing.T) {
	engine, _ := newTestEngine(t, nil)
	inst := createInstance(t, engine)

	views, err := engine.Refresh(context.Background(), inst.ID)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	for _, v := range views {
		if v.CanAct {
			t.Errorf("anonymous view must not mark %s actionable", v.ID)
		}
	}
}
