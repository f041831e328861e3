package workflow

import (
	"errors"
	"testing"
)

func TestValidatePayloadSimple(t *testing.T) {
	task := &Task{ID: "confirm", Kind: KindSimple}

	if err := ValidatePayload(task, nil); err != nil {
		t.Errorf("simple task must accept empty payload: %v", err)
	}
	if err := ValidatePayload(task, Payload{"note": "thanks"}); err != nil {
		t.Errorf("simple task must accept arbitrary payload: %v", err)
	}
}

func TestValidatePayloadInvitation(t *testing.T) {
	task := &Task{ID: "invite", Kind: KindInvitation}

	if err := ValidatePayload(task, Payload{PayloadKeyInviteeEmail: "val@example.org"}); err != nil {
		t.Errorf("valid email rejected: %v", err)
	}

	err := ValidatePayload(task, nil)
	if !IsValidation(err) {
		t.Errorf("expected validation error for missing email, got %v", err)
	}

	err = ValidatePayload(task, Payload{PayloadKeyInviteeEmail: "not-an-email"})
	if !IsValidation(err) {
		t.Errorf("expected validation error for malformed email, got %v", err)
	}
}

func TestValidatePayloadDocumentUpload(t *testing.T) {
	task := &Task{ID: "appraise", Kind: KindDocumentUpload}

	if err := ValidatePayload(task, Payload{PayloadKeyArtifacts: []string{"appraisal.pdf"}}); err != nil {
		t.Errorf("valid artifacts rejected: %v", err)
	}

	err := ValidatePayload(task, nil)
	if !IsValidation(err) {
		t.Errorf("expected validation error for missing artifacts, got %v", err)
	}

	err = ValidatePayload(task, Payload{PayloadKeyArtifacts: []string{}})
	if !IsValidation(err) {
		t.Errorf("expected validation error for empty artifacts, got %v", err)
	}
}

func TestValidatePayloadSignature(t *testing.T) {
	task := &Task{ID: "sign", Kind: KindSignatureRequest}

	if err := ValidatePayload(task, Payload{PayloadKeyEnvelopeID: "env-42"}); err != nil {
		t.Errorf("valid envelope rejected: %v", err)
	}
	if err := ValidatePayload(task, nil); !IsValidation(err) {
		t.Errorf("expected validation error for missing envelope, got %v", err)
	}
}

func branchTask(t *testing.T) *Task {
	t.Helper()
	tasks := mustTemplate(t).Instantiate("inst-1")
	return tasks["choose_commitment"]
}

func TestValidatePayloadBranchRequiresOption(t *testing.T) {
	task := branchTask(t)

	err := ValidatePayload(task, nil)
	if !IsValidation(err) {
		t.Fatalf("expected validation error without option, got %v", err)
	}

	err = ValidatePayload(task, Payload{PayloadKeyOption: "commit_sideways"})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for undeclared option, got %v", err)
	}
	var werr *WorkflowError
	if !errors.As(err, &werr) || werr.Code != ErrCodeUnknownOption {
		t.Errorf("expected code %s, got %v", ErrCodeUnknownOption, err)
	}
}

func TestValidatePayloadBranchFieldRules(t *testing.T) {
	task := branchTask(t)

	// commit_now demands a positive amount.
	err := ValidatePayload(task, Payload{PayloadKeyOption: "commit_now"})
	if !IsValidation(err) {
		t.Errorf("expected validation error for missing amount, got %v", err)
	}

	err = ValidatePayload(task, Payload{PayloadKeyOption: "commit_now", PayloadKeyAmount: "plenty"})
	if !IsValidation(err) {
		t.Errorf("expected validation error for non-numeric amount, got %v", err)
	}

	err = ValidatePayload(task, Payload{PayloadKeyOption: "commit_now", PayloadKeyAmount: float64(-5)})
	if !IsValidation(err) {
		t.Errorf("expected validation error for negative amount, got %v", err)
	}

	if err := ValidatePayload(task, Payload{PayloadKeyOption: "commit_now", PayloadKeyAmount: float64(500)}); err != nil {
		t.Errorf("amount 500 rejected: %v", err)
	}

	// commit_after_appraisal declares no field rules; the same payload
	// minus the amount is fine.
	if err := ValidatePayload(task, Payload{PayloadKeyOption: "commit_after_appraisal"}); err != nil {
		t.Errorf("commit_after_appraisal without amount rejected: %v", err)
	}
}

func TestPayloadNumberCoercion(t *testing.T) {
	p := Payload{"f": float64(2.5), "i": 7, "i64": int64(9), "s": "nope"}

	if n, ok := p.Number("f"); !ok || n != 2.5 {
		t.Errorf("float64 not read: %v %v", n, ok)
	}
	if n, ok := p.Number("i"); !ok || n != 7 {
		t.Errorf("int not coerced: %v %v", n, ok)
	}
	if n, ok := p.Number("i64"); !ok || n != 9 {
		t.Errorf("int64 not coerced: %v %v", n, ok)
	}
	if _, ok := p.Number("s"); ok {
		t.Error("string must not coerce to number")
	}
}

func TestPayloadStringsCoercion(t *testing.T) {
	p := Payload{
		"typed": []string{"a.pdf"},
		"mixed": []interface{}{"b.pdf", "c.pdf"},
	}

	if got := p.Strings("typed"); len(got) != 1 || got[0] != "a.pdf" {
		t.Errorf("typed slice not read: %v", got)
	}
	if got := p.Strings("mixed"); len(got) != 2 || got[1] != "c.pdf" {
		t.Errorf("interface slice not coerced: %v", got)
	}
}
