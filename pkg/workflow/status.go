package workflow

import (
	"encoding/json"
	"fmt"
)

// Role identifies one of the three parties in a donation workflow.
type Role string

const (
	// RoleBeneficiary is the organization receiving the donation.
	RoleBeneficiary Role = "beneficiary"

	// RoleContributor is the party making the donation.
	RoleContributor Role = "contributor"

	// RoleValuator is the independent party appraising the donation.
	RoleValuator Role = "valuator"
)

// Validate checks if the role is one of the three known parties.
func (r Role) Validate() error {
	switch r {
	case RoleBeneficiary, RoleContributor, RoleValuator:
		return nil
	default:
		return fmt.Errorf("invalid role: %s", r)
	}
}

// TaskKind discriminates the behavior of a task on completion.
type TaskKind string

const (
	// KindSimple is a plain check-off task with no side effects.
	KindSimple TaskKind = "simple"

	// KindInvitation sends a one-time notification to an invitee on completion.
	KindInvitation TaskKind = "invitation"

	// KindDocumentUpload requires at least one stored artifact reference.
	KindDocumentUpload TaskKind = "document_upload"

	// KindSignatureRequest references an external signing envelope.
	KindSignatureRequest TaskKind = "signature_request"

	// KindBranchDecision records a choice that rewrites the remaining graph.
	KindBranchDecision TaskKind = "branch_decision"
)

// Validate checks if the task kind is known.
func (k TaskKind) Validate() error {
	switch k {
	case KindSimple, KindInvitation, KindDocumentUpload,
		KindSignatureRequest, KindBranchDecision:
		return nil
	default:
		return fmt.Errorf("invalid task kind: %s", k)
	}
}

// Expirable returns true if the kind supports the explicit expire transition.
// Only tasks that wait on an outside party can lapse.
func (k TaskKind) Expirable() bool {
	return k == KindInvitation || k == KindSignatureRequest
}

// TaskStatus is the derived status of a task. Only StatusCompleted is ever
// persisted as ground truth; blocked and available are recomputed from the
// completion set on every read.
type TaskStatus string

const (
	// StatusBlocked indicates at least one dependency is not completed.
	StatusBlocked TaskStatus = "blocked"

	// StatusAvailable indicates every dependency is completed.
	StatusAvailable TaskStatus = "available"

	// StatusCompleted indicates the task has a completion timestamp.
	StatusCompleted TaskStatus = "completed"
)

// Validate checks if the task status is valid.
func (s TaskStatus) Validate() error {
	switch s {
	case StatusBlocked, StatusAvailable, StatusCompleted:
		return nil
	default:
		return fmt.Errorf("invalid task status: %s", s)
	}
}

// IsTerminal returns true if the status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s TaskStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *TaskStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = TaskStatus(str)
	return s.Validate()
}
