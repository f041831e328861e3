package workflow

import (
	"context"
	"errors"
)

// ErrVersionConflict is returned by InstanceStore.SaveInstance when the
// instance version in the store no longer matches the caller's copy. The
// engine responds by re-reading and re-applying the transition.
var ErrVersionConflict = errors.New("instance version conflict")

// ErrInstanceNotFound is returned by stores for an unknown instance id.
var ErrInstanceNotFound = errors.New("instance not found")

// InstanceStore persists the mutable task set for workflow instances.
// The engine treats it as a transactional map keyed by instance id; all
// task-level consistency is the engine's responsibility.
type InstanceStore interface {
	// CreateInstance persists a new instance. Fails if the id exists.
	CreateInstance(ctx context.Context, inst *Instance) error

	// LoadInstance returns the instance with the given id, or
	// ErrInstanceNotFound.
	LoadInstance(ctx context.Context, id string) (*Instance, error)

	// SaveInstance writes the full task set. It must compare inst.Version
	// against the stored version and return ErrVersionConflict on a stale
	// write; on success the stored and in-memory versions are incremented.
	SaveInstance(ctx context.Context, inst *Instance) error

	// ListInstanceIDs returns all known instance ids.
	ListInstanceIDs(ctx context.Context) ([]string, error)
}

// IdentityProvider resolves an incoming actor identifier to an identity and
// role. Identity issuance itself is an external concern.
type IdentityProvider interface {
	// Resolve returns the actor for an id, or an error if unknown.
	Resolve(ctx context.Context, actorID string) (Actor, error)
}

// Notification is a one-time external dispatch triggered by completing an
// invitation-kind task.
type Notification struct {
	// InstanceID is the workflow instance the invitation belongs to.
	InstanceID string `json:"instance_id"`

	// TaskID is the invitation task.
	TaskID string `json:"task_id"`

	// Recipient is the invitee address from the completion payload.
	Recipient string `json:"recipient"`

	// Subject is a short human-readable summary.
	Subject string `json:"subject"`
}

// Notifier delivers invitation notifications. It is invoked exactly once per
// invitation completion; a failure is surfaced as a dispatch error but never
// rolls back the completion.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NopNotifier discards notifications. Used where delivery is wired
// externally or not configured.
type NopNotifier struct{}

// Send implements Notifier.
func (NopNotifier) Send(ctx context.Context, n Notification) error { return nil }
