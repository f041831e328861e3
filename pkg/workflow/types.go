package workflow

import (
	"encoding/json"
	"time"
)

// Payload carries kind-specific task metadata: the chosen branch option,
// uploaded-artifact references, skip and expiry markers. It is persisted as
// a JSON document alongside the task.
type Payload map[string]interface{}

// Well-known payload keys.
const (
	PayloadKeyOption       = "option"
	PayloadKeyAmount       = "amount"
	PayloadKeyArtifacts    = "artifacts"
	PayloadKeyEnvelopeID   = "envelope_id"
	PayloadKeyInviteeEmail = "invitee_email"
	PayloadKeySkipped      = "skipped"
	PayloadKeySkipReason   = "skip_reason"
	PayloadKeyExpired      = "expired"
	PayloadKeyExpiredAt    = "expired_at"
)

// String returns the string value for a key, or "" if absent or not a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// Bool returns the boolean value for a key, false if absent.
func (p Payload) Bool(key string) bool {
	if p == nil {
		return false
	}
	b, _ := p[key].(bool)
	return b
}

// Number returns the numeric value for a key. JSON decoding yields float64;
// integer literals set directly in Go are accepted too.
func (p Payload) Number(key string) (float64, bool) {
	if p == nil {
		return 0, false
	}
	switch v := p[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Strings returns the string-slice value for a key. Both []string and the
// []interface{} produced by JSON decoding are accepted.
func (p Payload) Strings(key string) []string {
	if p == nil {
		return nil
	}
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// Option returns the branch option recorded in the payload.
func (p Payload) Option() string {
	return p.String(PayloadKeyOption)
}

// Skipped returns true if the task was completed by skip rather than by an
// actor (unchosen branch arm, or an expired invitation).
func (p Payload) Skipped() bool {
	return p.Bool(PayloadKeySkipped)
}

// Expired returns true if the task lapsed via the expire transition.
func (p Payload) Expired() bool {
	return p.Bool(PayloadKeyExpired)
}

// Clone returns a shallow copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// FieldRule declares an extra payload field a branch option requires.
type FieldRule struct {
	// Field is the payload key that must be present.
	Field string `json:"field"`

	// Type is the expected value type ("number" or "string").
	Type string `json:"type"`

	// Positive requires a numeric value to be strictly greater than zero.
	Positive bool `json:"positive,omitempty"`
}

// KindConversion rewrites another task's kind in place when an option is
// chosen. The target keeps its id, role, and every edge referencing it, so
// dependents never observe the rewrite.
type KindConversion struct {
	// TaskID is the task to rewrite.
	TaskID string `json:"task_id"`

	// NewKind is the kind the task becomes.
	NewKind TaskKind `json:"new_kind"`

	// NewTitle optionally replaces the task title to match the new kind.
	NewTitle string `json:"new_title,omitempty"`
}

// BranchOption is one enumerated choice on a branch_decision task.
type BranchOption struct {
	// Name is the option identifier recorded in the decision payload.
	Name string `json:"name"`

	// Requires lists extra payload fields the option demands.
	Requires []FieldRule `json:"requires,omitempty"`

	// Converts lists in-place kind rewrites applied when this option wins.
	Converts []KindConversion `json:"converts,omitempty"`

	// Skips lists tasks specific to the other options; they are completed
	// by skip so their dependents unblock.
	Skips []string `json:"skips,omitempty"`
}

// Task is one node in a workflow instance's dependency graph.
type Task struct {
	// ID is the stable task identifier, unique within the instance.
	ID string `json:"id"`

	// Title is the human-readable task title.
	Title string `json:"title"`

	// Description explains what the actor is expected to do.
	Description string `json:"description,omitempty"`

	// Kind discriminates completion behavior. Mutable only through branch
	// rewriting; everything else about the task identity is fixed.
	Kind TaskKind `json:"kind"`

	// Role is the party that owns this task. Fixed at creation.
	Role Role `json:"role"`

	// Actor optionally pins the task to a specific actor ID. Empty means
	// any holder of Role may complete it.
	Actor string `json:"actor,omitempty"`

	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty"`

	// Order is an advisory tie-break among simultaneously-available tasks
	// for a role. It never participates in blocking computation.
	Order int `json:"order"`

	// Options enumerates branch choices. Only set for branch_decision tasks.
	Options []BranchOption `json:"options,omitempty"`

	// Payload carries kind-specific metadata once the task completes.
	Payload Payload `json:"payload,omitempty"`

	// CompletedAt is the completion timestamp. A task is completed iff this
	// is non-nil; it is set once and immutable except by instance reset.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletedBy is the actor ID that completed the task, or "system" for
	// skip and expiry completions.
	CompletedBy string `json:"completed_by,omitempty"`
}

// Completed returns true if the task has a completion timestamp.
func (t *Task) Completed() bool {
	return t.CompletedAt != nil
}

// PinnedTo returns true if the task is pinned to a specific actor.
func (t *Task) PinnedTo() bool {
	return t.Actor != ""
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	out := *t
	out.Dependencies = append([]string(nil), t.Dependencies...)
	out.Options = append([]BranchOption(nil), t.Options...)
	out.Payload = t.Payload.Clone()
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		out.CompletedAt = &at
	}
	return &out
}

// Option returns the declared branch option with the given name.
func (t *Task) Option(name string) (BranchOption, bool) {
	for _, opt := range t.Options {
		if opt.Name == name {
			return opt, true
		}
	}
	return BranchOption{}, false
}

// Actor is a resolved caller identity: who they are and which role they hold.
type Actor struct {
	// ID is the stable actor identifier.
	ID string `json:"id"`

	// Role is the workflow role the actor holds.
	Role Role `json:"role"`
}

// Instance is one running occurrence of the task graph for one
// contributor/beneficiary pairing.
type Instance struct {
	// ID is the unique instance identifier.
	ID string `json:"id"`

	// TemplateKind names the workflow template this instance was built from.
	TemplateKind string `json:"template_kind"`

	// Beneficiary is the beneficiary organization identifier.
	Beneficiary string `json:"beneficiary"`

	// Contributor is the contributor identifier.
	Contributor string `json:"contributor"`

	// Tasks is the instance's task set, keyed by task ID. Edges reference
	// ids only, so branch rewriting a task never invalidates them.
	Tasks map[string]*Task `json:"tasks"`

	// Version is the instance version for optimistic locking. Incremented
	// by the store on every successful save.
	Version int64 `json:"version"`

	// CreatedAt is when the instance was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the instance was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the instance.
func (i *Instance) Clone() *Instance {
	out := *i
	out.Tasks = make(map[string]*Task, len(i.Tasks))
	for id, task := range i.Tasks {
		out.Tasks[id] = task.Clone()
	}
	return &out
}

// Task returns the task with the given id, or a not-found error.
func (i *Instance) Task(taskID string) (*Task, error) {
	task, ok := i.Tasks[taskID]
	if !ok {
		return nil, NewNotFoundError("unknown task", nil).
			WithInstance(i.ID).
			WithTask(taskID).
			WithCode(ErrCodeUnknownTask)
	}
	return task, nil
}

// BlockingInfo names the nearest unmet cross-role dependency of a blocked
// task, for the "waiting on someone else" explanation in role views.
type BlockingInfo struct {
	// TaskID is the unmet dependency's id.
	TaskID string `json:"task_id"`

	// Role is the party the blocked task is waiting on.
	Role Role `json:"role"`

	// Title is the unmet dependency's title.
	Title string `json:"title"`
}

// TaskView is the projection of one task for a requesting actor.
type TaskView struct {
	// ID is the task id.
	ID string `json:"id"`

	// Title is the task title.
	Title string `json:"title"`

	// Description is the task description.
	Description string `json:"description,omitempty"`

	// Kind is the task kind after any branch rewriting.
	Kind TaskKind `json:"kind"`

	// Role is the party that owns the task.
	Role Role `json:"role"`

	// Status is the derived status at read time.
	Status TaskStatus `json:"status"`

	// Order is the advisory ordering hint.
	Order int `json:"order"`

	// CanAct is true if the requester may complete this task now.
	CanAct bool `json:"can_act"`

	// WaitingOn explains a cross-role blocker, if any. Nil for available
	// and completed tasks, and for tasks blocked only by same-role work.
	WaitingOn *BlockingInfo `json:"waiting_on,omitempty"`

	// Skipped is true if the task was completed by skip.
	Skipped bool `json:"skipped,omitempty"`

	// Expired is true if the task lapsed via the expire transition.
	Expired bool `json:"expired,omitempty"`

	// CompletedAt is the completion timestamp, if completed.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// CompletedBy is the completing actor, if completed.
	CompletedBy string `json:"completed_by,omitempty"`
}

// CompletionResult is returned by a successful task completion.
type CompletionResult struct {
	// Task is the completed task.
	Task *Task `json:"task"`

	// NowAvailable lists tasks whose full dependency set became satisfied
	// by this completion, ordered by Order then id.
	NowAvailable []*Task `json:"now_available,omitempty"`

	// DispatchError reports a failed external dispatch. The completion
	// itself is not rolled back; the side effect is separately retriable.
	DispatchError error `json:"-"`
}
