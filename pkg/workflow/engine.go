package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pledgeflow/pledgeflow/pkg/telemetry"
)

// maxSaveRetries bounds the re-read-and-retry loop around stale store
// writes. The per-instance mutex already serializes callers in this process;
// retries only absorb conflicts from other processes sharing the store.
const maxSaveRetries = 3

// EngineOptions configures a workflow engine.
type EngineOptions struct {
	// Template is the validated task graph template to instantiate.
	Template *Template

	// Store persists workflow instances.
	Store InstanceStore

	// Identity resolves raw actor ids for CompleteTaskAs. Optional.
	Identity IdentityProvider

	// Notifier delivers invitation notifications. Defaults to NopNotifier.
	Notifier Notifier

	// Telemetry carries logging, metrics, tracing, and events. Defaults to
	// a no-op instance.
	Telemetry *telemetry.Telemetry
}

// Engine is the transition engine: it applies completions, expiry, and
// resets to workflow instances under per-instance mutual exclusion, and
// serves role-filtered views.
//
// The engine has no internal threads; it executes synchronously in whichever
// goroutine handles an actor's action or an external callback. Signing and
// valuation bridges call back through the same public surface with no
// privileges.
type Engine struct {
	tmpl     *Template
	store    InstanceStore
	identity IdentityProvider
	notifier Notifier
	tel      *telemetry.Telemetry
	log      *telemetry.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEngine creates a workflow engine.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Template == nil {
		return nil, NewTemplateError("engine requires a template", nil)
	}
	if opts.Store == nil {
		return nil, NewInternalError("engine requires an instance store", nil)
	}
	if opts.Notifier == nil {
		opts.Notifier = NopNotifier{}
	}
	if opts.Telemetry == nil {
		opts.Telemetry = telemetry.Nop()
	}

	return &Engine{
		tmpl:     opts.Template,
		store:    opts.Store,
		identity: opts.Identity,
		notifier: opts.Notifier,
		tel:      opts.Telemetry,
		log:      opts.Telemetry.Logger.NewComponentLogger("engine"),
		locks:    make(map[string]*sync.Mutex),
	}, nil
}

// instanceLock returns the mutex serializing writes to one instance.
// Different instances proceed fully in parallel.
func (e *Engine) instanceLock(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[instanceID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[instanceID] = lock
	}
	return lock
}

// CreateInstance instantiates the template for one contributor/beneficiary
// pairing and persists it. No task starts completed.
func (e *Engine) CreateInstance(ctx context.Context, beneficiary, contributor string) (*Instance, error) {
	if beneficiary == "" || contributor == "" {
		return nil, NewValidationError("beneficiary and contributor are required", nil)
	}

	now := time.Now().UTC()
	id := uuid.NewString()
	inst := &Instance{
		ID:           id,
		TemplateKind: e.tmpl.Kind(),
		Beneficiary:  beneficiary,
		Contributor:  contributor,
		Tasks:        e.tmpl.Instantiate(id),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, NewInternalError("failed to create instance", err).
			WithInstance(inst.ID).
			WithOperation("create")
	}

	e.log.WithInstanceID(inst.ID).
		WithField("beneficiary", beneficiary).
		WithField("contributor", contributor).
		Info("instance created")
	e.tel.Events.Publish(telemetry.EventTypeInstanceCreated, inst.ID, "",
		fmt.Sprintf("workflow %s instantiated", e.tmpl.Kind()), nil)
	e.refreshInstanceGauge(ctx)

	return inst, nil
}

// CompleteTaskAs resolves a raw actor id through the identity provider and
// completes the task as that actor.
func (e *Engine) CompleteTaskAs(ctx context.Context, instanceID, taskID, actorID string, payload Payload) (*CompletionResult, error) {
	if e.identity == nil {
		return nil, NewInternalError("no identity provider configured", nil).
			WithOperation("complete")
	}
	actor, err := e.identity.Resolve(ctx, actorID)
	if err != nil {
		return nil, NewNotFoundError("unknown actor", err).
			WithCode(ErrCodeUnknownActor).
			WithOperation("complete")
	}
	return e.CompleteTask(ctx, instanceID, taskID, actor, payload)
}

// CompleteTask applies a completion request under the instance lock:
// re-read, re-validate availability, validate the payload against the task
// kind, apply branch rewriting for decision tasks, write the completion
// facts, persist, and re-resolve to report the cascade to the caller.
//
// Completing an already-completed task returns a conflict and performs no
// writes and no dispatch: invitation side effects are one-time.
func (e *Engine) CompleteTask(ctx context.Context, instanceID, taskID string, actor Actor, payload Payload) (*CompletionResult, error) {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := e.tel.Tracer.StartCompleteSpan(ctx, instanceID, taskID)
	defer span.End()
	timer := telemetry.NewTimer()

	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		inst, err := e.loadInstance(ctx, instanceID)
		if err != nil {
			telemetry.RecordError(span, err)
			e.recordFailure(err)
			return nil, err
		}

		outcome, err := e.applyCompletion(inst, taskID, actor, payload)
		if err != nil {
			telemetry.RecordError(span, err)
			e.recordFailure(err)
			return nil, err
		}

		if err := e.store.SaveInstance(ctx, inst); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				// Another process won the write; re-read and re-apply.
				e.tel.Metrics.RecordSaveRetry()
				lastErr = err
				continue
			}
			err = NewInternalError("failed to persist instance", err).
				WithInstance(instanceID).
				WithTask(taskID).
				WithOperation("complete")
			telemetry.RecordError(span, err)
			e.recordFailure(err)
			return nil, err
		}

		e.afterCompletion(ctx, inst, outcome, timer.Duration())
		telemetry.RecordSuccess(span)
		return outcome.result, nil
	}

	err := NewConflictError("instance kept changing underneath the write", lastErr).
		WithInstance(instanceID).
		WithTask(taskID).
		WithCode(ErrCodeStaleWrite).
		WithOperation("complete")
	telemetry.RecordError(span, err)
	e.recordFailure(err)
	return nil, err
}

// completionOutcome carries the result of applyCompletion plus what the
// dispatch and event steps need after the save succeeds.
type completionOutcome struct {
	result  *CompletionResult
	option  string
	skipped []string
}

// applyCompletion validates and applies one completion to an in-memory
// instance. The caller holds the instance lock and persists afterwards, so
// the branch rewrite and the completion facts land atomically.
func (e *Engine) applyCompletion(inst *Instance, taskID string, actor Actor, payload Payload) (*completionOutcome, error) {
	task, err := inst.Task(taskID)
	if err != nil {
		return nil, err
	}

	switch StatusOf(task, inst.Tasks) {
	case StatusCompleted:
		e.tel.Metrics.RecordConflict("already_completed")
		return nil, NewConflictError("task is already completed", nil).
			WithInstance(inst.ID).
			WithTask(taskID).
			WithCode(ErrCodeAlreadyCompleted)
	case StatusBlocked:
		return nil, NewDependencyViolation("task is blocked by incomplete dependencies", nil).
			WithInstance(inst.ID).
			WithTask(taskID).
			WithCode(ErrCodeBlocked)
	}

	if !canAct(task, actor) {
		return nil, NewValidationError(
			fmt.Sprintf("actor %s does not hold this task", actor.ID), nil).
			WithInstance(inst.ID).
			WithTask(taskID).
			WithCode(ErrCodeActorMismatch).
			WithDetail("required_role", string(task.Role))
	}

	if err := ValidatePayload(task, payload); err != nil {
		return nil, err
	}

	before := Resolve(inst.Tasks)
	now := time.Now().UTC()

	outcome := &completionOutcome{}
	if task.Kind == KindBranchDecision {
		opt, _ := task.Option(payload.Option())
		if err := applyBranch(inst.Tasks, task, opt, now); err != nil {
			return nil, err
		}
		outcome.option = opt.Name
		outcome.skipped = append([]string(nil), opt.Skips...)
	}

	task.Payload = payload.Clone()
	completedAt := now
	task.CompletedAt = &completedAt
	task.CompletedBy = actor.ID
	inst.UpdatedAt = now

	resolveTimer := telemetry.NewTimer()
	after := Resolve(inst.Tasks)
	e.tel.Metrics.RecordResolve(resolveTimer.Duration())

	outcome.result = &CompletionResult{
		Task:         task,
		NowAvailable: newlyAvailable(before, after, inst.Tasks),
	}
	return outcome, nil
}

// afterCompletion runs logging, metrics, events, and external dispatch once
// the completion is durably persisted. Dispatch failure is surfaced on the
// result but never rolls the completion back: un-completing a task that
// dependents may already build on would require cascading un-resolution.
func (e *Engine) afterCompletion(ctx context.Context, inst *Instance, outcome *completionOutcome, elapsed time.Duration) {
	task := outcome.result.Task

	log := e.log.WithInstanceID(inst.ID).WithTaskID(task.ID).
		WithActor(task.CompletedBy, string(task.Role))
	log.WithField("kind", string(task.Kind)).Info("task completed")

	e.tel.Metrics.RecordTaskCompleted(string(task.Role), string(task.Kind), elapsed)
	e.tel.Events.Publish(telemetry.EventTypeTaskCompleted, inst.ID, task.ID,
		fmt.Sprintf("%s completed by %s", task.Title, task.CompletedBy), nil)

	if outcome.option != "" {
		e.tel.Events.Publish(telemetry.EventTypeBranchApplied, inst.ID, task.ID,
			fmt.Sprintf("option %q chosen", outcome.option),
			map[string]interface{}{"option": outcome.option})
	}
	for _, skippedID := range outcome.skipped {
		if skipped, ok := inst.Tasks[skippedID]; ok {
			e.tel.Metrics.RecordTaskSkipped(string(skipped.Role))
			e.tel.Events.Publish(telemetry.EventTypeTaskSkipped, inst.ID, skippedID,
				fmt.Sprintf("%s skipped", skipped.Title), nil)
		}
	}

	if task.Kind == KindInvitation {
		e.dispatchInvitation(ctx, inst, task, outcome)
	}
}

// dispatchInvitation delivers the one-time invitation notification.
func (e *Engine) dispatchInvitation(ctx context.Context, inst *Instance, task *Task, outcome *completionOutcome) {
	n := Notification{
		InstanceID: inst.ID,
		TaskID:     task.ID,
		Recipient:  task.Payload.String(PayloadKeyInviteeEmail),
		Subject:    fmt.Sprintf("You have been invited: %s", task.Title),
	}
	if err := e.notifier.Send(ctx, n); err != nil {
		dispatchErr := NewDispatchError("invitation notification failed", err).
			WithInstance(inst.ID).
			WithTask(task.ID).
			WithCode(ErrCodeDispatchFailed)
		e.log.WithInstanceID(inst.ID).WithTaskID(task.ID).
			WithError(err).Error("invitation dispatch failed")
		e.tel.Metrics.RecordDispatchError("notifier")
		e.tel.Events.Publish(telemetry.EventTypeDispatchFailed, inst.ID, task.ID,
			"invitation notification failed", map[string]interface{}{"error": err.Error()})
		outcome.result.DispatchError = dispatchErr
	}
}

// ExpireTask applies the explicit expire transition to a lapsed invitation
// or signature request. The task completes with an expiry marker so its
// dependents unblock; expiry is driven by an external scheduler, never by
// the engine mutating blocked status silently.
func (e *Engine) ExpireTask(ctx context.Context, instanceID, taskID string) (*Task, error) {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := e.tel.Tracer.StartExpireSpan(ctx, instanceID, taskID)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		inst, err := e.loadInstance(ctx, instanceID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		task, err := inst.Task(taskID)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}

		if !task.Kind.Expirable() {
			err := NewValidationError(
				fmt.Sprintf("%s tasks cannot expire", task.Kind), nil).
				WithInstance(instanceID).
				WithTask(taskID).
				WithCode(ErrCodeNotExpirable)
			telemetry.RecordError(span, err)
			return nil, err
		}

		switch StatusOf(task, inst.Tasks) {
		case StatusCompleted:
			err := NewConflictError("task is already completed", nil).
				WithInstance(instanceID).
				WithTask(taskID).
				WithCode(ErrCodeAlreadyCompleted)
			telemetry.RecordError(span, err)
			return nil, err
		case StatusBlocked:
			err := NewDependencyViolation("blocked tasks cannot expire", nil).
				WithInstance(instanceID).
				WithTask(taskID).
				WithCode(ErrCodeBlocked)
			telemetry.RecordError(span, err)
			return nil, err
		}

		now := time.Now().UTC()
		markExpired(task, now)
		inst.UpdatedAt = now

		if err := e.store.SaveInstance(ctx, inst); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				e.tel.Metrics.RecordSaveRetry()
				lastErr = err
				continue
			}
			err = NewInternalError("failed to persist instance", err).
				WithInstance(instanceID).
				WithTask(taskID).
				WithOperation("expire")
			telemetry.RecordError(span, err)
			return nil, err
		}

		e.log.WithInstanceID(instanceID).WithTaskID(taskID).Warn("task expired")
		e.tel.Metrics.RecordTaskExpired(string(task.Kind))
		e.tel.Events.Publish(telemetry.EventTypeTaskExpired, instanceID, taskID,
			fmt.Sprintf("%s expired", task.Title), nil)
		telemetry.RecordSuccess(span)
		return task, nil
	}

	err := NewConflictError("instance kept changing underneath the write", lastErr).
		WithInstance(instanceID).
		WithTask(taskID).
		WithCode(ErrCodeStaleWrite).
		WithOperation("expire")
	telemetry.RecordError(span, err)
	return nil, err
}

// ResetInstance restores an instance to the template's initial state,
// discarding all completion facts and payloads. Resetting twice yields the
// same initial state.
//
// Reset does not notify external collaborators (file storage, signing,
// valuation) that prior artifacts are orphaned; that cleanup is the
// caller's responsibility.
func (e *Engine) ResetInstance(ctx context.Context, instanceID string) error {
	lock := e.instanceLock(instanceID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := e.tel.Tracer.StartResetSpan(ctx, instanceID)
	defer span.End()

	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		inst, err := e.loadInstance(ctx, instanceID)
		if err != nil {
			telemetry.RecordError(span, err)
			return err
		}

		inst.Tasks = e.tmpl.Instantiate(instanceID)
		inst.UpdatedAt = time.Now().UTC()

		if err := e.store.SaveInstance(ctx, inst); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				e.tel.Metrics.RecordSaveRetry()
				lastErr = err
				continue
			}
			err = NewInternalError("failed to persist instance", err).
				WithInstance(instanceID).
				WithOperation("reset")
			telemetry.RecordError(span, err)
			return err
		}

		e.log.WithInstanceID(instanceID).Warn("instance reset to initial state")
		e.tel.Metrics.RecordInstanceReset()
		e.tel.Events.Publish(telemetry.EventTypeInstanceReset, instanceID, "",
			"instance reset to template initial state", nil)
		telemetry.RecordSuccess(span)
		return nil
	}

	err := NewConflictError("instance kept changing underneath the write", lastErr).
		WithInstance(instanceID).
		WithCode(ErrCodeStaleWrite).
		WithOperation("reset")
	telemetry.RecordError(span, err)
	return err
}

// ListTasks returns the requester's projection of the full task graph:
// derived statuses, actionability, and cross-role blocking explanations.
// Reads never mutate the instance.
func (e *Engine) ListTasks(ctx context.Context, instanceID string, requester Actor) ([]TaskView, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return BuildViews(inst.Tasks, requester), nil
}

// Refresh forces a resolver recompute and returns the current view. Used to
// reconcile after an external async process (signing, valuation) races
// ahead of a client's local cache. The anonymous view carries statuses and
// blocking explanations; CanAct is always false without a requester.
func (e *Engine) Refresh(ctx context.Context, instanceID string) ([]TaskView, error) {
	return e.ListTasks(ctx, instanceID, Actor{})
}

// NextTask returns the advisory next actionable task for a role, or nil.
func (e *Engine) NextTask(ctx context.Context, instanceID string, role Role) (*Task, error) {
	inst, err := e.loadInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return NextTask(inst.Tasks, role), nil
}

// loadInstance re-reads an instance, mapping store sentinels to workflow
// errors.
func (e *Engine) loadInstance(ctx context.Context, instanceID string) (*Instance, error) {
	inst, err := e.store.LoadInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, ErrInstanceNotFound) {
			return nil, NewNotFoundError("unknown instance", err).
				WithInstance(instanceID).
				WithCode(ErrCodeUnknownInstance)
		}
		return nil, NewInternalError("failed to load instance", err).
			WithInstance(instanceID)
	}
	return inst, nil
}

// recordFailure feeds the error-class metric from a returned error.
func (e *Engine) recordFailure(err error) {
	var werr *WorkflowError
	if errors.As(err, &werr) {
		e.tel.Metrics.RecordError(string(werr.Class))
	}
}

// refreshInstanceGauge updates the active-instance gauge, best effort.
func (e *Engine) refreshInstanceGauge(ctx context.Context) {
	ids, err := e.store.ListInstanceIDs(ctx)
	if err != nil {
		return
	}
	e.tel.Metrics.SetActiveInstances(len(ids))
}
