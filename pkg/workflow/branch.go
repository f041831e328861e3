package workflow

import (
	"fmt"
	"time"
)

// CompletedBySystem marks skip and expiry completions.
const CompletedBySystem = "system"

// applyBranch rewrites the remaining graph for a chosen option. It mutates
// the given task set in place; the caller holds the instance lock and
// persists the whole set together with the decision's own completion, so a
// reader never observes the rewrite half-applied.
//
// Two rewrite shapes, both id-stable:
//   - conversions change a task's kind (and optionally title) while keeping
//     its id, role, and every edge pointing at it;
//   - skips complete option-specific tasks of the unchosen arms with a skip
//     marker in the payload, so the resolver unblocks their dependents.
func applyBranch(tasks map[string]*Task, decision *Task, opt BranchOption, now time.Time) error {
	for _, conv := range opt.Converts {
		target, ok := tasks[conv.TaskID]
		if !ok {
			return NewInternalError(
				fmt.Sprintf("option %q converts unknown task %s", opt.Name, conv.TaskID), nil).
				WithTask(decision.ID).
				WithCode(ErrCodeInternal)
		}
		if target.Completed() {
			return NewInternalError(
				fmt.Sprintf("option %q converts already-completed task %s", opt.Name, conv.TaskID), nil).
				WithTask(decision.ID).
				WithCode(ErrCodeInternal)
		}
		target.Kind = conv.NewKind
		if conv.NewTitle != "" {
			target.Title = conv.NewTitle
		}
	}

	for _, skipID := range opt.Skips {
		target, ok := tasks[skipID]
		if !ok {
			return NewInternalError(
				fmt.Sprintf("option %q skips unknown task %s", opt.Name, skipID), nil).
				WithTask(decision.ID).
				WithCode(ErrCodeInternal)
		}
		if target.Completed() {
			// Skipping twice would rewrite completion facts.
			return NewInternalError(
				fmt.Sprintf("option %q skips already-completed task %s", opt.Name, skipID), nil).
				WithTask(decision.ID).
				WithCode(ErrCodeInternal)
		}
		markSkipped(target, fmt.Sprintf("skipped by option %q on %s", opt.Name, decision.ID), now)
	}

	return nil
}

// markSkipped completes a task by skip. Skip is a payload sub-state, not a
// new top-level status: the resolver sees an ordinary completion and
// unblocks dependents.
func markSkipped(task *Task, reason string, now time.Time) {
	if task.Payload == nil {
		task.Payload = make(Payload, 2)
	}
	task.Payload[PayloadKeySkipped] = true
	task.Payload[PayloadKeySkipReason] = reason
	at := now
	task.CompletedAt = &at
	task.CompletedBy = CompletedBySystem
}

// markExpired completes an expirable task via the explicit expire
// transition. Like skip, expiry lives in the payload so dependents unblock
// instead of staying blocked behind a lapsed invitation.
func markExpired(task *Task, now time.Time) {
	if task.Payload == nil {
		task.Payload = make(Payload, 3)
	}
	task.Payload[PayloadKeyExpired] = true
	task.Payload[PayloadKeyExpiredAt] = now.UTC().Format(time.RFC3339)
	task.Payload[PayloadKeySkipped] = true
	at := now
	task.CompletedAt = &at
	task.CompletedBy = CompletedBySystem
}
