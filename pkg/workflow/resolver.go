package workflow

import "sort"

// Resolve computes the derived status of every task from the completion set.
// A non-completed task is blocked if any dependency is not completed, and
// available otherwise. Completed tasks are always completed.
//
// Resolve takes no locks and has no side effects; it is re-run after every
// mutation and is safe to call redundantly.
func Resolve(tasks map[string]*Task) map[string]TaskStatus {
	statuses := make(map[string]TaskStatus, len(tasks))
	for id, task := range tasks {
		statuses[id] = resolveOne(task, tasks)
	}
	return statuses
}

// StatusOf computes the derived status of a single task.
func StatusOf(task *Task, tasks map[string]*Task) TaskStatus {
	return resolveOne(task, tasks)
}

func resolveOne(task *Task, tasks map[string]*Task) TaskStatus {
	if task.Completed() {
		return StatusCompleted
	}
	for _, dep := range task.Dependencies {
		d, ok := tasks[dep]
		if !ok || !d.Completed() {
			return StatusBlocked
		}
	}
	return StatusAvailable
}

// AvailableForRole returns the available tasks for a role, ordered by Order
// with task id as the final tie-break.
func AvailableForRole(tasks map[string]*Task, role Role) []*Task {
	out := make([]*Task, 0)
	for _, task := range tasks {
		if task.Role == role && resolveOne(task, tasks) == StatusAvailable {
			out = append(out, task)
		}
	}
	sortTasks(out)
	return out
}

// NextTask returns the advisory "next actionable task" for a role: the
// available task with the lowest Order. Returns nil if nothing is available.
func NextTask(tasks map[string]*Task, role Role) *Task {
	available := AvailableForRole(tasks, role)
	if len(available) == 0 {
		return nil
	}
	return available[0]
}

// newlyAvailable returns tasks that are available in after but were not in
// before, ordered by Order then id. Used to report the cascade result of a
// completion to the caller.
func newlyAvailable(before, after map[string]TaskStatus, tasks map[string]*Task) []*Task {
	out := make([]*Task, 0)
	for id, status := range after {
		if status != StatusAvailable {
			continue
		}
		if before[id] != StatusAvailable {
			out = append(out, tasks[id])
		}
	}
	sortTasks(out)
	return out
}

// sortTasks orders tasks by Order, then id for determinism.
func sortTasks(tasks []*Task) {
	sort.Slice(tasks, func(a, b int) bool {
		if tasks[a].Order != tasks[b].Order {
			return tasks[a].Order < tasks[b].Order
		}
		return tasks[a].ID < tasks[b].ID
	})
}
