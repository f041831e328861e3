package workflow

import "sort"

// BuildViews projects the full task set into what the requesting actor sees.
// Every role sees the entire graph for workflow transparency; CanAct is only
// true for tasks the requester may complete under the transition engine's
// preconditions. Views are ordered by Order then id.
func BuildViews(tasks map[string]*Task, requester Actor) []TaskView {
	statuses := Resolve(tasks)

	views := make([]TaskView, 0, len(tasks))
	for _, task := range tasks {
		status := statuses[task.ID]
		view := TaskView{
			ID:          task.ID,
			Title:       task.Title,
			Description: task.Description,
			Kind:        task.Kind,
			Role:        task.Role,
			Status:      status,
			Order:       task.Order,
			CanAct:      status == StatusAvailable && canAct(task, requester),
			Skipped:     task.Payload.Skipped(),
			Expired:     task.Payload.Expired(),
			CompletedAt: task.CompletedAt,
			CompletedBy: task.CompletedBy,
		}
		if status == StatusBlocked {
			view.WaitingOn = crossRoleBlocker(task, tasks)
		}
		views = append(views, view)
	}

	sort.Slice(views, func(a, b int) bool {
		if views[a].Order != views[b].Order {
			return views[a].Order < views[b].Order
		}
		return views[a].ID < views[b].ID
	})
	return views
}

// canAct reports whether the actor satisfies the task's role/actor
// precondition: a pinned task demands the exact actor, an unpinned task any
// holder of the role.
func canAct(task *Task, actor Actor) bool {
	if task.PinnedTo() {
		return task.Actor == actor.ID
	}
	return task.Role == actor.Role
}

// crossRoleBlocker walks the unmet dependency closure of a blocked task and
// returns the nearest unmet dependency owned by a different role. Same-role
// blockers are not surfaced as "waiting on someone else"; if the whole unmet
// closure is same-role work, nil is returned.
func crossRoleBlocker(task *Task, tasks map[string]*Task) *BlockingInfo {
	visited := map[string]bool{task.ID: true}
	frontier := unmetDeps(task, tasks)

	for len(frontier) > 0 {
		sortTasks(frontier)

		next := make([]*Task, 0)
		for _, dep := range frontier {
			if visited[dep.ID] {
				continue
			}
			visited[dep.ID] = true

			if dep.Role != task.Role {
				return &BlockingInfo{
					TaskID: dep.ID,
					Role:   dep.Role,
					Title:  dep.Title,
				}
			}
			next = append(next, unmetDeps(dep, tasks)...)
		}
		frontier = next
	}
	return nil
}

// unmetDeps returns the direct dependencies of a task that are not completed.
func unmetDeps(task *Task, tasks map[string]*Task) []*Task {
	out := make([]*Task, 0)
	for _, dep := range task.Dependencies {
		if d, ok := tasks[dep]; ok && !d.Completed() {
			out = append(out, d)
		}
	}
	return out
}
