package workflow

import (
	"fmt"
	"sort"
	"strings"
)

// TaskDef is the static, per-workflow-kind definition of one task.
type TaskDef struct {
	ID           string
	Title        string
	Description  string
	Kind         TaskKind
	Role         Role
	Actor        string
	Dependencies []string
	Order        int
	Options      []BranchOption
}

// Template is the validated, immutable task graph definition for one
// workflow kind. Authoring errors (cycles, dangling references) are caught
// here, once, never per instance.
type Template struct {
	kind  string
	defs  map[string]*TaskDef
	order []string

	// adjacency maps task IDs to their dependents
	adjacency map[string][]string

	// levels holds task IDs grouped by topological depth
	levels [][]string
}

// NewTemplate validates the task definitions and builds the template.
// It returns a template error if the graph contains a cycle, a duplicate id,
// or a reference to an unknown task.
func NewTemplate(kind string, defs []TaskDef) (*Template, error) {
	if kind == "" {
		return nil, NewTemplateError("template kind is empty", nil)
	}
	if len(defs) == 0 {
		return nil, NewTemplateError("template has no tasks", nil)
	}

	t := &Template{
		kind:      kind,
		defs:      make(map[string]*TaskDef, len(defs)),
		order:     make([]string, 0, len(defs)),
		adjacency: make(map[string][]string),
	}

	if err := t.initialize(defs); err != nil {
		return nil, err
	}
	if err := t.detectCycles(); err != nil {
		return nil, err
	}
	if err := t.computeLevels(); err != nil {
		return nil, err
	}
	if err := t.validateBranches(); err != nil {
		return nil, err
	}

	return t, nil
}

// initialize indexes the definitions and validates ids, roles, kinds, and
// dependency references.
func (t *Template) initialize(defs []TaskDef) error {
	// First pass: index all tasks
	for i := range defs {
		def := &defs[i]
		if def.ID == "" {
			return NewTemplateError("task definition has empty ID", nil)
		}
		if _, exists := t.defs[def.ID]; exists {
			return NewTemplateError(fmt.Sprintf("duplicate task ID: %s", def.ID), nil).
				WithCode(ErrCodeDuplicateTask)
		}
		if err := def.Role.Validate(); err != nil {
			return NewTemplateError("invalid role", err).WithTask(def.ID)
		}
		if err := def.Kind.Validate(); err != nil {
			return NewTemplateError("invalid kind", err).WithTask(def.ID)
		}
		if def.Kind == KindBranchDecision && len(def.Options) == 0 {
			return NewTemplateError("branch decision task declares no options", nil).
				WithTask(def.ID)
		}
		if def.Kind != KindBranchDecision && len(def.Options) > 0 {
			return NewTemplateError("only branch decision tasks may declare options", nil).
				WithTask(def.ID)
		}

		t.defs[def.ID] = def
		t.order = append(t.order, def.ID)
		t.adjacency[def.ID] = make([]string, 0)
	}

	// Second pass: build adjacency and validate dependency references
	for _, id := range t.order {
		def := t.defs[id]
		seen := make(map[string]bool, len(def.Dependencies))
		for _, dep := range def.Dependencies {
			if _, exists := t.defs[dep]; !exists {
				return NewTemplateError(
					fmt.Sprintf("task %s depends on unknown task %s", def.ID, dep), nil).
					WithCode(ErrCodeDanglingRef).
					WithTask(def.ID)
			}
			if seen[dep] {
				return NewTemplateError(
					fmt.Sprintf("task %s lists dependency %s twice", def.ID, dep), nil).
					WithTask(def.ID)
			}
			seen[dep] = true
			t.adjacency[dep] = append(t.adjacency[dep], def.ID)
		}
	}

	return nil
}

// detectCycles uses depth-first search to detect circular dependencies.
func (t *Template) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)
	path := make([]string, 0)

	for _, id := range t.order {
		if !visited[id] {
			if cycle := t.detectCyclesUtil(id, visited, recStack, path); cycle != nil {
				return NewTemplateError(
					fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil).
					WithCode(ErrCodeCycle)
			}
		}
	}
	return nil
}

// detectCyclesUtil performs DFS over dependents to find a cycle path.
func (t *Template) detectCyclesUtil(
	nodeID string,
	visited map[string]bool,
	recStack map[string]bool,
	path []string,
) []string {
	visited[nodeID] = true
	recStack[nodeID] = true
	path = append(path, nodeID)

	for _, dependent := range t.adjacency[nodeID] {
		if !visited[dependent] {
			if cycle := t.detectCyclesUtil(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			for i, id := range path {
				if id == dependent {
					return append(path[i:], dependent)
				}
			}
		}
	}

	recStack[nodeID] = false
	return nil
}

// computeLevels groups tasks by topological depth using Kahn's algorithm.
// The levels are advisory (view ordering, template introspection); blocking
// is always decided by the resolver from the completion set.
func (t *Template) computeLevels() error {
	inDegree := make(map[string]int, len(t.defs))
	for _, id := range t.order {
		inDegree[id] = len(t.defs[id].Dependencies)
	}

	currentLevel := make([]string, 0)
	for _, id := range t.order {
		if inDegree[id] == 0 {
			currentLevel = append(currentLevel, id)
		}
	}
	if len(currentLevel) == 0 {
		return NewTemplateError("no root tasks found - all tasks have dependencies", nil).
			WithCode(ErrCodeCycle)
	}

	processed := 0
	for len(currentLevel) > 0 {
		t.levels = append(t.levels, currentLevel)
		processed += len(currentLevel)

		nextLevel := make([]string, 0)
		for _, nodeID := range currentLevel {
			for _, dependent := range t.adjacency[nodeID] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					nextLevel = append(nextLevel, dependent)
				}
			}
		}
		currentLevel = nextLevel
	}

	// Should never trip once detectCycles has passed.
	if processed != len(t.defs) {
		return NewTemplateError("failed to process all tasks - possible cycle", nil).
			WithCode(ErrCodeInternal)
	}

	return nil
}

// validateBranches checks that branch options reference existing tasks and
// never touch the decision task itself.
func (t *Template) validateBranches() error {
	for _, id := range t.order {
		def := t.defs[id]
		if def.Kind != KindBranchDecision {
			continue
		}
		names := make(map[string]bool, len(def.Options))
		for _, opt := range def.Options {
			if opt.Name == "" {
				return NewTemplateError("branch option has empty name", nil).WithTask(id)
			}
			if names[opt.Name] {
				return NewTemplateError(
					fmt.Sprintf("duplicate branch option %q", opt.Name), nil).WithTask(id)
			}
			names[opt.Name] = true

			for _, conv := range opt.Converts {
				target, exists := t.defs[conv.TaskID]
				if !exists {
					return NewTemplateError(
						fmt.Sprintf("option %q converts unknown task %s", opt.Name, conv.TaskID), nil).
						WithCode(ErrCodeDanglingRef).WithTask(id)
				}
				if conv.TaskID == id {
					return NewTemplateError(
						fmt.Sprintf("option %q converts its own decision task", opt.Name), nil).
						WithTask(id)
				}
				if err := conv.NewKind.Validate(); err != nil {
					return NewTemplateError("invalid conversion kind", err).WithTask(id)
				}
				if target.Kind == KindBranchDecision || conv.NewKind == KindBranchDecision {
					return NewTemplateError("branch decisions cannot be conversion targets", nil).
						WithTask(id)
				}
			}
			for _, skip := range opt.Skips {
				if _, exists := t.defs[skip]; !exists {
					return NewTemplateError(
						fmt.Sprintf("option %q skips unknown task %s", opt.Name, skip), nil).
						WithCode(ErrCodeDanglingRef).WithTask(id)
				}
				if skip == id {
					return NewTemplateError(
						fmt.Sprintf("option %q skips its own decision task", opt.Name), nil).
						WithTask(id)
				}
			}
		}
	}
	return nil
}

// Kind returns the workflow kind this template defines.
func (t *Template) Kind() string {
	return t.kind
}

// Depth returns the maximum topological depth of the graph.
func (t *Template) Depth() int {
	return len(t.levels)
}

// Levels returns task IDs grouped by topological depth.
func (t *Template) Levels() [][]string {
	return t.levels
}

// TaskIDs returns the task ids in definition order.
func (t *Template) TaskIDs() []string {
	return append([]string(nil), t.order...)
}

// Instantiate materializes a fresh task set for a new instance. No task is
// completed; blocked/available are derived by the resolver, never stored.
func (t *Template) Instantiate(instanceID string) map[string]*Task {
	tasks := make(map[string]*Task, len(t.defs))
	for _, id := range t.order {
		def := t.defs[id]
		tasks[id] = &Task{
			ID:           def.ID,
			Title:        def.Title,
			Description:  def.Description,
			Kind:         def.Kind,
			Role:         def.Role,
			Actor:        def.Actor,
			Dependencies: append([]string(nil), def.Dependencies...),
			Order:        def.Order,
			Options:      append([]BranchOption(nil), def.Options...),
		}
	}
	return tasks
}

// ToDOT generates a DOT representation of the template graph for Graphviz.
func (t *Template) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph TaskGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, ids := range t.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")

		sorted := append([]string(nil), ids...)
		sort.Strings(sorted)
		for _, id := range sorted {
			def := t.defs[id]
			label := fmt.Sprintf("%s\\n%s / %s", def.Title, def.Role, def.Kind)
			sb.WriteString(fmt.Sprintf("    %q [label=%q, fillcolor=%q, style=\"filled,rounded\"];\n",
				id, label, roleColor(def.Role)))
		}

		sb.WriteString("  }\n\n")
	}

	for _, id := range t.order {
		for _, dep := range t.defs[id].Dependencies {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", dep, id))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

// roleColor returns a color for visualizing task ownership.
func roleColor(r Role) string {
	switch r {
	case RoleBeneficiary:
		return "lightgreen"
	case RoleContributor:
		return "lightblue"
	case RoleValuator:
		return "lightyellow"
	default:
		return "white"
	}
}
