package engine

import (
	"fmt"
	"strings"
)

// Registry holds registered steps and computes their execution order.
type Registry struct {
	// steps maps step IDs to their steps
	steps map[string]Step

	// order is the registration order of step IDs
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		steps: make(map[string]Step),
		order: make([]string, 0),
	}
}

// Register adds a step. Registering an ID twice is an error.
func (r *Registry) Register(step Step) error {
	if err := validateStep(step); err != nil {
		return err
	}
	id := step.ID()
	if _, exists := r.steps[id]; exists {
		return NewDuplicateStepError(fmt.Sprintf("duplicate step ID: %s", id), nil).WithStep(id)
	}
	r.steps[id] = step
	r.order = append(r.order, id)
	return nil
}

// Get returns the step registered under id.
func (r *Registry) Get(id string) (Step, error) {
	step, ok := r.steps[id]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("unknown step: %s", id), nil).WithStep(id)
	}
	return step, nil
}

// Has reports whether a step is registered under id.
func (r *Registry) Has(id string) bool {
	_, ok := r.steps[id]
	return ok
}

// Len returns the number of registered steps.
func (r *Registry) Len() int {
	return len(r.order)
}

// Steps returns the registered steps in registration order.
func (r *Registry) Steps() []Step {
	out := make([]Step, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.steps[id])
	}
	return out
}

// dependencies returns the distinct dependencies of a step, in declared order.
func dependencies(step Step) []string {
	seen := make(map[string]bool)
	deps := make([]string, 0, len(step.DependsOn()))
	for _, dep := range step.DependsOn() {
		if !seen[dep] {
			seen[dep] = true
			deps = append(deps, dep)
		}
	}
	return deps
}

// ResolveOrder returns every registered step after all of its dependencies.
// Steps with no ordering constraint between them keep their registration order.
func (r *Registry) ResolveOrder() ([]Step, error) {
	inDegree := make(map[string]int, len(r.order))
	dependents := make(map[string][]string, len(r.order))

	for _, id := range r.order {
		inDegree[id] = 0
	}

	// Build edges from each dependency to its dependents, visiting steps in
	// registration order so that dependents lists are ordered too.
	for _, id := range r.order {
		for _, dep := range dependencies(r.steps[id]) {
			if _, exists := r.steps[dep]; !exists {
				return nil, NewMissingDependencyError(
					fmt.Sprintf("step %s depends on unregistered step %s", id, dep),
					nil,
				).WithStep(id).WithDetail("missing", dep)
			}
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}

	queue := make([]string, 0, len(r.order))
	for _, id := range r.order {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]Step, 0, len(r.order))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		result = append(result, r.steps[id])

		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(r.order) {
		remaining := make([]string, 0, len(r.order)-len(result))
		for _, id := range r.order {
			if inDegree[id] > 0 {
				remaining = append(remaining, id)
			}
		}
		return nil, NewCycleError(
			fmt.Sprintf("dependency cycle detected among steps: %s", strings.Join(remaining, ", ")),
			nil,
		).WithDetail("steps", remaining)
	}

	return result, nil
}

// ToDOT generates a DOT format representation of the step graph for visualization.
// The output can be rendered with Graphviz tools.
func (r *Registry) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Steps {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for _, id := range r.order {
		step := r.steps[id]
		label := fmt.Sprintf("%s\\n%s", escapeDOT(step.Name()), step.Level())
		sb.WriteString(fmt.Sprintf("  \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			escapeDOT(id), label, levelColor(step.Level())))
	}
	sb.WriteString("\n")

	for _, id := range r.order {
		for _, dep := range dependencies(r.steps[id]) {
			sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", escapeDOT(dep), escapeDOT(id)))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

// levelColor returns a fill color for an automation level.
func levelColor(level AutomationLevel) string {
	switch level {
	case LevelAuto:
		return "lightgreen"
	case LevelSemi:
		return "lightyellow"
	case LevelManual:
		return "lightsalmon"
	case LevelValidate:
		return "lightblue"
	default:
		return "white"
	}
}
