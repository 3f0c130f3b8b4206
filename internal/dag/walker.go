// Package dag provides dependency-ordered traversal over a task's flow.
// The walker dictates execution order only; running steps is the caller's
// job. It is not safe for concurrent use.
package dag

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCycleDetected is returned when the dependency graph contains a cycle.
	ErrCycleDetected = errors.New("cycle detected in flow")

	// ErrStepNotFound is returned when a dependency references an unknown step.
	ErrStepNotFound = errors.New("step not found")
)

// Walker yields step names in an order where every dependency of a step
// is reported complete before the step itself is offered.
type Walker struct {
	from       map[string][]string // step -> dependents
	inDegree   map[string]int      // step -> unresolved dependencies
	visited    map[string]bool
	dispatched map[string]bool
	remaining  int
}

// NewWalker builds a walker from a step -> dependencies mapping. It
// validates that every dependency exists and that the graph is acyclic.
func NewWalker(deps map[string][]string) (*Walker, error) {
	w := &Walker{
		from:       make(map[string][]string, len(deps)),
		inDegree:   make(map[string]int, len(deps)),
		visited:    make(map[string]bool, len(deps)),
		dispatched: make(map[string]bool, len(deps)),
		remaining:  len(deps),
	}

	for step := range deps {
		w.inDegree[step] = 0
	}
	for step, dependencies := range deps {
		for _, dep := range dependencies {
			if _, ok := deps[dep]; !ok {
				return nil, fmt.Errorf("%w: %q (required by %q)", ErrStepNotFound, dep, step)
			}
			w.from[dep] = append(w.from[dep], step)
			w.inDegree[step]++
		}
	}

	if name, ok := w.findCycle(); ok {
		return nil, fmt.Errorf("%w: involving step %q", ErrCycleDetected, name)
	}
	return w, nil
}

// findCycle runs a DFS with an explicit recursion stack and reports one
// participant of a back-edge, if any.
func (w *Walker) findCycle() (string, bool) {
	const (
		unseen = iota
		inStack
		done
	)
	state := make(map[string]int, len(w.inDegree))

	// Sorted roots keep the reported participant stable across runs.
	steps := make([]string, 0, len(w.inDegree))
	for step := range w.inDegree {
		steps = append(steps, step)
	}
	sort.Strings(steps)

	var visit func(string) (string, bool)
	visit = func(step string) (string, bool) {
		state[step] = inStack
		for _, next := range w.from[step] {
			switch state[next] {
			case inStack:
				return next, true
			case unseen:
				if name, found := visit(next); found {
					return name, true
				}
			}
		}
		state[step] = done
		return "", false
	}

	for _, step := range steps {
		if state[step] == unseen {
			if name, found := visit(step); found {
				return name, true
			}
		}
	}
	return "", false
}

// Next marks completed (when non-empty) as finished, releasing its
// dependents, and returns a step that is ready to run. The second return
// is false when no step remains unvisited.
func (w *Walker) Next(completed string) (string, bool) {
	if completed != "" && !w.visited[completed] {
		w.visited[completed] = true
		w.remaining--
		for _, dependent := range w.from[completed] {
			w.inDegree[dependent]--
		}
	}

	if w.remaining == 0 {
		return "", false
	}

	for step, degree := range w.inDegree {
		if degree == 0 && !w.visited[step] && !w.dispatched[step] {
			w.dispatched[step] = true
			return step, true
		}
	}
	return "", false
}

// Remaining reports how many steps have not completed yet. A non-zero
// value after Next returns false means the walk was halted mid-flow.
func (w *Walker) Remaining() int {
	return w.remaining
}
