package dag_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/dag"
)

// walk runs the walker to completion sequentially and returns the visit order.
func walk(t *testing.T, deps map[string][]string) []string {
	t.Helper()

	w, err := dag.NewWalker(deps)
	require.NoError(t, err)

	var order []string
	completed := ""
	for {
		step, ok := w.Next(completed)
		if !ok {
			break
		}
		order = append(order, step)
		completed = step
	}
	return order
}

func TestWalkerLinear(t *testing.T) {
	t.Parallel()

	order := walk(t, map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"b"},
	})
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestWalkerDiamond(t *testing.T) {
	t.Parallel()

	deps := map[string][]string{
		"root":  {},
		"left":  {"root"},
		"right": {"root"},
		"join":  {"left", "right"},
	}
	order := walk(t, deps)

	require.Len(t, order, 4)
	assert.Equal(t, "root", order[0])
	assert.Equal(t, "join", order[3])
}

func TestWalkerDependenciesPrecedeDependents(t *testing.T) {
	t.Parallel()

	deps := map[string][]string{
		"fetch":   {},
		"build":   {"fetch"},
		"test":    {"build"},
		"lint":    {"fetch"},
		"package": {"test", "lint"},
		"deploy":  {"package"},
		"notify":  {"deploy"},
	}
	order := walk(t, deps)
	require.Len(t, order, len(deps))

	position := make(map[string]int, len(order))
	for i, step := range order {
		position[step] = i
	}
	for step, dependencies := range deps {
		for _, dep := range dependencies {
			assert.Less(t, position[dep], position[step],
				"%s must run before %s", dep, step)
		}
	}
}

func TestWalkerRejectsCycle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		deps map[string][]string
	}{
		{
			name: "self loop",
			deps: map[string][]string{"a": {"a"}},
		},
		{
			name: "two step cycle",
			deps: map[string][]string{"a": {"b"}, "b": {"a"}},
		},
		{
			name: "cycle behind valid prefix",
			deps: map[string][]string{
				"a": {},
				"b": {"a", "d"},
				"c": {"b"},
				"d": {"c"},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := dag.NewWalker(tc.deps)
			require.ErrorIs(t, err, dag.ErrCycleDetected)
		})
	}
}

func TestWalkerRejectsUnknownDependency(t *testing.T) {
	t.Parallel()

	_, err := dag.NewWalker(map[string][]string{
		"a": {"ghost"},
	})
	require.ErrorIs(t, err, dag.ErrStepNotFound)
	assert.Contains(t, err.Error(), "ghost")
}

func TestWalkerEmptyFlow(t *testing.T) {
	t.Parallel()

	w, err := dag.NewWalker(map[string][]string{})
	require.NoError(t, err)

	_, ok := w.Next("")
	assert.False(t, ok)
	assert.Zero(t, w.Remaining())
}

func TestWalkerFailedStepReleasesDependents(t *testing.T) {
	t.Parallel()

	// continue_on_fail reporting: the runner still passes the failed step
	// to Next, which must release its dependents.
	w, err := dag.NewWalker(map[string][]string{
		"a": {},
		"b": {"a"},
	})
	require.NoError(t, err)

	first, ok := w.Next("")
	require.True(t, ok)
	require.Equal(t, "a", first)

	second, ok := w.Next("a")
	require.True(t, ok)
	assert.Equal(t, "b", second)
}

func TestWalkerRemainingAfterHalt(t *testing.T) {
	t.Parallel()

	w, err := dag.NewWalker(map[string][]string{
		"a": {},
		"b": {"a"},
		"c": {"b"},
	})
	require.NoError(t, err)

	step, ok := w.Next("")
	require.True(t, ok)
	require.Equal(t, "a", step)

	// Halt after a: two steps never ran.
	assert.Equal(t, 3, w.Remaining())
	_, _ = w.Next("a")
	assert.Equal(t, 2, w.Remaining())
}
