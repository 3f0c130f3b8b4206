package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/workflow"
)

func TestAsInputMap(t *testing.T) {
	t.Parallel()

	t.Run("nil becomes empty map", func(t *testing.T) {
		t.Parallel()
		out, err := asInputMap(nil)
		require.NoError(t, err)
		assert.Empty(t, out)
		assert.NotNil(t, out)
	})

	t.Run("object passes through", func(t *testing.T) {
		t.Parallel()
		in := map[string]any{"a": 1, "b": "two"}
		out, err := asInputMap(in)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("string map converts", func(t *testing.T) {
		t.Parallel()
		out, err := asInputMap(map[string]string{"a": "1"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": "1"}, out)
	})

	t.Run("non-object rejected", func(t *testing.T) {
		t.Parallel()
		for _, input := range []any{"text", 42, []any{1, 2}} {
			_, err := asInputMap(input)
			require.ErrorIs(t, err, ErrInputNotObject)
		}
	})
}

func TestMaterializeInput(t *testing.T) {
	t.Parallel()

	fields := map[string]workflow.InputField{
		"name":  {Type: "string", Required: true},
		"count": {Type: "number", Default: 2},
		"note":  {Type: "string"},
	}

	t.Run("defaults fill absent values", func(t *testing.T) {
		t.Parallel()
		out, err := materializeInput(fields, map[string]any{"name": "x"})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "x", "count": 2}, out)
	})

	t.Run("supplied values win over defaults", func(t *testing.T) {
		t.Parallel()
		out, err := materializeInput(fields, map[string]any{"name": "x", "count": 9})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"name": "x", "count": 9}, out)
	})

	t.Run("required without value fails", func(t *testing.T) {
		t.Parallel()
		_, err := materializeInput(fields, map[string]any{})
		require.ErrorIs(t, err, ErrMissingInput)
		assert.Contains(t, err.Error(), `"name"`)
	})

	t.Run("undeclared values pass through", func(t *testing.T) {
		t.Parallel()
		out, err := materializeInput(fields, map[string]any{"name": "x", "extra": true})
		require.NoError(t, err)
		assert.Equal(t, true, out["extra"])
	})

	t.Run("no declarations keeps input as is", func(t *testing.T) {
		t.Parallel()
		out, err := materializeInput(nil, map[string]any{"a": 1})
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1}, out)
	})
}
