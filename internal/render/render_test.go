package render

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderStringBarePaths(t *testing.T) {
	r := New()
	require.NoError(t, r.Merge(map[string]any{
		"input": map[string]any{"target": "all"},
	}))

	tests := []struct {
		name string
		tmpl string
		want string
	}{
		{"bare path", "{{ input.target }}", "all"},
		{"dotted path", "{{ .input.target }}", "all"},
		{"embedded", "make build TARGET={{ input.target }}", "make build TARGET=all"},
		{"missing single", "{{ missing }}", ""},
		{"missing nested", "{{ a.b.c }}", ""},
		{"missing dotted", "{{ .missing }}", ""},
		{"missing surrounded", "pre {{ missing }} post", "pre  post"},
		{"keyword untouched", "{{ if true }}yes{{ end }}", "yes"},
		{"pipeline", "{{ input.target | upper }}", "ALL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.RenderString(tc.tmpl)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRenderStringShellQuote(t *testing.T) {
	r := New()
	require.NoError(t, r.Merge(map[string]any{"file": "my file.txt"}))

	got, err := r.RenderString("cat {{ file | shellQuote }}")
	require.NoError(t, err)
	assert.Equal(t, "cat 'my file.txt'", got)

	got, err = r.RenderString("cat {{ file | q }}")
	require.NoError(t, err)
	assert.Equal(t, "cat 'my file.txt'", got)
}

func TestRenderStringParseError(t *testing.T) {
	_, err := New().RenderString("{{ if }}")
	assert.Error(t, err)
}

func TestRenderWalksValues(t *testing.T) {
	r := New()
	require.NoError(t, r.Merge(map[string]any{
		"input": map[string]any{"target": "all"},
	}))

	got, err := r.Render(map[string]any{
		"cmd":   "run {{ input.target }}",
		"count": 3,
		"list":  []any{"{{ input.target }}", 7},
	})
	require.NoError(t, err)

	rendered, ok := got.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run all", rendered["cmd"])
	assert.Equal(t, 3, rendered["count"])
	assert.Equal(t, []any{"all", 7}, rendered["list"])
}

func TestRenderStringMap(t *testing.T) {
	r := New()
	require.NoError(t, r.Merge(map[string]any{
		"compile": map[string]any{"output": map[string]any{"url": "s3://out"}},
	}))

	got, err := r.RenderStringMap(map[string]string{
		"artifact": "{{ compile.output.url }}",
		"static":   "fixed",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"artifact": "s3://out", "static": "fixed"}, got)
}

func TestMergeAccumulates(t *testing.T) {
	r := New()
	require.NoError(t, r.Merge(map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
	}))
	require.NoError(t, r.Merge(map[string]any{
		"a": map[string]any{"y": 9, "z": 3},
		"b": "s",
	}))

	ctx := r.Context()
	nested, ok := ctx["a"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 1, nested["x"])
	assert.Equal(t, 9, nested["y"])
	assert.Equal(t, 3, nested["z"])
	assert.Equal(t, "s", ctx["b"])
}

func TestStepOutputReference(t *testing.T) {
	// A numeric output referenced by a later step renders as its decimal
	// string form.
	r := New()
	require.NoError(t, r.Merge(map[string]any{"secrets": map[string]any{"token": "t0"}}))
	require.NoError(t, r.Merge(map[string]any{"input": map[string]any{"target": "all"}}))
	require.NoError(t, r.Merge(map[string]any{
		"compile": map[string]any{"output": map[string]any{"x": float64(7)}},
	}))

	got, err := r.RenderString("{{ compile.output.x }}")
	require.NoError(t, err)
	assert.Equal(t, "7", got)
}

func TestValsFunc(t *testing.T) {
	dir := t.TempDir()
	script := "#!/bin/sh\nif [ \"$2\" = \"fail\" ]; then exit 1; fi\necho \"secret-$2\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vals"), []byte(script), 0o755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	got, err := New().RenderString(`{{ vals "ref+echo://token" }}`)
	require.NoError(t, err)
	assert.Equal(t, "secret-ref+echo://token", got)

	_, err = New().RenderString(`{{ vals "fail" }}`)
	assert.Error(t, err)
}

func TestCachedTemplateIsContextFree(t *testing.T) {
	first := New()
	require.NoError(t, first.Merge(map[string]any{"input": map[string]any{"target": "api"}}))
	second := New()
	require.NoError(t, second.Merge(map[string]any{"input": map[string]any{"target": "web"}}))

	got, err := first.RenderString("{{ input.target }}")
	require.NoError(t, err)
	assert.Equal(t, "api", got)

	got, err = second.RenderString("{{ input.target }}")
	require.NoError(t, err)
	assert.Equal(t, "web", got)
}
