// Package render materializes template strings against an accumulating
// context. Each task run owns one Renderer; step outputs merge into the
// context so later steps can reference them.
package render

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"dario.cat/mergo"
	lru "github.com/hashicorp/golang-lru/v2"
)

// templateCacheSize bounds the shared compiled-template cache. Templates
// repeat heavily across runs of the same task, so a small cache covers
// the working set.
const templateCacheSize = 256

var templateCache *lru.Cache[string, *template.Template]

func init() {
	cache, err := lru.New[string, *template.Template](templateCacheSize)
	if err != nil {
		panic(err)
	}
	templateCache = cache
}

// Renderer holds the context a task run accumulates: secrets, the task
// input, and the outputs of completed steps.
type Renderer struct {
	context map[string]any
}

func New() *Renderer {
	return &Renderer{context: map[string]any{}}
}

// Merge deep-merges value into the context. Maps merge recursively; any
// other non-empty value replaces what was there.
func (r *Renderer) Merge(value map[string]any) error {
	if err := mergo.Merge(&r.context, value, mergo.WithOverride); err != nil {
		return fmt.Errorf("merge render context: %w", err)
	}
	return nil
}

// Context returns the live context map. Callers must treat it as
// read-only.
func (r *Renderer) Context() map[string]any {
	return r.context
}

// Render walks value recursively and renders every string leaf as a
// template. Non-string scalars pass through unchanged.
func (r *Renderer) Render(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return r.RenderString(v)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			rendered, err := r.Render(item)
			if err != nil {
				return nil, err
			}
			out[key] = rendered
		}
		return out, nil
	case map[string]string:
		return r.RenderStringMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			rendered, err := r.Render(item)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return value, nil
	}
}

// RenderStringMap renders every value of a string map, keeping keys.
func (r *Renderer) RenderStringMap(m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	for key, item := range m {
		rendered, err := r.RenderString(item)
		if err != nil {
			return nil, err
		}
		out[key] = rendered
	}
	return out, nil
}

// RenderString renders one template string against the current context.
// Lookups that resolve to nothing render as the empty string.
func (r *Renderer) RenderString(tmpl string) (string, error) {
	parsed, err := parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, r.context); err != nil {
		return "", fmt.Errorf("execute template %q: %w", tmpl, err)
	}
	// Second guard for dotted lookups that bypass the rewriter.
	return strings.ReplaceAll(buf.String(), "<no value>", ""), nil
}

// parse compiles a template, rewriting bare path references first, and
// caches the result keyed by the original text.
func parse(tmpl string) (*template.Template, error) {
	if cached, ok := templateCache.Get(tmpl); ok {
		return cached, nil
	}
	parsed, err := template.New("").Funcs(templateFuncs).Parse(rewriteReferences(tmpl))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", tmpl, err)
	}
	templateCache.Add(tmpl, parsed)
	return parsed, nil
}
