package render

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	sprig "github.com/go-task/slim-sprig/v3"
	"mvdan.cc/sh/v3/syntax"
)

var templateFuncs template.FuncMap

func init() {
	funcs := template.FuncMap{
		"shellQuote": func(str string) (string, error) {
			return syntax.Quote(str, syntax.LangBash)
		},
		// vals resolves a secret reference through the external vals
		// binary (ref+vault://..., ref+awsssm://..., ...).
		"vals": func(ref string) (string, error) {
			out, err := exec.Command("vals", "eval", ref).Output()
			if err != nil {
				return "", fmt.Errorf("vals eval %q: %w", ref, err)
			}
			return strings.TrimSpace(string(out)), nil
		},
		"lookup": lookupPath,
	}
	funcs["q"] = funcs["shellQuote"]

	templateFuncs = template.FuncMap(sprig.TxtFuncMap())
	for k, v := range funcs {
		templateFuncs[k] = v
	}
}

// lookupPath walks nested maps by key, returning the empty string when
// any segment is missing. Bare path references compile into calls to it.
func lookupPath(data any, path ...string) any {
	current := data
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[key]
		if !ok {
			return ""
		}
	}
	return current
}

var (
	actionRe   = regexp.MustCompile(`\{\{.*?\}\}`)
	barePathRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)*`)
)

// templateKeywords lists identifiers the rewriter must leave alone:
// control keywords, literals, and text/template builtins.
var templateKeywords = map[string]struct{}{
	"if": {}, "else": {}, "end": {}, "range": {}, "with": {},
	"define": {}, "template": {}, "block": {}, "break": {}, "continue": {},
	"nil": {}, "true": {}, "false": {},
	"and": {}, "or": {}, "not": {}, "len": {}, "index": {}, "slice": {},
	"print": {}, "printf": {}, "println": {},
	"html": {}, "js": {}, "urlquery": {}, "call": {},
	"eq": {}, "ne": {}, "lt": {}, "le": {}, "gt": {}, "ge": {},
}

// rewriteReferences turns a bare leading path in an action
// ({{ compile.output.url | q }}) into a tolerant context lookup
// ({{ (lookup . "compile" "output" "url") | q }}), so declarations can
// reference context values mustache-style without tripping over missing
// intermediate keys.
func rewriteReferences(tmpl string) string {
	return actionRe.ReplaceAllStringFunc(tmpl, func(action string) string {
		body := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(action, "{{"), "}}"))
		loc := barePathRe.FindStringIndex(body)
		if loc == nil || loc[0] != 0 {
			return action
		}
		path, rest := body[:loc[1]], body[loc[1]:]

		head := path
		if i := strings.IndexByte(path, '.'); i >= 0 {
			head = path[:i]
		}
		if _, reserved := templateKeywords[head]; reserved {
			return action
		}
		if _, isFunc := templateFuncs[head]; isFunc {
			return action
		}
		// Only plain references and pipelines are rewritten; anything
		// with further arguments is left for the template parser.
		if trimmed := strings.TrimSpace(rest); trimmed != "" && !strings.HasPrefix(trimmed, "|") {
			return action
		}

		segments := strings.Split(path, ".")
		quoted := make([]string, len(segments))
		for i, segment := range segments {
			quoted[i] = strconv.Quote(segment)
		}
		return "{{ (lookup . " + strings.Join(quoted, " ") + ")" + rest + " }}"
	})
}
