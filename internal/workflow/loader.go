package workflow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"
	"github.com/goccy/go-yaml"
	"github.com/robfig/cron/v3"

	"github.com/weft-run/weft/internal/dag"
)

// DeclarationsDir is the directory under the workspace root that holds
// the YAML declarations.
const DeclarationsDir = ".workflows"

// maxDeclarationDepth bounds directory recursion so a symlink loop inside
// the declarations tree cannot hang the loader.
const maxDeclarationDepth = 10

var (
	ErrDeclarationsNotFound = errors.New("declarations directory not found")
	ErrNestedTooDeep        = errors.New("declarations nested too deep")
	ErrInvalidYAML          = errors.New("invalid YAML")
	ErrInvalidDeclaration   = errors.New("invalid declaration")
	ErrUnknownActionType    = errors.New("unknown action type")
	ErrUnknownTriggerType   = errors.New("unknown trigger type")
	ErrInvalidCron          = errors.New("invalid cron expression")
)

// definition mirrors the merged YAML document. Field names follow the
// on-disk schema; build() turns it into the public Config.
type definition struct {
	Globals  globalsDef            `mapstructure:"globals"`
	Actions  map[string]actionDef  `mapstructure:"actions"`
	Tasks    map[string]taskDef    `mapstructure:"tasks"`
	Triggers map[string]triggerDef `mapstructure:"triggers"`
}

type globalsDef struct {
	ErrorHandler string         `mapstructure:"error_handler"`
	BasePath     string         `mapstructure:"base_path"`
	Secrets      map[string]any `mapstructure:"secrets"`
}

type actionDef struct {
	Type    string              `mapstructure:"type"`
	Command string              `mapstructure:"command"`
	Input   map[string]inputDef `mapstructure:"input"`
	Output  any                 `mapstructure:"output"`
}

type inputDef struct {
	Type        string `mapstructure:"type"`
	Required    bool   `mapstructure:"required"`
	Default     any    `mapstructure:"default"`
	Order       int    `mapstructure:"order"`
	Description string `mapstructure:"description"`
}

type taskDef struct {
	Input map[string]inputDef    `mapstructure:"input"`
	Flow  map[string]flowStepDef `mapstructure:"flow"`
}

type flowStepDef struct {
	Action         string            `mapstructure:"action"`
	Input          map[string]string `mapstructure:"input"`
	DependsOn      any               `mapstructure:"depends_on"`
	ContinueOnFail bool              `mapstructure:"continue_on_fail"`
	OnError        string            `mapstructure:"on_error"`
}

type triggerDef struct {
	Type    string            `mapstructure:"type"`
	Cron    string            `mapstructure:"cron"`
	Task    string            `mapstructure:"task"`
	Input   map[string]string `mapstructure:"input"`
	Enabled *bool             `mapstructure:"enabled"`
}

// Load reads every YAML file under root/.workflows, merges the documents
// in lexicographic path order (later files override earlier ones) and
// builds the validated configuration.
func Load(root string) (*Config, error) {
	dir := filepath.Join(root, DeclarationsDir)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrDeclarationsNotFound, dir)
	}

	files, err := collectFiles(dir, 0)
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	merged := map[string]any{}
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read declaration %s: %w", file, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidYAML, file, err)
		}
		if err := mergo.Merge(&merged, doc, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge declaration %s: %w", file, err)
		}
	}

	def, err := decode(merged)
	if err != nil {
		return nil, err
	}
	return def.build()
}

// collectFiles gathers .yaml/.yml paths below dir, following directory
// symlinks up to maxDeclarationDepth levels.
func collectFiles(dir string, depth int) ([]string, error) {
	if depth > maxDeclarationDepth {
		return nil, fmt.Errorf("%w: %s", ErrNestedTooDeep, dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read declarations directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		path := filepath.Join(dir, entry.Name())

		isDir := entry.IsDir()
		if entry.Type()&fs.ModeSymlink != 0 {
			resolved, err := os.Stat(path)
			if err != nil {
				// Dangling symlink; nothing to load.
				continue
			}
			isDir = resolved.IsDir()
		}

		if isDir {
			sub, err := collectFiles(path, depth+1)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		if ext := filepath.Ext(entry.Name()); ext == ".yaml" || ext == ".yml" {
			files = append(files, path)
		}
	}
	return files, nil
}

func decode(raw map[string]any) (*definition, error) {
	def := new(definition)
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      def,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDeclaration, err)
	}
	return def, nil
}

func (d *definition) build() (*Config, error) {
	cfg := &Config{
		Globals: Globals{
			ErrorHandler: d.Globals.ErrorHandler,
			BasePath:     d.Globals.BasePath,
			Secrets:      d.Globals.Secrets,
		},
		Actions:  make(map[string]*Action, len(d.Actions)),
		Tasks:    make(map[string]*Task, len(d.Tasks)),
		Triggers: make(map[string]*Trigger, len(d.Triggers)),
	}

	for _, name := range sortedKeys(d.Actions) {
		action, err := d.Actions[name].build(name)
		if err != nil {
			return nil, err
		}
		cfg.Actions[name] = action
	}
	for _, name := range sortedKeys(d.Tasks) {
		task, err := d.Tasks[name].build(name)
		if err != nil {
			return nil, err
		}
		cfg.Tasks[name] = task
	}
	for _, name := range sortedKeys(d.Triggers) {
		trigger, err := d.Triggers[name].build(name)
		if err != nil {
			return nil, err
		}
		cfg.Triggers[name] = trigger
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (d actionDef) build(name string) (*Action, error) {
	typ := d.Type
	if typ == "" {
		typ = ActionTypeShell
	}
	if typ != ActionTypeShell {
		return nil, fmt.Errorf("%w: action %q has type %q", ErrUnknownActionType, name, typ)
	}
	if d.Command == "" {
		return nil, fmt.Errorf("%w: action %q has no command", ErrInvalidDeclaration, name)
	}
	action := &Action{
		Name:    name,
		Type:    typ,
		Command: d.Command,
		Input:   make(map[string]InputField, len(d.Input)),
		Output:  d.Output,
	}
	for field, def := range d.Input {
		action.Input[field] = InputField(def)
	}
	return action, nil
}

func (d taskDef) build(name string) (*Task, error) {
	task := &Task{
		Name:  name,
		Input: make(map[string]InputField, len(d.Input)),
		Flow:  make(map[string]FlowStep, len(d.Flow)),
	}
	for field, def := range d.Input {
		task.Input[field] = InputField(def)
	}
	for stepName, stepDef := range d.Flow {
		dependsOn, err := stringOrList(stepDef.DependsOn)
		if err != nil {
			return nil, fmt.Errorf("%w: step %q of task %q: depends_on %s", ErrInvalidDeclaration, stepName, name, err)
		}
		if stepDef.Action == "" {
			return nil, fmt.Errorf("%w: step %q of task %q has no action", ErrInvalidDeclaration, stepName, name)
		}
		task.Flow[stepName] = FlowStep{
			Action:         stepDef.Action,
			Input:          stepDef.Input,
			DependsOn:      dependsOn,
			ContinueOnFail: stepDef.ContinueOnFail,
			OnError:        stepDef.OnError,
		}
	}
	return task, nil
}

func (d triggerDef) build(name string) (*Trigger, error) {
	typ := d.Type
	if typ == "" {
		typ = TriggerTypeScheduler
	}
	if typ != TriggerTypeScheduler {
		return nil, fmt.Errorf("%w: trigger %q has type %q", ErrUnknownTriggerType, name, typ)
	}
	if d.Task == "" {
		return nil, fmt.Errorf("%w: trigger %q has no task", ErrInvalidDeclaration, name)
	}
	schedule, err := cron.ParseStandard(d.Cron)
	if err != nil {
		return nil, fmt.Errorf("%w: trigger %q: %q: %s", ErrInvalidCron, name, d.Cron, err)
	}
	enabled := true
	if d.Enabled != nil {
		enabled = *d.Enabled
	}
	return &Trigger{
		Name:     name,
		Type:     typ,
		Cron:     d.Cron,
		Task:     d.Task,
		Input:    d.Input,
		Enabled:  enabled,
		Schedule: schedule,
	}, nil
}

// validate checks cross-references after all sections are built: steps
// point at known actions, flows are acyclic, triggers point at known
// tasks, and the global error handler exists.
func (c *Config) validate() error {
	if c.Globals.ErrorHandler != "" {
		if _, ok := c.Actions[c.Globals.ErrorHandler]; !ok {
			return fmt.Errorf("%w: globals.error_handler references unknown action %q", ErrInvalidDeclaration, c.Globals.ErrorHandler)
		}
	}

	for _, taskName := range sortedKeys(c.Tasks) {
		task := c.Tasks[taskName]
		for _, stepName := range sortedKeys(task.Flow) {
			step := task.Flow[stepName]
			if _, ok := c.Actions[step.Action]; !ok {
				return fmt.Errorf("%w: step %q of task %q references unknown action %q", ErrInvalidDeclaration, stepName, taskName, step.Action)
			}
			if step.OnError != "" {
				if _, ok := c.Actions[step.OnError]; !ok {
					return fmt.Errorf("%w: step %q of task %q: on_error references unknown action %q", ErrInvalidDeclaration, stepName, taskName, step.OnError)
				}
			}
		}
		if _, err := dag.NewWalker(task.Dependencies()); err != nil {
			return fmt.Errorf("%w: task %q: %s", ErrInvalidDeclaration, taskName, err)
		}
	}

	for _, triggerName := range sortedKeys(c.Triggers) {
		trigger := c.Triggers[triggerName]
		if _, ok := c.Tasks[trigger.Task]; !ok {
			return fmt.Errorf("%w: trigger %q references unknown task %q", ErrInvalidDeclaration, triggerName, trigger.Task)
		}
	}
	return nil
}

// stringOrList accepts the scalar and list forms of depends_on.
func stringOrList(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" {
			return nil, nil
		}
		return []string{val}, nil
	case []string:
		return val, nil
	case []any:
		out := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("contains non-string element %v", item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("must be a string or a list of strings, got %T", v)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
