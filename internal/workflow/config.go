// Package workflow holds the declaration model: actions, tasks with
// their flows, triggers, and the merged configuration the server and
// runner agree on for one workspace revision.
package workflow

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

// ActionTypeShell is the only action type the engine executes.
const ActionTypeShell = "shell"

// TriggerTypeScheduler is the only trigger type the engine evaluates.
const TriggerTypeScheduler = "scheduler"

var (
	ErrActionNotFound  = errors.New("action not found")
	ErrTaskNotFound    = errors.New("task not found")
	ErrTriggerNotFound = errors.New("trigger not found")
)

// InputField declares one typed input of an action or task.
type InputField struct {
	Type        string `mapstructure:"type"`
	Required    bool   `mapstructure:"required"`
	Default     any    `mapstructure:"default"`
	Order       int    `mapstructure:"order"`
	Description string `mapstructure:"description"`
}

// Action is a named, reusable unit of execution: a shell command template
// with declared inputs and an optional output schema.
type Action struct {
	Name    string
	Type    string
	Command string
	Input   map[string]InputField
	Output  any
}

// FlowStep binds an action into a task's DAG with its input mapping,
// dependencies and failure policy.
type FlowStep struct {
	Action         string
	Input          map[string]string
	DependsOn      []string
	ContinueOnFail bool
	OnError        string
}

// Task is a named DAG of steps.
type Task struct {
	Name  string
	Input map[string]InputField
	Flow  map[string]FlowStep
}

// Dependencies returns the step -> depends_on mapping of the flow,
// in the form the walker consumes.
func (t *Task) Dependencies() map[string][]string {
	deps := make(map[string][]string, len(t.Flow))
	for name, step := range t.Flow {
		deps[name] = step.DependsOn
	}
	return deps
}

// Trigger enqueues a task on a cron cadence.
type Trigger struct {
	Name    string
	Type    string
	Cron    string
	Task    string
	Input   map[string]string
	Enabled bool

	// Schedule is the parsed form of Cron, filled at load time.
	Schedule cron.Schedule
}

// Globals are workspace-wide settings shared by every task run.
type Globals struct {
	// ErrorHandler names an action invoked when a step fails and the
	// step declares no on_error of its own.
	ErrorHandler string
	// BasePath is joined onto the workspace root as the working
	// directory for shell actions.
	BasePath string
	// Secrets seed the render context of every task run.
	Secrets map[string]any
}

// Config is one atomically replaced snapshot of every declaration in the
// workspace. It is immutable after load.
type Config struct {
	Globals  Globals
	Actions  map[string]*Action
	Tasks    map[string]*Task
	Triggers map[string]*Trigger
}

// Action looks up an action by name.
func (c *Config) Action(name string) (*Action, error) {
	action, ok := c.Actions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrActionNotFound, name)
	}
	return action, nil
}

// Task looks up a task by name.
func (c *Config) Task(name string) (*Task, error) {
	task, ok := c.Tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTaskNotFound, name)
	}
	return task, nil
}

// Trigger looks up a trigger by name.
func (c *Config) Trigger(name string) (*Trigger, error) {
	trigger, ok := c.Triggers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTriggerNotFound, name)
	}
	return trigger, nil
}
