// Package runner executes one job against a local workspace copy: either
// a task's DAG of steps or a single ad-hoc action. All output and status
// reporting flows through the configured sink.
package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/weft-run/weft/internal/dag"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/logsink"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/render"
	"github.com/weft-run/weft/internal/workflow"
)

// Runner executes a single job. It is not reused across jobs.
type Runner struct {
	config   *workflow.Config
	sink     logsink.Sink
	jobID    string
	workDir  string
	revision string
}

// Params collects what a Runner needs for one job.
type Params struct {
	Config *workflow.Config
	Sink   logsink.Sink
	JobID  string
	// Workspace is the local workspace root; shell actions run under it,
	// joined with globals.base_path when that is set.
	Workspace string
	// Revision is reported on the final job result.
	Revision string
}

func New(p Params) *Runner {
	return &Runner{
		config:   p.Config,
		sink:     p.Sink,
		jobID:    p.JobID,
		workDir:  filepath.Join(p.Workspace, p.Config.Globals.BasePath),
		revision: p.Revision,
	}
}

// RunTask walks the named task's flow, executing each step's action in
// dependency order. A step failure runs the error handler chain and halts
// the walk unless the step continues on fail. The returned error is non-nil
// when the job failed; everything before the job start report is fatal
// without a result post.
func (r *Runner) RunTask(ctx context.Context, name string, input any) error {
	task, err := r.config.Task(name)
	if err != nil {
		return err
	}
	walker, err := dag.NewWalker(task.Dependencies())
	if err != nil {
		return fmt.Errorf("invalid flow for task %q: %w", name, err)
	}
	raw, err := asInputMap(input)
	if err != nil {
		return fmt.Errorf("task %q: %w", name, err)
	}
	taskInput, err := materializeInput(task.Input, raw)
	if err != nil {
		return fmt.Errorf("task %q: %w", name, err)
	}

	renderer := render.New()
	if len(r.config.Globals.Secrets) > 0 {
		if err := renderer.Merge(map[string]any{"secrets": r.config.Globals.Secrets}); err != nil {
			return err
		}
	}
	if len(taskInput) > 0 {
		if err := renderer.Merge(map[string]any{"input": taskInput}); err != nil {
			return err
		}
	}

	start := time.Now().UTC()
	r.sink.SetStepName("")
	if err := r.sink.MarkStart(ctx, start, anyMap(taskInput)); err != nil {
		logger.Warn(ctx, "Job start report failed", tag.Job(r.jobID), tag.Error(err))
	}
	logger.Info(ctx, "Task run started", tag.Job(r.jobID), tag.Task(name))

	var failedStep string
	step, ok := walker.Next("")
	for ok {
		flowStep := task.Flow[step]
		if r.runStep(ctx, step, flowStep, renderer) || flowStep.ContinueOnFail {
			step, ok = walker.Next(step)
			continue
		}
		failedStep = step
		break
	}

	result := models.JobResult{
		Success:       failedStep == "",
		StartDatetime: start,
		EndDatetime:   time.Now().UTC(),
		Input:         anyMap(taskInput),
		Revision:      r.revision,
	}
	r.sink.SetStepName("")
	if err := r.sink.StoreResults(ctx, result); err != nil {
		logger.Error(ctx, "Job result report failed", tag.Job(r.jobID), tag.Error(err))
	}

	if failedStep != "" {
		return fmt.Errorf("step %q failed", failedStep)
	}
	logger.Info(ctx, "Task run finished", tag.Job(r.jobID), tag.Task(name))
	return nil
}

// RunAction executes one action with the supplied input, outside any task
// flow. Lookup, materialization and render problems are fatal before
// anything is reported; once the process is dispatched a result is always
// posted.
func (r *Runner) RunAction(ctx context.Context, name string, input any) error {
	raw, err := asInputMap(input)
	if err != nil {
		return fmt.Errorf("action %q: %w", name, err)
	}
	command, materialized, err := r.prepareCommand(name, raw)
	if err != nil {
		return err
	}

	start := time.Now().UTC()
	r.sink.SetStepName("")
	if err := r.sink.MarkStart(ctx, start, anyMap(materialized)); err != nil {
		logger.Warn(ctx, "Job start report failed", tag.Job(r.jobID), tag.Error(err))
	}
	logger.Info(ctx, "Action run started", tag.Job(r.jobID), tag.Action(name))

	output, runErr := runShell(ctx, command, r.workDir, r.sink)

	result := models.JobResult{
		Success:       runErr == nil,
		StartDatetime: start,
		EndDatetime:   time.Now().UTC(),
		Input:         anyMap(materialized),
		Output:        output,
		Revision:      r.revision,
	}
	if err := r.sink.StoreResults(ctx, result); err != nil {
		logger.Error(ctx, "Job result report failed", tag.Job(r.jobID), tag.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("action %q failed: %w", name, runErr)
	}
	return nil
}

// runStep executes one flow step and reports start and result through the
// sink. It returns false when the step failed; the caller decides whether
// the walk goes on.
func (r *Runner) runStep(ctx context.Context, name string, step workflow.FlowStep, renderer *render.Renderer) bool {
	r.sink.SetStepName(name)
	start := time.Now().UTC()

	stepInput, runErr := renderer.RenderStringMap(step.Input)
	if err := r.sink.MarkStart(ctx, start, stringMap(stepInput)); err != nil {
		logger.Warn(ctx, "Step start report failed", tag.Job(r.jobID), tag.Step(name), tag.Error(err))
	}

	var output any
	if runErr == nil {
		var converted map[string]any
		if converted, runErr = asInputMap(stepInput); runErr == nil {
			output, runErr = r.executeAction(ctx, step.Action, converted)
		}
	}

	result := models.JobResult{
		Success:       runErr == nil,
		StartDatetime: start,
		EndDatetime:   time.Now().UTC(),
		Input:         stringMap(stepInput),
		Output:        output,
	}
	if err := r.sink.StoreResults(ctx, result); err != nil {
		logger.Warn(ctx, "Step result report failed", tag.Job(r.jobID), tag.Step(name), tag.Error(err))
	}

	if runErr == nil {
		if output != nil {
			if err := renderer.Merge(map[string]any{name: map[string]any{"output": output}}); err != nil {
				logger.Warn(ctx, "Step output merge failed", tag.Job(r.jobID), tag.Step(name), tag.Error(err))
			}
		}
		return true
	}

	logger.Error(ctx, "Step failed", tag.Job(r.jobID), tag.Step(name), tag.Error(runErr))
	r.runErrorHandler(ctx, name, step.OnError, runErr)
	return false
}

// runErrorHandler invokes the step's on_error action, falling back to the
// global error handler. Handler output is discarded; handler failures are
// logged only.
func (r *Runner) runErrorHandler(ctx context.Context, stepName, onError string, cause error) {
	handler := onError
	if handler == "" {
		handler = r.config.Globals.ErrorHandler
	}
	if handler == "" {
		return
	}

	input := map[string]any{
		"job_id":    r.jobID,
		"step_name": stepName,
		"error":     cause.Error(),
	}
	if _, err := r.executeAction(ctx, handler, input); err != nil {
		logger.Error(ctx, "Error handler failed",
			tag.Job(r.jobID), tag.Step(stepName), tag.Action(handler), tag.Error(err))
	}
}

func (r *Runner) executeAction(ctx context.Context, name string, input map[string]any) (any, error) {
	command, _, err := r.prepareCommand(name, input)
	if err != nil {
		return nil, err
	}
	return runShell(ctx, command, r.workDir, r.sink)
}

// prepareCommand resolves an action, materializes its declared inputs and
// renders the command template against a fresh context holding only the
// input.
func (r *Runner) prepareCommand(name string, input map[string]any) (string, map[string]any, error) {
	action, err := r.config.Action(name)
	if err != nil {
		return "", nil, err
	}
	if action.Type != workflow.ActionTypeShell {
		return "", nil, fmt.Errorf("unsupported action type %q", action.Type)
	}
	materialized, err := materializeInput(action.Input, input)
	if err != nil {
		return "", nil, fmt.Errorf("action %q: %w", name, err)
	}

	cmdRenderer := render.New()
	if err := cmdRenderer.Merge(map[string]any{"input": materialized}); err != nil {
		return "", nil, err
	}
	command, err := cmdRenderer.RenderString(action.Command)
	if err != nil {
		return "", nil, fmt.Errorf("action %q: %w", name, err)
	}
	return command, materialized, nil
}

// anyMap hides an empty map from serialized reports.
func anyMap(m map[string]any) any {
	if len(m) == 0 {
		return nil
	}
	return m
}

func stringMap(m map[string]string) any {
	if len(m) == 0 {
		return nil
	}
	return m
}
