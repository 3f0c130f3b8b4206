// Package worker runs the long-lived job poller: it claims queued jobs
// from the server, keeps a local workspace copy current, and spawns one
// runner child process per job under a bounded concurrency limit.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/weft-run/weft/internal/backoff"
	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/config"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/workspace"
)

const (
	defaultMaxJobs      = 5
	defaultPollInterval = 2 * time.Second
)

// Worker polls the server for queued jobs and runs each one in a runner
// child process. The semaphore permit for a job is held for the child's
// entire lifetime.
type Worker struct {
	id           string
	client       *client.Client
	puller       *workspace.Puller
	serverURL    string
	token        string
	maxJobs      int
	pollInterval time.Duration
	sem          *semaphore.Weighted

	// spawn runs one claimed job; swapped out in tests.
	spawn func(ctx context.Context, job *models.Job) error

	wg sync.WaitGroup
}

// New creates a worker from the worker configuration section.
func New(cfg config.Worker) *Worker {
	id := cfg.ID
	if id == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		id = fmt.Sprintf("%s@%d", hostname, os.Getpid())
	}
	maxJobs := cfg.MaxJobs
	if maxJobs < 1 {
		maxJobs = defaultMaxJobs
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	cli := client.New(cfg.ServerURL, client.WithToken(cfg.Token))
	w := &Worker{
		id:           id,
		client:       cli,
		puller:       workspace.NewPuller(cli, cfg.WorkspaceDir),
		serverURL:    cfg.ServerURL,
		token:        cfg.Token,
		maxJobs:      maxJobs,
		pollInterval: pollInterval,
		sem:          semaphore.NewWeighted(int64(maxJobs)),
	}
	w.spawn = w.runChild
	return w
}

// ID returns the worker's identity as sent to the server.
func (w *Worker) ID() string {
	return w.id
}

// Start runs the claim loop until ctx is cancelled, then waits for
// in-flight runner children to finish. Children are never cancelled;
// shutdown drains them.
func (w *Worker) Start(ctx context.Context) error {
	logger.Info(ctx, "Worker started",
		tag.WorkerID(w.id),
		tag.URL(w.serverURL),
		tag.Count(w.maxJobs),
		tag.Interval(w.pollInterval))

	policy := backoff.NewExponentialBackoffPolicy(w.pollInterval)
	policy.MaxInterval = 10 * w.pollInterval
	idle := backoff.NewRetrier(backoff.WithJitter(policy, backoff.FullJitter))

	for {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			break
		}

		job, err := w.client.ClaimJob(ctx, w.id)
		if err != nil || job == nil {
			w.sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			if err != nil {
				logger.Warn(ctx, "Job claim failed", tag.WorkerID(w.id), tag.Error(err))
			}
			if !w.sleep(ctx, idle, err) {
				break
			}
			continue
		}

		idle.Reset()
		w.wg.Add(1)
		go func(job *models.Job) {
			defer w.wg.Done()
			defer w.sem.Release(1)
			w.runJob(ctx, job)
		}(job)
	}

	logger.Info(ctx, "Worker draining", tag.WorkerID(w.id))
	w.wg.Wait()
	logger.Info(ctx, "Worker stopped", tag.WorkerID(w.id))
	return nil
}

// sleep waits the retrier's next interval between unproductive polls.
// It returns false when the context ended first.
func (w *Worker) sleep(ctx context.Context, idle backoff.Retrier, cause error) bool {
	interval, err := idle.Next(cause)
	if err != nil {
		interval = w.pollInterval
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// runJob pulls the workspace and hands the job to a runner child. When
// no runner ever ran, the worker reports the failure itself so the job
// does not sit in running forever.
func (w *Worker) runJob(ctx context.Context, job *models.Job) {
	// Shutdown drains in-flight jobs instead of cancelling them.
	ctx = context.WithoutCancel(ctx)

	logger.Info(ctx, "Job claimed",
		tag.WorkerID(w.id), tag.Job(job.ID), tag.Task(job.TaskName), tag.Action(job.ActionName))

	start := time.Now().UTC()
	revision, err := w.puller.Pull(ctx)
	if err != nil {
		logger.Error(ctx, "Workspace pull failed", tag.WorkerID(w.id), tag.Job(job.ID), tag.Error(err))
		w.reportFailure(ctx, job.ID, start, revision)
		return
	}

	if err := w.spawn(ctx, job); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// The runner ran and has reported its own result.
			logger.Warn(ctx, "Job failed",
				tag.WorkerID(w.id), tag.Job(job.ID), tag.ExitCode(exitErr.ExitCode()))
			return
		}
		logger.Error(ctx, "Runner start failed", tag.WorkerID(w.id), tag.Job(job.ID), tag.Error(err))
		w.reportFailure(ctx, job.ID, start, revision)
		return
	}

	logger.Info(ctx, "Job finished", tag.WorkerID(w.id), tag.Job(job.ID))
}

func (w *Worker) reportFailure(ctx context.Context, jobID string, start time.Time, revision string) {
	result := models.JobResult{
		Success:       false,
		StartDatetime: start,
		EndDatetime:   time.Now().UTC(),
		Revision:      revision,
	}
	if err := w.client.PostJobResult(ctx, jobID, w.id, result); err != nil {
		logger.Error(ctx, "Job failure report failed", tag.WorkerID(w.id), tag.Job(jobID), tag.Error(err))
	}
}

// runChild execs this binary's run subcommand for one job and waits for
// it to exit. The child reads the workspace copy the puller maintains
// and posts its own starts, results and logs.
func (w *Worker) runChild(_ context.Context, job *models.Job) error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{
		"run",
		"--server", w.serverURL,
		"--job-id", job.ID,
		"--worker-id", w.id,
		"--workspace", w.puller.Dir(),
	}
	if w.token != "" {
		args = append(args, "--token", w.token)
	}
	if job.TaskName != "" {
		args = append(args, "--task", job.TaskName)
	} else {
		args = append(args, "--action", job.ActionName)
	}
	if job.Input != nil {
		input, err := json.Marshal(job.Input)
		if err != nil {
			return fmt.Errorf("failed to encode job input: %w", err)
		}
		args = append(args, "--input", string(input))
	}

	cmd := exec.Command(executable, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	// Own process group: an interrupt aimed at the worker must not reach
	// a child mid-job, shutdown drains instead.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pgid: 0}
	return cmd.Run()
}
