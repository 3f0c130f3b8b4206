// Package persistence defines the storage contracts the server depends
// on. Implementations live in subpackages.
package persistence

import (
	"context"
	"errors"

	"github.com/weft-run/weft/internal/models"
)

// ErrJobNotFound is returned by lookups for an unknown job id.
var ErrJobNotFound = errors.New("job not found")

// Store is the durable job queue. All methods are safe for concurrent
// use; Claim in particular must hand each queued job to at most one
// caller across processes.
type Store interface {
	// Enqueue inserts a job in status queued and returns its id,
	// assigning a fresh UUID when the request carries none.
	Enqueue(ctx context.Context, req models.JobRequest, sourceType models.SourceType, sourceID string) (string, error)
	// Claim atomically assigns the oldest queued job to workerID and
	// moves it to running. Returns nil when the queue is empty.
	Claim(ctx context.Context, workerID string) (*models.Job, error)
	// UpdateStart records the worker-reported start of a job. It is
	// effective only while the job is running under the same worker.
	UpdateStart(ctx context.Context, jobID, workerID string, start models.StartRequest) error
	// UpdateResult moves a job to its terminal status. The worker is
	// deliberately not checked so results survive claim records lost to
	// crashes.
	UpdateResult(ctx context.Context, jobID string, result models.JobResult) error
	// UpdateStepStart upserts the start of one step of a job.
	UpdateStepStart(ctx context.Context, jobID, stepName string, start models.StartRequest) error
	// UpdateStepResult upserts the result of one step of a job.
	UpdateStepResult(ctx context.Context, jobID, stepName string, result models.JobResult) error
	// GetJob returns one job or ErrJobNotFound.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	// ListJobs returns a page of jobs, newest first, plus the total count.
	ListJobs(ctx context.Context, limit, offset int) ([]*models.Job, int, error)
	// ListJobsByStatus is ListJobs filtered to one status.
	ListJobsByStatus(ctx context.Context, status models.Status, limit, offset int) ([]*models.Job, int, error)
	// GetSteps returns the recorded steps of a job ordered by start time.
	GetSteps(ctx context.Context, jobID string) ([]*models.Step, error)
	// Close releases the underlying connections.
	Close() error
}
