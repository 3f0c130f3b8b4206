package models

import (
	"errors"
	"time"
)

// HeaderRevision carries the workspace revision on tarball responses.
const HeaderRevision = "X-Revision"

// Status is the lifecycle state of a job. Transitions are monotonic:
// queued -> running -> completed | failed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// SourceType identifies what created a job.
type SourceType string

const (
	SourceUser    SourceType = "user"
	SourceTrigger SourceType = "trigger"
	SourceAPI     SourceType = "api"
)

var (
	// ErrNoTarget is returned when a job request names neither a task
	// nor an action.
	ErrNoTarget = errors.New("job request requires a task or an action")

	// ErrAmbiguousTarget is returned when a job request names both a
	// task and an action.
	ErrAmbiguousTarget = errors.New("job request must name either a task or an action, not both")
)

// JobRequest asks for one execution of a task or a one-off action.
type JobRequest struct {
	ID     string `json:"uuid,omitempty"`
	Task   string `json:"task,omitempty"`
	Action string `json:"action,omitempty"`
	Input  any    `json:"input,omitempty"`
}

// Validate checks that exactly one of Task and Action is set.
func (r *JobRequest) Validate() error {
	switch {
	case r.Task == "" && r.Action == "":
		return ErrNoTarget
	case r.Task != "" && r.Action != "":
		return ErrAmbiguousTarget
	}
	return nil
}

// StartRequest declares that a worker has started a job or step.
type StartRequest struct {
	StartDatetime time.Time `json:"start_datetime"`
	Input         any       `json:"input,omitempty"`
}

// JobResult is the terminal report for a job or a single step.
type JobResult struct {
	Success       bool      `json:"success"`
	StartDatetime time.Time `json:"start_datetime"`
	EndDatetime   time.Time `json:"end_datetime"`
	Input         any       `json:"input,omitempty"`
	Output        any       `json:"output,omitempty"`
	Revision      string    `json:"revision,omitempty"`
}

// Job is the queue's view of one execution.
type Job struct {
	ID            string     `json:"job_id"`
	TaskName      string     `json:"task_name,omitempty"`
	ActionName    string     `json:"action_name,omitempty"`
	Input         any        `json:"input,omitempty"`
	Queued        time.Time  `json:"queued"`
	Status        Status     `json:"status"`
	SourceType    SourceType `json:"source_type"`
	SourceID      string     `json:"source_id,omitempty"`
	WorkerID      string     `json:"worker_id,omitempty"`
	Picked        *time.Time `json:"picked,omitempty"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
	Output        any        `json:"output,omitempty"`
	Success       *bool      `json:"success,omitempty"`
}

// Request rebuilds the JobRequest a worker needs to execute the job.
func (j *Job) Request() JobRequest {
	return JobRequest{
		ID:     j.ID,
		Task:   j.TaskName,
		Action: j.ActionName,
		Input:  j.Input,
	}
}

// Step is one recorded step execution within a job.
type Step struct {
	JobID         string     `json:"job_id"`
	Name          string     `json:"step_name"`
	StartDatetime *time.Time `json:"start_datetime,omitempty"`
	EndDatetime   *time.Time `json:"end_datetime,omitempty"`
	Input         any        `json:"input,omitempty"`
	Output        any        `json:"output,omitempty"`
	Success       *bool      `json:"success,omitempty"`
}
