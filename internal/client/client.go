// Package client is the worker and runner side of the control plane:
// claiming jobs, posting starts, results and logs, and fetching the
// workspace tarball. The CLI's task listing rides on the same client.
package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/weft-run/weft/internal/backoff"
	"github.com/weft-run/weft/internal/build"
	"github.com/weft-run/weft/internal/models"
)

const defaultTimeout = 30 * time.Second

// Client talks to one weft server.
type Client struct {
	http   *resty.Client
	policy backoff.RetryPolicy
}

// Option configures a Client.
type Option func(*Client)

// WithToken sends the shared bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) {
		if token != "" {
			c.http.SetAuthToken(token)
		}
	}
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.SetTimeout(d) }
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(defaultTimeout).
		SetHeader("User-Agent", "weft/"+build.Version)

	base := backoff.NewExponentialBackoffPolicy(500 * time.Millisecond)
	base.MaxInterval = 5 * time.Second
	base.MaxRetries = 3

	c := &Client{
		http:   httpClient,
		policy: backoff.WithJitter(base, backoff.FullJitter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClaimJob asks for the next queued job. It returns nil when the queue
// is empty. Single attempt: the worker's poll loop owns retry pacing.
func (c *Client) ClaimJob(ctx context.Context, workerID string) (*models.Job, error) {
	var job models.Job
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("worker_id", workerID).
		SetResult(&job).
		Get("/jobs/next")
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	if resp.StatusCode() == http.StatusNoContent {
		return nil, nil
	}
	if err := classifyResponse(resp); err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// EnqueueJob submits a job request and returns the assigned job ID.
func (c *Client) EnqueueJob(ctx context.Context, req models.JobRequest) (string, error) {
	var created struct {
		JobID string `json:"job_id"`
	}
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().SetContext(ctx).
			SetBody(req).
			SetResult(&created).
			Post("/jobs")
		if err != nil {
			return err
		}
		return classifyResponse(resp)
	}, c.policy, isRetriableError)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return created.JobID, nil
}

// PostJobStart reports that the job has started running.
func (c *Client) PostJobStart(ctx context.Context, jobID, workerID string, start models.StartRequest) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/start", url.PathEscape(jobID)), workerID, start)
}

// PostJobResult reports the job's terminal result.
func (c *Client) PostJobResult(ctx context.Context, jobID, workerID string, result models.JobResult) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/results", url.PathEscape(jobID)), workerID, result)
}

// PostStepStart reports that a single step has started.
func (c *Client) PostStepStart(ctx context.Context, jobID, stepName, workerID string, start models.StartRequest) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/steps/%s/start",
		url.PathEscape(jobID), url.PathEscape(stepName)), workerID, start)
}

// PostStepResult reports a single step's result.
func (c *Client) PostStepResult(ctx context.Context, jobID, stepName, workerID string, result models.JobResult) error {
	return c.post(ctx, fmt.Sprintf("/jobs/%s/steps/%s/results",
		url.PathEscape(jobID), url.PathEscape(stepName)), workerID, result)
}

// PostJobLogs ships one batch of job-scoped log entries. Single
// attempt: a failed batch rides along with the next flush instead.
func (c *Client) PostJobLogs(ctx context.Context, jobID string, entries []models.LogEntry) error {
	return c.postOnce(ctx, fmt.Sprintf("/jobs/%s/logs", url.PathEscape(jobID)), entries)
}

// PostStepLogs ships one batch of step-scoped log entries.
func (c *Client) PostStepLogs(ctx context.Context, jobID, stepName string, entries []models.LogEntry) error {
	return c.postOnce(ctx, fmt.Sprintf("/jobs/%s/steps/%s/logs",
		url.PathEscape(jobID), url.PathEscape(stepName)), entries)
}

// WorkspaceRevision asks the server which workspace revision it would
// serve, without downloading the tarball.
func (c *Client) WorkspaceRevision(ctx context.Context) (string, error) {
	resp, err := c.http.R().SetContext(ctx).Head("/files/workspace.tar.gz")
	if err != nil {
		return "", fmt.Errorf("head workspace: %w", err)
	}
	if err := classifyResponse(resp); err != nil {
		return "", fmt.Errorf("head workspace: %w", err)
	}
	return resp.Header().Get(models.HeaderRevision), nil
}

// DownloadWorkspace fetches the workspace tarball into dst and returns
// the revision it carries.
func (c *Client) DownloadWorkspace(ctx context.Context, dst string) (string, error) {
	var revision string
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		resp, err := c.http.R().SetContext(ctx).
			SetOutput(dst).
			Get("/files/workspace.tar.gz")
		if err != nil {
			return err
		}
		if err := classifyResponse(resp); err != nil {
			return err
		}
		revision = resp.Header().Get(models.HeaderRevision)
		return nil
	}, c.policy, isRetriableError)
	if err != nil {
		return "", fmt.Errorf("download workspace: %w", err)
	}
	return revision, nil
}

// TaskSummary is one row of the read plane's task listing.
type TaskSummary struct {
	Name     string   `json:"name"`
	Steps    int      `json:"steps"`
	Inputs   []string `json:"inputs,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
}

// ListTasks fetches the declared tasks from the read plane.
func (c *Client) ListTasks(ctx context.Context) ([]TaskSummary, error) {
	var envelope struct {
		Success bool          `json:"success"`
		Data    []TaskSummary `json:"data"`
		Error   string        `json:"error,omitempty"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetResult(&envelope).
		Get("/api/tasks")
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if err := classifyResponse(resp); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return envelope.Data, nil
}

func (c *Client) post(ctx context.Context, path, workerID string, body any) error {
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		req := c.http.R().SetContext(ctx).SetBody(body)
		if workerID != "" {
			req.SetQueryParam("worker_id", workerID)
		}
		resp, err := req.Post(path)
		if err != nil {
			return err
		}
		return classifyResponse(resp)
	}, c.policy, isRetriableError)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return nil
}

func (c *Client) postOnce(ctx context.Context, path string, body any) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	if err := classifyResponse(resp); err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	return nil
}
