package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weft-run/weft/internal/client"
	"github.com/weft-run/weft/internal/models"
)

func TestListTasks(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodGet, "/api/tasks", nil, "")
	require.Equal(t, http.StatusOK, resp.status)
	require.True(t, resp.success)

	var tasks []taskSummary
	resp.decode(t, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, "pipeline", tasks[0].Name)
	assert.Equal(t, 2, tasks[0].Steps)
	assert.Equal(t, []string{"name"}, tasks[0].Inputs)
	assert.Equal(t, []string{"hourly"}, tasks[0].Triggers)
}

func TestGetTask(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodGet, "/api/tasks/pipeline", nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	var task taskDetail
	resp.decode(t, &task)
	assert.Equal(t, "pipeline", task.Name)
	assert.Equal(t, "world", task.Input["name"].Default)

	require.Contains(t, task.Flow, "a")
	require.Contains(t, task.Flow, "b")
	assert.Equal(t, "greet", task.Flow["a"].Action)
	assert.Empty(t, task.Flow["a"].DependsOn)
	assert.Equal(t, []string{"a"}, task.Flow["b"].DependsOn)
}

func TestGetTaskNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodGet, "/api/tasks/ghost", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.False(t, resp.success)
	assert.Contains(t, resp.errMsg, "task not found")
}

func TestListJobsPagination(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for range 5 {
		_, err := ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
		require.NoError(t, err)
	}

	resp := ts.api(t, http.MethodGet, "/api/jobs?page=2&limit=2", nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	var jobs []models.Job
	resp.decode(t, &jobs)
	assert.Len(t, jobs, 2)

	require.NotNil(t, resp.pagination)
	assert.Equal(t, pageInfo{Page: 2, Limit: 2, Total: 5, TotalPages: 3}, *resp.pagination)
}

func TestListJobsStatusFilter(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for range 3 {
		_, err := ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
		require.NoError(t, err)
	}
	claimed, err := ts.store.Claim(ctx, "w-1")
	require.NoError(t, err)

	resp := ts.api(t, http.MethodGet, "/api/jobs?status=running", nil, "")
	require.Equal(t, http.StatusOK, resp.status)
	var running []models.Job
	resp.decode(t, &running)
	require.Len(t, running, 1)
	assert.Equal(t, claimed.ID, running[0].ID)

	resp = ts.api(t, http.MethodGet, "/api/jobs?status=queued", nil, "")
	require.NotNil(t, resp.pagination)
	assert.Equal(t, 2, resp.pagination.Total)

	resp = ts.api(t, http.MethodGet, "/api/jobs?status=bogus", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.False(t, resp.success)
}

func TestGetJobWithSteps(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	id, err := ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
	require.NoError(t, err)

	begin := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	require.NoError(t, ts.store.UpdateStepStart(ctx, id, "a", models.StartRequest{StartDatetime: begin}))
	require.NoError(t, ts.store.UpdateStepResult(ctx, id, "a", models.JobResult{
		Success:       true,
		StartDatetime: begin,
		EndDatetime:   begin.Add(time.Second),
	}))

	resp := ts.api(t, http.MethodGet, "/api/jobs/"+id, nil, "")
	require.Equal(t, http.StatusOK, resp.status)

	var job struct {
		models.Job
		Steps []models.Step `json:"steps"`
	}
	resp.decode(t, &job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, models.StatusQueued, job.Status)
	require.Len(t, job.Steps, 1)
	assert.Equal(t, "a", job.Steps[0].Name)
}

func TestGetJobNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodGet, "/api/jobs/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.False(t, resp.success)
	assert.Contains(t, resp.errMsg, "job not found")
}

func TestJobLogsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	id, err := ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
	require.NoError(t, err)

	entries := testLogEntries()
	require.NoError(t, ts.archive.SaveLogs(ctx, id, "", entries))
	require.NoError(t, ts.archive.SaveLogs(ctx, id, "b", entries[:1]))

	resp := ts.api(t, http.MethodGet, "/api/jobs/"+id+"/logs", nil, "")
	require.Equal(t, http.StatusOK, resp.status)
	var got []models.LogEntry
	resp.decode(t, &got)
	assert.Equal(t, entries, got)

	resp = ts.api(t, http.MethodGet, "/api/jobs/"+id+"/steps/b/logs", nil, "")
	require.Equal(t, http.StatusOK, resp.status)
	got = nil
	resp.decode(t, &got)
	assert.Equal(t, entries[:1], got)

	resp = ts.api(t, http.MethodGet, "/api/jobs/"+id+"/steps/ghost/logs", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestRunEnqueuesJob(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodPost, "/api/run", models.JobRequest{
		Task:  "pipeline",
		Input: map[string]any{"name": "demo"},
	}, "")
	require.Equal(t, http.StatusCreated, resp.status)
	require.True(t, resp.success)

	var created enqueueResponse
	resp.decode(t, &created)
	require.NotEmpty(t, created.JobID)

	job, err := ts.store.GetJob(context.Background(), created.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.SourceAPI, job.SourceType)
	assert.Equal(t, map[string]any{"name": "demo"}, job.Input)
}

func TestRunAcceptsKnownAction(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodPost, "/api/run", models.JobRequest{
		Action: "greet",
		Input:  map[string]any{"name": "demo"},
	}, "")
	assert.Equal(t, http.StatusCreated, resp.status)
}

func TestRunRejectsUnknownTask(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodPost, "/api/run", models.JobRequest{Task: "ghost"}, "")
	assert.Equal(t, http.StatusNotFound, resp.status)
	assert.Contains(t, resp.errMsg, "task not found")
}

func TestRunValidatesRequest(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.api(t, http.MethodPost, "/api/run", models.JobRequest{}, "")
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = ts.api(t, http.MethodPost, "/api/run", models.JobRequest{Task: "pipeline", Action: "greet"}, "")
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestTokenGuardsReadPlane(t *testing.T) {
	ts := newTestServer(t, withToken("s3cr3t"))

	resp := ts.api(t, http.MethodGet, "/api/tasks", nil, "")
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.False(t, resp.success)
	assert.Equal(t, `Bearer realm="weft"`, resp.header.Get("WWW-Authenticate"))

	resp = ts.api(t, http.MethodGet, "/api/tasks", nil, "wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = ts.api(t, http.MethodGet, "/api/tasks", nil, "s3cr3t")
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestTokenGuardsControlPlane(t *testing.T) {
	ts := newTestServer(t, withToken("s3cr3t"))
	ctx := context.Background()

	_, err := client.New(ts.http.URL).ClaimJob(ctx, "w-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	job, err := client.New(ts.http.URL, client.WithToken("s3cr3t")).ClaimJob(ctx, "w-1")
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
	require.NoError(t, err)
	_, err = ts.store.Enqueue(ctx, models.JobRequest{Task: "pipeline"}, models.SourceUser, "")
	require.NoError(t, err)
	_, err = ts.store.Claim(ctx, "w-1")
	require.NoError(t, err)

	resp, err := ts.http.Client().Get(ts.http.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "weft_info")
	assert.Contains(t, string(body), "weft_jobs_queued 1")
	assert.Contains(t, string(body), "weft_jobs_running 1")
}
