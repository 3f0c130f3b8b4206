package jobdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/stringutil"
)

// jobRow mirrors the job table: timestamps as RFC3339 TEXT, structured
// values as JSON TEXT.
type jobRow struct {
	JobID         string         `db:"job_id"`
	TaskName      sql.NullString `db:"task_name"`
	ActionName    sql.NullString `db:"action_name"`
	Input         sql.NullString `db:"input"`
	Queued        string         `db:"queued"`
	Status        string         `db:"status"`
	SourceType    string         `db:"source_type"`
	SourceID      sql.NullString `db:"source_id"`
	WorkerID      sql.NullString `db:"worker_id"`
	Picked        sql.NullString `db:"picked"`
	StartDatetime sql.NullString `db:"start_datetime"`
	EndDatetime   sql.NullString `db:"end_datetime"`
	Output        sql.NullString `db:"output"`
	Success       sql.NullBool   `db:"success"`
}

func (r jobRow) toJob() (*models.Job, error) {
	queued, err := stringutil.ParseTime(r.Queued)
	if err != nil {
		return nil, fmt.Errorf("job %s: parse queued timestamp: %w", r.JobID, err)
	}
	job := &models.Job{
		ID:            r.JobID,
		TaskName:      r.TaskName.String,
		ActionName:    r.ActionName.String,
		Input:         unmarshalJSON(r.Input),
		Queued:        queued,
		Status:        models.Status(r.Status),
		SourceType:    models.SourceType(r.SourceType),
		SourceID:      r.SourceID.String,
		WorkerID:      r.WorkerID.String,
		Picked:        timePtr(r.Picked),
		StartDatetime: timePtr(r.StartDatetime),
		EndDatetime:   timePtr(r.EndDatetime),
		Output:        unmarshalJSON(r.Output),
	}
	if r.Success.Valid {
		success := r.Success.Bool
		job.Success = &success
	}
	return job, nil
}

type stepRow struct {
	JobID         string         `db:"job_id"`
	StepName      string         `db:"step_name"`
	StartDatetime sql.NullString `db:"start_datetime"`
	EndDatetime   sql.NullString `db:"end_datetime"`
	Input         sql.NullString `db:"input"`
	Output        sql.NullString `db:"output"`
	Success       sql.NullBool   `db:"success"`
}

func (r stepRow) toStep() *models.Step {
	step := &models.Step{
		JobID:         r.JobID,
		Name:          r.StepName,
		StartDatetime: timePtr(r.StartDatetime),
		EndDatetime:   timePtr(r.EndDatetime),
		Input:         unmarshalJSON(r.Input),
		Output:        unmarshalJSON(r.Output),
	}
	if r.Success.Valid {
		success := r.Success.Bool
		step.Success = &success
	}
	return step
}

// unmarshalJSON decodes a JSON TEXT column; values written before the
// column held JSON come back as the raw string.
func unmarshalJSON(s sql.NullString) any {
	if !s.Valid || s.String == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(s.String), &v); err != nil {
		return s.String
	}
	return v
}

func timePtr(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := stringutil.ParseTime(s.String)
	if err != nil {
		return nil
	}
	return &t
}
