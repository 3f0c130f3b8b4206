package server

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/workflow"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

// taskSummary is one row of the task list.
type taskSummary struct {
	Name     string   `json:"name"`
	Steps    int      `json:"steps"`
	Inputs   []string `json:"inputs,omitempty"`
	Triggers []string `json:"triggers,omitempty"`
}

// inputFieldView is the read-plane shape of a declared input.
type inputFieldView struct {
	Type        string `json:"type,omitempty"`
	Required    bool   `json:"required,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}

// stepView is the read-plane shape of one flow step.
type stepView struct {
	Action         string            `json:"action"`
	Input          map[string]string `json:"input,omitempty"`
	DependsOn      []string          `json:"depends_on,omitempty"`
	ContinueOnFail bool              `json:"continue_on_fail,omitempty"`
	OnError        string            `json:"on_error,omitempty"`
}

// taskDetail is the full task declaration as served to UIs.
type taskDetail struct {
	Name  string                    `json:"name"`
	Input map[string]inputFieldView `json:"input,omitempty"`
	Flow  map[string]stepView       `json:"flow"`
}

// jobDetail is a job with its recorded steps.
type jobDetail struct {
	*models.Job
	Steps []*models.Step `json:"steps"`
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	summaries := []taskSummary{}
	if cfg := s.holder.Config(); cfg != nil {
		triggersByTask := make(map[string][]string)
		for name, trigger := range cfg.Triggers {
			triggersByTask[trigger.Task] = append(triggersByTask[trigger.Task], name)
		}
		for name, task := range cfg.Tasks {
			triggers := triggersByTask[name]
			sort.Strings(triggers)
			summaries = append(summaries, taskSummary{
				Name:     name,
				Steps:    len(task.Flow),
				Inputs:   sortedFieldNames(task.Input),
				Triggers: triggers,
			})
		}
		sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	}
	writeData(w, http.StatusOK, summaries)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	cfg := s.holder.Config()
	if cfg == nil {
		writeError(w, http.StatusNotFound, workflow.ErrTaskNotFound)
		return
	}
	task, err := cfg.Task(chi.URLParam(r, "taskName"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	detail := taskDetail{
		Name:  task.Name,
		Input: inputFieldViews(task.Input),
		Flow:  make(map[string]stepView, len(task.Flow)),
	}
	for name, step := range task.Flow {
		detail.Flow[name] = stepView{
			Action:         step.Action,
			Input:          step.Input,
			DependsOn:      step.DependsOn,
			ContinueOnFail: step.ContinueOnFail,
			OnError:        step.OnError,
		}
	}
	writeData(w, http.StatusOK, detail)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, limit := pageParams(r)
	offset := (page - 1) * limit

	var (
		jobs  []*models.Job
		total int
		err   error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.Status(raw)
		switch status {
		case models.StatusQueued, models.StatusRunning, models.StatusCompleted, models.StatusFailed:
		default:
			writeError(w, http.StatusBadRequest, fmt.Errorf("unknown status %q", raw))
			return
		}
		jobs, total, err = s.store.ListJobsByStatus(r.Context(), status, limit, offset)
	} else {
		jobs, total, err = s.store.ListJobs(r.Context(), limit, offset)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	writePage(w, http.StatusOK, jobs, pageInfo{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: (total + limit - 1) / limit,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.store.GetJob(r.Context(), jobID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	steps, err := s.store.GetSteps(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if steps == nil {
		steps = []*models.Step{}
	}
	writeData(w, http.StatusOK, jobDetail{Job: job, Steps: steps})
}

func (s *Server) handleGetJobLogs(w http.ResponseWriter, r *http.Request) {
	s.serveLogs(w, r, chi.URLParam(r, "jobID"), "")
}

func (s *Server) handleGetStepLogs(w http.ResponseWriter, r *http.Request) {
	s.serveLogs(w, r, chi.URLParam(r, "jobID"), chi.URLParam(r, "stepName"))
}

func (s *Server) serveLogs(w http.ResponseWriter, r *http.Request, jobID, stepName string) {
	it, err := s.archive.GetLogs(r.Context(), jobID, stepName)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	defer func() { _ = it.Close() }()

	entries, err := it.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	// Reject names the current declarations don't know about instead of
	// queueing a job that can only fail.
	if cfg := s.holder.Config(); cfg != nil {
		var err error
		if req.Task != "" {
			_, err = cfg.Task(req.Task)
		} else {
			_, err = cfg.Action(req.Action)
		}
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
	}
	id, err := s.store.Enqueue(r.Context(), req, models.SourceAPI, "")
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeData(w, http.StatusCreated, enqueueResponse{JobID: id})
}

func pageParams(r *http.Request) (page, limit int) {
	page = 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	limit = defaultPageLimit
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 {
		limit = min(v, maxPageLimit)
	}
	return page, limit
}

func inputFieldViews(fields map[string]workflow.InputField) map[string]inputFieldView {
	if len(fields) == 0 {
		return nil
	}
	views := make(map[string]inputFieldView, len(fields))
	for name, field := range fields {
		views[name] = inputFieldView{
			Type:        field.Type,
			Required:    field.Required,
			Default:     field.Default,
			Description: field.Description,
		}
	}
	return views
}

func sortedFieldNames(fields map[string]workflow.InputField) []string {
	if len(fields) == 0 {
		return nil
	}
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
