package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/weft-run/weft/internal/events"
	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
	"github.com/weft-run/weft/internal/models"
)

var errMissingWorkerID = errors.New("worker_id is required")

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

// stepStartEvent is the fan-out payload for a step start report.
type stepStartEvent struct {
	StepName string `json:"step_name"`
	models.StartRequest
}

// stepResultEvent is the fan-out payload for a step result report.
type stepResultEvent struct {
	StepName string `json:"step_name"`
	models.JobResult
}

// stepLogsEvent is the fan-out payload for a step log batch.
type stepLogsEvent struct {
	StepName string            `json:"step_name"`
	Entries  []models.LogEntry `json:"entries"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req models.JobRequest
	if err := decodeJSON(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := s.store.Enqueue(r.Context(), req, models.SourceUser, "")
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	renderJSON(w, http.StatusCreated, enqueueResponse{JobID: id})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, errMissingWorkerID.Error(), http.StatusBadRequest)
		return
	}
	job, err := s.store.Claim(r.Context(), workerID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	logger.Info(r.Context(), "Job claimed", tag.Job(job.ID), tag.WorkerID(workerID))
	renderJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobStart(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	workerID := r.URL.Query().Get("worker_id")
	if workerID == "" {
		http.Error(w, errMissingWorkerID.Error(), http.StatusBadRequest)
		return
	}
	var start models.StartRequest
	if err := decodeJSON(r, &start); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateStart(r.Context(), jobID, workerID, start); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{Name: events.NameStart, Data: start})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var result models.JobResult
	if err := decodeJSON(r, &result); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateResult(r.Context(), jobID, result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{Name: events.NameResult, Data: result})

	// The job is recorded; a failed archive hand-off must not make the
	// worker retry the result post.
	if err := s.archive.JobDone(r.Context(), jobID); err != nil {
		logger.Error(r.Context(), "Log archive failed", tag.Job(jobID), tag.Error(err))
	}
	logger.Info(r.Context(), "Job finished", tag.Job(jobID), tag.Status(string(jobStatus(result.Success))))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	var entries []models.LogEntry
	if err := decodeJSON(r, &entries); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.archive.SaveLogs(r.Context(), jobID, "", entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{Name: events.NameLogs, Data: entries})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStepStart(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stepName := chi.URLParam(r, "stepName")
	var start models.StartRequest
	if err := decodeJSON(r, &start); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateStepStart(r.Context(), jobID, stepName, start); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{
		Name: events.NameStepStart,
		Data: stepStartEvent{StepName: stepName, StartRequest: start},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStepResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stepName := chi.URLParam(r, "stepName")
	var result models.JobResult
	if err := decodeJSON(r, &result); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpdateStepResult(r.Context(), jobID, stepName, result); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{
		Name: events.NameStepResult,
		Data: stepResultEvent{StepName: stepName, JobResult: result},
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStepLogs(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	stepName := chi.URLParam(r, "stepName")
	var entries []models.LogEntry
	if err := decodeJSON(r, &entries); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := s.archive.SaveLogs(r.Context(), jobID, stepName, entries); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.hub.Publish(jobID, events.Event{
		Name: events.NameStepLogs,
		Data: stepLogsEvent{StepName: stepName, Entries: entries},
	})
	w.WriteHeader(http.StatusNoContent)
}

// handleWorkspaceTarball serves the declaration bundle. HEAD returns
// only the revision header so pullers can skip an unchanged download.
func (s *Server) handleWorkspaceTarball(w http.ResponseWriter, r *http.Request) {
	rev, err := s.manager.Revision(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set(models.HeaderRevision, rev)
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.Header().Set("Content-Type", "application/gzip")
	if err := s.manager.WriteTarball(r.Context(), w); err != nil {
		// Headers are gone; all we can do is cut the stream short.
		logger.Error(r.Context(), "Workspace tarball failed", tag.Error(err))
	}
}

func jobStatus(success bool) models.Status {
	if success {
		return models.StatusCompleted
	}
	return models.StatusFailed
}
