package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/weft-run/weft/internal/logger"
	"github.com/weft-run/weft/internal/logger/tag"
)

// SSE event types sent on top of the hub's own event names.
const (
	eventConnected = "connected"
	eventHeartbeat = "heartbeat"
)

// heartbeatInterval keeps idle streams alive through proxies.
const heartbeatInterval = 30 * time.Second

// SetSSEHeaders sets the standard headers required for SSE responses.
func SetSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// handleJobEvents streams a job's live events until the client hangs up
// or the subscriber is dropped for falling behind.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")

	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	SetSSEHeaders(w)

	stream, cancel := s.hub.Subscribe(jobID)
	defer cancel()

	writeSSE(w, eventConnected, map[string]string{"job_id": jobID})
	flusher.Flush()
	logger.Info(ctx, "Event stream opened", tag.Job(jobID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, open := <-stream:
			if !open {
				return
			}
			writeSSE(w, event.Name, event.Data)
			flusher.Flush()
		case <-heartbeat.C:
			writeSSE(w, eventHeartbeat, struct{}{})
			flusher.Flush()
		}
	}
}

// writeSSE writes one event in text/event-stream framing.
func writeSSE(w io.Writer, name string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload)
}
