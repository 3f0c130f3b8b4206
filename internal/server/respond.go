package server

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/weft-run/weft/internal/logstore"
	"github.com/weft-run/weft/internal/models"
	"github.com/weft-run/weft/internal/persistence"
	"github.com/weft-run/weft/internal/workflow"
)

var errUnauthorized = errors.New("unauthorized")

// envelope is the read-plane response wrapper.
type envelope struct {
	Success    bool   `json:"success"`
	Data       any    `json:"data,omitempty"`
	Pagination any    `json:"pagination,omitempty"`
	Error      string `json:"error,omitempty"`
}

// pageInfo describes one page of a list response.
type pageInfo struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	renderJSON(w, status, envelope{Success: true, Data: data})
}

func writePage(w http.ResponseWriter, status int, data any, page pageInfo) {
	renderJSON(w, status, envelope{Success: true, Data: data, Pagination: page})
}

func writeError(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, envelope{Success: false, Error: err.Error()})
}

// renderJSON writes v as the raw response body. Control-plane handlers
// use it directly; the read plane goes through the envelope helpers.
func renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// statusFor maps known sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrNoTarget),
		errors.Is(err, models.ErrAmbiguousTarget):
		return http.StatusBadRequest
	case errors.Is(err, persistence.ErrJobNotFound),
		errors.Is(err, workflow.ErrTaskNotFound),
		errors.Is(err, workflow.ErrActionNotFound),
		errors.Is(err, logstore.ErrLogsNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// requireToken rejects requests without the configured bearer token.
// A server without a token accepts everything.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		parts := strings.Split(r.Header.Get("Authorization"), " ")
		if len(parts) == 2 && subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.cfg.APIToken)) == 1 {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("WWW-Authenticate", `Bearer realm="weft"`)
		writeError(w, http.StatusUnauthorized, errUnauthorized)
	})
}
