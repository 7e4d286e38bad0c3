// Package handler implements the agent's read-only HTTP API.
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// JobSource exposes the coordinator's in-memory view of live jobs.
type JobSource interface {
	Active() []domain.ResolutionJob
	Job(id domain.RequestID) (domain.ResolutionJob, bool)
	Counts() (active, committed, failed int)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts reads limit, offset and state from the query string.
// limit defaults to 50 and is capped at 500.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	opts := domain.ListOpts{Limit: defaultLimit}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		opts.Limit = min(n, maxLimit)
	}
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		opts.Offset = n
	}
	if s := q.Get("state"); s != "" {
		opts.State = domain.JobState(s)
	}
	return opts
}

// requestIDParam parses the {id} path value.
func requestIDParam(r *http.Request) (domain.RequestID, bool) {
	id, err := domain.ParseRequestID(r.PathValue("id"))
	return id, err == nil
}
