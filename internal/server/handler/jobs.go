package handler

import "net/http"

// JobsHandler serves the live in-memory job table.
type JobsHandler struct {
	jobs JobSource
}

// NewJobsHandler creates a JobsHandler.
func NewJobsHandler(jobs JobSource) *JobsHandler {
	return &JobsHandler{jobs: jobs}
}

// ListActive returns active jobs oldest first plus process-lifetime counts.
// GET /api/jobs
func (h *JobsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	active, committed, failed := h.jobs.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs": h.jobs.Active(),
		"counts": map[string]int{
			"active":    active,
			"committed": committed,
			"failed":    failed,
		},
	})
}
