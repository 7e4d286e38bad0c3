package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// EvidenceLoader reads an archived bundle back by object key.
type EvidenceLoader interface {
	Load(ctx context.Context, key string) (domain.EvidenceBundle, error)
}

// ResolutionHandler serves resolution history. Live jobs are answered from
// the coordinator; finished ones from the store when one is configured.
type ResolutionHandler struct {
	jobs     JobSource
	store    domain.ResolutionStore
	evidence EvidenceLoader
	logger   *slog.Logger
}

// NewResolutionHandler creates a ResolutionHandler. store and evidence may
// be nil.
func NewResolutionHandler(jobs JobSource, store domain.ResolutionStore, evidence EvidenceLoader, logger *slog.Logger) *ResolutionHandler {
	return &ResolutionHandler{
		jobs:     jobs,
		store:    store,
		evidence: evidence,
		logger:   logger.With(slog.String("handler", "resolutions")),
	}
}

// List returns stored jobs newest first. Without a store it falls back to
// the active jobs.
// GET /api/resolutions?limit=&offset=&state=
func (h *ResolutionHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	if h.store == nil {
		writeJSON(w, http.StatusOK, filterState(h.jobs.Active(), opts.State))
		return
	}

	jobs, err := h.store.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list resolutions", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list resolutions")
		return
	}
	if jobs == nil {
		jobs = []domain.ResolutionJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// Get returns one job.
// GET /api/resolutions/{id}
func (h *ResolutionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := requestIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	job, status := h.lookup(r.Context(), id)
	if status != http.StatusOK {
		writeError(w, status, http.StatusText(status))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Evidence returns the bundle a job was decided on: the in-memory copy when
// present, else the archived object.
// GET /api/resolutions/{id}/evidence
func (h *ResolutionHandler) Evidence(w http.ResponseWriter, r *http.Request) {
	id, ok := requestIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid request id")
		return
	}
	job, status := h.lookup(r.Context(), id)
	if status != http.StatusOK {
		writeError(w, status, http.StatusText(status))
		return
	}

	if job.Bundle != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"evidence_hash": job.EvidenceHash,
			"evidence_key":  job.EvidenceKey,
			"bundle":        job.Bundle,
		})
		return
	}
	if job.EvidenceKey == "" || h.evidence == nil {
		writeError(w, http.StatusNotFound, "no evidence recorded")
		return
	}

	bundle, err := h.evidence.Load(r.Context(), job.EvidenceKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "evidence object missing")
			return
		}
		h.logger.ErrorContext(r.Context(), "load evidence",
			slog.String("request_id", id.String()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadGateway, "failed to load evidence")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"evidence_hash": job.EvidenceHash,
		"evidence_key":  job.EvidenceKey,
		"bundle":        bundle,
	})
}

func (h *ResolutionHandler) lookup(ctx context.Context, id domain.RequestID) (domain.ResolutionJob, int) {
	if job, ok := h.jobs.Job(id); ok {
		return job, http.StatusOK
	}
	if h.store == nil {
		return domain.ResolutionJob{}, http.StatusNotFound
	}
	job, err := h.store.GetByRequestID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ResolutionJob{}, http.StatusNotFound
		}
		h.logger.ErrorContext(ctx, "get resolution",
			slog.String("request_id", id.String()),
			slog.String("error", err.Error()),
		)
		return domain.ResolutionJob{}, http.StatusInternalServerError
	}
	return job, http.StatusOK
}

func filterState(jobs []domain.ResolutionJob, state domain.JobState) []domain.ResolutionJob {
	if state == "" {
		return jobs
	}
	out := make([]domain.ResolutionJob, 0, len(jobs))
	for _, j := range jobs {
		if j.State == state {
			out = append(out, j)
		}
	}
	return out
}
