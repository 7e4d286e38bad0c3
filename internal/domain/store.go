package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
	State  JobState
}

// ResolutionStore persists the latest snapshot of every resolution job.
type ResolutionStore interface {
	Upsert(ctx context.Context, job ResolutionJob) error
	GetByRequestID(ctx context.Context, id RequestID) (ResolutionJob, error)
	List(ctx context.Context, opts ListOpts) ([]ResolutionJob, error)
	IsCommitted(ctx context.Context, id RequestID) (bool, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
