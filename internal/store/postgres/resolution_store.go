package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore over resolution_jobs.
// The full job is kept as a JSONB snapshot; the scalar columns exist for
// filtering and ad-hoc queries.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

// NewResolutionStore creates a ResolutionStore backed by pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

// Upsert writes the latest snapshot of job. A committed row is never moved
// back to a non-terminal state.
func (s *ResolutionStore) Upsert(ctx context.Context, job domain.ResolutionJob) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("postgres: marshal job %s: %w", job.RequestID, err)
	}

	var (
		question, category string
		outcome            *bool
		confidence         *int
	)
	if job.Request != nil {
		question = job.Request.Question
		category = string(job.Request.Category)
	}
	if job.Decision != nil {
		outcome = &job.Decision.Outcome
		confidence = &job.Decision.Confidence
	}

	const query = `
		INSERT INTO resolution_jobs (
			request_id, job_id, state, question, category,
			outcome, confidence, evidence_hash, evidence_key, tx_hash,
			attempts, last_error, snapshot, detected_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)
		ON CONFLICT (request_id) DO UPDATE SET
			job_id        = EXCLUDED.job_id,
			state         = EXCLUDED.state,
			question      = EXCLUDED.question,
			category      = EXCLUDED.category,
			outcome       = EXCLUDED.outcome,
			confidence    = EXCLUDED.confidence,
			evidence_hash = EXCLUDED.evidence_hash,
			evidence_key  = EXCLUDED.evidence_key,
			tx_hash       = EXCLUDED.tx_hash,
			attempts      = EXCLUDED.attempts,
			last_error    = EXCLUDED.last_error,
			snapshot      = EXCLUDED.snapshot,
			updated_at    = EXCLUDED.updated_at
		WHERE resolution_jobs.state <> 'committed'`

	if _, err := s.pool.Exec(ctx, query,
		job.RequestID.String(), job.ID, string(job.State), question, category,
		outcome, confidence, job.EvidenceHash, job.EvidenceKey, job.TxHash,
		job.Attempts, job.LastError, snapshot, job.DetectedAt, job.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: upsert job %s: %w", job.RequestID, err)
	}
	return nil
}

// GetByRequestID returns the stored job, or domain.ErrNotFound.
func (s *ResolutionStore) GetByRequestID(ctx context.Context, id domain.RequestID) (domain.ResolutionJob, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM resolution_jobs WHERE request_id = $1`, id.String(),
	).Scan(&snapshot)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ResolutionJob{}, domain.ErrNotFound
		}
		return domain.ResolutionJob{}, fmt.Errorf("postgres: get job %s: %w", id, err)
	}
	return decodeJob(snapshot)
}

// List returns jobs newest first, optionally filtered by state.
func (s *ResolutionStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.ResolutionJob, error) {
	query, args := buildList(`SELECT snapshot FROM resolution_jobs`, "detected_at", "state", opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []domain.ResolutionJob
	for rows.Next() {
		var snapshot []byte
		if err := rows.Scan(&snapshot); err != nil {
			return nil, fmt.Errorf("postgres: scan job: %w", err)
		}
		job, err := decodeJob(snapshot)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: job rows: %w", err)
	}
	return jobs, nil
}

// IsCommitted reports whether id already has a committed resolution.
func (s *ResolutionStore) IsCommitted(ctx context.Context, id domain.RequestID) (bool, error) {
	var committed bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM resolution_jobs WHERE request_id = $1 AND state = 'committed')`,
		id.String(),
	).Scan(&committed); err != nil {
		return false, fmt.Errorf("postgres: check committed %s: %w", id, err)
	}
	return committed, nil
}

func decodeJob(snapshot []byte) (domain.ResolutionJob, error) {
	var job domain.ResolutionJob
	if err := json.Unmarshal(snapshot, &job); err != nil {
		return domain.ResolutionJob{}, fmt.Errorf("postgres: unmarshal job: %w", err)
	}
	return job, nil
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)
