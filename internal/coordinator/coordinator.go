// Package coordinator drives each assigned request through fetch, evidence,
// analysis and commit, keeping at most one job per request id.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
	"github.com/sajjadsiam/kalki-protocol/internal/evidence"
	"github.com/sajjadsiam/kalki-protocol/internal/resolver"
)

// Defaults for Config.
const (
	DefaultMaxRetries     = 3
	DefaultRetryBaseDelay = 2 * time.Second
	DefaultRetryMaxDelay  = 30 * time.Second
	DefaultLockTTL        = 10 * time.Minute
	DefaultShutdownGrace  = 60 * time.Second
)

// Chain is the part of the chain collaborator a job needs.
type Chain interface {
	domain.RequestReader
	domain.Committer
}

// Gatherer collects evidence for a question. It never fails.
type Gatherer interface {
	Gather(ctx context.Context, question string, category domain.Category) domain.EvidenceBundle
}

// Notifier is told about jobs that reached a terminal state.
type Notifier interface {
	NotifyJob(ctx context.Context, event string, job domain.ResolutionJob) error
}

// Deps are the coordinator's collaborators. Chain and Evidence are
// required; everything from Store down is optional.
type Deps struct {
	Chain    Chain
	Evidence Gatherer
	Resolver resolver.Resolver

	Store    domain.ResolutionStore
	Audit    domain.AuditStore
	Archive  domain.EvidenceArchive
	Bus      domain.SignalBus
	Locks    domain.LockManager
	Notifier Notifier
}

// Config bounds retries and shutdown. MaxRetries counts retries after the
// first try, so a stage runs at most MaxRetries+1 times.
type Config struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	LockTTL        time.Duration
	ShutdownGrace  time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if c.LockTTL <= 0 {
		c.LockTTL = DefaultLockTTL
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Coordinator owns the lifecycle of resolution jobs.
type Coordinator struct {
	deps    Deps
	cfg     Config
	policy  RetryPolicy
	tracker *Tracker
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	wg sync.WaitGroup
}

// New validates deps and returns a Coordinator.
func New(deps Deps, cfg Config, logger *slog.Logger) (*Coordinator, error) {
	if deps.Chain == nil {
		return nil, fmt.Errorf("coordinator: chain: %w", domain.ErrMissingConfig)
	}
	if deps.Evidence == nil {
		return nil, fmt.Errorf("coordinator: evidence gatherer: %w", domain.ErrMissingConfig)
	}
	if deps.Resolver == nil {
		deps.Resolver = resolver.NewMajority()
	}
	cfg = cfg.withDefaults()
	return &Coordinator{
		deps: deps,
		cfg:  cfg,
		policy: RetryPolicy{
			MaxAttempts: cfg.MaxRetries + 1,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    cfg.RetryMaxDelay,
		},
		tracker: NewTracker(),
		logger:  logger.With(slog.String("component", "coordinator")),
		now:     time.Now,
		newID:   uuid.NewString,
	}, nil
}

// Dispatch starts a job for id in the background. It returns
// domain.ErrDuplicateJob when the id is already active or finished.
//
// The job runs on a context detached from ctx's cancellation so an
// interrupt does not abandon a commit half way; use Wait to drain.
func (c *Coordinator) Dispatch(ctx context.Context, id domain.RequestID) error {
	job, ok := c.claim(id)
	if !ok {
		c.logger.DebugContext(ctx, "duplicate assignment discarded", slog.String("request_id", id.String()))
		return domain.ErrDuplicateJob
	}
	jobCtx := context.WithoutCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(jobCtx, job)
	}()
	return nil
}

// Process runs a job for id to completion on the calling goroutine and
// returns its final snapshot.
func (c *Coordinator) Process(ctx context.Context, id domain.RequestID) (domain.ResolutionJob, error) {
	job, ok := c.claim(id)
	if !ok {
		return domain.ResolutionJob{}, domain.ErrDuplicateJob
	}
	return c.run(ctx, job), nil
}

// Consume dispatches every id received on ids until the channel closes or
// ctx ends.
func (c *Coordinator) Consume(ctx context.Context, ids <-chan domain.RequestID) {
	for {
		select {
		case <-ctx.Done():
			return
		case id, ok := <-ids:
			if !ok {
				return
			}
			_ = c.Dispatch(ctx, id)
		}
	}
}

// Wait blocks until all dispatched jobs have finished, ctx ends or the
// shutdown grace period elapses.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	grace := time.NewTimer(c.cfg.ShutdownGrace)
	defer grace.Stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator: wait: %w", ctx.Err())
	case <-grace.C:
		active, _, _ := c.tracker.Counts()
		return fmt.Errorf("coordinator: %d jobs still running after %s", active, c.cfg.ShutdownGrace)
	}
}

// Active returns snapshots of in-flight jobs.
func (c *Coordinator) Active() []domain.ResolutionJob { return c.tracker.Active() }

// Job returns the in-flight snapshot for id.
func (c *Coordinator) Job(id domain.RequestID) (domain.ResolutionJob, bool) { return c.tracker.Get(id) }

// Counts returns active, committed and failed totals for this run.
func (c *Coordinator) Counts() (active, committed, failed int) { return c.tracker.Counts() }

func (c *Coordinator) claim(id domain.RequestID) (domain.ResolutionJob, bool) {
	now := c.now().UTC()
	job := domain.ResolutionJob{
		ID:         c.newID(),
		RequestID:  id,
		State:      domain.JobStateDetected,
		DetectedAt: now,
		UpdatedAt:  now,
	}
	return job, c.tracker.Claim(job)
}

// run executes the pipeline. It always leaves the tracker without an
// active entry for the job.
func (c *Coordinator) run(ctx context.Context, job domain.ResolutionJob) domain.ResolutionJob {
	log := c.logger.With(slog.String("request_id", job.RequestID.String()), slog.String("job_id", job.ID))

	unlock, proceed := c.admit(ctx, &job, log)
	if !proceed {
		return job
	}
	defer unlock()

	log.InfoContext(ctx, "new resolution request")
	c.persist(ctx, &job, "")

	// Detected -> FetchingDetails
	if !c.advance(ctx, &job, domain.JobStateFetchingDetails, log) {
		return c.abandon(job)
	}
	var req domain.ResolutionRequest
	err := c.policy.Do(ctx, func(int) error {
		r, err := c.deps.Chain.ResolutionRequest(ctx, job.RequestID)
		if err != nil {
			return err
		}
		req = r
		return nil
	}, c.onRetry(ctx, log, "fetch request"))
	if err != nil {
		return c.fail(ctx, job, fmt.Errorf("fetch request: %w", err), log)
	}
	job.Request = &req
	log.InfoContext(ctx, "request details fetched",
		slog.String("question", req.Question),
		slog.String("category", string(req.Category)),
		slog.Time("deadline", req.Deadline),
	)

	// FetchingDetails -> GatheringEvidence
	if !c.advance(ctx, &job, domain.JobStateGatheringEvidence, log) {
		return c.abandon(job)
	}
	bundle := c.deps.Evidence.Gather(ctx, req.Question, req.Category)
	job.Bundle = &bundle
	log.InfoContext(ctx, "evidence collected", slog.Int("source_count", bundle.SourceCount))

	// GatheringEvidence -> Analyzing
	if !c.advance(ctx, &job, domain.JobStateAnalyzing, log) {
		return c.abandon(job)
	}
	decision := c.deps.Resolver.Analyze(req.Question, bundle)
	job.Decision = &decision
	log.InfoContext(ctx, "analysis complete",
		slog.Bool("outcome", decision.Outcome),
		slog.Int("confidence", decision.Confidence),
		slog.String("reasoning", decision.Reasoning),
	)

	digest, err := evidence.Digest(bundle)
	if err != nil {
		return c.fail(ctx, job, err, log)
	}
	job.EvidenceHash = digest.Hex()
	if c.deps.Archive != nil {
		key, err := c.deps.Archive.Archive(ctx, job.RequestID, digest.Hex(), bundle)
		if err != nil {
			log.WarnContext(ctx, "evidence archive failed", slog.String("error", err.Error()))
		} else {
			job.EvidenceKey = key
		}
	}

	// Analyzing -> Submitting
	if !c.advance(ctx, &job, domain.JobStateSubmitting, log) {
		return c.abandon(job)
	}
	commit := domain.ResolutionCommit{
		RequestID:    job.RequestID,
		Outcome:      decision.Outcome,
		Confidence:   decision.Confidence,
		EvidenceHash: digest,
	}
	var receipt domain.Receipt
	err = c.policy.Do(ctx, func(attempt int) error {
		job.Attempts = attempt
		txHash, err := c.deps.Chain.SubmitResolution(ctx, commit)
		if err != nil {
			return fmt.Errorf("submit: %w", err)
		}
		job.TxHash = txHash
		c.tracker.Update(job)
		log.InfoContext(ctx, "commit broadcast", slog.String("tx_hash", txHash), slog.Int("attempt", attempt))

		r, err := c.deps.Chain.WaitForReceipt(ctx, txHash)
		if err != nil {
			return fmt.Errorf("wait receipt: %w", err)
		}
		if !r.Succeeded() {
			return fmt.Errorf("tx %s: %w", txHash, domain.ErrTxReverted)
		}
		receipt = r
		return nil
	}, c.onRetry(ctx, log, "submit resolution"))
	if err != nil {
		return c.fail(ctx, job, err, log)
	}

	// Submitting -> Committed
	if !c.advance(ctx, &job, domain.JobStateCommitted, log) {
		return c.abandon(job)
	}
	log.InfoContext(ctx, "resolution committed",
		slog.String("tx_hash", job.TxHash),
		slog.Uint64("block", receipt.BlockNumber),
		slog.Uint64("gas_used", receipt.GasUsed),
	)
	c.finish(ctx, job, domain.EventResolutionCommitted, log)
	return job
}

// admit applies the cross-process checks: a commit already recorded in the
// store, or another replica holding the request lock, discards the job. A
// store or lock backend error is logged and does not block the job.
func (c *Coordinator) admit(ctx context.Context, job *domain.ResolutionJob, log *slog.Logger) (func(), bool) {
	if c.deps.Store != nil {
		done, err := c.deps.Store.IsCommitted(ctx, job.RequestID)
		switch {
		case err != nil:
			log.WarnContext(ctx, "commit lookup failed", slog.String("error", err.Error()))
		case done:
			log.InfoContext(ctx, "request already committed, discarding")
			c.tracker.Finish(job.RequestID, domain.JobStateCommitted)
			job.State = domain.JobStateCommitted
			return nil, false
		}
	}

	unlock := func() {}
	if c.deps.Locks != nil {
		release, err := c.deps.Locks.Acquire(ctx, "resolve:"+job.RequestID.String(), c.cfg.LockTTL)
		switch {
		case errors.Is(err, domain.ErrLockHeld):
			log.InfoContext(ctx, "request claimed by another agent process, discarding")
			c.tracker.Release(job.RequestID)
			return nil, false
		case err != nil:
			log.WarnContext(ctx, "request lock unavailable, continuing unlocked", slog.String("error", err.Error()))
		default:
			unlock = release
		}
	}
	return unlock, true
}

func (c *Coordinator) advance(ctx context.Context, job *domain.ResolutionJob, next domain.JobState, log *slog.Logger) bool {
	prev := job.State
	if !prev.CanTransition(next) {
		log.ErrorContext(ctx, "illegal job transition", slog.String("from", string(prev)), slog.String("to", string(next)))
		return false
	}
	job.State = next
	job.UpdatedAt = c.now().UTC()
	c.tracker.Update(*job)
	log.InfoContext(ctx, "job state changed", slog.String("from", string(prev)), slog.String("to", string(next)))
	c.persist(ctx, job, prev)
	return true
}

// abandon drops a job whose transition was rejected. The id counts as
// failed for the rest of the run.
func (c *Coordinator) abandon(job domain.ResolutionJob) domain.ResolutionJob {
	c.tracker.Finish(job.RequestID, domain.JobStateFailed)
	return job
}

func (c *Coordinator) fail(ctx context.Context, job domain.ResolutionJob, cause error, log *slog.Logger) domain.ResolutionJob {
	job.LastError = cause.Error()
	log.ErrorContext(ctx, "resolution failed",
		slog.String("stage", string(job.State)),
		slog.Int("attempts", job.Attempts),
		slog.String("error", cause.Error()),
	)
	c.advance(ctx, &job, domain.JobStateFailed, log)
	c.finish(ctx, job, domain.EventResolutionFailed, log)
	return job
}

func (c *Coordinator) finish(ctx context.Context, job domain.ResolutionJob, event string, log *slog.Logger) {
	c.tracker.Finish(job.RequestID, job.State)

	if c.deps.Audit != nil {
		detail := map[string]any{
			"request_id":    job.RequestID.String(),
			"job_id":        job.ID,
			"state":         string(job.State),
			"tx_hash":       job.TxHash,
			"evidence_hash": job.EvidenceHash,
			"attempts":      job.Attempts,
		}
		if job.Decision != nil {
			detail["outcome"] = job.Decision.Outcome
			detail["confidence"] = job.Decision.Confidence
		}
		if job.LastError != "" {
			detail["error"] = job.LastError
		}
		if err := c.deps.Audit.Log(ctx, event, detail); err != nil {
			log.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if c.deps.Notifier != nil {
		if err := c.deps.Notifier.NotifyJob(ctx, event, job); err != nil {
			log.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}

// persist writes the job snapshot to the store and announces the change on
// the signal bus. Both are best effort.
func (c *Coordinator) persist(ctx context.Context, job *domain.ResolutionJob, from domain.JobState) {
	if c.deps.Store != nil {
		if err := c.deps.Store.Upsert(ctx, *job); err != nil {
			c.logger.WarnContext(ctx, "job upsert failed",
				slog.String("request_id", job.RequestID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
	if c.deps.Bus != nil {
		payload, err := json.Marshal(domain.JobEvent{From: from, To: job.State, Job: *job, At: job.UpdatedAt})
		if err == nil {
			err = c.deps.Bus.Publish(ctx, domain.ChannelResolution, payload)
		}
		if err != nil {
			c.logger.WarnContext(ctx, "job event publish failed",
				slog.String("request_id", job.RequestID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (c *Coordinator) onRetry(ctx context.Context, log *slog.Logger, op string) func(int, error, time.Duration) {
	return func(attempt int, err error, wait time.Duration) {
		log.WarnContext(ctx, op+" failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", c.policy.MaxAttempts),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
	}
}
