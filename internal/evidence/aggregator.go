package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// DefaultSourceTimeout bounds a single source call.
const DefaultSourceTimeout = 10 * time.Second

// Aggregator fans a question out to every source registered for its
// category and packages the successful records into a bundle.
type Aggregator struct {
	registry *Registry
	timeout  time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAggregator creates an Aggregator. A non-positive timeout selects
// DefaultSourceTimeout.
func NewAggregator(registry *Registry, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if timeout <= 0 {
		timeout = DefaultSourceTimeout
	}
	return &Aggregator{
		registry: registry,
		timeout:  timeout,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "evidence_aggregator")),
	}
}

// Registry returns the category map the aggregator routes through.
func (a *Aggregator) Registry() *Registry { return a.registry }

type fetchResult struct {
	rec domain.EvidenceRecord
	err error
}

// Gather queries all sources concurrently. It returns once every source has
// answered, failed or timed out, and never returns an error: failed sources
// are simply left out of the bundle. Records keep registration order.
func (a *Aggregator) Gather(ctx context.Context, question string, category domain.Category) domain.EvidenceBundle {
	sources := a.registry.Sources(category)
	results := make([]fetchResult, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			results[i] = a.fetchOne(ctx, src, question)
		}(i, src)
	}
	wg.Wait()

	records := make([]domain.EvidenceRecord, 0, len(sources))
	for i, res := range results {
		if res.err != nil {
			a.logger.WarnContext(ctx, "evidence source failed",
				slog.String("source", sources[i].Name()),
				slog.String("category", string(category)),
				slog.String("error", res.err.Error()),
			)
			continue
		}
		records = append(records, res.rec)
	}

	a.logger.DebugContext(ctx, "evidence gathered",
		slog.String("category", string(category)),
		slog.String("source_set", string(a.registry.Resolve(category))),
		slog.Int("registered", len(sources)),
		slog.Int("succeeded", len(records)),
	)

	return domain.EvidenceBundle{
		Question:    question,
		Category:    category,
		Sources:     records,
		SourceCount: len(records),
		Timestamp:   a.now().UTC(),
	}
}

// fetchOne runs a single source under its own deadline. The call is raced
// against the deadline so a source that ignores its context cannot stall
// the fan-out.
func (a *Aggregator) fetchOne(ctx context.Context, src Source, question string) fetchResult {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fetchResult{err: fmt.Errorf("evidence: source %s panicked: %v", src.Name(), r)}
			}
		}()
		rec, err := src.Fetch(callCtx, question)
		if err == nil && rec.Source == "" {
			rec.Source = src.Name()
		}
		if err == nil && rec.Timestamp.IsZero() {
			rec.Timestamp = a.now().UTC()
		}
		if err == nil {
			// The bundle is hashed as JSON; one record that cannot be
			// encoded would fail the whole digest.
			if _, encErr := json.Marshal(rec.Data); encErr != nil {
				err = fmt.Errorf("evidence: source %s: unencodable data: %w", src.Name(), encErr)
			}
		}
		done <- fetchResult{rec: rec, err: err}
	}()

	select {
	case res := <-done:
		return res
	case <-callCtx.Done():
		return fetchResult{err: fmt.Errorf("evidence: source %s: %w", src.Name(), callCtx.Err())}
	}
}
