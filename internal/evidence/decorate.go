package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// Cached wraps src so records are served from cache for ttl after a
// successful fetch. Cache failures fall through to the source.
func Cached(src Source, cache domain.EvidenceCache, ttl time.Duration, logger *slog.Logger) Source {
	return &cachedSource{src: src, cache: cache, ttl: ttl, logger: logger}
}

type cachedSource struct {
	src    Source
	cache  domain.EvidenceCache
	ttl    time.Duration
	logger *slog.Logger
}

func (c *cachedSource) Name() string { return c.src.Name() }

func (c *cachedSource) Fetch(ctx context.Context, question string) (domain.EvidenceRecord, error) {
	rec, err := c.cache.Get(ctx, c.src.Name(), question)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		c.logger.WarnContext(ctx, "evidence cache read failed",
			slog.String("source", c.src.Name()),
			slog.String("error", err.Error()),
		)
	}

	rec, err = c.src.Fetch(ctx, question)
	if err != nil {
		return rec, err
	}
	if setErr := c.cache.Set(ctx, c.src.Name(), question, rec, c.ttl); setErr != nil {
		c.logger.WarnContext(ctx, "evidence cache write failed",
			slog.String("source", c.src.Name()),
			slog.String("error", setErr.Error()),
		)
	}
	return rec, nil
}

// RateLimited wraps src so at most limit calls per window reach the
// provider. A throttled call fails with domain.ErrRateLimited, which the
// aggregator treats like any other source failure.
func RateLimited(src Source, limiter domain.RateLimiter, limit int, window time.Duration) Source {
	return &limitedSource{src: src, limiter: limiter, limit: limit, window: window}
}

type limitedSource struct {
	src     Source
	limiter domain.RateLimiter
	limit   int
	window  time.Duration
}

func (l *limitedSource) Name() string { return l.src.Name() }

func (l *limitedSource) Fetch(ctx context.Context, question string) (domain.EvidenceRecord, error) {
	ok, err := l.limiter.Allow(ctx, "evidence:"+l.src.Name(), l.limit, l.window)
	if err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("evidence: rate limit %s: %w", l.src.Name(), err)
	}
	if !ok {
		return domain.EvidenceRecord{}, fmt.Errorf("evidence: %s: %w", l.src.Name(), domain.ErrRateLimited)
	}
	return l.src.Fetch(ctx, question)
}
