package evidence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

type memCache struct {
	mu   sync.Mutex
	recs map[string]domain.EvidenceRecord
	sets int
}

func newMemCache() *memCache { return &memCache{recs: map[string]domain.EvidenceRecord{}} }

func (m *memCache) Get(_ context.Context, source, question string) (domain.EvidenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[source+"|"+question]
	if !ok {
		return domain.EvidenceRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (m *memCache) Set(_ context.Context, source, question string, rec domain.EvidenceRecord, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[source+"|"+question] = rec
	m.sets++
	return nil
}

type countLimiter struct {
	allowed int
	calls   int
}

func (c *countLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	c.calls++
	return c.calls <= c.allowed, nil
}

func countingSource(name string, calls *int) Source {
	return SourceFunc{SourceName: name, Fn: func(context.Context, string) (domain.EvidenceRecord, error) {
		*calls++
		return domain.EvidenceRecord{Source: name, Answer: domain.AnswerYes}, nil
	}}
}

func TestCachedServesSecondCallFromCache(t *testing.T) {
	var calls int
	cache := newMemCache()
	src := Cached(countingSource("s", &calls), cache, time.Minute, discardLogger())

	for i := 0; i < 3; i++ {
		rec, err := src.Fetch(context.Background(), "q")
		if err != nil || rec.Answer != domain.AnswerYes {
			t.Fatalf("Fetch #%d = %+v, %v", i, rec, err)
		}
	}
	if calls != 1 {
		t.Fatalf("underlying calls = %d, want 1", calls)
	}
	if cache.sets != 1 {
		t.Fatalf("cache sets = %d, want 1", cache.sets)
	}
	if src.Name() != "s" {
		t.Fatalf("Name = %q", src.Name())
	}
}

func TestCachedDoesNotStoreFailures(t *testing.T) {
	cache := newMemCache()
	src := Cached(failingSource("bad"), cache, time.Minute, discardLogger())
	if _, err := src.Fetch(context.Background(), "q"); err == nil {
		t.Fatal("want error")
	}
	if cache.sets != 0 {
		t.Fatalf("cache sets = %d, want 0", cache.sets)
	}
}

func TestRateLimitedRejectsOverLimit(t *testing.T) {
	var calls int
	src := RateLimited(countingSource("s", &calls), &countLimiter{allowed: 2}, 2, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := src.Fetch(context.Background(), "q"); err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
	}
	_, err := src.Fetch(context.Background(), "q")
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("third Fetch err = %v, want ErrRateLimited", err)
	}
	if calls != 2 {
		t.Fatalf("underlying calls = %d, want 2", calls)
	}
}
