package domain

import (
	"context"
	"time"
)

// CursorStore persists the watcher's last scanned block so a restarted
// process resumes where it stopped.
type CursorStore interface {
	LoadCursor(ctx context.Context, agent string) (block uint64, ok bool, err error)
	SaveCursor(ctx context.Context, agent string, block uint64) error
}

// EvidenceCache memoizes source records for repeated questions.
type EvidenceCache interface {
	Get(ctx context.Context, source, question string) (EvidenceRecord, error)
	Set(ctx context.Context, source, question string, rec EvidenceRecord, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SignalBus provides pub/sub for job transition events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}
