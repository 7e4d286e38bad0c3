package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
	"github.com/sajjadsiam/kalki-protocol/internal/evidence"
)

// EvidenceCache implements domain.EvidenceCache with JSON string values.
//
// Key schema:
//
//	kalki:evidence:{source}:{keccak(question)}
type EvidenceCache struct {
	rdb *redis.Client
}

// NewEvidenceCache creates an EvidenceCache backed by c.
func NewEvidenceCache(c *Client) *EvidenceCache {
	return &EvidenceCache{rdb: c.rdb}
}

func evidenceKey(source, question string) string {
	return keyPrefix + "evidence:" + source + ":" + evidence.QuestionKey(question)
}

// Get returns the cached record, or domain.ErrNotFound.
func (ec *EvidenceCache) Get(ctx context.Context, source, question string) (domain.EvidenceRecord, error) {
	data, err := ec.rdb.Get(ctx, evidenceKey(source, question)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.EvidenceRecord{}, domain.ErrNotFound
		}
		return domain.EvidenceRecord{}, fmt.Errorf("redis: get evidence %s: %w", source, err)
	}
	var rec domain.EvidenceRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.EvidenceRecord{}, fmt.Errorf("redis: unmarshal evidence %s: %w", source, err)
	}
	return rec, nil
}

// Set stores rec for ttl.
func (ec *EvidenceCache) Set(ctx context.Context, source, question string, rec domain.EvidenceRecord, ttl time.Duration) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal evidence %s: %w", source, err)
	}
	if err := ec.rdb.Set(ctx, evidenceKey(source, question), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set evidence %s: %w", source, err)
	}
	return nil
}

var _ domain.EvidenceCache = (*EvidenceCache)(nil)
