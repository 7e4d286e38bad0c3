package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/sajjadsiam/kalki-protocol/internal/domain"
)

// CursorStore keeps the watcher's next block per agent address. Keys do
// not expire.
type CursorStore struct {
	rdb *redis.Client
}

// NewCursorStore creates a CursorStore backed by c.
func NewCursorStore(c *Client) *CursorStore {
	return &CursorStore{rdb: c.rdb}
}

func cursorKey(agent string) string { return keyPrefix + "cursor:" + strings.ToLower(agent) }

// LoadCursor returns the stored block for agent; ok is false when none is
// stored.
func (cs *CursorStore) LoadCursor(ctx context.Context, agent string) (uint64, bool, error) {
	v, err := cs.rdb.Get(ctx, cursorKey(agent)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("redis: load cursor: %w", err)
	}
	block, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse cursor %q: %w", v, err)
	}
	return block, true, nil
}

// SaveCursor stores block for agent.
func (cs *CursorStore) SaveCursor(ctx context.Context, agent string, block uint64) error {
	if err := cs.rdb.Set(ctx, cursorKey(agent), strconv.FormatUint(block, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis: save cursor: %w", err)
	}
	return nil
}

var _ domain.CursorStore = (*CursorStore)(nil)
