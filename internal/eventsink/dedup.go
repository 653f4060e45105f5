package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup suppresses re-emission of the same logical event within a TTL
// window, backed by Redis SETNX so multiple Pipeline instances across
// processes share one dedup window — a distributed generalization of
// internal/nvr/event_dedup.go's single-process golang-lru cache in the
// teacher repo.
type Dedup struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewDedup wraps an existing Redis client.
func NewDedup(rdb *redis.Client, ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Dedup{rdb: rdb, ttl: ttl}
}

// Seen reports whether key was already recorded within the TTL window,
// recording it as seen if not (atomic check-and-set via SETNX).
func (d *Dedup) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, dedupRedisKey(key), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("eventsink(dedup): setnx: %w", err)
	}
	// SetNX returns true when the key was newly set (i.e. not seen before).
	return !ok, nil
}

func dedupRedisKey(key string) string {
	return "visionserve:eventdedup:" + key
}

// Key builds the dedup key from the fields that define "the same
// logical event", bucketed to the second to absorb sub-second jitter
// between duplicate emissions of the same rule/track pair.
func Key(cameraID, ruleID string, globalTrackID uint64, at time.Time) string {
	return fmt.Sprintf("%s|%s|%d|%d", cameraID, ruleID, globalTrackID, at.Truncate(time.Second).Unix())
}
