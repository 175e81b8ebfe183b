package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	summaryVersionKey = "alerts:summary:version"
	bumpChannel       = "alerts.bump"
)

// SummaryCache keeps per-facility alert summaries in Redis behind a version
// counter. Bumping the version orphans every cached summary for the facility.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache instantiates the cache helper. A nil client disables caching.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &SummaryCache{client: client, ttl: ttl}
}

func versionKey(facilityID int64) string {
	return summaryVersionKey + ":" + strconv.FormatInt(facilityID, 10)
}

// Version returns the facility's cache version, initialising when missing.
func (c *SummaryCache) Version(ctx context.Context, facilityID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(facilityID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Fetch loads a cached summary or populates it using the loader.
func (c *SummaryCache) Fetch(ctx context.Context, facilityID int64, loader func(context.Context) (Summary, error)) (Summary, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	ver, err := c.Version(ctx, facilityID)
	if err != nil {
		return loader(ctx)
	}
	key := fmt.Sprintf("alerts:summary:%d:%d", facilityID, ver)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var cached Summary
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}
	summary, err := loader(ctx)
	if err != nil {
		return Summary{}, err
	}
	raw, err := json.Marshal(summary)
	if err != nil {
		return Summary{}, err
	}
	_ = c.client.Set(ctx, key, raw, c.ttl).Err()
	return summary, nil
}

// Bump invalidates the facility summary and the all-facilities summary, then
// announces the new version on the bump channel.
func (c *SummaryCache) Bump(ctx context.Context, facilityID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	ids := []int64{0}
	if facilityID != 0 {
		ids = append(ids, facilityID)
	}
	pipe := c.client.TxPipeline()
	incrs := make([]*redis.IntCmd, len(ids))
	for i, id := range ids {
		incrs[i] = pipe.Incr(ctx, versionKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	ver := incrs[len(incrs)-1].Val()
	return c.client.Publish(ctx, bumpChannel, fmt.Sprintf("%d:%d", facilityID, ver)).Err()
}
