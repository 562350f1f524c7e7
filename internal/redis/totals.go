package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/step-groups/internal/domain"
)

// TotalsCache keeps a group's step totals for a closed period in a sorted
// set scored by steps.
type TotalsCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

// NewTotalsCache creates a totals cache whose entries expire after ttl
func NewTotalsCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *TotalsCache {
	return &TotalsCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// totalsKey returns the Redis key for a group's totals in one period
func (c *TotalsCache) totalsKey(groupID string, period domain.Period) string {
	return fmt.Sprintf("group:%s:totals:%s", groupID, period.Key())
}

// GetTotals returns the cached totals, or an empty map on a miss
func (c *TotalsCache) GetTotals(ctx context.Context, groupID string, period domain.Period) (map[string]int64, error) {
	key := c.totalsKey(groupID, period)
	results, err := c.client.ZRangeWithScores(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("getting cached totals: %w", err)
	}

	totals := make(map[string]int64, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		totals[member] = int64(z.Score)
	}
	return totals, nil
}

// SetTotals replaces the cached totals in one MULTI block so readers never
// observe a partial set
func (c *TotalsCache) SetTotals(ctx context.Context, groupID string, period domain.Period, totals []domain.StepTotal) error {
	if len(totals) == 0 {
		return nil
	}
	key := c.totalsKey(groupID, period)

	members := make([]redis.Z, len(totals))
	for i, t := range totals {
		members[i] = redis.Z{Score: float64(t.TotalSteps), Member: t.UserID}
	}

	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.ZAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching totals: %w", err)
	}

	c.logger.Debug("cached period totals", "group_id", groupID, "period", period.Key(), "members", len(totals))
	return nil
}
