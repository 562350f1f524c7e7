package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/step-groups/internal/domain"
)

// ProfileSource is the authoritative profile lookup behind the cache.
type ProfileSource interface {
	GetByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error)
}

// CachedProfiles serves display profiles from Redis hashes and falls back to
// the source for misses in a single batch.
type CachedProfiles struct {
	client redis.Cmdable
	source ProfileSource
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedProfiles wraps source with a Redis read-through cache
func NewCachedProfiles(client redis.Cmdable, source ProfileSource, ttl time.Duration, logger *slog.Logger) *CachedProfiles {
	return &CachedProfiles{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

// profileKey returns the Redis key for a user's cached profile
func (c *CachedProfiles) profileKey(userID string) string {
	return fmt.Sprintf("profile:%s:info", userID)
}

// GetByIDs returns profiles for userIDs. A Redis failure degrades to the
// source; a source failure is returned.
func (c *CachedProfiles) GetByIDs(ctx context.Context, userIDs []string) ([]domain.Profile, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	found, missing, err := c.lookup(ctx, userIDs)
	if err != nil {
		c.logger.Warn("profile cache unavailable", "error", err)
		return c.source.GetByIDs(ctx, userIDs)
	}
	if len(missing) == 0 {
		return found, nil
	}

	fetched, err := c.source.GetByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	if err := c.store(ctx, fetched); err != nil {
		c.logger.Warn("failed to cache profiles", "count", len(fetched), "error", err)
	}
	return append(found, fetched...), nil
}

func (c *CachedProfiles) lookup(ctx context.Context, userIDs []string) ([]domain.Profile, []string, error) {
	pipe := c.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(userIDs))
	for i, id := range userIDs {
		cmds[i] = pipe.HGetAll(ctx, c.profileKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, nil, fmt.Errorf("reading cached profiles: %w", err)
	}

	found := make([]domain.Profile, 0, len(userIDs))
	var missing []string
	for i, cmd := range cmds {
		fields := cmd.Val()
		name, ok := fields["display_name"]
		if !ok {
			missing = append(missing, userIDs[i])
			continue
		}
		p := domain.Profile{UserID: userIDs[i], DisplayName: name}
		if avatar := fields["avatar_url"]; avatar != "" {
			p.AvatarURL = &avatar
		}
		found = append(found, p)
	}
	return found, missing, nil
}

func (c *CachedProfiles) store(ctx context.Context, profiles []domain.Profile) error {
	if len(profiles) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, p := range profiles {
		key := c.profileKey(p.UserID)
		avatar := ""
		if p.AvatarURL != nil {
			avatar = *p.AvatarURL
		}
		pipe.HSet(ctx, key, "display_name", p.DisplayName, "avatar_url", avatar)
		pipe.Expire(ctx, key, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("caching profiles: %w", err)
	}
	return nil
}
