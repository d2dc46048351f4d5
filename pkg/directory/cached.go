package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	DefaultCacheTTL = 5 * time.Minute
	keyPrefix       = "handoff:directory:"
)

// CachedDirectory caches lookups of another Directory in Redis. Cache failures are logged and the
// lookup falls through to the wrapped directory.
type CachedDirectory struct {
	next   Directory
	client redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewCachedDirectory(next Directory, client redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	return &CachedDirectory{next: next, client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects to the Redis server at redisURL (redis://host:port/db).
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}

func cacheKey(parts ...string) string {
	return keyPrefix + strings.Join(parts, ":")
}

// cached returns the cached value for key or stores the result of load.
func cached[T any](ctx context.Context, c *CachedDirectory, key string, load func() (T, error)) (T, error) {
	var value T

	raw, err := c.client.Get(ctx, key).Bytes()

	switch {
	case err == nil:
		if jsonErr := json.Unmarshal(raw, &value); jsonErr == nil {
			return value, nil
		}

		c.logger.WarnContext(ctx, "Discarding undecodable directory cache entry", "key", key)
	case !errors.Is(err, redis.Nil):
		c.logger.ErrorContext(ctx, "Directory cache read failed", "key", key, "error", err)
	}

	value, err = load()
	if err != nil {
		return value, err
	}

	data, err := json.Marshal(value)
	if err != nil {
		return value, nil
	}

	err = c.client.Set(ctx, key, data, c.ttl).Err()
	if err != nil {
		c.logger.ErrorContext(ctx, "Directory cache write failed", "key", key, "error", err)
	}

	return value, nil
}

func (c *CachedDirectory) IsSuperadmin(ctx context.Context, userID string) (bool, error) {
	return cached(ctx, c, cacheKey("superadmin", userID), func() (bool, error) {
		return c.next.IsSuperadmin(ctx, userID)
	})
}

func (c *CachedDirectory) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	return cached(ctx, c, cacheKey("role", userID, roleID), func() (bool, error) {
		return c.next.UserHasRole(ctx, userID, roleID)
	})
}

func (c *CachedDirectory) UserHasDepartmentRole(ctx context.Context, userID, departmentID string) (bool, error) {
	return cached(ctx, c, cacheKey("department", userID, departmentID), func() (bool, error) {
		return c.next.UserHasDepartmentRole(ctx, userID, departmentID)
	})
}

func (c *CachedDirectory) UserProjectAssignments(ctx context.Context, userID string) ([]string, error) {
	return cached(ctx, c, cacheKey("projects", userID), func() ([]string, error) {
		return c.next.UserProjectAssignments(ctx, userID)
	})
}

func (c *CachedDirectory) ProjectMembersWithRole(ctx context.Context, projectID, roleID string) ([]string, error) {
	return cached(ctx, c, cacheKey("members", projectID, roleID), func() ([]string, error) {
		return c.next.ProjectMembersWithRole(ctx, projectID, roleID)
	})
}

// Flush drops every cached lookup.
func (c *CachedDirectory) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan directory cache: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to flush directory cache: %w", err)
	}

	return nil
}
