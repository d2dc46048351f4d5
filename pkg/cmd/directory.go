package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/handoff/pkg/directory"
)

// NewDirectory loads the roster file and, when redisURL is set, puts a Redis cache in front of
// it. The returned close func releases the Redis client.
func NewDirectory(ctx context.Context, logger *slog.Logger, rosterFile, redisURL string) (directory.Directory, func() error, error) {
	static, err := directory.LoadStatic(rosterFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load roster: %w", err)
	}

	if redisURL == "" {
		return static, func() error { return nil }, nil
	}

	client, err := directory.NewRedisClient(ctx, redisURL)
	if err != nil {
		return nil, nil, err
	}

	logger.InfoContext(ctx, "Caching directory lookups in Redis", "ttl", directory.DefaultCacheTTL)

	return directory.NewCachedDirectory(static, client, directory.DefaultCacheTTL, logger), client.Close, nil
}
