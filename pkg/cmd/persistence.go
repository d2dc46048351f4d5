package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukex/handoff/pkg/persistence"
	"github.com/dukex/handoff/pkg/persistence/file"
	"github.com/dukex/handoff/pkg/persistence/postgresql"
	"github.com/sethvargo/go-retry"
)

const (
	connectAttempts = 5
	connectBackoff  = 500 * time.Millisecond
)

// NewPersistence opens the store behind databaseURL. postgres:// and postgresql:// URLs open a
// PostgreSQL database, retrying while it comes up; file:// URLs and bare paths use the file store.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgresql":
		return connectPostgres(ctx, logger, databaseURL)
	default:
		root := strings.TrimPrefix(databaseURL, "file://")
		if root == "" {
			return nil, errors.New("database url is required")
		}

		logger.InfoContext(ctx, "Using file persistence", "root", root)

		return file.NewPersistence(root), nil
	}
}

func connectPostgres(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	var p *postgresql.Persistence

	backoff := retry.WithMaxRetries(connectAttempts, retry.NewExponential(connectBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error

		p, err = postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			logger.WarnContext(ctx, "PostgreSQL not ready, retrying", "error", err)

			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL persistence: %w", err)
	}

	return p, nil
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgresql"
	default:
		return "file"
	}
}
