//go:build integration

package directory_test

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/handoff/pkg/directory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type countingDirectory struct {
	directory.Directory

	calls atomic.Int32
}

func (c *countingDirectory) UserHasRole(ctx context.Context, userID, roleID string) (bool, error) {
	c.calls.Add(1)

	return c.Directory.UserHasRole(ctx, userID, roleID)
}

func (c *countingDirectory) ProjectMembersWithRole(ctx context.Context, projectID, roleID string) ([]string, error) {
	c.calls.Add(1)

	return c.Directory.ProjectMembersWithRole(ctx, projectID, roleID)
}

func setupRedis(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestCachedDirectory(t *testing.T) {
	ctx := t.Context()

	client, err := directory.NewRedisClient(ctx, setupRedis(t))
	require.NoError(t, err)

	defer func() { _ = client.Close() }()

	counting := &countingDirectory{Directory: newRoster(t)}
	cache := directory.NewCachedDirectory(counting, client, time.Minute, slog.New(slog.DiscardHandler))

	for range 3 {
		hasRole, err := cache.UserHasRole(ctx, "dana", "designer")
		require.NoError(t, err)
		assert.True(t, hasRole)
	}

	assert.Equal(t, int32(1), counting.calls.Load())

	for range 2 {
		members, err := cache.ProjectMembersWithRole(ctx, "p1", "designer")
		require.NoError(t, err)
		assert.Equal(t, []string{"dana"}, members)
	}

	assert.Equal(t, int32(2), counting.calls.Load())

	require.NoError(t, cache.Flush(ctx))

	_, err = cache.UserHasRole(ctx, "dana", "designer")
	require.NoError(t, err)
	assert.Equal(t, int32(3), counting.calls.Load())
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := directory.NewRedisClient(t.Context(), "not a url")
	require.Error(t, err)
}
