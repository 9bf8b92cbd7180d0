//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"officehub/internal/platform/config"
	redisclient "officehub/internal/platform/redis"
)

// RedisContainer is a Redis server plus a client built the way the service
// builds its own.
type RedisContainer struct {
	Container testcontainers.Container
	URL       string
	Client    *redisclient.Client
}

func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	url, err := container.ConnectionString(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get redis connection string: %v", err)
	}
	client, err := redisclient.New(ctx, config.RedisConfig{URL: url, PoolSize: 5})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to redis: %v", err)
	}

	// Shared through Manager; Ryuk removes the container when the binary exits.
	return &RedisContainer{Container: container, URL: url, Client: client}
}

// FlushAll removes all keys between tests.
func (r *RedisContainer) FlushAll(ctx context.Context) error {
	return r.Client.FlushAll(ctx).Err()
}
