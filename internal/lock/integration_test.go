//go:build integration

package lock

import (
	"context"
	"testing"
	"time"

	"ms-ticketing-engine/internal/logger"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestRedisIntegration runs the lock against a real Redis container.
func TestRedisIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis integration test in short mode")
	}

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
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	defer client.Close()
	r := NewRedis(client, logger.NewDiscard())

	key := PaymentURLKey("integration-order")
	ok, err := r.Acquire(ctx, key, "token-a", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Acquire(ctx, key, "token-b", 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Release(ctx, key, "token-a"))
	ok, err = r.Acquire(ctx, key, "token-b", 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
}
