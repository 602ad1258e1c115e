package whatsapp

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected client.
func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisLedger(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	client := setupRedis(t)
	ledger := NewRedisLedger(client, "test:sent:", time.Minute)
	ctx := context.Background()

	require.NoError(t, ledger.Ping(ctx))

	sent, err := ledger.WasSent(ctx, "job:1")
	require.NoError(t, err)
	assert.False(t, sent)

	require.NoError(t, ledger.MarkSent(ctx, "job:1", "wamid.1"))

	sent, err = ledger.WasSent(ctx, "job:1")
	require.NoError(t, err)
	assert.True(t, sent)

	stored, err := client.Get(ctx, "test:sent:job:1").Result()
	require.NoError(t, err)
	assert.Equal(t, "wamid.1", stored)

	ttl, err := client.TTL(ctx, "test:sent:job:1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)
}

func TestRedisLedger_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	ledger := NewRedisLedger(client, "", time.Minute)

	_, err := ledger.WasSent(context.Background(), "job:1")
	assert.Error(t, err)
	assert.Error(t, ledger.MarkSent(context.Background(), "job:1", ""))
}
