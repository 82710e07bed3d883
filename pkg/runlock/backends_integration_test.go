//go:build integration

package runlock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-etl/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-etl/pkg/testhelpers"
)

func TestPostgresBackend_RefusesOtherProcess(t *testing.T) {
	testDB := testhelpers.GetTestDB(t)
	ctx := context.Background()
	id := uuid.New()

	// two pools stand in for two processes
	otherPool, err := pgxpool.New(ctx, testDB.ConnStr)
	require.NoError(t, err)
	defer otherPool.Close()

	mine := New(NewPostgresBackend(testDB.Pool, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	theirs := New(NewPostgresBackend(otherPool, zaptest.NewLogger(t)), zaptest.NewLogger(t))

	release, err := mine.Lock(ctx, id)
	require.NoError(t, err)

	_, err = theirs.Lock(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	release()

	release, err = theirs.Lock(ctx, id)
	require.NoError(t, err)
	release()
}

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestRedisBackend_LockLifecycle(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	id := uuid.New()

	mine := New(NewRedisBackend(client, time.Minute, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	theirs := New(NewRedisBackend(client, time.Minute, zaptest.NewLogger(t)), zaptest.NewLogger(t))

	release, err := mine.Lock(ctx, id)
	require.NoError(t, err)

	ttl, err := client.TTL(ctx, KeyPrefix+id.String()).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	_, err = theirs.Lock(ctx, id)
	assert.ErrorIs(t, err, apperrors.ErrRunInProgress)

	release()

	n, err := client.Exists(ctx, KeyPrefix+id.String()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisBackend_ReleaseKeepsForeignLock(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	id := uuid.New()
	key := KeyPrefix + id.String()

	backend := NewRedisBackend(client, time.Minute, zaptest.NewLogger(t))
	release, acquired, err := backend.TryAcquire(ctx, id)
	require.NoError(t, err)
	require.True(t, acquired)

	// simulate expiry and takeover by another process
	require.NoError(t, client.Set(ctx, key, "someone-else", time.Minute).Err())
	release()

	val, err := client.Get(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, "someone-else", val)
}
