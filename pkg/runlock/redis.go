package runlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// KeyPrefix namespaces run lock keys in Redis.
const KeyPrefix = "ekaya-etl:run:"

// releaseScript deletes the key only while it still holds our token, so an
// expired lock taken over by another process is never removed.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisBackend uses SET NX with a TTL. The TTL bounds how long a crashed
// process can block a mapping.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisBackend creates a Redis lock backend.
func NewRedisBackend(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl, logger: logger.Named("runlock.redis")}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) TryAcquire(ctx context.Context, key uuid.UUID) (func(), bool, error) {
	redisKey := KeyPrefix + key.String()
	token := uuid.NewString()

	acquired, err := b.client.SetNX(ctx, redisKey, token, b.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis SETNX: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}

	release := func() {
		ctx := context.WithoutCancel(ctx)
		if err := releaseScript.Run(ctx, b.client, []string{redisKey}, token).Err(); err != nil {
			b.logger.Warn("Failed to release run lock",
				zap.String("key", redisKey),
				zap.Error(err),
			)
		}
	}
	return release, true, nil
}
