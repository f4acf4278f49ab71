package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a lock shared by every API process pointed at the same Redis.
// The TTL bounds how long a crashed holder can block a member.
type Redis struct {
	client redis.UniversalClient
	ttl    time.Duration
	retry  time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		retry:  25 * time.Millisecond,
		prefix: "gymledger:lock:",
		logger: logger.Named("lock"),
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	fullKey := r.prefix + key
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}

		timer := time.NewTimer(r.retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be cancelled; release regardless
			releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
				r.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}
