package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"heirloom/internal/domain"
	"heirloom/internal/logging"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

type Redis struct {
	client RedisClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	logger logging.Logger
}

func NewRedis(client RedisClient, ttl time.Duration, logger logging.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Redis{client: client, prefix: "heirloom:lock:", ttl: ttl, retry: 25 * time.Millisecond, logger: logger}, nil
}

// Lock polls SET NX PX until it wins or ctx ends. The TTL bounds how long a crashed holder
// can block others; it must exceed the longest transaction.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	tokenBytes := make([]byte, 16)
	if _, err := rand.Read(tokenBytes); err != nil {
		return nil, err
	}
	token := hex.EncodeToString(tokenBytes)
	full := r.prefix + key

	wait := r.retry
	for {
		ok, err := r.client.SetNX(ctx, full, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %s is busy: %w", domain.ErrConflict, key, ctx.Err())
		case <-time.After(wait):
		}
		if wait < 400*time.Millisecond {
			wait *= 2
		}
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, r.client, []string{full}, token).Err(); err != nil {
			r.logger.Warn(releaseCtx, "release lock failed", "key", key, "err", err)
		}
	}, nil
}
