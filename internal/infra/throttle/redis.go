package throttle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"heirloom/internal/domain"

	"github.com/redis/go-redis/v9"
)

// chargeScript bumps a window counter and pins its expiry to the window end on first use.
var chargeScript = redis.NewScript(`
local used = redis.call("INCR", KEYS[1])
if used == 1 then
  redis.call("PEXPIREAT", KEYS[1], ARGV[1])
end
return used
`)

type Redis struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedis(client redis.Scripter, now func() time.Time) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, now: now}, nil
}

// redisKey groups one subject's counters under a hash tag so they share a cluster slot.
func redisKey(key domain.ThrottleKey, start time.Time) string {
	return fmt.Sprintf("heirloom:throttle:{%s}:%s:%s:%d", key.Subject, key.Action, key.Caller, start.Unix())
}

func (r *Redis) Charge(ctx context.Context, key domain.ThrottleKey, q domain.Quota) (domain.ThrottleVerdict, error) {
	if q.Limit <= 0 {
		return domain.ThrottleVerdict{Allowed: true}, nil
	}
	now := r.now()
	start, end := q.Span(now)
	used, err := chargeScript.Run(ctx, r.client, []string{redisKey(key, start)}, end.UnixMilli()).Int()
	if err != nil {
		return domain.ThrottleVerdict{}, fmt.Errorf("charge %s on %s: %w", key.Action, key.Subject, err)
	}
	return q.Verdict(used, now, end), nil
}
