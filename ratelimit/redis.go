package ratelimit

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// INCR 和 PEXPIRE 在同一个脚本里执行，保证窗口计数原子性
var fixedWindowScript = goredis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Redis is a fixed-window limiter shared by every server replica.
type Redis struct {
	rdb    goredis.Scripter
	quota  int
	window time.Duration
	prefix string
	log    *zap.Logger
}

func NewRedis(rdb goredis.Scripter, quota int, window time.Duration, log *zap.Logger) *Redis {
	return &Redis{
		rdb:    rdb,
		quota:  quota,
		window: window,
		prefix: "linguachat:ratelimit:",
		log:    log.With(zap.String("component", "ratelimit")),
	}
}

// Allow fails open when Redis is unreachable.
func (r *Redis) Allow(ctx context.Context, key string) bool {
	n, err := fixedWindowScript.Run(ctx, r.rdb, []string{r.prefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		r.log.Warn("rate limit check failed, allowing request", zap.String("key", key), zap.Error(err))
		return true
	}
	return n <= int64(r.quota)
}
