package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/markdave123-py/Rehearsal/internal/core/logger"
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// Limiter counts events per key over a rolling window. A denied call is not
// counted.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

// Open returns a Redis limiter when redisURL is set and reachable, and an
// in-memory limiter otherwise. The returned close func is never nil.
func Open(ctx context.Context, redisURL string, log *logger.Logger) (Limiter, func() error) {
	if redisURL == "" {
		return NewInMemory(), func() error { return nil }
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		log.Warn("invalid REDIS_URL, falling back to in-memory limits", "error", err)
		return NewInMemory(), func() error { return nil }
	}
	opts.DialTimeout = 5 * time.Second
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		log.Warn("redis unavailable, falling back to in-memory limits", "error", err)
		return NewInMemory(), func() error { return nil }
	}

	log.Info("rate limits backed by redis", "addr", opts.Addr)
	return NewRedis(rdb), rdb.Close
}

func validate(limit int, window time.Duration) error {
	if limit <= 0 || window <= 0 {
		return fmt.Errorf("ratelimit: limit and window must be positive (got %d, %s)", limit, window)
	}
	return nil
}
