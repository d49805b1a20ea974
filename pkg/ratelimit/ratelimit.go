// Package ratelimit caps requests per identity per minute. This sits in
// front of the spend quota as an optional volume guard; it is only active
// when a Redis address is configured.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, requestsPerMinute int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(requestsPerMinute)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

// Allow consumes one request slot for the identity.
func (l *Limiter) Allow(ctx context.Context, email string) (bool, error) {
	key := fmt.Sprintf("ratelimit:identity:%s", email)
	res, err := l.store.AllowN(ctx, key, 1)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

// Status reports the identity's remaining budget without consuming a slot.
func (l *Limiter) Status(ctx context.Context, email string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:identity:%s", email)
	return l.store.Status(ctx, key)
}
