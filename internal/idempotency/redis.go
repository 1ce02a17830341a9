package idempotency

import (
	"context"
	"github.com/ariefcatur/go-checkout-saga/internal/redisx"
	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"time"
)

// Redis keeps entries under idem:{scope}:{key} with a fixed TTL, so one
// instance serves exactly one operation type.
type Redis struct {
	rdb   redis.Cmdable
	scope string
	ttl   time.Duration
}

func NewRedis(rdb redis.Cmdable, scope string, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = redisx.TTLIdempotency
	}
	return &Redis{rdb: rdb, scope: scope, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.rdb.Get(ctx, redisx.IdempotencyKey(r.scope, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "idempotency get")
	}
	return b, true, nil
}

func (r *Redis) Save(ctx context.Context, key string, val []byte) error {
	err := r.rdb.Set(ctx, redisx.IdempotencyKey(r.scope, key), val, r.ttl).Err()
	return errors.Wrap(err, "idempotency save")
}
