package redisx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/loceal-orders/internal/logx"
	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// IdemCache is the Redis fast path for order-create idempotency keys. The
// database unique index stays the source of truth, so errors only cost a
// round trip to the store.
type IdemCache struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

func NewIdemCache(rdb redis.UniversalClient) *IdemCache {
	return &IdemCache{rdb: rdb, log: logx.New("idempotency")}
}

var _ orders.IdempotencyCache = (*IdemCache)(nil)

func (c *IdemCache) Lookup(ctx context.Context, buyerID, key string) (string, bool) {
	id, err := c.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.log.Warn("idempotency lookup failed", "buyer_id", buyerID, "error", err.Error())
		return "", false
	}
	return id, id != ""
}

func (c *IdemCache) Remember(ctx context.Context, buyerID, key, orderID string) {
	err := c.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderCreate, buyerID, key), orderID, TTLIdempotency).Err()
	if err != nil {
		c.log.Warn("idempotency remember failed", "buyer_id", buyerID, "order_id", orderID, "error", err.Error())
	}
}
