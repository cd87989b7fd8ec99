package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/loceal-orders/internal/orders"
)

// StatusCache holds the last known status per order, written by the API after
// each transition and by the projector from the event stream.
type StatusCache struct {
	rdb redis.UniversalClient
}

func NewStatusCache(rdb redis.UniversalClient) *StatusCache { return &StatusCache{rdb: rdb} }

var _ orders.StatusCache = (*StatusCache)(nil)

// Set stores st unless a newer snapshot is already cached. The compare and
// the write run under WATCH so a concurrent writer cannot slip between them.
func (c *StatusCache) Set(ctx context.Context, st orders.StatusSnapshot) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	key := fmt.Sprintf(KeyOrderStatus, st.OrderID)
	write := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var cur orders.StatusSnapshot
			// an undecodable entry is overwritten
			if json.Unmarshal(raw, &cur) == nil && cur.UpdatedAt.After(st.UpdatedAt) {
				return nil
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, TTLStatusCache)
			return nil
		})
		return err
	}
	for attempt := 0; attempt < setAttempts; attempt++ {
		err = c.rdb.Watch(ctx, write, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("status cache set %s: %w", st.OrderID, err)
}

const setAttempts = 5

func (c *StatusCache) Get(ctx context.Context, orderID string) (orders.StatusSnapshot, bool, error) {
	var st orders.StatusSnapshot
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(b, &st); err != nil {
		_ = c.Invalidate(ctx, orderID)
		return orders.StatusSnapshot{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return st, true, nil
}

// Invalidate drops the cached entry; the next read goes to the store.
func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.rdb.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}
