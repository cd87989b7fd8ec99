package redisx

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Dedup struct {
	rdb     redis.UniversalClient
	service string
}

func NewDedup(rdb redis.UniversalClient, service string) *Dedup {
	return &Dedup{rdb: rdb, service: service}
}

// First reports whether id is being seen for the first time by this service.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, d.service, id), 1, TTLDedup).Result()
}

// Forget clears id so a failed handler can be retried on redelivery.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, fmt.Sprintf(KeyDedup, d.service, id)).Err()
}
