package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{buyer_id}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Pub/sub channel buat fan-out chat antar instance API
	ChannelChatEvents = "chat:events"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
