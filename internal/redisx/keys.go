package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent replay: idem:{scope}:{key} -> serialized result
	KeyIdempotency = "idem:%s:%s"

	// Cache status order: order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{service}:{id} (id = event_id atau order_id:phase)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)

func IdempotencyKey(scope, key string) string { return fmt.Sprintf(KeyIdempotency, scope, key) }
func OrderStatusKey(orderID string) string     { return fmt.Sprintf(KeyOrderStatus, orderID) }
func DedupKey(service, id string) string       { return fmt.Sprintf(KeyDedup, service, id) }
