// Package idempotency remembers the result of a keyed operation so that a
// repeated request can be answered without repeating its side effects.
// Entries are bounded in lifetime and are not a substitute for uniqueness
// constraints in storage.
package idempotency

import (
	"context"
	"time"
)

// Store maps an opaque key to a previously computed result. Save is
// last-write-wins.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, val []byte) error
}

const (
	DefaultTTL  = 24 * time.Hour
	DefaultSize = 10_000
)
