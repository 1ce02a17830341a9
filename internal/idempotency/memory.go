package idempotency

import (
	"context"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"time"
)

// Memory is an in-process store bounded both by entry count and by age.
type Memory struct {
	lru *expirable.LRU[string, []byte]
}

func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{lru: expirable.NewLRU[string, []byte](size, nil, ttl)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *Memory) Save(ctx context.Context, key string, val []byte) error {
	m.lru.Add(key, append([]byte(nil), val...))
	return nil
}

func (m *Memory) Len() int { return m.lru.Len() }
