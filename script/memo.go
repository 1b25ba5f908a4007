package script

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// MemoCache caches evaluated Values by structural hash (script/hash.go),
// collapsing concurrent requests for the same key into a single
// computation via singleflight. Expressions flagged stateful or
// non-concurrent by dependency analysis must never be memoized (spec.md
// §9: their result is a function of execution order, not just their
// inputs), so callers are expected to check that before calling
// GetOrCompute.
type MemoCache struct {
	group singleflight.Group
	mu    sync.RWMutex
	store map[uint64]Value
}

// NewMemoCache returns an empty cache.
func NewMemoCache() *MemoCache {
	return &MemoCache{store: map[uint64]Value{}}
}

// Get returns the cached value for key if present, without triggering a
// computation.
func (c *MemoCache) Get(key uint64) (Value, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.store[key]
	return v, ok
}

// GetOrCompute returns the cached value for key, computing it via compute
// exactly once even if GetOrCompute is called concurrently with the same
// key from multiple goroutines.
func (c *MemoCache) GetOrCompute(key uint64, compute func() (Value, error)) (Value, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	keyStr := uint64KeyString(key)
	v, err, _ := c.group.Do(keyStr, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, err := compute()
		if err != nil {
			return Value{}, err
		}
		c.mu.Lock()
		c.store[key] = val
		c.mu.Unlock()
		return val, nil
	})
	if err != nil {
		return Value{}, err
	}
	return v.(Value), nil
}

func uint64KeyString(k uint64) string {
	const hexDigits = "0123456789abcdef"
	var buf [16]byte
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[k&0xf]
		k >>= 4
	}
	return string(buf[:])
}
