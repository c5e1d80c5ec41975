package cache

import (
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// DefaultIdempotencyTTL is how long a spawn result is replayed for a key
const DefaultIdempotencyTTL = 10 * time.Minute

// Idempotency remembers results by client supplied key
type Idempotency struct {
	c  *gocache.Cache
	mu sync.Mutex
}

// NewIdempotency creates an in-process cache with the given TTL
func NewIdempotency(ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return &Idempotency{c: gocache.New(ttl, 2*ttl)}
}

// Do returns the stored value for key, or runs fn and stores its result when
// it succeeds. Calls for the same key are serialized. An empty key always runs fn.
func (i *Idempotency) Do(key string, fn func() (any, error)) (value any, replayed bool, err error) {
	if key == "" {
		v, err := fn()
		return v, false, err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	if v, ok := i.c.Get(key); ok {
		return v, true, nil
	}
	v, err := fn()
	if err != nil {
		return nil, false, err
	}
	i.c.SetDefault(key, v)
	return v, false, nil
}
