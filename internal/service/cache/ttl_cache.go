package cache

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type item struct {
	b   []byte
	exp time.Time // zero never expires
}

// TTLCache is an in-process BytesCache. Expired entries are dropped lazily
// on read. A purge invalidates fills that started before it.
type TTLCache struct {
	mu    sync.Mutex
	items map[string]item
	gen   uint64
	group singleflight.Group
	now   func() time.Time
}

func NewTTLCache() *TTLCache {
	return &TTLCache{items: make(map[string]item), now: time.Now}
}

func (c *TTLCache) GetBytes(key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.exp.IsZero() && c.now().After(it.exp) {
		delete(c.items, key)
		return nil, false, nil
	}
	return it.b, true, nil
}

func (c *TTLCache) SetBytes(key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	c.setLocked(key, value, ttl)
	c.mu.Unlock()
	return nil
}

func (c *TTLCache) setLocked(key string, value []byte, ttl time.Duration) {
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.items[key] = item{b: value, exp: exp}
}

func (c *TTLCache) Load(key string, ttl time.Duration, fill func() ([]byte, error)) ([]byte, error) {
	if b, ok, _ := c.GetBytes(key); ok {
		return b, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		c.mu.Lock()
		gen := c.gen
		c.mu.Unlock()

		b, err := fill()
		if err != nil {
			return nil, err
		}
		if ttl > 0 {
			c.mu.Lock()
			if gen == c.gen {
				c.setLocked(key, b, ttl)
			}
			c.mu.Unlock()
		}
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// Purge drops every key with the given prefix and returns how many went.
func (c *TTLCache) Purge(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	n := 0
	for k := range c.items {
		if strings.HasPrefix(k, prefix) {
			delete(c.items, k)
			n++
		}
	}
	return n
}
