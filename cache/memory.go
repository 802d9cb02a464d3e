package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	data    []byte
	expires time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && e.expires.Before(now)
}

// Memory is an in-process TTL map used as the fallback tier when Redis is
// unavailable. Expired entries are removed lazily on read and by a janitor
// goroutine.
type Memory struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cache     map[string]*entry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

// NewMemory starts a Memory tier. Close stops its janitor.
func NewMemory(parent context.Context, opts ...Option) *Memory {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &Memory{
		ctx:    ctx,
		cancel: cancel,
		cache:  make(map[string]*entry),
		cfg:    cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

// Get returns the value under key.
func (c *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	val, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	if val.expired(time.Now()) {
		delete(c.cache, key)
		return nil, false
	}
	return val.data, true
}

// Set stores value. A ttl <= 0 uses the configured default TTL.
func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.defaultTTL
	}
	expires := time.Now().Add(ttl)
	c.mutex.Lock()
	if v, ok := c.cache[key]; ok {
		v.expires = expires
		v.data = value
	} else {
		c.cache[key] = &entry{value, expires}
	}
	c.mutex.Unlock()
}

// Del removes keys and reports how many were present.
func (c *Memory) Del(_ context.Context, keys ...string) int {
	var n int
	c.mutex.Lock()
	for _, key := range keys {
		if _, ok := c.cache[key]; ok {
			delete(c.cache, key)
			n++
		}
	}
	c.mutex.Unlock()
	return n
}

// Len returns the number of entries, including expired ones not yet swept.
func (c *Memory) Len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return len(c.cache)
}

// Close stops the janitor.
func (c *Memory) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *Memory) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, val := range c.cache {
				if val.expired(now) {
					delete(c.cache, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
