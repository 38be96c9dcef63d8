package client

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
)

// ErrCacheClosed is returned by GetOrCreate after Close.
var ErrCacheClosed = errors.New("client: proxy cache closed")

type cacheEntry[P any] struct {
	once  sync.Once
	built bool
	proxy P
	err   error
}

// ProxyCache holds one proxy per (options name, contract name) pair.
// Concurrent callers for the same key share a single construction.
type ProxyCache[P any] struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry[P]
	order   []string
	closed  bool
}

// NewProxyCache creates an empty ProxyCache.
func NewProxyCache[P any]() *ProxyCache[P] {
	return &ProxyCache[P]{entries: make(map[string]*cacheEntry[P])}
}

func cacheKey(optionsName, contractName string) string {
	return optionsName + "_" + contractName
}

// GetOrCreate returns the proxy cached for the key, calling create at most
// once to build it. A failed construction is returned to every caller that
// waited on it and is not cached.
func (c *ProxyCache[P]) GetOrCreate(optionsName, contractName string, create func() (P, error)) (P, error) {
	key := cacheKey(optionsName, contractName)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		var zero P
		return zero, ErrCacheClosed
	}
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry[P]{}
		c.entries[key] = e
		c.order = append(c.order, key)
	}
	c.mu.Unlock()

	e.once.Do(func() {
		e.proxy, e.err = create()
		e.built = true
	})
	if !e.built {
		var zero P
		return zero, ErrCacheClosed
	}
	if e.err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
			c.order = slices.DeleteFunc(c.order, func(k string) bool { return k == key })
		}
		c.mu.Unlock()
		var zero P
		return zero, fmt.Errorf("client:cache - create %s: %w", key, e.err)
	}
	return e.proxy, nil
}

// Len returns the number of cached proxies.
func (c *ProxyCache[P]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close closes every cached proxy that implements io.Closer, in creation
// order. Closing twice is a no-op.
func (c *ProxyCache[P]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var entries []*cacheEntry[P]
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok {
			entries = append(entries, e)
		}
	}
	c.entries = make(map[string]*cacheEntry[P])
	c.order = nil
	c.mu.Unlock()

	var errs []error
	for _, e := range entries {
		e.once.Do(func() {})
		if !e.built || e.err != nil {
			continue
		}
		if cl, ok := any(e.proxy).(io.Closer); ok {
			if err := cl.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
