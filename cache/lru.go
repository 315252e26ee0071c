package cache

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultLRUSize bounds the in-process cache when no size is configured.
const DefaultLRUSize = 50_000

// LRU is a bounded in-process cache. Entries are shared by pointer, callers
// must treat them as read-only.
type LRU struct {
	entries *lru.Cache[Key, Entry]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = DefaultLRUSize
	}
	c, err := lru.New[Key, Entry](size)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &LRU{entries: c}, nil
}

func (c *LRU) Get(_ context.Context, key Key) (Entry, bool, error) {
	e, ok := c.entries.Get(key)
	return e, ok, nil
}

func (c *LRU) Set(_ context.Context, key Key, entry Entry) error {
	c.entries.Add(key, entry)
	return nil
}

func (c *LRU) Name() string { return "lru" }

// Len reports the number of cached entries.
func (c *LRU) Len() int { return c.entries.Len() }

// Purge drops every entry.
func (c *LRU) Purge() { c.entries.Purge() }

var _ Cache = (*LRU)(nil)
