// Package querycache publishes invalidations of cached forum query results,
// grouped by resource category so whole groups can be refetched at once.
package querycache

import (
	"slices"
	"sync"
)

type Category string

const (
	Messages  Category = "messages"
	Users     Category = "users"
	Bookmarks Category = "bookmarks"
)

type ChangeKind int

const (
	Invalidated ChangeKind = iota
	Reset
)

// Change describes one invalidation or reset. Categories is empty for a
// reset.
type Change struct {
	Kind       ChangeKind
	Categories []Category
}

// Cache is the invalidation side of the client query cache. Query results
// live with the subscribers that fetched them; the cache tells them which
// categories to refetch and when to drop everything.
type Cache struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(Change)
}

func New() *Cache {
	return &Cache{subscribers: map[int]func(Change){}}
}

// Invalidate tells subscribers which categories need refetching. Repeated
// categories are collapsed.
func (c *Cache) Invalidate(categories ...Category) {
	unique := make([]Category, 0, len(categories))
	for _, category := range categories {
		if !slices.Contains(unique, category) {
			unique = append(unique, category)
		}
	}
	if len(unique) == 0 {
		return
	}

	c.publish(Change{Kind: Invalidated, Categories: unique})
}

// ResetAll tells subscribers to drop everything they cached.
func (c *Cache) ResetAll() {
	c.publish(Change{Kind: Reset})
}

func (c *Cache) Subscribe(fn func(Change)) func() {
	if fn == nil {
		panic("querycache.Cache.Subscribe: callback must not be nil")
	}
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subscribers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Cache) publish(change Change) {
	c.mu.RLock()
	callbacks := make([]func(Change), 0, len(c.subscribers))
	for _, cb := range c.subscribers {
		callbacks = append(callbacks, cb)
	}
	c.mu.RUnlock()

	for _, cb := range callbacks {
		cb(change)
	}
}
