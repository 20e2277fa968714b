package stepgraph

import "sync"

// refNameCache memoizes goal-text -> reference-image-name syntheses for the
// lifetime of one Graph, so retries of the same step never re-derive the
// same name through the model.
type refNameCache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]string
	order   []string
}

func newRefNameCache(capacity int) *refNameCache {
	if capacity <= 0 {
		capacity = 64
	}
	return &refNameCache{cap: capacity, entries: make(map[string]string)}
}

func (c *refNameCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *refNameCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		c.entries[key] = value
		return
	}
	if len(c.order) >= c.cap {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = value
	c.order = append(c.order, key)
}
