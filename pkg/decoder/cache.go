package decoder

import "sync"

// RelationCache is the process-wide mapping from relation id to RelationInfo.
// Safe for concurrent use: the decoder writes it from RELATION frames, converters
// read it to resolve column names and types. Entries live for the process
// lifetime; a later RELATION frame for the same id replaces the entry.
type RelationCache struct {
	mu   sync.RWMutex
	rels map[uint32]RelationInfo
}

// NewRelationCache returns an empty cache.
func NewRelationCache() *RelationCache {
	return &RelationCache{rels: make(map[uint32]RelationInfo)}
}

// Put inserts or replaces the cache entry for rel.RelationID.
func (c *RelationCache) Put(rel RelationInfo) {
	c.mu.Lock()
	c.rels[rel.RelationID] = rel
	c.mu.Unlock()
}

// Get looks up the RelationInfo for id.
func (c *RelationCache) Get(id uint32) (RelationInfo, bool) {
	c.mu.RLock()
	rel, ok := c.rels[id]
	c.mu.RUnlock()
	return rel, ok
}

// Len reports the number of cached relations. Mostly useful for tests and metrics.
func (c *RelationCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.rels)
}
