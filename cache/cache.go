// Package cache memoizes read-query results per table, keyed by exact
// query text plus bound arguments, with precise primary-key invalidation
// through a reverse index. The cache is a pure optimization: a cold cache
// always yields results identical to querying the live data.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/larder-db/larder/metrics"
	"github.com/larder-db/larder/value"
)

// DefaultCapacity is the per-table entry limit when none is configured.
const DefaultCapacity = 512

// Key identifies one cached result: the query text and the canonical
// encoding of its bound arguments.
type Key struct {
	id string
}

// NewKey builds a Key for a query and its argument sequence. Arguments are
// normalized, so 1 and int64(1) produce the same key.
func NewKey(query string, args ...any) (Key, error) {
	enc, err := value.EncodeArgs(args)
	if err != nil {
		return Key{}, err
	}
	return Key{id: query + "\x00" + enc}, nil
}

type tableCache struct {
	// epoch counts invalidations. A write-back carrying an older epoch
	// raced an invalidation and is discarded rather than cached stale.
	epoch   uint64
	entries *lru.Cache[string, any]
	// byPK maps an encoded primary-key tuple to the cache keys whose
	// results contain that row.
	byPK map[string]map[string]struct{}
	// keyPKs is the inverse, for cleaning byPK when an entry leaves.
	keyPKs map[string][]string
}

// Cache is the table-scoped result cache. All state, including the
// reverse index, is mutated only under the cache's own lock; the change
// reporter never touches it directly.
type Cache struct {
	log      *zap.Logger
	capacity int

	mu     sync.Mutex
	tables map[string]*tableCache
}

// New returns an empty cache holding up to capacity entries per table.
func New(capacity int, log *zap.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Cache{
		log:      log,
		capacity: capacity,
		tables:   make(map[string]*tableCache),
	}
}

func (c *Cache) tableLocked(table string) *tableCache {
	tc, ok := c.tables[table]
	if !ok {
		tc = &tableCache{
			byPK:   make(map[string]map[string]struct{}),
			keyPKs: make(map[string][]string),
		}
		// The eviction callback runs inside Add/Remove while c.mu is
		// held, so it may touch the index maps directly.
		entries, err := lru.NewWithEvict[string, any](c.capacity, func(key string, _ any) {
			metrics.CacheEvictionsTotal.Inc()
			tc.dropKeyIndex(key)
		})
		if err != nil {
			panic(err) // only fails for capacity < 1
		}
		tc.entries = entries
		c.tables[table] = tc
	}
	return tc
}

func (tc *tableCache) dropKeyIndex(key string) {
	for _, enc := range tc.keyPKs[key] {
		if set, ok := tc.byPK[enc]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(tc.byPK, enc)
			}
		}
	}
	delete(tc.keyPKs, key)
}

// Epoch returns the table's current invalidation epoch. Capture it before
// running the query whose result will be written back; Write discards the
// entry if an invalidation advanced the epoch in between, since the result
// may predate the write that caused the invalidation.
func (c *Cache) Epoch(table string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tableLocked(table).epoch
}

// Read returns the cached result for (table, key), if present.
func (c *Cache) Read(table string, key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.tables[table]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return nil, false
	}
	v, ok := tc.entries.Get(key.id)
	if ok {
		metrics.CacheHitsTotal.Inc()
	} else {
		metrics.CacheMissesTotal.Inc()
	}
	return v, ok
}

// Write stores a result under (table, key). pks lists the primary-key
// tuples of the rows the result contains; writes to any of those rows
// evict exactly this entry. A result with no known pks is only evicted by
// whole-table invalidation. epoch is the value Epoch returned before the
// result was computed; a stale epoch means an invalidation won the race
// and the entry is dropped.
func (c *Cache) Write(table string, key Key, result any, pks [][]value.Value, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc := c.tableLocked(table)
	if tc.epoch != epoch {
		return
	}

	// Replace any previous index entries for this key before re-adding.
	tc.dropKeyIndex(key.id)
	tc.entries.Add(key.id, result)

	if len(pks) == 0 {
		return
	}
	encs := make([]string, 0, len(pks))
	for _, pk := range pks {
		enc := value.EncodeKey(pk)
		encs = append(encs, enc)
		set, ok := tc.byPK[enc]
		if !ok {
			set = make(map[string]struct{})
			tc.byPK[enc] = set
		}
		set[key.id] = struct{}{}
	}
	tc.keyPKs[key.id] = encs
}

// Invalidate evicts cache entries for table. With a primary-key tuple it
// evicts only entries indexed under that key; with nil it evicts every
// entry for the table.
func (c *Cache) Invalidate(table string, pk []value.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.tables[table]
	if !ok {
		return
	}
	tc.epoch++
	if pk == nil {
		tc.entries.Purge()
		return
	}
	enc := value.EncodeKey(pk)
	set, ok := tc.byPK[enc]
	if !ok {
		return
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	for _, key := range keys {
		tc.entries.Remove(key) // eviction callback cleans the index
	}
}

// InvalidateAll evicts everything: used on schema changes, external
// writers, and transaction rollback.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tc := range c.tables {
		tc.epoch++
		tc.entries.Purge()
	}
	c.log.Debug("cache fully invalidated")
}

// Len returns the number of live entries for table.
func (c *Cache) Len(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.tables[table]
	if !ok {
		return 0
	}
	return tc.entries.Len()
}
