package unireq

import (
	"context"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// CacheEntry is a stored response snapshot plus its validators.
type CacheEntry struct {
	Key          string      `json:"key"`
	StatusCode   int         `json:"status_code"`
	Status       string      `json:"status,omitempty"`
	Header       http.Header `json:"header,omitempty"`
	Body         []byte      `json:"body,omitempty"`
	ETag         string      `json:"etag,omitempty"`
	LastModified string      `json:"last_modified,omitempty"`
	StoredAt     time.Time   `json:"stored_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
}

// NewCacheEntry snapshots resp under key, expiring ttl after now.
func NewCacheEntry(key string, resp *Response, now time.Time, ttl time.Duration) *CacheEntry {
	return &CacheEntry{
		Key:          key,
		StatusCode:   resp.StatusCode,
		Status:       resp.Status,
		Header:       resp.Header.Clone(),
		Body:         append([]byte(nil), resp.Body...),
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		StoredAt:     now,
		ExpiresAt:    now.Add(ttl),
	}
}

// Fresh reports whether the entry may be served without contacting the origin.
func (e *CacheEntry) Fresh(now time.Time) bool {
	return e != nil && now.Before(e.ExpiresAt)
}

// HasValidator reports whether the entry can be revalidated.
func (e *CacheEntry) HasValidator() bool {
	return e != nil && (e.ETag != "" || e.LastModified != "")
}

// Clone returns a deep copy.
func (e *CacheEntry) Clone() *CacheEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}

// Response synthesises a response for req from the entry.
func (e *CacheEntry) Response(req *Request) *Response {
	header := e.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	status := e.Status
	if status == "" {
		status = statusText(e.StatusCode)
	}
	return &Response{
		StatusCode: e.StatusCode,
		Status:     status,
		Header:     header,
		Body:       append([]byte(nil), e.Body...),
		Request:    req,
	}
}

// CacheStore persists cache entries. Stores keep entries until evicted or
// deleted; freshness is decided by the policies reading them. Errors are
// returned to the caller, never reported as misses.
type CacheStore interface {
	Get(ctx context.Context, key string) (*CacheEntry, bool, error)
	Set(ctx context.Context, key string, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
}

const (
	// DefaultShardCount is the MemoryStore shard count.
	DefaultShardCount = 16
	// DefaultMaxEntriesPerShard bounds each shard before LRU eviction.
	DefaultMaxEntriesPerShard = 1000
)

// MemoryStore is a sharded in-process CacheStore with per-shard LRU eviction.
// Entries are copied on the way in and out, so callers never share state.
type MemoryStore struct {
	shards []*memoryShard

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	evictions atomic.Int64
}

type memoryShard struct {
	mu         sync.Mutex
	store      map[string]*lruNode
	head, tail *lruNode
	maxSize    int
}

type lruNode struct {
	key        string
	entry      *CacheEntry
	prev, next *lruNode
}

// NewMemoryStore returns a store with default sizing.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithSize(DefaultShardCount, DefaultMaxEntriesPerShard)
}

// NewMemoryStoreWithSize creates a store with shardCount shards of at most
// maxPerShard entries each.
func NewMemoryStoreWithSize(shardCount, maxPerShard int) *MemoryStore {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	if maxPerShard <= 0 {
		maxPerShard = DefaultMaxEntriesPerShard
	}
	shards := make([]*memoryShard, shardCount)
	for i := range shards {
		shards[i] = &memoryShard{store: make(map[string]*lruNode), maxSize: maxPerShard}
	}
	return &MemoryStore{shards: shards}
}

func (s *MemoryStore) shard(key string) *memoryShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return s.shards[hash.Sum32()%uint32(len(s.shards))]
}

// Get implements CacheStore.
func (s *MemoryStore) Get(ctx context.Context, key string) (*CacheEntry, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	node := sh.store[key]
	if node == nil {
		s.misses.Add(1)
		return nil, false, nil
	}
	sh.unlink(node)
	sh.pushFront(node)
	s.hits.Add(1)
	return node.entry.Clone(), true, nil
}

// Set implements CacheStore.
func (s *MemoryStore) Set(ctx context.Context, key string, entry *CacheEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if existing := sh.store[key]; existing != nil {
		existing.entry = entry.Clone()
		sh.unlink(existing)
		sh.pushFront(existing)
		s.sets.Add(1)
		return nil
	}
	for len(sh.store) >= sh.maxSize && sh.tail != nil {
		evicted := sh.tail
		sh.unlink(evicted)
		delete(sh.store, evicted.key)
		s.evictions.Add(1)
	}
	node := &lruNode{key: key, entry: entry.Clone()}
	sh.store[key] = node
	sh.pushFront(node)
	s.sets.Add(1)
	return nil
}

// Delete implements CacheStore.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if node := sh.store[key]; node != nil {
		sh.unlink(node)
		delete(sh.store, key)
	}
	return nil
}

// Clear removes every entry and resets statistics.
func (s *MemoryStore) Clear() {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.store = make(map[string]*lruNode)
		sh.head, sh.tail = nil, nil
		sh.mu.Unlock()
	}
	s.hits.Store(0)
	s.misses.Store(0)
	s.sets.Store(0)
	s.evictions.Store(0)
}

// CacheStats summarises store activity.
type CacheStats struct {
	Size      int64
	Hits      int64
	Misses    int64
	Sets      int64
	Evictions int64
	HitRatio  float64
}

// Stats returns a snapshot of store statistics.
func (s *MemoryStore) Stats() CacheStats {
	var size int64
	for _, sh := range s.shards {
		sh.mu.Lock()
		size += int64(len(sh.store))
		sh.mu.Unlock()
	}
	stats := CacheStats{
		Size:      size,
		Hits:      s.hits.Load(),
		Misses:    s.misses.Load(),
		Sets:      s.sets.Load(),
		Evictions: s.evictions.Load(),
	}
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRatio = float64(stats.Hits) / float64(total)
	}
	return stats
}

func (sh *memoryShard) pushFront(n *lruNode) {
	n.prev = nil
	n.next = sh.head
	if sh.head != nil {
		sh.head.prev = n
	}
	sh.head = n
	if sh.tail == nil {
		sh.tail = n
	}
}

func (sh *memoryShard) unlink(n *lruNode) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		sh.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		sh.tail = n.prev
	}
	n.prev, n.next = nil, nil
}
