package cache

import (
	"container/list"
	"context"
	"encoding/hex"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/danutirta/tanyadata-backend/internal/platform/logger"
)

// QueryCache is the shared answer cache: capacity-bounded with LRU
// eviction and TTL expiry. All mutation happens under one mutex; no
// lock is held across I/O because entries are plain in-memory values.
type QueryCache struct {
	mu      sync.Mutex
	log     *logger.Logger
	entries map[string]*list.Element
	order   *list.List // front = most recently used

	maxEntries int
	ttl        time.Duration

	hits   uint64
	misses uint64

	now func() time.Time
}

type entry struct {
	key          string
	payload      any
	createdAt    time.Time
	lastAccessAt time.Time
}

type Stats struct {
	Entries uint64  `json:"entries"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func New(log *logger.Logger, maxEntries int, ttl time.Duration) *QueryCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if log != nil {
		log = log.With("component", "QueryCache")
	}
	return &QueryCache{
		log:        log,
		entries:    map[string]*list.Element{},
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Key derives the cache key from the query text and user id. Text is
// lowercased, trimmed and whitespace-collapsed first so formatting
// differences still hit. FNV-1a 128-bit keeps keys fixed-width and
// deterministic.
func Key(query, userID string) string {
	norm := strings.ToLower(strings.TrimSpace(query))
	norm = strings.Join(strings.Fields(norm), " ")
	h := fnv.New128a()
	_, _ = h.Write([]byte(norm))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *QueryCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := el.Value.(*entry)
	if c.expired(ent) {
		c.removeLocked(el)
		c.misses++
		return nil, false
	}
	ent.lastAccessAt = c.now()
	c.order.MoveToFront(el)
	c.hits++
	return ent.payload, true
}

func (c *QueryCache) Set(key string, payload any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*entry)
		ent.payload = payload
		ent.createdAt = now
		ent.lastAccessAt = now
		c.order.MoveToFront(el)
		return
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
	}

	el := c.order.PushFront(&entry{
		key:          key,
		payload:      payload,
		createdAt:    now,
		lastAccessAt: now,
	})
	c.entries[key] = el
}

// Has reports presence without refreshing LRU position or counters.
func (c *QueryCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false
	}
	return !c.expired(el.Value.(*entry))
}

func (c *QueryCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*entry)) {
			c.removeLocked(el)
			removed++
		}
		el = prev
	}
	return removed
}

func (c *QueryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string]*list.Element{}
	c.order.Init()
}

func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Entries: uint64(len(c.entries)),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// StartSweeper runs CleanExpired on an interval until ctx is cancelled.
func (c *QueryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := c.CleanExpired(); n > 0 && c.log != nil {
					c.log.Debug("expired cache entries swept", "count", n)
				}
			}
		}
	}()
}

func (c *QueryCache) expired(ent *entry) bool {
	return c.now().Sub(ent.createdAt) > c.ttl
}

func (c *QueryCache) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	c.order.Remove(el)
	delete(c.entries, ent.key)
}
