package cache

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"autovideo/internal/config"
	"autovideo/internal/kvstore"
	"autovideo/internal/logging"
)

// SharedScope is the scope used when callers do not name one.
const SharedScope = ""

// Entry is a cached provider response.
type Entry struct {
	Fingerprint string        `json:"fingerprint"`
	Payload     []byte        `json:"payload"`
	StoredAt    time.Time     `json:"stored_at"`
	TTL         time.Duration `json:"ttl"`
}

// ExpiresAt reports when the entry stops being served.
func (e Entry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}

func (e Entry) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// Options configures a Cache.
type Options struct {
	Namespace   string
	DefaultTTL  time.Duration
	ContentTTLs map[string]time.Duration
	// MaxEntries bounds each scope; zero means unbounded.
	MaxEntries int
	Store      kvstore.Store
	Logger     *slog.Logger
	Now        func() time.Time
}

// Stats summarizes cache activity.
type Stats struct {
	Namespace string         `json:"namespace"`
	Entries   int            `json:"entries"`
	Scopes    map[string]int `json:"scopes"`
	Hits      uint64         `json:"hits"`
	Misses    uint64         `json:"misses"`
	Evictions uint64         `json:"evictions"`
	LastFlush time.Time      `json:"last_flush,omitzero"`
	LastError string         `json:"last_error,omitempty"`
}

// Cache is a scoped, TTL-bounded map of fingerprints to payloads.
type Cache struct {
	namespace  string
	defaultTTL time.Duration
	rules      []contentRule
	maxEntries int
	store      kvstore.Store
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	scopes    map[string]map[string]Entry
	hits      uint64
	misses    uint64
	evictions uint64
	lastFlush time.Time
	lastError string
}

// New constructs an empty cache.
func New(opts Options) *Cache {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.DefaultTTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	namespace := strings.TrimSpace(opts.Namespace)
	if namespace == "" {
		namespace = "responses"
	}
	return &Cache{
		namespace:  namespace,
		defaultTTL: ttl,
		rules:      compileRules(opts.ContentTTLs),
		maxEntries: opts.MaxEntries,
		store:      opts.Store,
		logger:     logging.NewComponentLogger(logger, "cache"),
		now:        now,
		scopes:     make(map[string]map[string]Entry),
	}
}

// NewFromConfig builds a cache from the [cache] section.
func NewFromConfig(cfg *config.Config, store kvstore.Store, logger *slog.Logger) *Cache {
	return New(Options{
		Namespace:   cfg.Cache.Namespace,
		DefaultTTL:  time.Duration(cfg.Cache.DefaultTTLSeconds) * time.Second,
		ContentTTLs: cfg.ContentTTLs(),
		MaxEntries:  cfg.Cache.MaxEntries,
		Store:       store,
		Logger:      logger,
	})
}

// Namespace returns the durable document name.
func (c *Cache) Namespace() string { return c.namespace }

// ResolveTTL returns the TTL a Put with hint would store.
func (c *Cache) ResolveTTL(hint Hint) time.Duration {
	return resolveTTL(hint, c.rules, c.defaultTTL)
}

// Get returns the payload for fingerprint in scope. Expired entries are
// evicted and reported as a miss.
func (c *Cache) Get(scope, fingerprint string) ([]byte, bool) {
	now := c.now()

	c.mu.Lock()
	entries := c.scopes[scope]
	entry, ok := entries[fingerprint]
	expired := ok && entry.expired(now)
	if expired {
		delete(entries, fingerprint)
		c.evictions++
	}
	if !ok || expired {
		c.misses++
		c.mu.Unlock()
		c.logger.Debug("cache miss",
			logging.String(logging.FieldEventType, "cache_miss"),
			logging.String("scope", scope),
			logging.String("fingerprint", short(fingerprint)),
			logging.Bool("expired", expired))
		return nil, false
	}
	c.hits++
	payload := append([]byte(nil), entry.Payload...)
	c.mu.Unlock()

	c.logger.Debug("cache hit",
		logging.String(logging.FieldEventType, "cache_hit"),
		logging.String("scope", scope),
		logging.String("fingerprint", short(fingerprint)))
	return payload, true
}

// Put stores payload under fingerprint in scope with the TTL resolved from hint.
func (c *Cache) Put(scope, fingerprint string, payload []byte, hint Hint) {
	if fingerprint == "" {
		return
	}
	ttl := c.ResolveTTL(hint)
	entry := Entry{
		Fingerprint: fingerprint,
		Payload:     append([]byte(nil), payload...),
		StoredAt:    c.now(),
		TTL:         ttl,
	}

	c.mu.Lock()
	entries := c.scopes[scope]
	if entries == nil {
		entries = make(map[string]Entry)
		c.scopes[scope] = entries
	}
	entries[fingerprint] = entry
	evicted := c.enforceBoundLocked(entries)
	c.mu.Unlock()

	c.logger.Debug("cache store",
		logging.String(logging.FieldEventType, "cache_store"),
		logging.String("scope", scope),
		logging.String("fingerprint", short(fingerprint)),
		logging.Duration("ttl", ttl),
		logging.Int("evicted", evicted))
}

func (c *Cache) enforceBoundLocked(entries map[string]Entry) int {
	if c.maxEntries <= 0 {
		return 0
	}
	evicted := 0
	for len(entries) > c.maxEntries {
		var oldestKey string
		var oldest time.Time
		for key, entry := range entries {
			if oldestKey == "" || entry.StoredAt.Before(oldest) {
				oldestKey = key
				oldest = entry.StoredAt
			}
		}
		delete(entries, oldestKey)
		c.evictions++
		evicted++
	}
	return evicted
}

// Delete removes a single entry.
func (c *Cache) Delete(scope, fingerprint string) {
	c.mu.Lock()
	delete(c.scopes[scope], fingerprint)
	c.mu.Unlock()
}

// Sweep evicts every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	removed := c.sweepLocked(now)
	c.mu.Unlock()
	if removed > 0 {
		c.logger.Debug("cache sweep",
			logging.String(logging.FieldEventType, "cache_sweep"),
			logging.Int("evicted", removed))
	}
	return removed
}

func (c *Cache) sweepLocked(now time.Time) int {
	removed := 0
	for scope, entries := range c.scopes {
		for key, entry := range entries {
			if entry.expired(now) {
				delete(entries, key)
				removed++
			}
		}
		if len(entries) == 0 {
			delete(c.scopes, scope)
		}
	}
	c.evictions += uint64(removed)
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, entries := range c.scopes {
		total += len(entries)
	}
	return total
}

// Stats returns a snapshot of counters and per-scope sizes.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		Namespace: c.namespace,
		Scopes:    make(map[string]int, len(c.scopes)),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		LastFlush: c.lastFlush,
		LastError: c.lastError,
	}
	for scope, entries := range c.scopes {
		name := scope
		if name == SharedScope {
			name = "shared"
		}
		stats.Scopes[name] = len(entries)
		stats.Entries += len(entries)
	}
	return stats
}

func (c *Cache) snapshotLocked() map[string][]Entry {
	out := make(map[string][]Entry, len(c.scopes))
	for scope, entries := range c.scopes {
		list := make([]Entry, 0, len(entries))
		for _, entry := range entries {
			list = append(list, entry)
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Fingerprint < list[j].Fingerprint })
		out[scope] = list
	}
	return out
}

func short(fingerprint string) string {
	if len(fingerprint) > 12 {
		return fingerprint[:12]
	}
	return fingerprint
}
