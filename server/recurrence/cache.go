package recurrence

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/cyp0633/calsched/server/invite"
)

// CacheEntry represents a cached recurrence result
type CacheEntry struct {
	Result     any // bool for HasOccurrenceInRange, []Instance for Expand
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// RecurrenceCache memoizes expansion results keyed by a fingerprint of the
// expanded invites and the queried window.
type RecurrenceCache struct {
	entries         map[string]*CacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// CacheConfig holds configuration for the recurrence cache
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultCacheConfig provides sensible defaults for recurrence caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewRecurrenceCache creates a new recurrence cache with the given configuration
func NewRecurrenceCache(config CacheConfig) *RecurrenceCache {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	cache := &RecurrenceCache{
		entries:         make(map[string]*CacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// fingerprint hashes everything an expansion result depends on. Invites are
// immutable, so their content identifies them.
func fingerprint(operation string, series *invite.Invite, exceptions, cancellations []*invite.Invite, rangeStart, rangeEnd time.Time) string {
	h := sha256.New()
	writeString(h, operation)
	writeTime(h, rangeStart)
	writeTime(h, rangeEnd)
	if series != nil {
		writeString(h, "S")
		writeInvite(h, series)
	}
	for _, x := range exceptions {
		writeString(h, "X")
		writeInvite(h, x)
	}
	for _, c := range cancellations {
		writeString(h, "C")
		writeString(h, c.SlotKey())
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeInvite(h hash.Hash, inv *invite.Invite) {
	writeString(h, inv.UID)
	writeString(h, inv.SlotKey())
	writeTime(h, inv.Start)
	writeTime(h, inv.End)
	writeString(h, inv.Duration.String())
	writeString(h, strconv.FormatBool(inv.AllDay))
	writeString(h, inv.Rule)
	for _, t := range inv.RDates {
		writeTime(h, t)
	}
	writeString(h, "|")
	for _, t := range inv.ExDates {
		writeTime(h, t)
	}
	writeString(h, strconv.Itoa(inv.Sequence))
	writeTime(h, inv.DTStamp)
	writeString(h, inv.Summary)
	writeString(h, inv.Location)
}

func writeString(h hash.Hash, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}

func writeTime(h hash.Hash, t time.Time) {
	// Location is part of the key, wall clock expansion depends on it.
	writeString(h, t.Format(time.RFC3339Nano)+" "+t.Location().String())
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *RecurrenceCache) Get(key string) (any, bool) {
	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.ExpiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.AccessedAt = now
	c.mutex.Unlock()

	return entry.Result, true
}

// Set stores a result in the cache
func (c *RecurrenceCache) Set(key string, result any) {
	now := time.Now()
	entry := &CacheEntry{
		Result:     result,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry

	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries, then least recently accessed entries
// while over the limit. Must be called with the mutex held.
func (c *RecurrenceCache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].AccessedAt.Before(c.entries[keys[j]].AccessedAt)
	})
	for _, key := range keys[:len(keys)-c.maxEntries] {
		delete(c.entries, key)
	}
}

func (c *RecurrenceCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache
func (c *RecurrenceCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *RecurrenceCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache performance
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
