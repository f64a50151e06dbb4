// Package cache provides a scoped caching layer for diagnostic tool results.
// Entries are scoped to a region and assumed role so results fetched under
// one credential never serve an investigation running under another.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// Entry represents a cached item with metadata
type Entry struct {
	Value     string    `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	HitCount  int       `json:"hit_count"`
}

// IsExpired checks if the cache entry has expired
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.ExpiresAt)
}

// Store holds cached tool results for one region+role scope
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	maxSize int
}

// NewStore creates a new scoped cache store
func NewStore(maxSize int) *Store {
	if maxSize <= 0 {
		maxSize = 256 // Default max entries
	}
	return &Store{
		entries: make(map[string]*Entry),
		maxSize: maxSize,
	}
}

// Get retrieves a value from the cache
func (c *Store) Get(key string) (string, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return "", false
	}

	if entry.IsExpired() {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return "", false
	}

	// Update hit count (needs write lock)
	c.mu.Lock()
	entry.HitCount++
	c.mu.Unlock()

	return entry.Value, true
}

// Set stores a value in the cache with TTL
func (c *Store) Set(key string, value string, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Evict expired entries if at capacity
	if len(c.entries) >= c.maxSize {
		c.evictExpiredLocked()
	}

	// If still at capacity, evict least recently used
	if len(c.entries) >= c.maxSize {
		c.evictLRULocked()
	}

	c.entries[key] = &Entry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
		CreatedAt: time.Now(),
		HitCount:  0,
	}
}

// Delete removes a specific key from the cache
func (c *Store) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// DeleteByPrefix removes all entries with keys starting with prefix
func (c *Store) DeleteByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key := range c.entries {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			delete(c.entries, key)
			count++
		}
	}
	return count
}

// Clear removes all entries from the cache
func (c *Store) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
}

// Size returns the number of entries in the cache
func (c *Store) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns cache statistics
func (c *Store) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	totalHits := 0
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		totalHits += entry.HitCount
		if now.After(entry.ExpiresAt) {
			expiredCount++
		}
	}

	return map[string]interface{}{
		"size":          len(c.entries),
		"max_size":      c.maxSize,
		"total_hits":    totalHits,
		"expired_count": expiredCount,
	}
}

// evictExpiredLocked removes all expired entries (must hold write lock)
func (c *Store) evictExpiredLocked() {
	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictLRULocked removes the least recently used entry (must hold write lock)
func (c *Store) evictLRULocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.CreatedAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreatedAt
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Manager manages per-scope caches. A scope is one region+role pairing.
type Manager struct {
	mu     sync.RWMutex
	caches map[string]*Store
	config *Config
}

// Config holds cache configuration
type Config struct {
	// MaxEntriesPerScope is the maximum number of cache entries per scope
	MaxEntriesPerScope int

	// DefaultTTL is the default time-to-live for cache entries
	DefaultTTL time.Duration

	// TTLByTool allows custom TTLs for specific tools
	TTLByTool map[string]time.Duration

	// Enabled controls whether caching is active
	Enabled bool
}

// DefaultConfig returns the default cache configuration
func DefaultConfig() *Config {
	return &Config{
		MaxEntriesPerScope: 256,
		DefaultTTL:         2 * time.Minute,
		TTLByTool: map[string]time.Duration{
			// Configuration rarely changes mid-incident
			"get_lambda_configuration":  5 * time.Minute,
			"get_function_concurrency":  5 * time.Minute,
			"get_resource_policy":       5 * time.Minute,
			"get_api_configuration":     5 * time.Minute,
			"get_state_machine":         5 * time.Minute,
			"get_bucket_configuration":  5 * time.Minute,
			"get_queue_attributes":      5 * time.Minute,
			"get_topic_attributes":      5 * time.Minute,
			"get_table_configuration":   5 * time.Minute,
			"describe_security_groups":  5 * time.Minute,
			"simulate_permission":       5 * time.Minute,

			// Trace and log data are append-only but investigations want
			// near-real-time views
			"get_xray_trace":               30 * time.Second,
			"get_all_resources_from_trace": 30 * time.Second,
			"get_trace_summaries":          30 * time.Second,
			"get_log_events":               30 * time.Second,
			"filter_log_events":            30 * time.Second,

			"check_service_health": time.Minute,
		},
		Enabled: true,
	}
}

// NewManager creates a new cache manager
func NewManager(config *Config) *Manager {
	if config == nil {
		config = DefaultConfig()
	}
	return &Manager{
		caches: make(map[string]*Store),
		config: config,
	}
}

// scopeKey generates the key for a region+role combination
func scopeKey(region, roleARN string) string {
	return region + ":" + roleARN
}

// ArgsKey canonicalizes tool arguments into a stable cache key. Keys are
// sorted so maps with identical content always produce the same digest.
func ArgsKey(args map[string]any) string {
	if len(args) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		b, _ := json.Marshal(args[k])
		h.Write([]byte(k))
		h.Write([]byte{'='})
		h.Write(b)
		h.Write([]byte{';'})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// getStore returns the cache for a specific scope
func (m *Manager) getStore(region, roleARN string) *Store {
	key := scopeKey(region, roleARN)

	m.mu.RLock()
	cache, exists := m.caches[key]
	m.mu.RUnlock()

	if exists {
		return cache
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if cache, exists := m.caches[key]; exists {
		return cache
	}

	cache = NewStore(m.config.MaxEntriesPerScope)
	m.caches[key] = cache
	return cache
}

// Get retrieves a cached tool result for a scope
func (m *Manager) Get(region, roleARN, toolName string, argsKey string) (string, bool) {
	if !m.config.Enabled {
		return "", false
	}

	cache := m.getStore(region, roleARN)
	fullKey := toolName + ":" + argsKey
	return cache.Get(fullKey)
}

// Set stores a tool result in the scope's cache
func (m *Manager) Set(region, roleARN, toolName string, argsKey string, value string) {
	if !m.config.Enabled {
		return
	}

	cache := m.getStore(region, roleARN)
	fullKey := toolName + ":" + argsKey

	// Get TTL for this tool
	ttl := m.config.DefaultTTL
	if toolTTL, ok := m.config.TTLByTool[toolName]; ok {
		ttl = toolTTL
	}

	cache.Set(fullKey, value, ttl)
}

// InvalidateTool removes all cache entries for a specific tool
func (m *Manager) InvalidateTool(region, roleARN, toolName string) int {
	cache := m.getStore(region, roleARN)
	return cache.DeleteByPrefix(toolName + ":")
}

// ClearScope removes all cache entries for a scope
func (m *Manager) ClearScope(region, roleARN string) {
	cache := m.getStore(region, roleARN)
	cache.Clear()
}

// Stats returns cache statistics for a scope
func (m *Manager) Stats(region, roleARN string) map[string]interface{} {
	cache := m.getStore(region, roleARN)
	stats := cache.Stats()
	stats["region"] = region
	stats["enabled"] = m.config.Enabled
	return stats
}

// GlobalStats returns statistics across all scopes
func (m *Manager) GlobalStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalSize := 0
	totalHits := 0

	for _, cache := range m.caches {
		stats := cache.Stats()
		totalSize += stats["size"].(int)
		totalHits += stats["total_hits"].(int)
	}

	return map[string]interface{}{
		"scope_count":   len(m.caches),
		"total_entries": totalSize,
		"total_hits":    totalHits,
		"enabled":       m.config.Enabled,
	}
}

// SetEnabled enables or disables caching
func (m *Manager) SetEnabled(enabled bool) {
	m.config.Enabled = enabled
}

// IsEnabled returns whether caching is enabled
func (m *Manager) IsEnabled() bool {
	return m.config.Enabled
}
