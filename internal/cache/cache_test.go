package cache

import (
	"testing"
	"time"
)

func TestStore(t *testing.T) {
	cache := NewStore(10)

	// Test basic set/get
	cache.Set("key1", "value1", 5*time.Minute)
	val, ok := cache.Get("key1")
	if !ok {
		t.Error("Expected to find key1")
	}
	if val != "value1" {
		t.Errorf("Expected value1, got %v", val)
	}

	// Test missing key
	_, ok = cache.Get("nonexistent")
	if ok {
		t.Error("Expected not to find nonexistent key")
	}
}

func TestStoreExpiration(t *testing.T) {
	cache := NewStore(10)

	// Set with very short TTL
	cache.Set("expiring", "value", 1*time.Millisecond)

	// Wait for expiration
	time.Sleep(10 * time.Millisecond)

	// Should not find expired entry
	_, ok := cache.Get("expiring")
	if ok {
		t.Error("Expected expired entry to be removed")
	}
}

func TestStoreDelete(t *testing.T) {
	cache := NewStore(10)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)

	cache.Delete("key1")

	_, ok := cache.Get("key1")
	if ok {
		t.Error("Expected key1 to be deleted")
	}

	_, ok = cache.Get("key2")
	if !ok {
		t.Error("Expected key2 to still exist")
	}
}

func TestStoreDeleteByPrefix(t *testing.T) {
	cache := NewStore(10)

	cache.Set("get_xray_trace:a1", "trace_a", 5*time.Minute)
	cache.Set("get_xray_trace:b2", "trace_b", 5*time.Minute)
	cache.Set("get_log_events:a1", "logs", 5*time.Minute)

	count := cache.DeleteByPrefix("get_xray_trace:")
	if count != 2 {
		t.Errorf("Expected 2 deletions, got %d", count)
	}

	_, ok := cache.Get("get_xray_trace:a1")
	if ok {
		t.Error("Expected get_xray_trace:a1 to be deleted")
	}

	_, ok = cache.Get("get_log_events:a1")
	if !ok {
		t.Error("Expected get_log_events:a1 to still exist")
	}
}

func TestStoreClear(t *testing.T) {
	cache := NewStore(10)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)

	cache.Clear()

	if cache.Size() != 0 {
		t.Errorf("Expected empty cache, got size %d", cache.Size())
	}
}

func TestStoreEviction(t *testing.T) {
	cache := NewStore(3) // Small cache

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)
	cache.Set("key3", "value3", 5*time.Minute)
	cache.Set("key4", "value4", 5*time.Minute) // Should trigger eviction

	if cache.Size() > 3 {
		t.Errorf("Expected max 3 entries, got %d", cache.Size())
	}
}

func TestStoreStats(t *testing.T) {
	cache := NewStore(10)

	cache.Set("key1", "value1", 5*time.Minute)
	cache.Set("key2", "value2", 5*time.Minute)

	// Access key1 twice
	cache.Get("key1")
	cache.Get("key1")

	stats := cache.Stats()
	if stats["size"].(int) != 2 {
		t.Errorf("Expected size 2, got %d", stats["size"])
	}
	if stats["total_hits"].(int) != 2 {
		t.Errorf("Expected 2 hits, got %d", stats["total_hits"])
	}
}

func TestManagerScopeIsolation(t *testing.T) {
	config := &Config{
		MaxEntriesPerScope: 100,
		DefaultTTL:         5 * time.Minute,
		TTLByTool:          make(map[string]time.Duration),
		Enabled:            true,
	}
	manager := NewManager(config)

	roleA := "arn:aws:iam::111111111111:role/investigator"
	roleB := "arn:aws:iam::222222222222:role/investigator"

	// Same tool and args under two roles must stay isolated
	manager.Set("us-east-1", roleA, "get_lambda_configuration", "abc", "config_a")
	manager.Set("us-east-1", roleB, "get_lambda_configuration", "abc", "config_b")

	val, ok := manager.Get("us-east-1", roleA, "get_lambda_configuration", "abc")
	if !ok {
		t.Error("Expected role A to have cached value")
	}
	if val != "config_a" {
		t.Errorf("Expected config_a, got %v", val)
	}

	val, ok = manager.Get("us-east-1", roleB, "get_lambda_configuration", "abc")
	if !ok {
		t.Error("Expected role B to have cached value")
	}
	if val != "config_b" {
		t.Errorf("Expected config_b, got %v", val)
	}
}

func TestManagerRegionIsolation(t *testing.T) {
	manager := NewManager(DefaultConfig())

	manager.Set("us-east-1", "", "get_xray_trace", "t1", "east_trace")
	manager.Set("eu-west-1", "", "get_xray_trace", "t1", "west_trace")

	val, ok := manager.Get("us-east-1", "", "get_xray_trace", "t1")
	if !ok || val != "east_trace" {
		t.Errorf("Expected east_trace, got %v (found=%v)", val, ok)
	}

	val, ok = manager.Get("eu-west-1", "", "get_xray_trace", "t1")
	if !ok || val != "west_trace" {
		t.Errorf("Expected west_trace, got %v (found=%v)", val, ok)
	}
}

func TestManagerInvalidateTool(t *testing.T) {
	manager := NewManager(DefaultConfig())

	manager.Set("us-east-1", "", "get_xray_trace", "a", "trace_a")
	manager.Set("us-east-1", "", "get_xray_trace", "b", "trace_b")
	manager.Set("us-east-1", "", "get_log_events", "a", "logs")

	count := manager.InvalidateTool("us-east-1", "", "get_xray_trace")
	if count != 2 {
		t.Errorf("Expected 2 invalidations, got %d", count)
	}

	_, ok := manager.Get("us-east-1", "", "get_xray_trace", "a")
	if ok {
		t.Error("Expected get_xray_trace:a to be invalidated")
	}

	_, ok = manager.Get("us-east-1", "", "get_log_events", "a")
	if !ok {
		t.Error("Expected get_log_events:a to still be cached")
	}
}

func TestManagerDisabled(t *testing.T) {
	config := &Config{
		MaxEntriesPerScope: 100,
		DefaultTTL:         5 * time.Minute,
		TTLByTool:          make(map[string]time.Duration),
		Enabled:            false,
	}
	manager := NewManager(config)

	manager.Set("us-east-1", "", "get_xray_trace", "a", "trace")

	_, ok := manager.Get("us-east-1", "", "get_xray_trace", "a")
	if ok {
		t.Error("Expected no cache hits when disabled")
	}

	manager.SetEnabled(true)
	if !manager.IsEnabled() {
		t.Error("Expected cache to be enabled")
	}
}

func TestArgsKeyDeterminism(t *testing.T) {
	a := ArgsKey(map[string]any{"trace_id": "1-abc", "max_items": 10})
	b := ArgsKey(map[string]any{"max_items": 10, "trace_id": "1-abc"})
	if a != b {
		t.Errorf("Expected identical keys for identical args, got %s and %s", a, b)
	}

	c := ArgsKey(map[string]any{"trace_id": "1-def", "max_items": 10})
	if a == c {
		t.Error("Expected different keys for different args")
	}

	if ArgsKey(nil) != "-" {
		t.Errorf("Expected sentinel key for empty args, got %s", ArgsKey(nil))
	}
}

func TestGlobalStats(t *testing.T) {
	manager := NewManager(DefaultConfig())

	manager.Set("us-east-1", "", "get_xray_trace", "a", "v")
	manager.Set("eu-west-1", "", "get_xray_trace", "a", "v")
	manager.Get("us-east-1", "", "get_xray_trace", "a")

	stats := manager.GlobalStats()
	if stats["scope_count"].(int) != 2 {
		t.Errorf("Expected 2 scopes, got %v", stats["scope_count"])
	}
	if stats["total_entries"].(int) != 2 {
		t.Errorf("Expected 2 entries, got %v", stats["total_entries"])
	}
	if stats["total_hits"].(int) != 1 {
		t.Errorf("Expected 1 hit, got %v", stats["total_hits"])
	}
}
