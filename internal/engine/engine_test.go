/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"reflect"
	"strconv"
	"testing"

	"driftdb/internal/config"
	"driftdb/internal/errors"
)

// testConfig returns a config rooted in a fresh temp dir with background
// intervals long enough to never fire during a test.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.CacheLimit = 8
	cfg.SaveIntervalSecs = 3600
	cfg.SyncIntervalSecs = 3600
	cfg.BackupRetention = 2
	return cfg
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(testConfig(t))
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// reopen simulates a crash-restart: the old engine is abandoned without
// Close (no final compaction) and a fresh engine recovers from disk.
func reopen(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("reopen Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func mustSet(t *testing.T, e *Engine, key string, value interface{}, opts ...SetOption) {
	t.Helper()
	if err := e.Set(key, value, opts...); err != nil {
		t.Fatalf("Set(%q) failed: %v", key, err)
	}
}

func mustGet(t *testing.T, e *Engine, key string) interface{} {
	t.Helper()
	value, ok, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", key, err)
	}
	if !ok {
		t.Fatalf("Get(%q): key absent", key)
	}
	return value
}

func TestEngineNotReady(t *testing.T) {
	e := New(testConfig(t))
	if err := e.Set("k", "v"); !errors.IsCategory(err, errors.CategoryNotReady) {
		t.Errorf("expected NotReady before Init, got %v", err)
	}
	if _, _, err := e.Get("k"); !errors.IsCategory(err, errors.CategoryNotReady) {
		t.Errorf("expected NotReady on Get, got %v", err)
	}
}

func TestEngineSetGetDelete(t *testing.T) {
	e := newTestEngine(t)

	mustSet(t, e, "user:1", map[string]interface{}{"name": "Alice"})
	got := mustGet(t, e, "user:1").(map[string]interface{})
	if got["name"] != "Alice" {
		t.Errorf("unexpected value: %v", got)
	}

	if _, ok, _ := e.Get("absent"); ok {
		t.Error("absent key reported present")
	}

	removed, err := e.Delete("user:1")
	if err != nil || !removed {
		t.Fatalf("Delete failed: removed=%v err=%v", removed, err)
	}
	if removed, _ := e.Delete("user:1"); removed {
		t.Error("double delete reported true")
	}
	if has, _ := e.Has("user:1"); has {
		t.Error("deleted key still present")
	}
}

// Basic durability: a crash after an acknowledged set must not lose it,
// and the WAL must hold exactly the one put record.
func TestEngineCrashRecovery(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	mustSet(t, e, "a", float64(1))

	f, err := os.Open(cfg.WALPath())
	if err != nil {
		t.Fatalf("open WAL: %v", err)
	}
	puts := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &rec); err == nil && rec["op"] == "put" && rec["k"] == "a" {
			puts++
		}
	}
	f.Close()
	if puts != 1 {
		t.Errorf("expected exactly one put record for 'a', got %d", puts)
	}

	// Crash: no Close, no compaction.
	restarted := reopen(t, cfg)
	if v := mustGet(t, restarted, "a"); v != float64(1) {
		t.Errorf("expected a=1 after restart, got %v", v)
	}
}

func TestEngineDurabilityErrorLeavesStateUnchanged(t *testing.T) {
	e := newTestEngine(t)
	mustSet(t, e, "stable", "v")

	// Force WAL appends to fail.
	e.wal.Close()

	err := e.Set("doomed", "v")
	if !errors.IsCategory(err, errors.CategoryDurability) {
		t.Fatalf("expected Durability error, got %v", err)
	}
	if has, _ := e.Has("doomed"); has {
		t.Error("failed write is visible in memory")
	}
	if _, ok := e.cache.get("doomed"); ok {
		t.Error("failed write is visible in cache")
	}
}

func TestEngineClearSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	mustSet(t, e, "a", float64(1))
	mustSet(t, e, "b", float64(2))
	if err := e.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	mustSet(t, e, "c", float64(3))

	restarted := reopen(t, cfg)
	if restarted.Len() != 1 {
		t.Errorf("expected only post-clear keys, got %d", restarted.Len())
	}
	if v := mustGet(t, restarted, "c"); v != float64(3) {
		t.Errorf("expected c=3, got %v", v)
	}
}

func TestEngineCompaction(t *testing.T) {
	cfg := testConfig(t)
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	for i := 0; i < 1000; i++ {
		mustSet(t, e, "k"+strconv.Itoa(i), float64(i))
	}
	if err := e.Compact(); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}

	info, err := os.Stat(cfg.WALPath())
	if err != nil {
		t.Fatalf("stat WAL: %v", err)
	}
	if info.Size() != 0 {
		t.Errorf("expected empty WAL after compaction, size=%d", info.Size())
	}

	mustSet(t, e, "k1000", "fresh")
	f, _ := os.Open(cfg.WALPath())
	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	f.Close()
	if lines != 1 {
		t.Errorf("expected a single WAL line after post-compaction set, got %d", lines)
	}

	restarted := reopen(t, cfg)
	if restarted.Len() != 1001 {
		t.Errorf("expected 1001 keys after restart, got %d", restarted.Len())
	}
}

// Cache coherence: every cached entry equals the store entry.
func TestEngineCacheCoherence(t *testing.T) {
	e := newTestEngine(t)

	for i := 0; i < 32; i++ {
		mustSet(t, e, "k"+strconv.Itoa(i%10), float64(i))
	}
	for i := 0; i < 10; i += 2 {
		mustGet(t, e, "k"+strconv.Itoa(i))
	}
	e.Delete("k3")

	cached := e.cache.snapshot()
	if len(cached) > e.cfg.CacheLimit {
		t.Errorf("cache exceeded limit: %d > %d", len(cached), e.cfg.CacheLimit)
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	for key, cachedValue := range cached {
		storeValue, ok := e.data[key]
		if !ok {
			t.Errorf("cache holds deleted key %q", key)
			continue
		}
		if !reflect.DeepEqual(cachedValue, storeValue) {
			t.Errorf("cache incoherent for %q: %v != %v", key, cachedValue, storeValue)
		}
	}
}

func TestEngineCacheEvictionIsLRU(t *testing.T) {
	cfg := testConfig(t)
	cfg.CacheLimit = 2
	e := New(cfg)
	if err := e.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })

	mustSet(t, e, "a", float64(1))
	mustSet(t, e, "b", float64(2))
	mustGet(t, e, "a") // promote a; b is now LRU
	mustSet(t, e, "c", float64(3))

	if _, ok := e.cache.get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if _, ok := e.cache.get("a"); !ok {
		t.Error("expected a to survive eviction")
	}
	// Eviction never deletes from the store.
	if has, _ := e.Has("b"); !has {
		t.Error("eviction deleted the store entry")
	}
}

func TestEngineEventsAndWatchers(t *testing.T) {
	e := newTestEngine(t)

	var events []Event
	if _, err := e.On(EventSet, func(ev Event) { events = append(events, ev) }); err != nil {
		t.Fatalf("On failed: %v", err)
	}
	if _, err := e.On(EventType("bogus"), func(Event) {}); err == nil {
		t.Error("subscribing outside the taxonomy must fail")
	}

	var order []string
	e.Watch("k", func(newV, oldV interface{}) { order = append(order, "first") })
	e.Watch("k", func(newV, oldV interface{}) { panic("isolated") })
	e.Watch("k", func(newV, oldV interface{}) { order = append(order, "third") })

	mustSet(t, e, "k", "v1")
	mustSet(t, e, "k", "v2")

	if len(events) != 2 {
		t.Fatalf("expected 2 set events, got %d", len(events))
	}
	if events[1].Key != "k" || events[1].Value != "v2" || events[1].Old != "v1" {
		t.Errorf("unexpected event payload: %+v", events[1])
	}
	// Registration order held, and the panicking watcher did not break it.
	want := []string{"first", "third", "first", "third"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("watcher order mismatch: %v", order)
	}

	// Unwatch without ids clears the key.
	e.Unwatch("k")
	order = nil
	mustSet(t, e, "k", "v3")
	if len(order) != 0 {
		t.Errorf("unwatched callbacks fired: %v", order)
	}

	var deletes int
	e.On(EventDelete, func(ev Event) { deletes++ })
	e.Delete("k")
	if deletes != 1 {
		t.Errorf("expected one delete event, got %d", deletes)
	}
}

func TestEngineStats(t *testing.T) {
	e := newTestEngine(t)

	mustSet(t, e, "a", float64(1))
	mustGet(t, e, "a") // hit (write-through cache)
	e.Get("missing")   // miss without populate

	st := e.Stats()
	if st.Writes != 1 {
		t.Errorf("writes=%d, want 1", st.Writes)
	}
	if st.Reads != 2 {
		t.Errorf("reads=%d, want 2", st.Reads)
	}
	if st.Hits != 1 || st.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 1/1", st.Hits, st.Misses)
	}
	if st.HitRate != 0.5 {
		t.Errorf("hitRate=%v, want 0.5", st.HitRate)
	}
	if st.Size != 1 {
		t.Errorf("size=%d, want 1", st.Size)
	}
}

func TestEngineAddSubtractPushPull(t *testing.T) {
	e := newTestEngine(t)

	// Missing value coerces to 0.
	if v, err := e.Add("counter", 5); err != nil || v != 5 {
		t.Fatalf("Add=%v err=%v, want 5", v, err)
	}
	if v, _ := e.Subtract("counter", 2); v != 3 {
		t.Errorf("Subtract=%v, want 3", v)
	}
	// Non-numeric coerces to 0 outside collection boundaries.
	mustSet(t, e, "oddball", "not a number")
	if v, _ := e.Subtract("oddball", 1); v != -1 {
		t.Errorf("Subtract on non-numeric=%v, want -1", v)
	}

	if err := e.Push("tags", "alpha"); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	e.Push("tags", "beta")
	e.Push("tags", "alpha")
	removed, err := e.Pull("tags", func(item interface{}) bool { return item == "alpha" })
	if err != nil || removed != 2 {
		t.Fatalf("Pull removed=%d err=%v, want 2", removed, err)
	}
	arr := mustGet(t, e, "tags").([]interface{})
	if len(arr) != 1 || arr[0] != "beta" {
		t.Errorf("unexpected array after pull: %v", arr)
	}
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	e := newTestEngine(t)

	if err := reg.Register("main", e); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Register("main", e); err == nil {
		t.Error("duplicate registration must fail")
	}
	if got, ok := reg.Get("main"); !ok || got != e {
		t.Error("lookup failed")
	}
	reg.Deregister("main")
	if _, ok := reg.Get("main"); ok {
		t.Error("deregistered store still resolvable")
	}
}
