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

/*
Package engine implements the DriftDB storage engine.

Engine Overview:
================

The engine holds all data in memory as a map from string keys to arbitrary
JSON-shaped values, with durability provided by a snapshot plus write-ahead
log (internal/storage). Around the map it maintains a bounded LRU hot cache,
a TTL table with a background sweeper, a per-key watcher registry, a closed
event taxonomy, and the secondary-index manager.

Architecture:
=============

	┌────────────────────────────────────────────────────────┐
	│                        Engine                          │
	├────────────────────────────────────────────────────────┤
	│  hot cache (LRU) ──► map[string]value ──► TTL table    │
	│         │                  │                  │        │
	│         └──────── writer critical section ────┘        │
	│                           │                            │
	│   WAL append ► map ► cache ► indexes ► broadcast ►     │
	│   events ► watchers   (one mutex, this order)          │
	└────────────────────────────────────────────────────────┘

Write Path:
===========

 1. Pre-write interceptors transform or veto the value
 2. Acquire the writer lock
 3. Append the operation to the WAL and fsync (durability point)
 4. Update map, cache, TTL table, secondary indexes
 5. Enqueue the replication broadcast (primary, non-internal keys)
 6. Emit the event and notify per-key watchers, still under the lock, so
    subscribers observe writes to a key in exactly WAL order

If the WAL append fails, nothing after it happens: the caller gets a
durability error and the in-memory state is unchanged.

Event and watcher callbacks run on the writer path. They must not call
mutating engine methods; the writer lock is not reentrant.

Read Path:
==========

Reads never touch the WAL. A cache hit promotes the entry; a miss reads the
map under a read lock and populates the cache. Post-read interceptors shape
the returned value (for example decrypting it); the cache stores the same
representation as the map, so cache coherence is structural.

TTL:
====

The TTL table lives in memory and is mirrored under the internal store key
"_ttl" so snapshots carry it. A background sweeper runs every 10 seconds and
deletes expired keys through the full delete path (WAL, cache, indexes,
events, watchers, replication).

Internal keys (prefix "_") are part of the store but are never broadcast to
followers and never accepted over the replication channel.
*/
package engine

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"driftdb/internal/config"
	"driftdb/internal/errors"
	"driftdb/internal/index"
	"driftdb/internal/logging"
	"driftdb/internal/storage"
)

const (
	// ttlSweepInterval is the fixed period of the TTL sweeper.
	ttlSweepInterval = 10 * time.Second

	// ttlTableKey is the internal store key mirroring the TTL table.
	ttlTableKey = "_ttl"

	// internalKeyPrefix marks node-local keys excluded from replication.
	internalKeyPrefix = "_"
)

// IsInternalKey reports whether key is node-local system state, excluded
// from replication broadcast and inbound replication.
func IsInternalKey(key string) bool {
	return strings.HasPrefix(key, internalKeyPrefix)
}

// Stats is the engine counter snapshot exposed through the status surface.
type Stats struct {
	Reads    int64   `json:"reads"`
	Writes   int64   `json:"writes"`
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hitRate"`
	Size     int     `json:"size"`
	TTLCount int     `json:"ttlCount"`
}

// SetOptions carries per-write options.
type SetOptions struct {
	ttl    time.Duration
	hasTTL bool
}

// SetOption mutates SetOptions.
type SetOption func(*SetOptions)

// WithTTL attaches a time-to-live to the write. A zero or negative TTL
// makes the key eligible for deletion at the next sweep.
func WithTTL(d time.Duration) SetOption {
	return func(o *SetOptions) {
		o.ttl = d
		o.hasTTL = true
	}
}

// BroadcastFunc receives every durable non-internal mutation inside the
// writer critical section. The replication controller installs it on the
// primary; it must enqueue and return without blocking on the network.
type BroadcastFunc func(op storage.Op, key string, value interface{})

// Engine is the DriftDB storage engine.
type Engine struct {
	cfg *config.Config
	log *logging.Logger

	// mu is the writer critical section. All mutations hold the write
	// lock across WAL append, map/cache/TTL update, index maintenance,
	// broadcast enqueue and event fan-out; reads take the read lock.
	mu        sync.RWMutex
	data      map[string]interface{}
	ttl       map[string]int64 // key -> absolute expiry, ms since epoch
	ttlMirror map[string]interface{}

	// rmwMu serialises composite read-modify-write helpers (Add, Push).
	rmwMu sync.Mutex

	cache    *hotCache
	watchers *watchRegistry
	events   *emitter
	indexes  *index.Manager
	chain    interceptorChain

	wal  *storage.WAL
	snap *storage.Snapshotter

	broadcast BroadcastFunc
	readOnly  atomic.Bool

	reads  *xsync.Counter
	writes *xsync.Counter
	hits   *xsync.Counter
	misses *xsync.Counter

	ready     atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates an Engine for the given configuration. Call Init before use.
func New(cfg *config.Config) *Engine {
	return &Engine{
		cfg:       cfg,
		log:       logging.NewLogger("engine"),
		data:      make(map[string]interface{}),
		ttl:       make(map[string]int64),
		ttlMirror: make(map[string]interface{}),
		cache:     newHotCache(cfg.CacheLimit),
		watchers:  newWatchRegistry(),
		events:    newEmitter(),
		indexes:   index.NewManager(),
		reads:     xsync.NewCounter(),
		writes:    xsync.NewCounter(),
		hits:      xsync.NewCounter(),
		misses:    xsync.NewCounter(),
		stop:      make(chan struct{}),
	}
}

// Use registers an interceptor. Interceptors must be registered before
// Init; the chain is not safe to mutate once writes are flowing.
func (e *Engine) Use(i Interceptor) {
	e.chain.use(i)
}

// Init loads the snapshot, replays the WAL, starts the background tasks
// and fires the ready event. A recovery that had to fall back to a backup
// or to an empty store is surfaced as a warning on the ready event, not as
// an error.
func (e *Engine) Init() error {
	if e.ready.Load() {
		return nil
	}

	e.snap = storage.NewSnapshotter(e.cfg.BasePath(), e.cfg.SnapshotExt, e.cfg.BackupRetention)

	data, warning, err := e.snap.Load()
	if err != nil {
		return errors.Wrap(err, errors.CategoryCorruption, errors.CodeSnapshotUnreadable, "snapshot load failed")
	}
	e.data = data
	e.loadTTLTable()

	wal, err := storage.OpenWAL(e.cfg.WALPath())
	if err != nil {
		return errors.Wrap(err, errors.CategoryDurability, errors.CodeWALAppend, "WAL open failed")
	}
	e.wal = wal

	skipped, err := wal.Replay(func(rec storage.Record) {
		switch rec.Op {
		case storage.OpPut:
			e.data[rec.K] = rec.V
			delete(e.ttl, rec.K) // a put without a following ttl record clears expiry
		case storage.OpDelete:
			delete(e.data, rec.K)
			delete(e.ttl, rec.K)
		case storage.OpClear:
			e.data = make(map[string]interface{})
			e.ttl = make(map[string]int64)
		case storage.OpTTL:
			// An already-past expiry is not reinstated as a live TTL; the
			// entry stays in the table so the first sweep deletes the key.
			e.ttl[rec.K] = rec.Exp
		}
	})
	if err != nil {
		return errors.Wrap(err, errors.CategoryCorruption, errors.CodeWALUnreadable, "WAL replay failed")
	}
	if skipped > 0 {
		e.log.Warn("skipped malformed WAL lines during replay", "lines", skipped)
	}

	// The TTL table only references live keys.
	for key := range e.ttl {
		if _, ok := e.data[key]; !ok {
			delete(e.ttl, key)
		}
	}
	e.rebuildTTLMirror()

	e.wg.Add(2)
	go e.sweepLoop()
	go e.compactLoop()

	e.ready.Store(true)
	e.log.Info("engine ready", "keys", len(e.data), "ttl", len(e.ttl), "warning", warning)
	e.events.emit(Event{Type: EventReady, Warning: warning})
	return nil
}

// loadTTLTable pulls the persisted "_ttl" mirror into the in-memory table.
func (e *Engine) loadTTLTable() {
	table, ok := e.data[ttlTableKey].(map[string]interface{})
	if !ok {
		return
	}
	for key, raw := range table {
		if exp, ok := index.Numeric(raw); ok {
			e.ttl[key] = int64(exp)
		}
	}
}

// rebuildTTLMirror reinstates the "_ttl" store key from the in-memory
// table. The mirror is only present while TTL entries exist.
func (e *Engine) rebuildTTLMirror() {
	e.ttlMirror = make(map[string]interface{}, len(e.ttl))
	for key, exp := range e.ttl {
		e.ttlMirror[key] = float64(exp)
	}
	if len(e.ttlMirror) > 0 {
		e.data[ttlTableKey] = e.ttlMirror
	} else {
		delete(e.data, ttlTableKey)
	}
}

// setTTLLocked records an expiry for key in table and mirror.
func (e *Engine) setTTLLocked(key string, exp int64) {
	e.ttl[key] = exp
	e.ttlMirror[key] = float64(exp)
	e.data[ttlTableKey] = e.ttlMirror
}

// clearTTLLocked removes any expiry for key.
func (e *Engine) clearTTLLocked(key string) {
	delete(e.ttl, key)
	delete(e.ttlMirror, key)
	if len(e.ttlMirror) == 0 {
		delete(e.data, ttlTableKey)
	}
}

func (e *Engine) guard() error {
	if !e.ready.Load() {
		return errors.New(errors.CategoryNotReady, errors.CodeNotInitialised, "engine not initialised")
	}
	return nil
}

// Set writes key to value, optionally with a TTL. The write is durable
// when Set returns nil.
func (e *Engine) Set(key string, value interface{}, opts ...SetOption) error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.readOnly.Load() {
		return errors.New(errors.CategoryConstraintViolation, errors.CodeReplicaReadOnly,
			"replica rejects local writes; route them through the primary")
	}
	var o SetOptions
	for _, opt := range opts {
		opt(&o)
	}
	return e.put(key, value, o)
}

// put is the shared write path for public, replicated and system writes.
func (e *Engine) put(key string, value interface{}, o SetOptions) error {
	stored, err := e.chain.preWrite(key, value)
	if err != nil {
		return errors.Wrap(err, errors.CategoryValidation, errors.CodeBadValue, "write vetoed for key '%s'", key)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	old, hadOld := e.data[key]

	if err := e.wal.Append(storage.Record{Op: storage.OpPut, K: key, V: stored}); err != nil {
		return errors.Wrap(err, errors.CategoryDurability, errors.CodeWALAppend, "WAL append failed for key '%s'", key)
	}
	var exp int64
	if o.hasTTL {
		exp = time.Now().Add(o.ttl).UnixMilli()
		if err := e.wal.Append(storage.Record{Op: storage.OpTTL, K: key, Exp: exp}); err != nil {
			return errors.Wrap(err, errors.CategoryDurability, errors.CodeWALAppend, "WAL append failed for key '%s'", key)
		}
	}

	e.data[key] = stored
	e.cache.put(key, stored)
	if o.hasTTL {
		e.setTTLLocked(key, exp)
	} else {
		e.clearTTLLocked(key)
	}
	e.indexes.Apply(key, stored, true, old, hadOld)
	e.writes.Inc()

	if e.broadcast != nil && !IsInternalKey(key) {
		e.broadcast(storage.OpPut, key, stored)
	}

	e.events.emit(Event{Type: EventSet, Key: key, Value: stored, Old: old})
	e.watchers.notify(key, stored, old)
	e.chain.postWrite(key, stored)
	return nil
}

// Get returns the value for key. Absence is (nil, false, nil), not an
// error. A cache hit promotes the entry; a miss populates the cache.
func (e *Engine) Get(key string) (interface{}, bool, error) {
	if err := e.guard(); err != nil {
		return nil, false, err
	}
	if err := e.chain.preRead(key); err != nil {
		return nil, false, err
	}
	e.reads.Inc()

	if value, ok := e.cache.get(key); ok {
		e.hits.Inc()
		return e.finishRead(key, value)
	}
	e.misses.Inc()

	// Populate the cache while still holding the read lock, so a delete
	// cannot interleave and leave a stale reinsert behind.
	e.mu.RLock()
	value, ok := e.data[key]
	if ok {
		e.cache.put(key, value)
	}
	e.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return e.finishRead(key, value)
}

func (e *Engine) finishRead(key string, value interface{}) (interface{}, bool, error) {
	out, err := e.chain.postRead(key, value)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}

// Has reports whether key exists. Expired-but-unswept keys still report
// true until the sweeper runs.
func (e *Engine) Has(key string) (bool, error) {
	if err := e.guard(); err != nil {
		return false, err
	}
	e.mu.RLock()
	_, ok := e.data[key]
	e.mu.RUnlock()
	return ok, nil
}

// Delete removes key. Deleting an absent key returns (false, nil).
func (e *Engine) Delete(key string) (bool, error) {
	if err := e.guard(); err != nil {
		return false, err
	}
	if e.readOnly.Load() {
		return false, errors.New(errors.CategoryConstraintViolation, errors.CodeReplicaReadOnly,
			"replica rejects local writes; route them through the primary")
	}
	return e.del(key)
}

// del is the shared delete path for public, replicated and sweeper deletes.
func (e *Engine) del(key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.delLocked(key)
}

func (e *Engine) delLocked(key string) (bool, error) {
	old, ok := e.data[key]
	if !ok {
		return false, nil
	}

	if err := e.wal.Append(storage.Record{Op: storage.OpDelete, K: key}); err != nil {
		return false, errors.Wrap(err, errors.CategoryDurability, errors.CodeWALAppend, "WAL append failed for key '%s'", key)
	}

	delete(e.data, key)
	e.cache.remove(key)
	e.clearTTLLocked(key)
	e.indexes.Apply(key, nil, false, old, true)
	e.writes.Inc()

	if e.broadcast != nil && !IsInternalKey(key) {
		e.broadcast(storage.OpDelete, key, nil)
	}

	e.events.emit(Event{Type: EventDelete, Key: key, Old: old})
	e.watchers.notify(key, nil, old)
	return true, nil
}

// Clear resets the store. Watcher notifications are not delivered for
// clear; the clear event is.
func (e *Engine) Clear() error {
	if err := e.guard(); err != nil {
		return err
	}
	if e.readOnly.Load() {
		return errors.New(errors.CategoryConstraintViolation, errors.CodeReplicaReadOnly,
			"replica rejects local writes; route them through the primary")
	}
	return e.clear()
}

func (e *Engine) clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.wal.Append(storage.Record{Op: storage.OpClear}); err != nil {
		return errors.Wrap(err, errors.CategoryDurability, errors.CodeWALTruncate, "WAL append failed for clear")
	}

	e.data = make(map[string]interface{})
	e.ttl = make(map[string]int64)
	e.ttlMirror = make(map[string]interface{})
	e.cache.reset()
	e.indexes.Clear()
	e.writes.Inc()

	if e.broadcast != nil {
		e.broadcast(storage.OpClear, "", nil)
	}

	e.events.emit(Event{Type: EventClear})
	return nil
}

// All returns a copy of the store contents with post-read interceptors
// applied. Internal keys are included; callers that must not see them
// filter on IsInternalKey.
func (e *Engine) All() (map[string]interface{}, error) {
	if err := e.guard(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	raw := make(map[string]interface{}, len(e.data))
	for key, value := range e.data {
		raw[key] = value
	}
	e.mu.RUnlock()

	out := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		v, err := e.chain.postRead(key, value)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Len returns the number of keys in the store in O(1).
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.data)
}

// Watch registers fn on key; the handle removes exactly this watcher.
func (e *Engine) Watch(key string, fn WatchFunc) WatchID {
	return e.watchers.add(key, fn)
}

// Unwatch removes the given watcher ids from key; with no ids it removes
// every watcher on the key.
func (e *Engine) Unwatch(key string, ids ...WatchID) {
	e.watchers.remove(key, ids...)
}

// On subscribes fn to an event type from the closed taxonomy.
func (e *Engine) On(t EventType, fn EventHandler) (EventID, error) {
	return e.events.on(t, fn)
}

// Off removes an event subscription.
func (e *Engine) Off(t EventType, id EventID) {
	e.events.off(t, id)
}

// CreateIndex builds a secondary index on field over the current store
// contents. The index becomes visible to queries only once the build
// completes; the build batches cooperatively and honors ctx cancellation.
func (e *Engine) CreateIndex(ctx context.Context, field string, kind index.Kind) error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.RLock()
	snapshot := make(map[string]interface{}, len(e.data))
	for key, value := range e.data {
		if !IsInternalKey(key) {
			snapshot[key] = value
		}
	}
	e.mu.RUnlock()
	return e.indexes.Create(ctx, field, kind, snapshot)
}

// DropIndex removes the index on field.
func (e *Engine) DropIndex(field string) bool {
	return e.indexes.Drop(field)
}

// ListIndexes returns the registered indexes.
func (e *Engine) ListIndexes() []index.Info {
	return e.indexes.List()
}

// Indexes exposes the index manager to the query engine.
func (e *Engine) Indexes() *index.Manager {
	return e.indexes
}

// SetBroadcast installs the replication broadcast hook. Installed once at
// startup on the primary, before writes flow.
func (e *Engine) SetBroadcast(fn BroadcastFunc) {
	e.broadcast = fn
}

// SetReadOnly toggles the replica guard that rejects public-API writes.
func (e *Engine) SetReadOnly(readOnly bool) {
	e.readOnly.Store(readOnly)
}

// ApplyReplicatedPut applies an inbound replicated write, bypassing the
// replica read-only guard.
func (e *Engine) ApplyReplicatedPut(key string, value interface{}) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.put(key, value, SetOptions{})
}

// ApplyReplicatedDelete applies an inbound replicated delete.
func (e *Engine) ApplyReplicatedDelete(key string) (bool, error) {
	if err := e.guard(); err != nil {
		return false, err
	}
	return e.del(key)
}

// ApplyReplicatedClear applies an inbound replicated clear.
func (e *Engine) ApplyReplicatedClear() error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.clear()
}

// SystemSet writes node-local state (internal keys), bypassing the
// read-only guard. Used for the conflict log and migration records.
func (e *Engine) SystemSet(key string, value interface{}) error {
	if err := e.guard(); err != nil {
		return err
	}
	return e.put(key, value, SetOptions{})
}

// Stats returns the counter snapshot.
func (e *Engine) Stats() Stats {
	hits := e.hits.Value()
	misses := e.misses.Value()
	total := hits + misses
	rate := 0.0
	if total > 0 {
		rate = float64(hits) / float64(total)
	}
	e.mu.RLock()
	size := len(e.data)
	ttlCount := len(e.ttl)
	e.mu.RUnlock()
	return Stats{
		Reads:    e.reads.Value(),
		Writes:   e.writes.Value(),
		Hits:     hits,
		Misses:   misses,
		HitRate:  rate,
		Size:     size,
		TTLCount: ttlCount,
	}
}

// Compact writes a fresh snapshot and truncates the WAL. The writer lock
// is held for the duration, so no append can interleave with the rename
// and truncate; the rename is the linearisation point.
func (e *Engine) Compact() error {
	if err := e.guard(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.snap.Write(e.data); err != nil {
		return errors.Wrap(err, errors.CategoryDurability, errors.CodeSnapshotSave, "snapshot write failed")
	}
	if err := e.wal.Truncate(); err != nil {
		return errors.Wrap(err, errors.CategoryDurability, errors.CodeWALTruncate, "WAL truncate failed")
	}
	return nil
}

// compactLoop persists a snapshot every save interval.
func (e *Engine) compactLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SaveInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := e.Compact(); err != nil {
				e.log.Error("periodic compaction failed", "error", err)
				e.events.emit(Event{Type: EventError, Err: err})
			}
		case <-e.stop:
			return
		}
	}
}

// Close stops background tasks, compacts once so restart replay is
// bounded, emits the close event and releases the WAL handle.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if !e.ready.Load() {
			return
		}
		close(e.stop)
		e.wg.Wait()

		if cerr := e.Compact(); cerr != nil {
			e.log.Error("final compaction failed", "error", cerr)
			err = cerr
		}
		e.ready.Store(false)
		e.events.emit(Event{Type: EventClose})
		if werr := e.wal.Close(); werr != nil && err == nil {
			err = werr
		}
	})
	return err
}
