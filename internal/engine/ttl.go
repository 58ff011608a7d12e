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

import "time"

// sweepLoop scans the TTL table every sweep interval and expires due keys.
func (e *Engine) sweepLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(ttlSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.SweepExpired()
		case <-e.stop:
			return
		}
	}
}

// SweepExpired runs one sweep pass synchronously and returns the number of
// keys deleted. Expiry goes through the full delete path, so the WAL,
// cache, indexes, events, watchers and replication all observe it as a
// normal delete. Exposed for embedders that want deterministic expiry in
// tests or shutdown paths.
func (e *Engine) SweepExpired() int {
	if !e.ready.Load() {
		return 0
	}
	now := time.Now().UnixMilli()

	e.mu.RLock()
	var due []string
	for key, exp := range e.ttl {
		if exp <= now {
			due = append(due, key)
		}
	}
	e.mu.RUnlock()

	deleted := 0
	for _, key := range due {
		e.mu.Lock()
		// Re-check under the lock: the key may have been rewritten with a
		// fresh TTL, or deleted, since the scan.
		exp, tracked := e.ttl[key]
		if !tracked || exp > now {
			e.mu.Unlock()
			continue
		}
		ok, err := e.delLocked(key)
		e.mu.Unlock()
		if err != nil {
			e.log.Error("TTL sweep delete failed", "key", key, "error", err)
			e.events.emit(Event{Type: EventError, Key: key, Err: err})
			continue
		}
		if ok {
			deleted++
		}
	}
	if deleted > 0 {
		e.log.Debug("TTL sweep complete", "expired", deleted)
	}
	return deleted
}
