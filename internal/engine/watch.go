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
	"sync"

	"driftdb/internal/logging"
)

// WatchFunc observes writes to a single key. On set it receives
// (newValue, oldValue); on delete (nil, oldValue). Callbacks run
// synchronously on the writer path in registration order, before the next
// write to the same key is acknowledged; panics are isolated from the
// writer.
type WatchFunc func(newValue, oldValue interface{})

// WatchID identifies a registered watcher for removal.
type WatchID uint64

type watcher struct {
	id WatchID
	fn WatchFunc
}

// watchRegistry maps keys to ordered watcher lists.
type watchRegistry struct {
	mu     sync.RWMutex
	nextID WatchID
	byKey  map[string][]watcher
	log    *logging.Logger
}

func newWatchRegistry() *watchRegistry {
	return &watchRegistry{
		byKey: make(map[string][]watcher),
		log:   logging.NewLogger("watch"),
	}
}

// add registers fn on key and returns its removal handle.
func (w *watchRegistry) add(key string, fn WatchFunc) WatchID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	id := w.nextID
	w.byKey[key] = append(w.byKey[key], watcher{id: id, fn: fn})
	return id
}

// remove drops the given watcher ids from key; with no ids it clears every
// watcher on the key. Removal is idempotent.
func (w *watchRegistry) remove(key string, ids ...WatchID) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(ids) == 0 {
		delete(w.byKey, key)
		return
	}
	watchers := w.byKey[key]
	kept := watchers[:0]
	for _, wt := range watchers {
		drop := false
		for _, id := range ids {
			if wt.id == id {
				drop = true
				break
			}
		}
		if !drop {
			kept = append(kept, wt)
		}
	}
	if len(kept) == 0 {
		delete(w.byKey, key)
	} else {
		w.byKey[key] = kept
	}
}

// notify delivers (newValue, oldValue) to every watcher on key in
// registration order.
func (w *watchRegistry) notify(key string, newValue, oldValue interface{}) {
	w.mu.RLock()
	watchers := make([]watcher, len(w.byKey[key]))
	copy(watchers, w.byKey[key])
	w.mu.RUnlock()

	for _, wt := range watchers {
		w.invoke(wt, key, newValue, oldValue)
	}
}

func (w *watchRegistry) invoke(wt watcher, key string, newValue, oldValue interface{}) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("watcher panicked", "key", key, "panic", r)
		}
	}()
	wt.fn(newValue, oldValue)
}
