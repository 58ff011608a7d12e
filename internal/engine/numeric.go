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
	"driftdb/internal/index"
)

// Add increments the numeric value at key by delta and returns the new
// value. A missing or non-numeric stored value coerces to 0 before the
// increment; collection boundaries validate instead of coercing.
func (e *Engine) Add(key string, delta float64) (float64, error) {
	e.rmwMu.Lock()
	defer e.rmwMu.Unlock()

	current, _, err := e.Get(key)
	if err != nil {
		return 0, err
	}
	base, _ := index.Numeric(current) // undefined and non-numeric both read as 0
	next := base + delta
	if err := e.Set(key, next); err != nil {
		return 0, err
	}
	e.events.emit(Event{Type: EventAdd, Key: key, Value: next, Old: current})
	return next, nil
}

// Subtract decrements the numeric value at key by delta.
func (e *Engine) Subtract(key string, delta float64) (float64, error) {
	return e.Add(key, -delta)
}

// Push appends item to the array stored at key, creating the array if the
// key is absent. A non-array stored value is replaced by a single-element
// array holding item.
func (e *Engine) Push(key string, item interface{}) error {
	e.rmwMu.Lock()
	defer e.rmwMu.Unlock()

	current, found, err := e.Get(key)
	if err != nil {
		return err
	}
	var arr []interface{}
	if found {
		arr, _ = current.([]interface{})
	}
	arr = append(arr, item)
	if err := e.Set(key, arr); err != nil {
		return err
	}
	e.events.emit(Event{Type: EventPush, Key: key, Value: item})
	return nil
}

// Pull removes every array element at key for which match returns true and
// reports how many were removed. Pulling from a missing or non-array value
// removes nothing.
func (e *Engine) Pull(key string, match func(item interface{}) bool) (int, error) {
	e.rmwMu.Lock()
	defer e.rmwMu.Unlock()

	current, found, err := e.Get(key)
	if err != nil || !found {
		return 0, err
	}
	arr, ok := current.([]interface{})
	if !ok {
		return 0, nil
	}
	kept := make([]interface{}, 0, len(arr))
	removed := 0
	for _, item := range arr {
		if match(item) {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	if removed == 0 {
		return 0, nil
	}
	if err := e.Set(key, kept); err != nil {
		return 0, err
	}
	e.events.emit(Event{Type: EventPull, Key: key, Value: removed})
	return removed, nil
}
