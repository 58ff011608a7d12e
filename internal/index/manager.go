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
Package index maintains secondary indexes over the DriftDB store.

Index Kinds:
============

  - hash:  equality and membership (=, !=, in); null tracked separately
  - range: ordered comparisons (>, >=, <, <=) on numbers and strings,
           backed by sorted (value, key) sequences with binary search
  - text:  tokenised substring membership (contains, startsWith, endsWith)

Maintenance Protocol:
=====================

After every successful store write, the Manager receives
(key, newValue, oldValue). For each registered index on field F it removes
the key from the bucket for project(oldValue, F) if defined, and adds it to
the bucket for project(newValue, F) if defined and type-compatible. Index
updates never fail in isolation: type-incompatible values silently skip the
index and remain queryable by full scan.

Online Builds:
==============

Creating an index on a populated store iterates a snapshot of the store in
batches, yielding cooperatively between batches and honoring context
cancellation. Writes that land during the build are buffered and applied
before publication; the index only answers lookups once published.
*/
package index

import (
	"context"
	"runtime"
	"sync"

	"driftdb/internal/errors"
	"driftdb/internal/logging"
)

// Kind identifies a secondary index type.
type Kind string

const (
	KindHash  Kind = "hash"
	KindRange Kind = "range"
	KindText  Kind = "text"
)

// buildBatchSize is the number of entries indexed between cooperative
// yields during an online build.
const buildBatchSize = 512

// Info describes a registered index.
type Info struct {
	Field string `json:"field"`
	Kind  Kind   `json:"kind"`
}

// implementation is the per-kind bucket store.
type implementation interface {
	add(key string, v interface{})
	remove(key string, v interface{})
	lookup(op string, value interface{}) ([]string, bool)
}

func newImplementation(kind Kind) implementation {
	switch kind {
	case KindHash:
		return newHashIndex()
	case KindRange:
		return newRangeIndex()
	case KindText:
		return newTextIndex()
	}
	return nil
}

// pendingUpdate is a write buffered while its index is still building.
type pendingUpdate struct {
	key      string
	newValue interface{}
	oldValue interface{}
	hasOld   bool
	hasNew   bool
}

// registered is one index plus its publication state.
type registered struct {
	info    Info
	impl    implementation
	ready   bool
	pending []pendingUpdate
}

// Manager owns all secondary indexes for one engine.
//
// Apply is called from inside the engine's writer critical section; Lookup
// is called from the read path. The Manager carries its own RWMutex so both
// are safe regardless of the caller's locking.
type Manager struct {
	mu      sync.RWMutex
	indexes map[string]*registered
	log     *logging.Logger
}

// NewManager creates an empty index Manager.
func NewManager() *Manager {
	return &Manager{
		indexes: make(map[string]*registered),
		log:     logging.NewLogger("index"),
	}
}

// Create registers an index on field and populates it from snapshot, a copy
// of the store taken by the caller. The build batches over the snapshot and
// checks ctx between batches; on cancellation the partial build is discarded
// before publication and the index is deregistered.
func (m *Manager) Create(ctx context.Context, field string, kind Kind, snapshot map[string]interface{}) error {
	impl := newImplementation(kind)
	if impl == nil {
		return errors.New(errors.CategoryValidation, errors.CodeBadValue, "unknown index kind '%s'", kind)
	}

	m.mu.Lock()
	if existing, ok := m.indexes[field]; ok {
		m.mu.Unlock()
		if existing.info.Kind == kind {
			return nil // idempotent re-create
		}
		return errors.New(errors.CategoryValidation, errors.CodeBadValue,
			"index on '%s' already exists with kind '%s'", field, existing.info.Kind)
	}
	reg := &registered{info: Info{Field: field, Kind: kind}, impl: impl}
	m.indexes[field] = reg
	m.mu.Unlock()

	// Build outside the lock so writes keep flowing; they land in
	// reg.pending via Apply.
	count := 0
	for key, value := range snapshot {
		if projected, ok := Project(value, field); ok {
			impl.add(key, projected)
		}
		count++
		if count%buildBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				m.mu.Lock()
				delete(m.indexes, field)
				m.mu.Unlock()
				m.log.Warn("index build cancelled", "field", field, "indexed", count)
				return err
			}
			runtime.Gosched()
		}
	}

	// Publication: drain buffered writes, then open for lookups.
	m.mu.Lock()
	for _, p := range reg.pending {
		if p.hasOld {
			impl.remove(p.key, p.oldValue)
		}
		if p.hasNew {
			impl.add(p.key, p.newValue)
		}
	}
	reg.pending = nil
	reg.ready = true
	m.mu.Unlock()

	m.log.Info("index built", "field", field, "kind", kind, "entries", count)
	return nil
}

// Drop removes the index on field. Returns false if no such index exists.
func (m *Manager) Drop(field string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.indexes[field]; !ok {
		return false
	}
	delete(m.indexes, field)
	return true
}

// List returns the registered indexes, including those still building.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.indexes))
	for _, reg := range m.indexes {
		out = append(out, reg.info)
	}
	return out
}

// Apply maintains every index after a store write. oldValue/newValue use the
// (value, defined) convention: a create has no old image, a delete no new
// image.
func (m *Manager) Apply(key string, newValue interface{}, hasNew bool, oldValue interface{}, hasOld bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for field, reg := range m.indexes {
		oldProjected, oldDefined := projectIf(oldValue, hasOld, field)
		newProjected, newDefined := projectIf(newValue, hasNew, field)
		if !oldDefined && !newDefined {
			continue
		}
		if !reg.ready {
			reg.pending = append(reg.pending, pendingUpdate{
				key:      key,
				oldValue: oldProjected, hasOld: oldDefined,
				newValue: newProjected, hasNew: newDefined,
			})
			continue
		}
		if oldDefined {
			reg.impl.remove(key, oldProjected)
		}
		if newDefined {
			reg.impl.add(key, newProjected)
		}
	}
}

func projectIf(value interface{}, present bool, field string) (interface{}, bool) {
	if !present {
		return nil, false
	}
	return Project(value, field)
}

// Clear resets the contents of every index, keeping the definitions. Used
// by the store's clear operation.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, reg := range m.indexes {
		reg.impl = newImplementation(reg.info.Kind)
		reg.pending = nil
	}
}

// Lookup dispatches an operator to the index on field. The second return is
// false when no published index covers (field, op); callers then degrade to
// a full scan, which is logged as a non-error.
func (m *Manager) Lookup(field, op string, value interface{}) ([]string, bool) {
	m.mu.RLock()
	reg, ok := m.indexes[field]
	if !ok || !reg.ready {
		m.mu.RUnlock()
		return nil, false
	}
	keys, supported := reg.impl.lookup(op, value)
	m.mu.RUnlock()

	if !supported {
		m.log.Debug("operator unsupported by index, falling back to scan",
			"field", field, "op", op, "kind", reg.info.Kind)
		return nil, false
	}
	return keys, true
}
