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
Package query implements DriftDB's query engine.

Two query surfaces exist:

  - Find(predicate): filter by a caller-supplied predicate over key and
    value. Always a full scan.
  - Where(field, op, value): compiled into a tagged query AST. When a
    published index covers (field, op) the executor dispatches to the index
    and hydrates values from the store; otherwise it degrades to a full
    scan. Degradation is logged, never an error.

Compiled predicates are cached in a bounded LRU keyed by field|op|value so
repeated queries skip recompilation.

Both surfaces return a Result pipeline (pipeline.go) supporting sort,
limit, skip, first, last, filter, map and the aggregations in
aggregate.go. Pipelines are eager; the engine targets working sets up to
roughly 10^5 entries.
*/
package query

import (
	"container/list"
	"fmt"
	"sort"
	"strings"
	"sync"

	"driftdb/internal/index"
)

// Source is the store surface the query engine reads from. The engine
// package satisfies it.
type Source interface {
	All() (map[string]interface{}, error)
	Get(key string) (interface{}, bool, error)
	Len() int
	Indexes() *index.Manager
}

// Query is the tagged AST produced by Where. The executor decides between
// the index path and the scan path from this structure alone; there is no
// side-channel metadata.
type Query struct {
	Kind  string      `json:"kind"` // always "where" for now
	Field string      `json:"field"`
	Op    string      `json:"op"`
	Value interface{} `json:"value"`
}

// Predicate filters one store entry.
type Predicate func(key string, value interface{}) bool

// predicateCacheLimit bounds the compiled-predicate cache.
const predicateCacheLimit = 256

// Runner executes queries against one Source.
type Runner struct {
	src Source

	mu    sync.Mutex
	cache map[string]*list.Element
	lru   *list.List
}

type cachedPredicate struct {
	key  string
	pred Predicate
}

// NewRunner creates a query Runner over src.
func NewRunner(src Source) *Runner {
	return &Runner{
		src:   src,
		cache: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// Find filters the store by an arbitrary predicate. Internal keys (prefix
// "_") are excluded, matching the index and replication surfaces.
func (r *Runner) Find(pred Predicate) (*Result, error) {
	return r.scan(pred)
}

// Where compiles (field, op, value) and executes it, using an index when
// one covers the operator.
func (r *Runner) Where(field, op string, value interface{}) (*Result, error) {
	q := Query{Kind: "where", Field: field, Op: op, Value: value}
	return r.Run(q)
}

// Run executes a tagged query AST.
func (r *Runner) Run(q Query) (*Result, error) {
	if keys, ok := r.src.Indexes().Lookup(q.Field, q.Op, q.Value); ok {
		return r.hydrate(keys)
	}
	pred, err := r.compile(q)
	if err != nil {
		return nil, err
	}
	return r.scan(pred)
}

// hydrate builds a Result from index-provided keys, preserving index
// order, and reading current values from the store.
func (r *Runner) hydrate(keys []string) (*Result, error) {
	matches := make([]Match, 0, len(keys))
	for _, key := range keys {
		if strings.HasPrefix(key, "_") {
			continue
		}
		value, ok, err := r.src.Get(key)
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, Match{Key: key, Value: value})
		}
	}
	return &Result{matches: matches}, nil
}

// scan walks the whole store. Matches are ordered by key so downstream
// pipeline operations start deterministic.
func (r *Runner) scan(pred Predicate) (*Result, error) {
	all, err := r.src.All()
	if err != nil {
		return nil, err
	}
	matches := make([]Match, 0)
	for key, value := range all {
		if strings.HasPrefix(key, "_") {
			continue
		}
		if pred(key, value) {
			matches = append(matches, Match{Key: key, Value: value})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Key < matches[j].Key })
	return &Result{matches: matches}, nil
}

// Count returns the store size without scanning.
func (r *Runner) Count() int {
	return r.src.Len()
}

// compile turns a Query into a Predicate, consulting the bounded cache.
func (r *Runner) compile(q Query) (Predicate, error) {
	cacheKey := fmt.Sprintf("%s|%s|%v", q.Field, q.Op, q.Value)

	r.mu.Lock()
	if elem, ok := r.cache[cacheKey]; ok {
		r.lru.MoveToFront(elem)
		pred := elem.Value.(*cachedPredicate).pred
		r.mu.Unlock()
		return pred, nil
	}
	r.mu.Unlock()

	pred, err := compileOp(q)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	for len(r.cache) >= predicateCacheLimit {
		oldest := r.lru.Back()
		if oldest == nil {
			break
		}
		r.lru.Remove(oldest)
		delete(r.cache, oldest.Value.(*cachedPredicate).key)
	}
	r.cache[cacheKey] = r.lru.PushFront(&cachedPredicate{key: cacheKey, pred: pred})
	r.mu.Unlock()
	return pred, nil
}

// compileOp builds the operator predicate. Unknown operators are an error;
// undefined fields simply never match (an empty pipeline, not an error).
func compileOp(q Query) (Predicate, error) {
	field, op, want := q.Field, q.Op, q.Value
	switch op {
	case "=":
		return func(_ string, v interface{}) bool {
			got, ok := index.Project(v, field)
			return ok && looseEqual(got, want)
		}, nil
	case "!=":
		return func(_ string, v interface{}) bool {
			got, ok := index.Project(v, field)
			return ok && !looseEqual(got, want)
		}, nil
	case "in":
		list, ok := want.([]interface{})
		if !ok {
			return nil, fmt.Errorf("operator 'in' requires an array value")
		}
		return func(_ string, v interface{}) bool {
			got, ok := index.Project(v, field)
			if !ok {
				return false
			}
			for _, item := range list {
				if looseEqual(got, item) {
					return true
				}
			}
			return false
		}, nil
	case ">", ">=", "<", "<=":
		return func(_ string, v interface{}) bool {
			got, ok := index.Project(v, field)
			if !ok {
				return false
			}
			cmp, comparable := Compare(got, want)
			if !comparable {
				return false
			}
			switch op {
			case ">":
				return cmp > 0
			case ">=":
				return cmp >= 0
			case "<":
				return cmp < 0
			default:
				return cmp <= 0
			}
		}, nil
	case "contains", "startsWith", "endsWith":
		needle, ok := want.(string)
		if !ok {
			return nil, fmt.Errorf("operator '%s' requires a string value", op)
		}
		lower := strings.ToLower(needle)
		return func(_ string, v interface{}) bool {
			got, ok := index.Project(v, field)
			if !ok {
				return false
			}
			s, ok := got.(string)
			if !ok {
				return false
			}
			s = strings.ToLower(s)
			switch op {
			case "contains":
				return strings.Contains(s, lower)
			case "startsWith":
				return strings.HasPrefix(s, lower)
			default:
				return strings.HasSuffix(s, lower)
			}
		}, nil
	}
	return nil, fmt.Errorf("unknown operator '%s'", op)
}

// looseEqual compares scalars with numeric coercion so 25 and 25.0 match.
func looseEqual(a, b interface{}) bool {
	if af, ok := index.Numeric(a); ok {
		if bf, ok := index.Numeric(b); ok {
			return af == bf
		}
		return false
	}
	return a == b
}

// Compare orders two values of the same type class. Numbers order
// numerically, strings lexicographically. The second return is false for
// incomparable pairs.
func Compare(a, b interface{}) (int, bool) {
	if af, ok := index.Numeric(a); ok {
		bf, ok := index.Numeric(b)
		if !ok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}
