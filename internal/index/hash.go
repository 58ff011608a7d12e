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

package index

import "sort"

// hashIndex maps indexed terms to key sets for equality and membership
// lookups. Scalars (strings, numbers, booleans) are indexable; JSON null is
// tracked in its own bucket; structured values are skipped as
// type-incompatible.
type hashIndex struct {
	buckets map[interface{}]map[string]struct{}
	nulls   map[string]struct{}
	covered map[string]struct{} // every key present in some bucket
}

func newHashIndex() *hashIndex {
	return &hashIndex{
		buckets: make(map[interface{}]map[string]struct{}),
		nulls:   make(map[string]struct{}),
		covered: make(map[string]struct{}),
	}
}

// hashTerm normalises v into a comparable bucket term. Numbers collapse to
// float64 so 25 and 25.0 share a bucket. ok is false for structured values.
func hashTerm(v interface{}) (term interface{}, isNull, ok bool) {
	if v == nil {
		return nil, true, true
	}
	if f, numeric := Numeric(v); numeric {
		return f, false, true
	}
	switch t := v.(type) {
	case string:
		return t, false, true
	case bool:
		return t, false, true
	}
	return nil, false, false
}

func (h *hashIndex) add(key string, v interface{}) {
	term, isNull, ok := hashTerm(v)
	if !ok {
		return
	}
	if isNull {
		h.nulls[key] = struct{}{}
	} else {
		bucket, exists := h.buckets[term]
		if !exists {
			bucket = make(map[string]struct{})
			h.buckets[term] = bucket
		}
		bucket[key] = struct{}{}
	}
	h.covered[key] = struct{}{}
}

func (h *hashIndex) remove(key string, v interface{}) {
	term, isNull, ok := hashTerm(v)
	if !ok {
		return
	}
	if isNull {
		delete(h.nulls, key)
	} else if bucket, exists := h.buckets[term]; exists {
		delete(bucket, key)
		if len(bucket) == 0 {
			delete(h.buckets, term)
		}
	}
	delete(h.covered, key)
}

// lookup evaluates an equality/membership operator against the buckets.
// Supported operators: "=", "!=", "in".
func (h *hashIndex) lookup(op string, value interface{}) ([]string, bool) {
	switch op {
	case "=":
		return setToSorted(h.bucketFor(value)), true
	case "!=":
		match := h.bucketFor(value)
		out := make([]string, 0, len(h.covered))
		for key := range h.covered {
			if _, hit := match[key]; !hit {
				out = append(out, key)
			}
		}
		sort.Strings(out)
		return out, true
	case "in":
		list, ok := value.([]interface{})
		if !ok {
			return nil, false
		}
		union := make(map[string]struct{})
		for _, item := range list {
			for key := range h.bucketFor(item) {
				union[key] = struct{}{}
			}
		}
		return setToSorted(union), true
	}
	return nil, false
}

func (h *hashIndex) bucketFor(value interface{}) map[string]struct{} {
	term, isNull, ok := hashTerm(value)
	if !ok {
		return nil
	}
	if isNull {
		return h.nulls
	}
	return h.buckets[term]
}

func setToSorted(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
