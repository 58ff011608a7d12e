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

import (
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// rangeIndex supports ordered comparisons on numbers and strings. It keeps
// two sorted (value, key) sequences, one per type class, so mixed-type
// fields stay queryable for the compatible subset. Ordering within a value
// tie is by key, which keeps insertion and removal deterministic.
//
// Strings are ordered with a language-neutral Unicode collator. This is not
// the byte-wise order of query.Compare, which full scans and Result.Sort
// use, so the two orders can differ (for example on letter case).
type rangeIndex struct {
	nums []rangeEntry // sorted by numeric value, then key
	strs []rangeEntry // sorted by collated string value, then key

	collator *collate.Collator
}

type rangeEntry struct {
	num float64
	str string
	key string
}

func newRangeIndex() *rangeIndex {
	return &rangeIndex{collator: collate.New(language.Und)}
}

func (r *rangeIndex) add(key string, v interface{}) {
	if f, ok := Numeric(v); ok {
		e := rangeEntry{num: f, key: key}
		i := sort.Search(len(r.nums), func(i int) bool {
			return r.nums[i].num > f || (r.nums[i].num == f && r.nums[i].key >= key)
		})
		r.nums = append(r.nums, rangeEntry{})
		copy(r.nums[i+1:], r.nums[i:])
		r.nums[i] = e
		return
	}
	if s, ok := v.(string); ok {
		e := rangeEntry{str: s, key: key}
		i := sort.Search(len(r.strs), func(i int) bool {
			c := r.collator.CompareString(r.strs[i].str, s)
			return c > 0 || (c == 0 && r.strs[i].key >= key)
		})
		r.strs = append(r.strs, rangeEntry{})
		copy(r.strs[i+1:], r.strs[i:])
		r.strs[i] = e
	}
	// other types are not range-compatible and are skipped
}

func (r *rangeIndex) remove(key string, v interface{}) {
	if f, ok := Numeric(v); ok {
		i := sort.Search(len(r.nums), func(i int) bool {
			return r.nums[i].num > f || (r.nums[i].num == f && r.nums[i].key >= key)
		})
		if i < len(r.nums) && r.nums[i].num == f && r.nums[i].key == key {
			r.nums = append(r.nums[:i], r.nums[i+1:]...)
		}
		return
	}
	if s, ok := v.(string); ok {
		i := sort.Search(len(r.strs), func(i int) bool {
			c := r.collator.CompareString(r.strs[i].str, s)
			return c > 0 || (c == 0 && r.strs[i].key >= key)
		})
		if i < len(r.strs) && r.strs[i].str == s && r.strs[i].key == key {
			r.strs = append(r.strs[:i], r.strs[i+1:]...)
		}
	}
}

// lookup evaluates an ordered comparison. Supported operators: ">", ">=",
// "<", "<=", "=". Results are in ascending value order.
func (r *rangeIndex) lookup(op string, value interface{}) ([]string, bool) {
	if f, ok := Numeric(value); ok {
		return r.lookupNumeric(op, f)
	}
	if s, ok := value.(string); ok {
		return r.lookupString(op, s)
	}
	return nil, false
}

func (r *rangeIndex) lookupNumeric(op string, f float64) ([]string, bool) {
	// Boundary index: first entry with value >= f (or > f for exclusive ops).
	ge := sort.Search(len(r.nums), func(i int) bool { return r.nums[i].num >= f })
	gt := sort.Search(len(r.nums), func(i int) bool { return r.nums[i].num > f })

	switch op {
	case ">=":
		return keysOf(r.nums[ge:]), true
	case ">":
		return keysOf(r.nums[gt:]), true
	case "<":
		return keysOf(r.nums[:ge]), true
	case "<=":
		return keysOf(r.nums[:gt]), true
	case "=":
		return keysOf(r.nums[ge:gt]), true
	}
	return nil, false
}

func (r *rangeIndex) lookupString(op string, s string) ([]string, bool) {
	ge := sort.Search(len(r.strs), func(i int) bool { return r.collator.CompareString(r.strs[i].str, s) >= 0 })
	gt := sort.Search(len(r.strs), func(i int) bool { return r.collator.CompareString(r.strs[i].str, s) > 0 })

	switch op {
	case ">=":
		return keysOf(r.strs[ge:]), true
	case ">":
		return keysOf(r.strs[gt:]), true
	case "<":
		return keysOf(r.strs[:ge]), true
	case "<=":
		return keysOf(r.strs[:gt]), true
	case "=":
		return keysOf(r.strs[ge:gt]), true
	}
	return nil, false
}

func keysOf(entries []rangeEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out
}
