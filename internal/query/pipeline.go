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

package query

import (
	"sort"

	"driftdb/internal/index"
)

// Match is one entry in a query result: the store key plus its value at
// match time.
type Match struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Result is the in-memory, ordered result pipeline. Every operation
// returns a new Result so chains never mutate shared state:
//
//	res.Sort("age", "asc").Skip(10).Limit(10).Values()
type Result struct {
	matches []Match
}

// NewResult wraps matches in a pipeline; used by the collection layer.
func NewResult(matches []Match) *Result {
	return &Result{matches: matches}
}

// Sort orders matches by the projected field. Direction is "asc" (default)
// or "desc". The sort is stable, so ties keep their prior order. Matches
// whose field is undefined sort last in either direction; two values that
// cannot be compared (for example a number and a string) count as a tie.
func (r *Result) Sort(field, direction string) *Result {
	out := r.clone()
	desc := direction == "desc"
	sort.SliceStable(out.matches, func(i, j int) bool {
		_, aok := index.Project(out.matches[i].Value, field)
		_, bok := index.Project(out.matches[j].Value, field)
		if aok != bok {
			return aok
		}
		cmp, ok := compareMatches(out.matches[i], out.matches[j], field)
		if !ok {
			return false
		}
		if desc {
			return cmp > 0
		}
		return cmp < 0
	})
	return out
}

// SortFunc orders matches with a caller-supplied less function (stable).
func (r *Result) SortFunc(less func(a, b Match) bool) *Result {
	out := r.clone()
	sort.SliceStable(out.matches, func(i, j int) bool {
		return less(out.matches[i], out.matches[j])
	})
	return out
}

func compareMatches(a, b Match, field string) (int, bool) {
	av, aok := index.Project(a.Value, field)
	bv, bok := index.Project(b.Value, field)
	switch {
	case !aok && !bok:
		return 0, true
	case !aok:
		return 1, true // undefined sorts last
	case !bok:
		return -1, true
	}
	return Compare(av, bv)
}

// Limit keeps at most n matches.
func (r *Result) Limit(n int) *Result {
	if n < 0 {
		n = 0
	}
	if n > len(r.matches) {
		n = len(r.matches)
	}
	return &Result{matches: append([]Match(nil), r.matches[:n]...)}
}

// Skip drops the first n matches.
func (r *Result) Skip(n int) *Result {
	if n < 0 {
		n = 0
	}
	if n > len(r.matches) {
		n = len(r.matches)
	}
	return &Result{matches: append([]Match(nil), r.matches[n:]...)}
}

// First returns the first match.
func (r *Result) First() (Match, bool) {
	if len(r.matches) == 0 {
		return Match{}, false
	}
	return r.matches[0], true
}

// Last returns the last match.
func (r *Result) Last() (Match, bool) {
	if len(r.matches) == 0 {
		return Match{}, false
	}
	return r.matches[len(r.matches)-1], true
}

// Filter keeps matches for which keep returns true.
func (r *Result) Filter(keep func(m Match) bool) *Result {
	out := make([]Match, 0, len(r.matches))
	for _, m := range r.matches {
		if keep(m) {
			out = append(out, m)
		}
	}
	return &Result{matches: out}
}

// Map transforms every match value.
func (r *Result) Map(fn func(m Match) interface{}) *Result {
	out := make([]Match, len(r.matches))
	for i, m := range r.matches {
		out[i] = Match{Key: m.Key, Value: fn(m)}
	}
	return &Result{matches: out}
}

// Count returns the number of matches.
func (r *Result) Count() int {
	return len(r.matches)
}

// Keys returns the matched keys in pipeline order.
func (r *Result) Keys() []string {
	out := make([]string, len(r.matches))
	for i, m := range r.matches {
		out[i] = m.Key
	}
	return out
}

// Values returns the matched values in pipeline order.
func (r *Result) Values() []interface{} {
	out := make([]interface{}, len(r.matches))
	for i, m := range r.matches {
		out[i] = m.Value
	}
	return out
}

// Matches returns the underlying matches in pipeline order.
func (r *Result) Matches() []Match {
	return append([]Match(nil), r.matches...)
}

func (r *Result) clone() *Result {
	return &Result{matches: append([]Match(nil), r.matches...)}
}
