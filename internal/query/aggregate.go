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
	"fmt"

	"driftdb/internal/index"
)

// Sum totals the numeric projections of field over the result set.
// Non-numeric and undefined values are skipped.
func (r *Result) Sum(field string) float64 {
	total := 0.0
	for _, m := range r.matches {
		if v, ok := index.Project(m.Value, field); ok {
			if f, ok := index.Numeric(v); ok {
				total += f
			}
		}
	}
	return total
}

// Avg returns the mean of the numeric projections of field, and false when
// no match has a numeric value there.
func (r *Result) Avg(field string) (float64, bool) {
	total, n := 0.0, 0
	for _, m := range r.matches {
		if v, ok := index.Project(m.Value, field); ok {
			if f, ok := index.Numeric(v); ok {
				total += f
				n++
			}
		}
	}
	if n == 0 {
		return 0, false
	}
	return total / float64(n), true
}

// Min returns the smallest numeric projection of field.
func (r *Result) Min(field string) (float64, bool) {
	return r.extremum(field, func(candidate, best float64) bool { return candidate < best })
}

// Max returns the largest numeric projection of field.
func (r *Result) Max(field string) (float64, bool) {
	return r.extremum(field, func(candidate, best float64) bool { return candidate > best })
}

func (r *Result) extremum(field string, better func(candidate, best float64) bool) (float64, bool) {
	best, found := 0.0, false
	for _, m := range r.matches {
		v, ok := index.Project(m.Value, field)
		if !ok {
			continue
		}
		f, ok := index.Numeric(v)
		if !ok {
			continue
		}
		if !found || better(f, best) {
			best = f
			found = true
		}
	}
	return best, found
}

// GroupBy partitions the result set by the projection of field. Group keys
// are rendered as strings; matches with an undefined field are dropped.
func (r *Result) GroupBy(field string) map[string]*Result {
	groups := make(map[string]*Result)
	for _, m := range r.matches {
		v, ok := index.Project(m.Value, field)
		if !ok {
			continue
		}
		term := fmt.Sprintf("%v", v)
		g, exists := groups[term]
		if !exists {
			g = &Result{}
			groups[term] = g
		}
		g.matches = append(g.matches, m)
	}
	return groups
}
