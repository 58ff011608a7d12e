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
	"context"
	"reflect"
	"testing"

	"driftdb/internal/index"
)

// mapSource is an in-memory Source for query tests.
type mapSource struct {
	data map[string]interface{}
	idx  *index.Manager
}

func newMapSource(data map[string]interface{}) *mapSource {
	return &mapSource{data: data, idx: index.NewManager()}
}

func (s *mapSource) All() (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(s.data))
	for k, v := range s.data {
		out[k] = v
	}
	return out, nil
}

func (s *mapSource) Get(key string) (interface{}, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *mapSource) Len() int { return len(s.data) }

func (s *mapSource) Indexes() *index.Manager { return s.idx }

func testUsers() map[string]interface{} {
	return map[string]interface{}{
		"u1": map[string]interface{}{"name": "alice", "age": float64(30), "role": "admin"},
		"u2": map[string]interface{}{"name": "bob", "age": float64(25), "role": "user"},
		"u3": map[string]interface{}{"name": "carol", "age": float64(35), "role": "user"},
		"u4": map[string]interface{}{"name": "dave", "age": float64(25), "role": "user"},
		"_internal": map[string]interface{}{"age": float64(99)},
	}
}

func TestWhereFullScan(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))

	res, err := r.Where("age", ">=", float64(30))
	if err != nil {
		t.Fatalf("Where failed: %v", err)
	}
	if !reflect.DeepEqual(res.Keys(), []string{"u1", "u3"}) {
		t.Errorf("unexpected keys: %v", res.Keys())
	}

	// Internal keys never match queries.
	res, _ = r.Where("age", "=", float64(99))
	if res.Count() != 0 {
		t.Errorf("internal key leaked into query results: %v", res.Keys())
	}
}

func TestWhereOnUndefinedFieldIsEmptyNotError(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))
	res, err := r.Where("salary", ">", float64(0))
	if err != nil {
		t.Fatalf("expected empty pipeline, got error: %v", err)
	}
	if res.Count() != 0 {
		t.Errorf("expected no matches, got %d", res.Count())
	}
}

func TestWhereDispatchesToIndex(t *testing.T) {
	src := newMapSource(testUsers())
	snapshot, _ := src.All()
	delete(snapshot, "_internal")
	if err := src.idx.Create(context.Background(), "age", index.KindRange, snapshot); err != nil {
		t.Fatalf("index build failed: %v", err)
	}
	r := NewRunner(src)

	res, err := r.Where("age", ">=", float64(25))
	if err != nil {
		t.Fatalf("Where failed: %v", err)
	}
	// Index dispatch returns ascending-age order, then the pipeline sorts.
	sorted := res.Sort("age", "asc")
	ages := make([]float64, 0)
	for _, v := range sorted.Values() {
		age, _ := index.Project(v, "age")
		ages = append(ages, age.(float64))
	}
	if !reflect.DeepEqual(ages, []float64{25, 25, 30, 35}) {
		t.Errorf("unexpected ages: %v", ages)
	}
}

func TestFindPredicate(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))
	res, err := r.Find(func(key string, v interface{}) bool {
		role, _ := index.Project(v, "role")
		return role == "admin"
	})
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if !reflect.DeepEqual(res.Keys(), []string{"u1"}) {
		t.Errorf("unexpected keys: %v", res.Keys())
	}
}

func TestOperators(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))

	cases := []struct {
		field string
		op    string
		value interface{}
		want  []string
	}{
		{"name", "=", "bob", []string{"u2"}},
		{"name", "!=", "bob", []string{"u1", "u3", "u4"}},
		{"role", "in", []interface{}{"admin", "root"}, []string{"u1"}},
		{"age", "<", float64(30), []string{"u2", "u4"}},
		{"age", "<=", float64(25), []string{"u2", "u4"}},
		{"name", "contains", "aro", []string{"u3"}},
		{"name", "startsWith", "da", []string{"u4"}},
		{"name", "endsWith", "ce", []string{"u1"}},
	}
	for _, tc := range cases {
		res, err := r.Where(tc.field, tc.op, tc.value)
		if err != nil {
			t.Errorf("%s %s: %v", tc.field, tc.op, err)
			continue
		}
		if !reflect.DeepEqual(res.Keys(), tc.want) {
			t.Errorf("%s %s %v: got %v, want %v", tc.field, tc.op, tc.value, res.Keys(), tc.want)
		}
	}

	if _, err := r.Where("age", "~~", float64(1)); err == nil {
		t.Error("unknown operator must error")
	}
}

func TestPipeline(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))
	res, _ := r.Where("role", "=", "user")

	// Stable sort: u2 and u4 share age 25 and keep key order.
	sorted := res.Sort("age", "asc")
	if !reflect.DeepEqual(sorted.Keys(), []string{"u2", "u4", "u3"}) {
		t.Errorf("sort asc: %v", sorted.Keys())
	}
	desc := res.Sort("age", "desc")
	if desc.Keys()[0] != "u3" {
		t.Errorf("sort desc: %v", desc.Keys())
	}

	if got := sorted.Skip(1).Limit(1).Keys(); !reflect.DeepEqual(got, []string{"u4"}) {
		t.Errorf("skip/limit: %v", got)
	}

	first, ok := sorted.First()
	if !ok || first.Key != "u2" {
		t.Errorf("first: %+v", first)
	}
	last, ok := sorted.Last()
	if !ok || last.Key != "u3" {
		t.Errorf("last: %+v", last)
	}

	filtered := res.Filter(func(m Match) bool {
		age, _ := index.Project(m.Value, "age")
		return age.(float64) > 25
	})
	if filtered.Count() != 1 {
		t.Errorf("filter: %v", filtered.Keys())
	}

	mapped := res.Map(func(m Match) interface{} {
		name, _ := index.Project(m.Value, "name")
		return name
	})
	if mapped.Count() != 3 || mapped.Values()[0] == nil {
		t.Errorf("map: %v", mapped.Values())
	}
}

func TestAggregations(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))
	res, _ := r.Find(func(string, interface{}) bool { return true })

	if sum := res.Sum("age"); sum != 115 {
		t.Errorf("sum=%v, want 115", sum)
	}
	if avg, ok := res.Avg("age"); !ok || avg != 28.75 {
		t.Errorf("avg=%v ok=%v, want 28.75", avg, ok)
	}
	if min, ok := res.Min("age"); !ok || min != 25 {
		t.Errorf("min=%v", min)
	}
	if max, ok := res.Max("age"); !ok || max != 35 {
		t.Errorf("max=%v", max)
	}
	// Non-numeric fields are skipped by numeric aggregates.
	if sum := res.Sum("name"); sum != 0 {
		t.Errorf("sum over strings=%v, want 0", sum)
	}
	if _, ok := res.Avg("name"); ok {
		t.Error("avg over strings should report no numeric values")
	}

	groups := res.GroupBy("role")
	if len(groups) != 2 || groups["user"].Count() != 3 || groups["admin"].Count() != 1 {
		t.Errorf("groupBy: %v", groups)
	}

	// Unfiltered count is the store size, O(1).
	if r.Count() != 5 {
		t.Errorf("count=%d, want 5", r.Count())
	}
}

func TestPredicateCacheBound(t *testing.T) {
	r := NewRunner(newMapSource(testUsers()))
	for i := 0; i < predicateCacheLimit*2; i++ {
		if _, err := r.Where("age", ">", float64(i)); err != nil {
			t.Fatalf("Where failed: %v", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.cache) > predicateCacheLimit {
		t.Errorf("predicate cache exceeded bound: %d", len(r.cache))
	}
}
