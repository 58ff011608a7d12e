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
	"context"
	"reflect"
	"testing"
)

func user(name string, age float64, bio string) map[string]interface{} {
	return map[string]interface{}{"name": name, "age": age, "bio": bio}
}

func buildManager(t *testing.T, kind Kind, field string, snapshot map[string]interface{}) *Manager {
	t.Helper()
	m := NewManager()
	if err := m.Create(context.Background(), field, kind, snapshot); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return m
}

func TestHashIndexLookups(t *testing.T) {
	snapshot := map[string]interface{}{
		"u1": user("alice", 30, ""),
		"u2": user("bob", 25, ""),
		"u3": user("alice", 41, ""),
		"u4": map[string]interface{}{"name": nil},
	}
	m := buildManager(t, KindHash, "name", snapshot)

	keys, ok := m.Lookup("name", "=", "alice")
	if !ok || !reflect.DeepEqual(keys, []string{"u1", "u3"}) {
		t.Errorf("= lookup: ok=%v keys=%v", ok, keys)
	}

	keys, ok = m.Lookup("name", "!=", "alice")
	if !ok || !reflect.DeepEqual(keys, []string{"u2", "u4"}) {
		t.Errorf("!= lookup: ok=%v keys=%v", ok, keys)
	}

	keys, ok = m.Lookup("name", "in", []interface{}{"bob", "carol"})
	if !ok || !reflect.DeepEqual(keys, []string{"u2"}) {
		t.Errorf("in lookup: ok=%v keys=%v", ok, keys)
	}

	// Null is its own bucket.
	keys, ok = m.Lookup("name", "=", nil)
	if !ok || !reflect.DeepEqual(keys, []string{"u4"}) {
		t.Errorf("null lookup: ok=%v keys=%v", ok, keys)
	}

	// Range operators are not the hash index's business.
	if _, ok := m.Lookup("name", ">", "a"); ok {
		t.Error("hash index claimed to support '>'")
	}
}

func TestRangeIndexLookups(t *testing.T) {
	snapshot := map[string]interface{}{
		"u1": user("a", 20, ""),
		"u2": user("b", 25, ""),
		"u3": user("c", 30, ""),
		"u4": user("d", 35, ""),
	}
	m := buildManager(t, KindRange, "age", snapshot)

	keys, ok := m.Lookup("age", ">=", float64(25))
	if !ok {
		t.Fatal("range lookup unsupported")
	}
	// Ascending age order.
	if !reflect.DeepEqual(keys, []string{"u2", "u3", "u4"}) {
		t.Errorf(">= 25: %v", keys)
	}

	keys, _ = m.Lookup("age", "<", float64(25))
	if !reflect.DeepEqual(keys, []string{"u1"}) {
		t.Errorf("< 25: %v", keys)
	}
	keys, _ = m.Lookup("age", "<=", float64(25))
	if !reflect.DeepEqual(keys, []string{"u1", "u2"}) {
		t.Errorf("<= 25: %v", keys)
	}
	keys, _ = m.Lookup("age", ">", float64(35))
	if len(keys) != 0 {
		t.Errorf("> 35: %v", keys)
	}
	keys, _ = m.Lookup("age", "=", float64(30))
	if !reflect.DeepEqual(keys, []string{"u3"}) {
		t.Errorf("= 30: %v", keys)
	}
}

func TestRangeIndexStrings(t *testing.T) {
	snapshot := map[string]interface{}{
		"u1": map[string]interface{}{"city": "amsterdam"},
		"u2": map[string]interface{}{"city": "berlin"},
		"u3": map[string]interface{}{"city": "cork"},
	}
	m := buildManager(t, KindRange, "city", snapshot)

	keys, ok := m.Lookup("city", ">=", "berlin")
	if !ok || !reflect.DeepEqual(keys, []string{"u2", "u3"}) {
		t.Errorf(">= berlin: ok=%v keys=%v", ok, keys)
	}
}

// Mixed-type fields: only type-compatible values are indexed; the rest
// stay reachable by full scan.
func TestRangeIndexMixedTypes(t *testing.T) {
	snapshot := map[string]interface{}{
		"n1": map[string]interface{}{"v": float64(10)},
		"n2": map[string]interface{}{"v": float64(20)},
		"s1": map[string]interface{}{"v": "text"},
		"b1": map[string]interface{}{"v": true},
	}
	m := buildManager(t, KindRange, "v", snapshot)

	keys, _ := m.Lookup("v", ">=", float64(0))
	if !reflect.DeepEqual(keys, []string{"n1", "n2"}) {
		t.Errorf("numeric side: %v", keys)
	}
	keys, _ = m.Lookup("v", ">=", "a")
	if !reflect.DeepEqual(keys, []string{"s1"}) {
		t.Errorf("string side: %v", keys)
	}
}

func TestTextIndexLookups(t *testing.T) {
	snapshot := map[string]interface{}{
		"d1": user("", 0, "Likes writing Go services"),
		"d2": user("", 0, "Writes JavaScript, dislikes goroutines"),
		"d3": user("", 0, "Gardening and woodwork"),
	}
	m := buildManager(t, KindText, "bio", snapshot)

	keys, ok := m.Lookup("bio", "contains", "go")
	if !ok || !reflect.DeepEqual(keys, []string{"d1", "d2"}) {
		t.Errorf("contains go: ok=%v keys=%v", ok, keys)
	}
	keys, _ = m.Lookup("bio", "startsWith", "writ")
	if !reflect.DeepEqual(keys, []string{"d1", "d2"}) {
		t.Errorf("startsWith writ: %v", keys)
	}
	keys, _ = m.Lookup("bio", "endsWith", "work")
	if !reflect.DeepEqual(keys, []string{"d3"}) {
		t.Errorf("endsWith work: %v", keys)
	}
}

// The maintenance protocol: apply (key, new, old) after every write.
func TestManagerApplyKeepsIndexesCurrent(t *testing.T) {
	m := buildManager(t, KindHash, "name", map[string]interface{}{
		"u1": user("alice", 30, ""),
	})

	// New key.
	m.Apply("u2", user("bob", 25, ""), true, nil, false)
	// Rename.
	m.Apply("u1", user("alicia", 30, ""), true, user("alice", 30, ""), true)

	if keys, _ := m.Lookup("name", "=", "alice"); len(keys) != 0 {
		t.Errorf("stale bucket after rename: %v", keys)
	}
	if keys, _ := m.Lookup("name", "=", "alicia"); !reflect.DeepEqual(keys, []string{"u1"}) {
		t.Errorf("rename missing: %v", keys)
	}

	// Delete.
	m.Apply("u2", nil, false, user("bob", 25, ""), true)
	if keys, _ := m.Lookup("name", "=", "bob"); len(keys) != 0 {
		t.Errorf("deleted key still indexed: %v", keys)
	}
}

func TestManagerCreateDropList(t *testing.T) {
	m := NewManager()
	snapshot := map[string]interface{}{"u1": user("a", 1, "")}

	if err := m.Create(context.Background(), "name", KindHash, snapshot); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	// Idempotent re-create with the same kind.
	if err := m.Create(context.Background(), "name", KindHash, snapshot); err != nil {
		t.Errorf("same-kind re-create should be a no-op: %v", err)
	}
	// Conflicting kind is an error.
	if err := m.Create(context.Background(), "name", KindRange, snapshot); err == nil {
		t.Error("conflicting kind re-create must fail")
	}

	infos := m.List()
	if len(infos) != 1 || infos[0].Field != "name" || infos[0].Kind != KindHash {
		t.Errorf("unexpected index list: %v", infos)
	}

	if !m.Drop("name") {
		t.Error("Drop returned false for existing index")
	}
	if m.Drop("name") {
		t.Error("Drop returned true for missing index")
	}
	if _, ok := m.Lookup("name", "=", "a"); ok {
		t.Error("dropped index still answers lookups")
	}
}

func TestManagerCreateHonorsCancellation(t *testing.T) {
	m := NewManager()
	snapshot := make(map[string]interface{}, 4096)
	for i := 0; i < 4096; i++ {
		snapshot[string(rune('a'+i%26))+"/"+string(rune('0'+i%10))+"x"+string(rune(i))] =
			map[string]interface{}{"n": float64(i)}
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := m.Create(ctx, "n", KindRange, snapshot); err == nil {
		t.Fatal("expected cancellation error")
	}
	// The partial build was discarded, not published.
	if _, ok := m.Lookup("n", ">=", float64(0)); ok {
		t.Error("cancelled index answered a lookup")
	}
	if len(m.List()) != 0 {
		t.Error("cancelled index stayed registered")
	}
}

func TestProject(t *testing.T) {
	doc := map[string]interface{}{
		"address": map[string]interface{}{"city": "cork"},
		"tags":    []interface{}{"a", "b"},
	}
	if v, ok := Project(doc, "address.city"); !ok || v != "cork" {
		t.Errorf("address.city: %v %v", v, ok)
	}
	if v, ok := Project(doc, "tags.1"); !ok || v != "b" {
		t.Errorf("tags.1: %v %v", v, ok)
	}
	if _, ok := Project(doc, "tags.9"); ok {
		t.Error("out-of-range array index resolved")
	}
	if _, ok := Project(doc, "missing.path"); ok {
		t.Error("missing path resolved")
	}
}
