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
Package collection provides a namespaced document model over the DriftDB
store.

A collection named "users" owns every store key with the prefix "users::".
Documents are maps; each inserted document is assigned a monotonically
increasing id, seeded at startup by scanning the namespace so ids are never
reused within a session. The stored document's "_id" field equals its full
store key ("users::7"), which is what distinguishes collection documents
from bare keys.

Queries use a Mongo-style match: scalar equality plus the operators $gt,
$gte, $lt, $lte, $ne and $in; multiple operators on one field combine with
logical AND (match.go). Optional per-field schema rules validate documents
before any store write (schema.go); a validation failure aborts the one
operation that triggered it with no partial state observable.
*/
package collection

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"driftdb/internal/engine"
	"driftdb/internal/errors"
	"driftdb/internal/query"
)

// Separator splits the collection name from the document id in store keys.
const Separator = "::"

// Document is a collection document.
type Document = map[string]interface{}

// Collection is a namespaced view over one engine.
type Collection struct {
	name string
	eng  *engine.Engine

	mu     sync.Mutex
	nextID int64
	schema Schema
}

// New opens the collection named name over eng, seeding the id counter
// from the existing namespace contents.
func New(name string, eng *engine.Engine) (*Collection, error) {
	c := &Collection{name: name, eng: eng}

	all, err := eng.All()
	if err != nil {
		return nil, err
	}
	prefix := name + Separator
	for key := range all {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64); err == nil && id > c.nextID {
			c.nextID = id
		}
	}
	return c, nil
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// Schema installs per-field validation rules for subsequent writes.
func (c *Collection) Schema(rules Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schema = rules
}

func (c *Collection) key(id int64) string {
	return c.name + Separator + strconv.FormatInt(id, 10)
}

// Insert validates doc, assigns the next id and stores it. The returned
// string is the document's store key, which also lands in its "_id" field.
func (c *Collection) Insert(doc Document) (string, error) {
	c.mu.Lock()
	schema := c.schema
	c.mu.Unlock()

	stored := cloneDoc(doc)
	if err := schema.Validate(stored); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.nextID++
	key := c.key(c.nextID)
	c.mu.Unlock()

	stored["_id"] = key
	if err := c.eng.Set(key, stored); err != nil {
		return "", err
	}
	return key, nil
}

// InsertMany validates every document first, then inserts them in order.
// A validation failure aborts the whole batch before any write.
func (c *Collection) InsertMany(docs []Document) ([]string, error) {
	c.mu.Lock()
	schema := c.schema
	c.mu.Unlock()

	cloned := make([]Document, len(docs))
	for i, doc := range docs {
		cloned[i] = cloneDoc(doc)
		if err := schema.Validate(cloned[i]); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(docs))
	for _, doc := range cloned {
		c.mu.Lock()
		c.nextID++
		key := c.key(c.nextID)
		c.mu.Unlock()
		doc["_id"] = key
		if err := c.eng.Set(key, doc); err != nil {
			return keys, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// Find returns every document matching q as a result pipeline, ordered by
// ascending id.
func (c *Collection) Find(q Document) (*query.Result, error) {
	docs, err := c.scan(q)
	if err != nil {
		return nil, err
	}
	return query.NewResult(docs), nil
}

// FindOne returns the first document matching q.
func (c *Collection) FindOne(q Document) (Document, bool, error) {
	docs, err := c.scan(q)
	if err != nil {
		return nil, false, err
	}
	if len(docs) == 0 {
		return nil, false, nil
	}
	doc, _ := docs[0].Value.(map[string]interface{})
	return doc, true, nil
}

// Update patches the first document matching q. A patch of the form
// {"$set": {...}} merges only those fields; any other patch merges its
// fields into the whole document. Returns false when nothing matched.
func (c *Collection) Update(q, patch Document) (bool, error) {
	n, err := c.update(q, patch, 1)
	return n > 0, err
}

// UpdateMany patches every document matching q and returns the count.
func (c *Collection) UpdateMany(q, patch Document) (int, error) {
	return c.update(q, patch, -1)
}

func (c *Collection) update(q, patch Document, limit int) (int, error) {
	docs, err := c.scan(q)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	schema := c.schema
	c.mu.Unlock()

	fields := patch
	if set, ok := patch["$set"].(map[string]interface{}); ok {
		fields = set
	}

	updated := 0
	for _, m := range docs {
		if limit >= 0 && updated >= limit {
			break
		}
		doc, ok := m.Value.(map[string]interface{})
		if !ok {
			continue
		}
		merged := cloneDoc(doc)
		for field, value := range fields {
			if field == "_id" || field == "$set" {
				continue
			}
			merged[field] = value
		}
		if err := schema.Validate(merged); err != nil {
			return updated, err
		}
		if err := c.eng.Set(m.Key, merged); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Remove deletes the first document matching q.
func (c *Collection) Remove(q Document) (bool, error) {
	n, err := c.remove(q, 1)
	return n > 0, err
}

// RemoveMany deletes every document matching q and returns the count.
func (c *Collection) RemoveMany(q Document) (int, error) {
	return c.remove(q, -1)
}

func (c *Collection) remove(q Document, limit int) (int, error) {
	docs, err := c.scan(q)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, m := range docs {
		if limit >= 0 && removed >= limit {
			break
		}
		ok, err := c.eng.Delete(m.Key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// Count returns the number of documents matching q; a nil or empty query
// counts the whole namespace.
func (c *Collection) Count(q Document) (int, error) {
	docs, err := c.scan(q)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Drop deletes every document in the namespace and returns the count. The
// schema and the id counter survive, so post-drop inserts keep fresh ids.
func (c *Collection) Drop() (int, error) {
	return c.remove(nil, -1)
}

// scan returns the namespace documents matching q, ordered by ascending id.
func (c *Collection) scan(q Document) ([]query.Match, error) {
	all, err := c.eng.All()
	if err != nil {
		return nil, err
	}
	prefix := c.name + Separator

	type entry struct {
		id int64
		m  query.Match
	}
	var entries []entry
	for key, value := range all {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		doc, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		if !Matches(doc, q) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, entry{id: id, m: query.Match{Key: key, Value: doc}})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	out := make([]query.Match, len(entries))
	for i, e := range entries {
		out[i] = e.m
	}
	return out, nil
}

// Get fetches one document by its full store key.
func (c *Collection) Get(key string) (Document, error) {
	if !strings.HasPrefix(key, c.name+Separator) {
		return nil, errors.New(errors.CategoryConstraintViolation, errors.CodeMissingDocument,
			"key '%s' is outside collection '%s'", key, c.name)
	}
	value, ok, err := c.eng.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New(errors.CategoryConstraintViolation, errors.CodeMissingDocument,
			"document '%s' not found", key)
	}
	doc, _ := value.(map[string]interface{})
	return doc, nil
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}
