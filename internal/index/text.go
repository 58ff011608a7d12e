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
	"strings"
	"unicode"
)

// textIndex is a tokenised membership index over string fields. Values are
// split on non-word characters and lowercased; lookups scan the token table,
// which is O(tokens) and fine at the engine's target scale. There is no
// relevance ranking; this is membership only.
type textIndex struct {
	tokens    map[string]map[string]struct{} // token -> key set
	docTokens map[string][]string            // key -> its tokens, for removal
}

func newTextIndex() *textIndex {
	return &textIndex{
		tokens:    make(map[string]map[string]struct{}),
		docTokens: make(map[string][]string),
	}
}

// tokenize splits s on non-word characters and lowercases the parts.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

func (t *textIndex) add(key string, v interface{}) {
	s, ok := v.(string)
	if !ok {
		return
	}
	toks := tokenize(s)
	t.docTokens[key] = toks
	for _, tok := range toks {
		set, exists := t.tokens[tok]
		if !exists {
			set = make(map[string]struct{})
			t.tokens[tok] = set
		}
		set[key] = struct{}{}
	}
}

func (t *textIndex) remove(key string, v interface{}) {
	if _, ok := v.(string); !ok {
		return
	}
	for _, tok := range t.docTokens[key] {
		if set, exists := t.tokens[tok]; exists {
			delete(set, key)
			if len(set) == 0 {
				delete(t.tokens, tok)
			}
		}
	}
	delete(t.docTokens, key)
}

// lookup evaluates a token membership operator. Supported operators:
// "contains", "startsWith", "endsWith".
func (t *textIndex) lookup(op string, value interface{}) ([]string, bool) {
	needle, ok := value.(string)
	if !ok {
		return nil, false
	}
	needle = strings.ToLower(needle)

	var match func(token string) bool
	switch op {
	case "contains":
		match = func(token string) bool { return strings.Contains(token, needle) }
	case "startsWith":
		match = func(token string) bool { return strings.HasPrefix(token, needle) }
	case "endsWith":
		match = func(token string) bool { return strings.HasSuffix(token, needle) }
	default:
		return nil, false
	}

	union := make(map[string]struct{})
	for token, keys := range t.tokens {
		if match(token) {
			for key := range keys {
				union[key] = struct{}{}
			}
		}
	}
	return setToSorted(union), true
}
