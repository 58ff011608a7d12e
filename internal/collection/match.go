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

package collection

import (
	"driftdb/internal/index"
	"driftdb/internal/query"
)

// Matches evaluates a Mongo-style query against doc. A nil or empty query
// matches everything. Each query field is either a scalar (equality) or an
// operator object like {"$gte": 21, "$lt": 65}, whose operators combine
// with logical AND.
func Matches(doc Document, q Document) bool {
	for field, condition := range q {
		value, defined := index.Project(doc, field)
		ops, isOps := operatorObject(condition)
		if !isOps {
			if !defined || !looseEqual(value, condition) {
				return false
			}
			continue
		}
		for op, want := range ops {
			if !evalOperator(value, defined, op, want) {
				return false
			}
		}
	}
	return true
}

// operatorObject reports whether condition is an operator object (every
// key starts with '$').
func operatorObject(condition interface{}) (map[string]interface{}, bool) {
	m, ok := condition.(map[string]interface{})
	if !ok || len(m) == 0 {
		return nil, false
	}
	for op := range m {
		if len(op) == 0 || op[0] != '$' {
			return nil, false
		}
	}
	return m, true
}

func evalOperator(value interface{}, defined bool, op string, want interface{}) bool {
	switch op {
	case "$ne":
		return !defined || !looseEqual(value, want)
	case "$in":
		if !defined {
			return false
		}
		list, ok := want.([]interface{})
		if !ok {
			return false
		}
		for _, item := range list {
			if looseEqual(value, item) {
				return true
			}
		}
		return false
	case "$gt", "$gte", "$lt", "$lte":
		if !defined {
			return false
		}
		cmp, comparable := query.Compare(value, want)
		if !comparable {
			return false
		}
		switch op {
		case "$gt":
			return cmp > 0
		case "$gte":
			return cmp >= 0
		case "$lt":
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false // unknown operators never match
}

func looseEqual(a, b interface{}) bool {
	if af, ok := index.Numeric(a); ok {
		bf, ok := index.Numeric(b)
		return ok && af == bf
	}
	return a == b
}
