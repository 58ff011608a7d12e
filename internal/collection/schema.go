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
	"regexp"
	"sync"

	"driftdb/internal/errors"
	"driftdb/internal/index"
)

// Rule is one field's validation rules.
//
//   - Type: expected value type (string, number, boolean, array, object)
//   - Required: the field must be present
//   - Min/Max: numeric bounds for numbers; length bounds for strings and
//     arrays
//   - Enum: the value must equal one of these
//   - Pattern: regular expression the string value must match
type Rule struct {
	Type     string        `json:"type,omitempty"`
	Required bool          `json:"required,omitempty"`
	Min      *float64      `json:"min,omitempty"`
	Max      *float64      `json:"max,omitempty"`
	Enum     []interface{} `json:"enum,omitempty"`
	Pattern  string        `json:"pattern,omitempty"`
}

// Schema maps field names to rules. A nil Schema validates everything.
type Schema map[string]Rule

var (
	patternMu    sync.Mutex
	patternCache = make(map[string]*regexp.Regexp)
)

func compiledPattern(pattern string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patternCache[pattern] = re
	return re, nil
}

// Validate checks doc against the schema. It runs before any store write;
// a failure aborts the triggering operation with no partial state.
func (s Schema) Validate(doc Document) error {
	for field, rule := range s {
		value, defined := doc[field]

		if !defined || value == nil {
			if rule.Required {
				return errors.New(errors.CategoryValidation, errors.CodeSchemaRequired,
					"field '%s' is required", field)
			}
			continue
		}

		if rule.Type != "" {
			if err := checkType(field, rule.Type, value); err != nil {
				return err
			}
		}
		if err := checkBounds(field, rule, value); err != nil {
			return err
		}
		if len(rule.Enum) > 0 {
			if err := checkEnum(field, rule.Enum, value); err != nil {
				return err
			}
		}
		if rule.Pattern != "" {
			if err := checkPattern(field, rule.Pattern, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkType(field, want string, value interface{}) error {
	ok := false
	switch want {
	case "string":
		_, ok = value.(string)
	case "number":
		_, ok = index.Numeric(value)
	case "boolean":
		_, ok = value.(bool)
	case "array":
		_, ok = value.([]interface{})
	case "object":
		_, ok = value.(map[string]interface{})
	default:
		return errors.New(errors.CategoryValidation, errors.CodeSchemaType,
			"field '%s' has unknown schema type '%s'", field, want)
	}
	if !ok {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaType,
			"field '%s' must be of type %s, got %T", field, want, value)
	}
	return nil
}

// checkBounds applies Min/Max: numeric bounds for numbers, length bounds
// for strings and arrays.
func checkBounds(field string, rule Rule, value interface{}) error {
	if rule.Min == nil && rule.Max == nil {
		return nil
	}
	var measure float64
	switch v := value.(type) {
	case string:
		measure = float64(len(v))
	case []interface{}:
		measure = float64(len(v))
	default:
		n, numeric := index.Numeric(value)
		if !numeric {
			return nil // bounds do not apply to booleans or objects
		}
		measure = n
	}
	if rule.Min != nil && measure < *rule.Min {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaRange,
			"field '%s' is below the minimum of %v", field, *rule.Min)
	}
	if rule.Max != nil && measure > *rule.Max {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaRange,
			"field '%s' is above the maximum of %v", field, *rule.Max)
	}
	return nil
}

func checkEnum(field string, enum []interface{}, value interface{}) error {
	for _, allowed := range enum {
		if looseEqual(value, allowed) {
			return nil
		}
	}
	return errors.New(errors.CategoryValidation, errors.CodeSchemaEnum,
		"field '%s' value %v is not one of the allowed values", field, value)
}

func checkPattern(field, pattern string, value interface{}) error {
	s, ok := value.(string)
	if !ok {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaPattern,
			"field '%s' must be a string to match a pattern", field)
	}
	re, err := compiledPattern(pattern)
	if err != nil {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaPattern,
			"field '%s' has an invalid pattern: %v", field, err)
	}
	if !re.MatchString(s) {
		return errors.New(errors.CategoryValidation, errors.CodeSchemaPattern,
			"field '%s' value %q does not match pattern %q", field, s, pattern)
	}
	return nil
}

// Bound is a convenience for building Rule Min/Max literals.
func Bound(v float64) *float64 { return &v }
