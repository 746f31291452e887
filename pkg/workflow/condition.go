// Copyright 2026 Weftworks
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package workflow

import (
	"fmt"
	"strings"
)

// evaluateCondition applies the conditional-node predicate grammar:
//
//	"key == value"  → string form of context[key] equals value
//	"key"           → context[key] is present and truthy
//	""              → always true
//
// No operators beyond equality; richer predicates belong in executor code.
func evaluateCondition(condition string, context map[string]interface{}) bool {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true
	}

	if idx := strings.Index(condition, "=="); idx >= 0 {
		key := strings.TrimSpace(condition[:idx])
		want := strings.TrimSpace(condition[idx+2:])
		value, ok := context[key]
		if !ok {
			return false
		}
		return fmt.Sprintf("%v", value) == want
	}

	value, ok := context[condition]
	if !ok {
		return false
	}
	return truthy(value)
}

func truthy(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int:
		return v != 0
	case int32:
		return v != 0
	case int64:
		return v != 0
	case float32:
		return v != 0
	case float64:
		return v != 0
	case map[string]interface{}:
		return len(v) > 0
	case []interface{}:
		return len(v) > 0
	default:
		return true
	}
}
