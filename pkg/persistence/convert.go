// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package persistence

import (
	"encoding/json"
	"strconv"
)

// String returns the field as a string, or "" if absent or of another type.
func (d Document) String(key string) string {
	if s, ok := d[key].(string); ok {
		return s
	}

	return ""
}

// Bool returns the field as a bool. Numbers and "1"/"true" strings count as true.
func (d Document) Bool(key string) bool {
	switch v := d[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)

		return b
	default:
		n, ok := d.Int64(key)

		return ok && n != 0
	}
}

// Int64 returns the field as an integer and whether it was present and numeric.
func (d Document) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case float32:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()

		return n, err == nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)

		return n, err == nil
	default:
		return 0, false
	}
}

// Has reports whether the key is present with a non-nil value.
func (d Document) Has(key string) bool {
	v, ok := d[key]

	return ok && v != nil
}
