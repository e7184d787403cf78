// Copyright 2016 Google Inc. All Rights Reserved.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//     http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package acme

import (
	"encoding/json"
	"fmt"
	"time"
)

// object is the generic JSON tree this package's decoders operate over. It
// is the map shape json.Unmarshal produces when asked to decode into any:
// the variant set is exactly {nil, bool, float64, string, []any, map[string]any}.
type object = map[string]any

// decodeObject unmarshals b into a generic JSON tree and asserts it is a
// top-level object.
func decodeObject(b []byte) (object, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	o, ok := v.(object)
	if !ok {
		return nil, fmt.Errorf("decode json: top-level value is not an object")
	}
	return o, nil
}

// stringVal extracts a required string field.
func stringVal(o object, key string) (string, error) {
	v, ok := o[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

// optStringVal extracts an optional string field, returning "" if absent.
func optStringVal(o object, key string) (string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("field %q is not a string", key)
	}
	return s, nil
}

// listVal extracts a required array field.
func listVal(o object, key string) ([]any, error) {
	v, ok := o[key]
	if !ok {
		return nil, fmt.Errorf("missing required field %q", key)
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", key)
	}
	return l, nil
}

// optStringList extracts an optional array-of-strings field. Non-string
// elements are silently dropped, matching observed CA server behavior
// (spec.md 4.1).
func optStringList(o object, key string) ([]string, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q is not an array", key)
	}
	out := make([]string, 0, len(l))
	for _, e := range l {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// optBool extracts an optional bool field, defaulting to false when absent.
func optBool(o object, key string) (bool, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("field %q is not a bool", key)
	}
	return b, nil
}

// assocVal extracts an optional nested object field, returning nil if absent.
func assocVal(o object, key string) (object, error) {
	v, ok := o[key]
	if !ok || v == nil {
		return nil, nil
	}
	a, ok := v.(object)
	if !ok {
		return nil, fmt.Errorf("field %q is not an object", key)
	}
	return a, nil
}

// decodeRFC3339 parses an optional RFC 3339 timestamp field.
func decodeRFC3339(o object, key string) (*time.Time, error) {
	s, err := optStringVal(o, key)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("field %q is not RFC3339: %w", key, err)
	}
	return &t, nil
}

// URI is an opaque, lazily-parsed reference to a server resource. Unlike
// the other helpers, constructing a URI never fails — the server is the
// authority on whether it is well-formed, and this package need only carry
// it back verbatim on the next request.
type URI string

func uriVal(o object, key string) (URI, error) {
	s, err := stringVal(o, key)
	if err != nil {
		return "", err
	}
	return URI(s), nil
}

func optURIVal(o object, key string) (URI, error) {
	s, err := optStringVal(o, key)
	if err != nil {
		return "", err
	}
	return URI(s), nil
}
