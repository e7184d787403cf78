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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeObjectRejectsNonObject(t *testing.T) {
	_, err := decodeObject([]byte(`[1,2,3]`))
	require.Error(t, err)
}

func TestStringValMissingField(t *testing.T) {
	o, err := decodeObject([]byte(`{}`))
	require.NoError(t, err)
	_, err = stringVal(o, "status")
	require.Error(t, err)
}

func TestOptStringValAbsentReturnsEmpty(t *testing.T) {
	o, err := decodeObject([]byte(`{}`))
	require.NoError(t, err)
	s, err := optStringVal(o, "website")
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestOptStringListDropsNonStrings(t *testing.T) {
	o, err := decodeObject([]byte(`{"caaIdentities":["a.com", 1, "b.com", null]}`))
	require.NoError(t, err)
	l, err := optStringList(o, "caaIdentities")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, l)
}

func TestOptBoolDefaultsFalse(t *testing.T) {
	o, err := decodeObject([]byte(`{}`))
	require.NoError(t, err)
	b, err := optBool(o, "wildcard")
	require.NoError(t, err)
	assert.False(t, b)
}

func TestDecodeRFC3339(t *testing.T) {
	o, err := decodeObject([]byte(`{"expires":"2023-01-01T00:00:00Z"}`))
	require.NoError(t, err)
	ts, err := decodeRFC3339(o, "expires")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 2023, ts.Year())
}

func TestDecodeRFC3339RejectsGarbage(t *testing.T) {
	o, err := decodeObject([]byte(`{"expires":"not-a-date"}`))
	require.NoError(t, err)
	_, err = decodeRFC3339(o, "expires")
	require.Error(t, err)
}
