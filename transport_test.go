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
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func protectedNonce(t *testing.T, body []byte) string {
	t.Helper()
	var jws flattenedJWS
	require.NoError(t, json.Unmarshal(body, &jws))
	raw, err := base64.RawURLEncoding.DecodeString(jws.Protected)
	require.NoError(t, err)
	var hdr protectedHeader
	require.NoError(t, json.Unmarshal(raw, &hdr))
	return hdr.Nonce
}

// TestPostRetriesOnBadNonce covers S7: a transport that returns a bad_nonce
// Problem on the first POST and 200 on the second retries exactly once,
// and the retry's protected nonce is the Replay-Nonce carried alongside
// the 400.
func TestPostRetriesOnBadNonce(t *testing.T) {
	var calls int
	var sawNonces []string

	mux := http.NewServeMux()
	mux.HandleFunc("/new-nonce", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Replay-Nonce", "first-nonce")
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/resource", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		sawNonces = append(sawNonces, protectedNonce(t, body))
		calls++
		if calls == 1 {
			w.Header().Set("Replay-Nonce", "second-nonce")
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"type":"urn:ietf:params:acme:error:badNonce","detail":"stale"}`))
			return
		}
		w.Header().Set("Replay-Nonce", "third-nonce")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tr := &transport{hc: srv.Client(), key: key, newNonce: srv.URL + "/new-nonce"}

	resp, err := tr.post(context.Background(), srv.URL+"/resource", []byte(`{}`), true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Len(t, sawNonces, 2)
	assert.Equal(t, "first-nonce", sawNonces[0])
	assert.Equal(t, "second-nonce", sawNonces[1])
	assert.Equal(t, 2, calls)
}

func TestLinkHeader(t *testing.T) {
	h := http.Header{}
	h.Add("Link", `<https://ca.example/acme/directory>; rel="index"`)
	h.Add("Link", `<https://ca.example/acme/terms>; rel="terms-of-service"`)
	assert.Equal(t, "https://ca.example/acme/directory", linkHeader(h, "index"))
	assert.Equal(t, "https://ca.example/acme/terms", linkHeader(h, "terms-of-service"))
	assert.Equal(t, "", linkHeader(h, "missing"))
}

func TestParseRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 0, int(parseRetryAfter("")))
	d := parseRetryAfter("5")
	assert.Equal(t, int64(5), d.Milliseconds()/1000)
}

func TestNonceCache(t *testing.T) {
	var c nonceCache
	_, ok := c.pop()
	assert.False(t, ok)

	c.set("abc")
	n, ok := c.pop()
	require.True(t, ok)
	assert.Equal(t, "abc", n)

	_, ok = c.pop()
	assert.False(t, ok)
}
