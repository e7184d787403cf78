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
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *AccountCache {
	t.Helper()
	cache, err := OpenAccountCache(filepath.Join(t.TempDir(), "accounts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })
	return cache
}

func TestAccountCacheFindMissing(t *testing.T) {
	cache := openTestCache(t)
	_, _, _, err := cache.Find("https://ca.example/directory")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAccountCacheSaveFindDelete(t *testing.T) {
	cache := openTestCache(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	acct := &Account{Status: AccountValid, Kid: URI("https://ca.example/acct/1")}

	require.NoError(t, cache.Save("https://ca.example/directory", acct, key, "admin@example.com"))

	got, gotKey, gotEmail, err := cache.Find("https://ca.example/directory")
	require.NoError(t, err)
	assert.Equal(t, acct.Kid, got.Kid)
	assert.Equal(t, key.N, gotKey.N)
	assert.Equal(t, "admin@example.com", gotEmail)

	require.NoError(t, cache.Delete("https://ca.example/directory"))
	_, _, _, err = cache.Find("https://ca.example/directory")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// TestInitialiseCachedUsesCache covers the cache-hit path: when an account
// is already cached for endpoint, InitialiseCached fetches the directory
// (to pick up a fresh newNonce URL) but never calls new-account.
func TestInitialiseCachedUsesCache(t *testing.T) {
	var newAccountCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/new-account", func(w http.ResponseWriter, r *http.Request) {
		newAccountCalls++
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/directory", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"newNonce": "` + srv.URL + `/new-nonce",
			"newAccount": "` + srv.URL + `/new-account",
			"newOrder": "` + srv.URL + `/new-order",
			"revokeCert": "` + srv.URL + `/revoke-cert",
			"keyChange": "` + srv.URL + `/key-change"
		}`))
	})

	cache := openTestCache(t)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	acct := &Account{Status: AccountValid, Kid: URI(srv.URL + "/acct/1")}
	require.NoError(t, cache.Save(srv.URL+"/directory", acct, key, "admin@example.com"))

	client, err := InitialiseCached(context.Background(), srv.Client(), srv.URL+"/directory", "admin@example.com", key, cache)
	require.NoError(t, err)
	assert.Equal(t, acct.Kid, client.Account.Kid)
	assert.Equal(t, 0, newAccountCalls)
}
