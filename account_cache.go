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
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/gob"
	"errors"
	"net/http"

	"github.com/boltdb/bolt"
)

// ErrAccountNotFound is returned by AccountCache.Find when no account is
// cached for the given directory endpoint. Adapted from the teacher's
// acme.go ErrNotFound.
var ErrAccountNotFound = errors.New("acme: account not found")

var accountsBucket = []byte("Accounts")

// cachedAccount is the gob-encoded record stored per directory endpoint:
// the account itself, its key, and the contact email used to register it
// (spec.md 4.7, account persistence so Initialise need not re-register on
// every run).
type cachedAccount struct {
	Account *Account
	Key     *rsa.PrivateKey
	Email   string
}

// AccountCache persists one Account (and its private key) per ACME
// directory endpoint in a BoltDB file, grounded on the teacher's
// findAccount/saveAccount/deleteAccount trio in acme.go, generalized from
// a per-domain cache to a per-endpoint one since one account now services
// every domain a Client orders certificates for.
type AccountCache struct {
	db *bolt.DB
}

// OpenAccountCache opens (creating if necessary) a BoltDB file at path and
// ensures its accounts bucket exists.
func OpenAccountCache(path string) (*AccountCache, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, msgError("open account cache: %v", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, msgError("init account cache: %v", err)
	}
	return &AccountCache{db: db}, nil
}

// Close releases the underlying BoltDB file.
func (c *AccountCache) Close() error {
	return c.db.Close()
}

// Find looks up the cached account for endpoint, returning ErrAccountNotFound
// if none is cached.
func (c *AccountCache) Find(endpoint string) (*Account, *rsa.PrivateKey, string, error) {
	var rec *cachedAccount
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(accountsBucket).Get([]byte(endpoint))
		if data == nil {
			return nil
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, nil, "", msgError("read account cache: %v", err)
	}
	if rec == nil {
		return nil, nil, "", ErrAccountNotFound
	}
	return rec.Account, rec.Key, rec.Email, nil
}

// Save persists account/key/email under endpoint, overwriting any
// previously cached entry.
func (c *AccountCache) Save(endpoint string, account *Account, key *rsa.PrivateKey, email string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cachedAccount{Account: account, Key: key, Email: email}); err != nil {
		return msgError("encode account: %v", err)
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).Put([]byte(endpoint), buf.Bytes())
	})
}

// Delete removes the cached account for endpoint, if any.
func (c *AccountCache) Delete(endpoint string) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(accountsBucket).Delete([]byte(endpoint))
	})
}

// InitialiseCached behaves like Initialise but consults cache first,
// avoiding a new-account round trip when an account for endpoint is
// already known, and saves newly-created accounts back to cache
// (spec.md 4.7, grounded on the teacher's findAccount/saveAccount
// call sites in processor.go).
func InitialiseCached(ctx context.Context, hc *http.Client, endpoint, email string, key *rsa.PrivateKey, cache *AccountCache) (*Client, error) {
	if cached, cachedKey, _, err := cache.Find(endpoint); err == nil {
		t := &transport{hc: hc, key: cachedKey, newNonce: ""}
		dirReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, msgError("build directory request: %v", err)
		}
		dirResp, err := hc.Do(dirReq)
		if err != nil {
			return nil, msgError("fetch directory: %v", err)
		}
		body, err := readAll(dirResp)
		if err != nil {
			return nil, err
		}
		dir, err := decodeDirectory(body)
		if err != nil {
			return nil, msgError("decode directory: %v", err)
		}
		t.newNonce = string(dir.NewNonce)
		t.kid = string(cached.Kid)
		return &Client{Directory: dir, Account: cached, key: cachedKey, t: t}, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	client, err := Initialise(ctx, hc, endpoint, email, key)
	if err != nil {
		return nil, err
	}
	if err := cache.Save(endpoint, client.Account, key, email); err != nil {
		return nil, err
	}
	return client, nil
}
