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
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const jwsContentType = "application/jose+json"

// nonceCache is the one-slot mutable nonce cache (spec.md 4.4, 9). A
// single Client is never used by two goroutines concurrently (spec.md 5),
// but the mutex costs nothing and guards against misuse.
type nonceCache struct {
	mu    sync.Mutex
	nonce string
}

func (c *nonceCache) pop() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.nonce == "" {
		return "", false
	}
	n := c.nonce
	c.nonce = ""
	return n, true
}

func (c *nonceCache) set(n string) {
	if n == "" {
		return
	}
	c.mu.Lock()
	c.nonce = n
	c.mu.Unlock()
}

// response is the parsed envelope of an ACME HTTP response (spec.md 4.4).
type response struct {
	StatusCode int
	Location   string
	Link       []string
	RetryAfter time.Duration
	Body       []byte
}

func linkHeader(h http.Header, rel string) string {
	for _, v := range h["Link"] {
		parts := strings.Split(v, ";")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if !strings.HasPrefix(p, "rel=") {
				continue
			}
			if strings.Trim(p[len("rel="):], `"`) == rel {
				return strings.Trim(strings.TrimSpace(parts[0]), "<>")
			}
		}
	}
	return ""
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

// transport issues nonce-chained, JWS-signed requests to a single ACME
// server. It holds the account key, the account kid (empty until
// Initialise establishes one), and the one-slot nonce cache.
type transport struct {
	hc       *http.Client
	key      *rsa.PrivateKey
	kid      string // set by Initialise once the account is known
	newNonce string // Directory.NewNonce, needed to refill the cache
	nonce    nonceCache
}

func (t *transport) fetchNonce(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.newNonce, nil)
	if err != nil {
		return "", msgError("build nonce request: %v", err)
	}
	resp, err := t.hc.Do(req)
	if err != nil {
		return "", msgError("fetch nonce: %v", err)
	}
	defer resp.Body.Close()
	n := resp.Header.Get("Replay-Nonce")
	if n == "" {
		return "", msgError("no Replay-Nonce header in new-nonce response")
	}
	return n, nil
}

// post signs body (nil for POST-as-GET) and POSTs it to url, authenticating
// with jwk instead of kid when useJWK is true (bootstrap endpoints only).
// On a bad_nonce Problem it refreshes the nonce and retries exactly once.
func (t *transport) post(ctx context.Context, url string, body []byte, useJWK bool) (*response, error) {
	resp, err := t.doPost(ctx, url, body, useJWK)
	if err == nil {
		return resp, nil
	}
	acmeErr, ok := err.(*Error)
	if !ok || acmeErr.Kind != KindProblem || acmeErr.Problem != ProblemBadNonce {
		return nil, err
	}
	return t.doPost(ctx, url, body, useJWK)
}

func (t *transport) doPost(ctx context.Context, url string, body []byte, useJWK bool) (*response, error) {
	nonce, ok := t.nonce.pop()
	if !ok {
		n, err := t.fetchNonce(ctx)
		if err != nil {
			return nil, err
		}
		nonce = n
	}

	kid := t.kid
	if useJWK {
		kid = ""
	}
	signed, err := jwsSign(t.key, kid, nonce, url, body)
	if err != nil {
		return nil, msgError("sign request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(signed))
	if err != nil {
		return nil, msgError("build request: %v", err)
	}
	req.Header.Set("Content-Type", jwsContentType)

	httpResp, err := t.hc.Do(req)
	if err != nil {
		return nil, msgError("post %s: %v", url, err)
	}
	defer httpResp.Body.Close()

	t.nonce.set(httpResp.Header.Get("Replay-Nonce"))

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, msgError("read response body: %v", err)
	}

	if httpResp.StatusCode >= 400 {
		ct := httpResp.Header.Get("Content-Type")
		if strings.HasPrefix(ct, "application/problem+json") || strings.HasPrefix(ct, "application/json") {
			p, perr := decodeProblem(respBody)
			if perr == nil {
				return nil, problemError(p)
			}
		}
		return nil, msgError("unexpected status %d from %s: %s", httpResp.StatusCode, url, respBody)
	}

	return &response{
		StatusCode: httpResp.StatusCode,
		Location:   httpResp.Header.Get("Location"),
		Link:       httpResp.Header["Link"],
		RetryAfter: parseRetryAfter(httpResp.Header.Get("Retry-After")),
		Body:       respBody,
	}, nil
}

// postAsGet is post with an empty-string payload (spec.md 4.4/GLOSSARY).
func (t *transport) postAsGet(ctx context.Context, url string) (*response, error) {
	return t.post(ctx, url, []byte(""), false)
}
