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
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"io"
	"net/http"
	"sort"
	"time"
)

// Client is an initialised handle to one ACME account at one CA. It holds
// the directory, the account kid, the subscriber's key, and the HTTP
// transport with its nonce cache (spec.md 3, "Client instance"). A Client
// must not be shared between concurrently-running certificate requests:
// the nonce cache is a single slot (spec.md 5).
type Client struct {
	Directory *Directory
	Account   *Account
	key       *rsa.PrivateKey
	t         *transport
}

// onlyReturnExistingRequest / newAccountRequest mirror the two payload shapes
// sent to new_account (spec.md 4.6.1).
type onlyReturnExistingRequest struct {
	OnlyReturnExisting bool `json:"onlyReturnExisting"`
}

type newAccountRequest struct {
	TermsOfServiceAgreed bool     `json:"termsOfServiceAgreed"`
	Contact              []string `json:"contact,omitempty"`
}

// Initialise performs directory discovery and account creation/lookup
// (spec.md 4.6.1). hc is the caller-owned HTTP client (timeouts, proxies,
// and TLS verification are its responsibility — see NewHTTPClient for a
// ready-made one backed by a vendored CA bundle, spec.md Open Question 3).
func Initialise(ctx context.Context, hc *http.Client, endpoint string, email string, key *rsa.PrivateKey) (*Client, error) {
	if hc == nil {
		hc = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, msgError("build directory request: %v", err)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, msgError("fetch directory: %v", err)
	}
	body, err := readAll(resp)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, msgError("unexpected status %d fetching directory", resp.StatusCode)
	}
	dir, err := decodeDirectory(body)
	if err != nil {
		return nil, msgError("decode directory: %v", err)
	}

	t := &transport{hc: hc, key: key, newNonce: string(dir.NewNonce)}

	probeBody, err := marshalCompact(onlyReturnExistingRequest{OnlyReturnExisting: true})
	if err != nil {
		return nil, msgError("encode account probe: %v", err)
	}
	probeResp, probeErr := t.post(ctx, string(dir.NewAccount), probeBody, true)
	if probeErr == nil {
		acct, err := decodeAccount(probeResp.Body)
		if err != nil {
			return nil, msgError("decode account: %v", err)
		}
		acct.Kid = URI(probeResp.Location)
		t.kid = probeResp.Location
		return &Client{Directory: dir, Account: acct, key: key, t: t}, nil
	}
	acmeErr, ok := probeErr.(*Error)
	if !ok || acmeErr.Kind != KindProblem || acmeErr.Problem != ProblemAccountDoesNotExist {
		return nil, probeErr
	}

	newReq := newAccountRequest{TermsOfServiceAgreed: true}
	if email != "" {
		newReq.Contact = []string{"mailto:" + email}
	}
	newBody, err := marshalCompact(newReq)
	if err != nil {
		return nil, msgError("encode new-account request: %v", err)
	}
	newResp, err := t.post(ctx, string(dir.NewAccount), newBody, true)
	if err != nil {
		return nil, err
	}
	acct, err := decodeAccount(newResp.Body)
	if err != nil {
		return nil, msgError("decode account: %v", err)
	}
	acct.Kid = URI(newResp.Location)
	t.kid = newResp.Location
	return &Client{Directory: dir, Account: acct, key: key, t: t}, nil
}

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, msgError("read response body: %v", err)
	}
	return b, nil
}

type newOrderRequest struct {
	Identifiers []Identifier `json:"identifiers"`
}

type finalizeRequest struct {
	CSR string `json:"csr"`
}

// identifiersFromCSR extracts the de-duplicated DNS names (CN + SAN) from
// a certificate request, in a stable order (spec.md 4.6.2 step 1).
func identifiersFromCSR(csr *x509.CertificateRequest) []Identifier {
	seen := map[string]bool{}
	var names []string
	add := func(n string) {
		if n == "" || seen[n] {
			return
		}
		seen[n] = true
		names = append(names, n)
	}
	add(csr.Subject.CommonName)
	for _, n := range csr.DNSNames {
		add(n)
	}
	sort.Strings(names)
	ids := make([]Identifier, len(names))
	for i, n := range names {
		ids[i] = Identifier{Type: "dns", Value: n}
	}
	return ids
}

// Sleeper waits seconds between polling attempts, honoring ctx
// cancellation (spec.md 4.6.2 step 2d, 6).
type Sleeper func(ctx context.Context, d time.Duration) error

const (
	pollInterval = 2 * time.Second
	pollMaxTries = 10
)

func pollSleep(ctx context.Context, sleep Sleeper, retryAfter time.Duration) error {
	d := pollInterval
	if retryAfter > 0 {
		d = retryAfter
	}
	if sleep != nil {
		return sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// SignCertificate drives one certificate request to completion: submits
// the order, solves every pending authorization with solver, finalizes,
// and downloads the issued chain (spec.md 4.6.2). The returned slice is
// ordered leaf-first.
func (c *Client) SignCertificate(ctx context.Context, solver Solver, sleep Sleeper, csr *x509.CertificateRequest) ([]*x509.Certificate, error) {
	ids := identifiersFromCSR(csr)
	if len(ids) == 0 {
		return nil, msgError("csr has no DNS names")
	}

	orderBody, err := marshalCompact(newOrderRequest{Identifiers: ids})
	if err != nil {
		return nil, msgError("encode new-order request: %v", err)
	}
	orderResp, err := c.t.post(ctx, string(c.Directory.NewOrder), orderBody, false)
	if err != nil {
		return nil, err
	}
	order, err := decodeOrder(orderResp.Body)
	if err != nil {
		return nil, msgError("decode order: %v", err)
	}
	order.URL = URI(orderResp.Location)

	for _, authzURL := range order.Authorizations {
		if err := c.solveAuthorization(ctx, solver, sleep, authzURL); err != nil {
			return nil, err
		}
	}

	return c.finalizeAndDownload(ctx, order, sleep, csr)
}

// solveAuthorization drives one authorization from pending to valid
// (spec.md 4.6.2 step 2).
func (c *Client) solveAuthorization(ctx context.Context, solver Solver, sleep Sleeper, authzURL URI) error {
	resp, err := c.t.postAsGet(ctx, string(authzURL))
	if err != nil {
		return err
	}
	authz, err := decodeAuthorization(resp.Body)
	if err != nil {
		return msgError("decode authorization: %v", err)
	}
	if authz.Status == AuthorizationValid {
		return nil
	}
	if authz.Status != AuthorizationPending {
		return msgError("authorization %s has unexpected status %s", authzURL, authz.Status)
	}

	var chal *Challenge
	for _, candidate := range authz.Challenges {
		if solver.Handles(candidate.Type) {
			chal = candidate
			break
		}
	}
	if chal == nil {
		return msgError("no supported challenge")
	}

	keyAuth, err := keyAuthorization(&c.key.PublicKey, chal.Token)
	if err != nil {
		return msgError("build key authorization: %v", err)
	}
	if err := solver.Provision(ctx, authz.Identifier, chal, keyAuth); err != nil {
		return msgError("provision challenge: %v", err)
	}
	defer func() {
		if err := solver.Cleanup(ctx, authz.Identifier, chal, keyAuth); err != nil {
			logCleanupError(authz.Identifier.Value, err)
		}
	}()

	readyBody, err := marshalCompact(struct{}{})
	if err != nil {
		return msgError("encode challenge response: %v", err)
	}
	if _, err := c.t.post(ctx, string(chal.URL), readyBody, false); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.t.postAsGet(ctx, string(authzURL))
		if err != nil {
			return err
		}
		authz, err = decodeAuthorization(resp.Body)
		if err != nil {
			return msgError("decode authorization: %v", err)
		}
		switch authz.Status {
		case AuthorizationValid:
			return nil
		case AuthorizationInvalid:
			for _, ch := range authz.Challenges {
				if ch.Error != nil {
					return problemError(ch.Error)
				}
			}
			return msgError("authorization failed")
		}
		if attempt >= pollMaxTries {
			return msgError("challenge/order polling exhausted")
		}
		if err := pollSleep(ctx, sleep, resp.RetryAfter); err != nil {
			return msgError("polling sleep: %v", err)
		}
	}
}

// finalizeAndDownload finalizes order once every authorization is valid,
// polls until the order reaches a terminal status, and downloads the
// issued certificate chain (spec.md 4.6.2 steps 3-4).
func (c *Client) finalizeAndDownload(ctx context.Context, order *Order, sleep Sleeper, csr *x509.CertificateRequest) ([]*x509.Certificate, error) {
	finBody, err := marshalCompact(finalizeRequest{CSR: base64URLEncode(csr.Raw)})
	if err != nil {
		return nil, msgError("encode finalize request: %v", err)
	}
	if _, err := c.t.post(ctx, string(order.Finalize), finBody, false); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.t.postAsGet(ctx, string(order.URL))
		if err != nil {
			return nil, err
		}
		order, err = decodeOrder(resp.Body)
		if err != nil {
			return nil, msgError("decode order: %v", err)
		}
		switch order.Status {
		case OrderValid:
			return c.downloadCertificate(ctx, order)
		case OrderInvalid:
			if order.Error != nil {
				return nil, problemError(order.Error)
			}
			return nil, msgError("order failed")
		}
		if attempt >= pollMaxTries {
			return nil, msgError("challenge/order polling exhausted")
		}
		if err := pollSleep(ctx, sleep, resp.RetryAfter); err != nil {
			return nil, msgError("polling sleep: %v", err)
		}
	}
}

func (c *Client) downloadCertificate(ctx context.Context, order *Order) ([]*x509.Certificate, error) {
	resp, err := c.t.postAsGet(ctx, string(order.Certificate))
	if err != nil {
		return nil, err
	}
	if alt := linkHeader(http.Header{"Link": resp.Link}, "alternate"); alt != "" {
		logPrintf("alternate certificate chain available: %s", alt)
	}
	return parsePEMChain(resp.Body)
}

// parsePEMChain parses a concatenated PEM chain into an ordered,
// leaf-first list of certificates (spec.md 4.6.2 step 4).
func parsePEMChain(b []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := b
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, msgError("parse certificate: %v", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, msgError("no certificates found in response")
	}
	return certs, nil
}

func logCleanupError(domain string, err error) {
	// Best-effort cleanup: failures are logged, never propagated
	// (spec.md 4.5).
	logPrintf("acme: cleanup failed for %s: %v", domain, err)
}
