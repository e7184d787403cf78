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
	"bufio"
	"context"
	"crypto/sha256"
	"fmt"
	"os"
)

// Solver provisions and (optionally) tears down one challenge type's side
// channel (spec.md 4.5). The state machine picks, for each authorization,
// the first challenge whose type the solver Handles.
type Solver interface {
	// Handles reports whether this solver can provision typ.
	Handles(typ ChallengeType) bool
	// Provision installs the challenge response. keyAuth is the key
	// authorization derived from chal.Token and the account key.
	Provision(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error
	// Cleanup best-effort removes what Provision installed. Errors are
	// logged by the caller, never surfaced as a failed issuance.
	Cleanup(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error
}

// funcSolver adapts a provisioning callback, plus an optional teardown
// callback run by Cleanup (a no-op when teardown is nil), into a Solver for
// one challenge type — the shape spec.md 4.5/6 calls
// HTTPSolver/DNSSolver/ALPNSolver's "extension" case: a sum of built-in
// solvers plus a user-supplied closure, rather than open dispatch
// (spec.md 9).
type funcSolver struct {
	typ      ChallengeType
	provide  func(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error
	teardown func(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error
}

func (f *funcSolver) Handles(typ ChallengeType) bool { return typ == f.typ }

func (f *funcSolver) Provision(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
	return f.provide(ctx, id, chal, keyAuth)
}

func (f *funcSolver) Cleanup(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
	if f.teardown == nil {
		return nil
	}
	return f.teardown(ctx, id, chal, keyAuth)
}

// ProvisionFunc is the callback signature every built-in solver
// constructor accepts (spec.md 6): install the challenge response at the
// relevant side channel, returning an error on failure.
type ProvisionFunc func(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error

// HTTPSolver builds an http-01 Solver from a provisioning callback. The
// callback is expected to serve keyAuth as the literal response body of
// GET http://<domain>/.well-known/acme-challenge/<token> with content
// type application/octet-stream (spec.md 4.5/6).
func HTTPSolver(f ProvisionFunc) Solver {
	return &funcSolver{typ: ChallengeHTTP01, provide: f}
}

// DNSSolver builds a dns-01 Solver from a provisioning callback. The
// callback receives the already-computed key authorization; DNS01Content
// derives the TXT record value from it (spec.md 4.5 S6).
func DNSSolver(f ProvisionFunc) Solver {
	return &funcSolver{typ: ChallengeDNS01, provide: f}
}

// ALPNSolver builds a tls-alpn-01 Solver from a provisioning callback.
func ALPNSolver(f ProvisionFunc) Solver {
	return &funcSolver{typ: ChallengeTLSALPN01, provide: f}
}

// HTTP01ChallengePath is the URL path the CA will GET to validate an
// http-01 challenge (spec.md 6).
func HTTP01ChallengePath(token string) string {
	return "/.well-known/acme-challenge/" + token
}

// DNS01Content derives the TXT record value for a dns-01 challenge:
// base64url(SHA-256(keyAuth)), no padding (spec.md 4.5 S6).
func DNS01Content(keyAuth string) string {
	sum := sha256.Sum256([]byte(keyAuth))
	return base64URLEncode(sum[:])
}

// DNS01Name is the fully-qualified TXT record name for a dns-01 challenge
// on domain (spec.md 4.5/6).
func DNS01Name(domain string) string {
	return "_acme-challenge." + domain
}

// printSolver is the "print & wait" interactive solver: it prints what to
// provision to stdout and blocks on stdin, for manual provisioning
// (spec.md 4.5/6).
type printSolver struct {
	typ    ChallengeType
	render func(id Identifier, chal *Challenge, keyAuth string) string
}

func (p *printSolver) Handles(typ ChallengeType) bool { return typ == p.typ }

func (p *printSolver) Provision(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
	fmt.Println(p.render(id, chal, keyAuth))
	fmt.Print("Press enter once provisioned: ")
	reader := bufio.NewReader(os.Stdin)
	_, err := reader.ReadString('\n')
	return err
}

func (p *printSolver) Cleanup(ctx context.Context, id Identifier, chal *Challenge, keyAuth string) error {
	return nil
}

// PrintHTTPSolver prints the http-01 response to install and waits on
// stdin (spec.md 6).
func PrintHTTPSolver() Solver {
	return &printSolver{typ: ChallengeHTTP01, render: func(id Identifier, chal *Challenge, keyAuth string) string {
		return fmt.Sprintf("Serve %q at http://%s%s with content-type application/octet-stream.",
			keyAuth, id.Value, HTTP01ChallengePath(chal.Token))
	}}
}

// PrintDNSSolver prints the dns-01 TXT record to install and waits on
// stdin (spec.md 6).
func PrintDNSSolver() Solver {
	return &printSolver{typ: ChallengeDNS01, render: func(id Identifier, chal *Challenge, keyAuth string) string {
		return fmt.Sprintf("Add a TXT record at %s with value %q.", DNS01Name(id.Value), DNS01Content(keyAuth))
	}}
}

// PrintALPNSolver prints instructions for a manually-served tls-alpn-01
// challenge certificate and waits on stdin (spec.md 6).
func PrintALPNSolver() Solver {
	return &printSolver{typ: ChallengeTLSALPN01, render: func(id Identifier, chal *Challenge, keyAuth string) string {
		return fmt.Sprintf("Serve a self-signed certificate for %s on :443 with ALPN acme-tls/1 "+
			"carrying the acmeIdentifier extension for key authorization %q.", id.Value, keyAuth)
	}}
}
