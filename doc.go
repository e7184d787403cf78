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

// Package acme implements the subscriber side of an RFC 8555 ACME client:
// JWS request signing, directory/account/order/authorization/challenge
// state transitions, the three built-in challenge solvers (HTTP-01,
// DNS-01, TLS-ALPN-01), and the protocol's JSON data model.
//
// A Client is obtained from Initialise and drives one certificate request
// at a time through SignCertificate. Callers supply the HTTP client, the
// challenge Solver, and (optionally) a BoltDB-backed AccountCache. Beyond
// signing and sending ACME requests, the package performs I/O only in its
// optional helpers: WaitForDNSPropagation queries nameservers directly,
// ALPNListenerConfig watches certificate files, and the Print*Solver
// solvers read from stdin.
package acme
