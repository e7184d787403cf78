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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"math/big"
	"time"
)

// ACMETLS1Protocol is the literal ALPN protocol name negotiated during a
// tls-alpn-01 challenge (spec.md 4.5/6).
const ACMETLS1Protocol = "acme-tls/1"

// acmeIdentifierOID is the id-pe-acmeIdentifier extension
// (1.3.6.1.5.5.7.1.31, spec.md 4.5/6).
var acmeIdentifierOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// ALPNChallengeCertificate generates a fresh key and a self-signed
// certificate for domain carrying the critical acmeIdentifier extension
// whose value is the DER OCTET STRING of SHA-256(keyAuth) (spec.md 4.5/6).
func ALPNChallengeCertificate(domain, keyAuth string) (*tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, msgError("generate tls-alpn-01 key: %v", err)
	}

	sum := sha256.Sum256([]byte(keyAuth))
	extValue, err := asn1.Marshal(sum[:])
	if err != nil {
		return nil, msgError("encode acmeIdentifier extension: %v", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, msgError("generate serial: %v", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		ExtraExtensions: []pkix.Extension{
			{
				Id:       acmeIdentifierOID,
				Critical: true,
				Value:    extValue,
			},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, msgError("create tls-alpn-01 certificate: %v", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, nil
}
