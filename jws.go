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
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
)

// jwk is the JWK encoding of an RSA public key. Field order is
// lexicographic, as RFC 7638 3.3 requires for the thumbprint input; Go's
// encoder emits struct fields in declaration order, so that order is also
// what's used on the wire.
type jwk struct {
	E   string `json:"e"`
	Kty string `json:"kty"`
	N   string `json:"n"`
}

// canonicalJWK encodes the public part of an RSA key as a JWK, with the
// modulus and exponent in canonical form: big-endian, no leading zero
// bytes, base64url without padding.
func canonicalJWK(pub *rsa.PublicKey) jwk {
	e := big.NewInt(int64(pub.E))
	return jwk{
		E:   base64.RawURLEncoding.EncodeToString(e.Bytes()),
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
	}
}

// jwkThumbprint computes the RFC 7638 thumbprint of pub: the base64url
// encoding of the SHA-256 digest of the compact canonical JWK.
func jwkThumbprint(pub *rsa.PublicKey) (string, error) {
	b, err := marshalCompact(canonicalJWK(pub))
	if err != nil {
		return "", fmt.Errorf("encode jwk: %w", err)
	}
	sum := sha256.Sum256(b)
	return base64.RawURLEncoding.EncodeToString(sum[:]), nil
}

// keyAuthorization builds the key authorization for a challenge token:
// token || "." || thumbprint(account JWK), per spec.md 4.3/GLOSSARY.
func keyAuthorization(pub *rsa.PublicKey, token string) (string, error) {
	thumb, err := jwkThumbprint(pub)
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}

// protectedHeader is the JWS protected header. Exactly one of JWK or Kid
// must be set; Go's zero values (nil pointer) give us that mutual
// exclusion when the struct is built by jwsSign, mirroring RFC 8555 6.2.
type protectedHeader struct {
	Alg   string `json:"alg"`
	Nonce string `json:"nonce"`
	URL   string `json:"url"`
	JWK   *jwk   `json:"jwk,omitempty"`
	Kid   string `json:"kid,omitempty"`
}

// flattenedJWS is the flattened JSON serialization of a JWS (RFC 7515 7.2.2).
type flattenedJWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// jwsSign signs payload (already-serialized JSON, or nil for POST-as-GET)
// using key, authenticating with kid when non-empty or with the embedded
// JWK otherwise. RSA-PKCS#1-v1.5/SHA-256 is deterministic: re-signing an
// identical (protected, payload) pair yields an identical signature
// (spec.md 8 invariant 2).
func jwsSign(key *rsa.PrivateKey, kid, nonce, url string, payload []byte) ([]byte, error) {
	hdr := protectedHeader{Alg: "RS256", Nonce: nonce, URL: url}
	if kid != "" {
		hdr.Kid = kid
	} else {
		j := canonicalJWK(&key.PublicKey)
		hdr.JWK = &j
	}
	phead, err := marshalCompact(hdr)
	if err != nil {
		return nil, fmt.Errorf("encode protected header: %w", err)
	}
	protected := base64.RawURLEncoding.EncodeToString(phead)
	encPayload := base64.RawURLEncoding.EncodeToString(payload)

	signingInput := protected + "." + encPayload
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign: %w", err)
	}

	jws := flattenedJWS{
		Protected: protected,
		Payload:   encPayload,
		Signature: base64.RawURLEncoding.EncodeToString(sig),
	}
	return json.Marshal(&jws)
}
