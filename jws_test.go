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
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustB64Int(t *testing.T, s string) *big.Int {
	t.Helper()
	b, err := base64.RawURLEncoding.DecodeString(s)
	require.NoError(t, err)
	return new(big.Int).SetBytes(b)
}

// TestJWKThumbprintRFC7638Vector reproduces the worked example from RFC
// 7638 appendix A.1: the thumbprint of the given RSA public key is the
// documented base64url string, byte for byte.
func TestJWKThumbprintRFC7638Vector(t *testing.T) {
	n := mustB64Int(t, "0vx7agoebGcQSuuPiLJXZptN9nndrQmbXEps2aiAFbWhM78LhWx4"+
		"cbbfAAtVT86zwu1RK7aPFFxuhDR1L6tSoc_BJECPebWKRXjBZCiFV4n3oknjhMstn64"+
		"tZ_2W-5JsGY4Hc5n9yBXArwl93lqt7_RN5w6Cf0h4QyQ5v-65YGjQR0_FDW2QvzqY36"+
		"8QQMicAtaSqzs8KJZgnYb9c7d0zgdAZHzu6qMQvRL5hajrn1n91CbOpbISD08qNLyrd"+
		"kt-bFTWhAI4vMQFh6WeZu0fM4lFd2NcRwr3XPksINHaQ-G_xBniIqbw0Ls1jF44-csF"+
		"Cur-kEgU8awapJzKnqDKgw")
	pub := &rsa.PublicKey{N: n, E: 65537}

	thumb, err := jwkThumbprint(pub)
	require.NoError(t, err)
	assert.Equal(t, "NzbLsXh8uDCcd-6MNwXF4W_7noWXFZAfHkxZsRGC9Xs", thumb)
}

func TestCanonicalJWKFieldOrder(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(12345), E: 65537}
	b, err := marshalCompact(canonicalJWK(pub))
	require.NoError(t, err)
	// RFC 7638 3.3 requires lexicographic member order for the
	// thumbprint input: e, kty, n.
	assert.Regexp(t, `^\{"e":"[^"]+","kty":"RSA","n":"[^"]+"\}$`, string(b))
}

func TestKeyAuthorization(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(999983), E: 65537}
	thumb, err := jwkThumbprint(pub)
	require.NoError(t, err)

	ka, err := keyAuthorization(pub, "token123")
	require.NoError(t, err)
	assert.Equal(t, "token123."+thumb, ka)
}

// TestJWSSignDeterministic covers invariant 2: RS256/PKCS#1v1.5 signing is
// deterministic, so re-signing the same (protected, payload) pair twice
// yields byte-identical output.
func TestJWSSignDeterministic(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	payload := []byte(`{"Msg":"Hello JWS"}`)
	first, err := jwsSign(key, "", "nonce", "https://example/", payload)
	require.NoError(t, err)
	second, err := jwsSign(key, "", "nonce", "https://example/", payload)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestJWSSignPayloadEncoding(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	out, err := jwsSign(key, "", "nonce", "https://example/", []byte(`{"Msg":"Hello JWS"}`))
	require.NoError(t, err)

	var jws flattenedJWS
	require.NoError(t, json.Unmarshal(out, &jws))
	assert.Equal(t, "eyJNc2ciOiJIZWxsbyBKV1MifQ", jws.Payload)
}

// TestJWSSignProtectedHeaderShape asserts the jwk/kid mutual exclusion and
// that url is always present (Open Question 1 resolution).
func TestJWSSignProtectedHeaderShape(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	decodeProtected := func(out []byte) protectedHeader {
		var jws flattenedJWS
		require.NoError(t, json.Unmarshal(out, &jws))
		raw, err := base64.RawURLEncoding.DecodeString(jws.Protected)
		require.NoError(t, err)
		var hdr protectedHeader
		require.NoError(t, json.Unmarshal(raw, &hdr))
		return hdr
	}

	withJWK, err := jwsSign(key, "", "nonce", "https://example/acme/new-account", []byte("{}"))
	require.NoError(t, err)
	hdr := decodeProtected(withJWK)
	assert.Equal(t, "RS256", hdr.Alg)
	assert.Equal(t, "https://example/acme/new-account", hdr.URL)
	assert.NotNil(t, hdr.JWK)
	assert.Empty(t, hdr.Kid)

	withKid, err := jwsSign(key, "https://example/acme/acct/1", "nonce", "https://example/acme/order", []byte("{}"))
	require.NoError(t, err)
	hdr = decodeProtected(withKid)
	assert.Nil(t, hdr.JWK)
	assert.Equal(t, "https://example/acme/acct/1", hdr.Kid)
}
