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
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTsigKey = "MTIzNDU2Nzg5MDEyMzQ1Ng=="

// TestNSUpdateSolverProvisionSendsSignedTXTAdd captures the update through
// an in-process Send closure standing in for the network, asserting the
// wire message carries the expected TXT RR and validates under the same
// key (spec.md 4.5/6).
func TestNSUpdateSolverProvisionSendsSignedTXTAdd(t *testing.T) {
	var sent []byte
	cfg := NSUpdateConfig{
		Zone:    "example.com.",
		KeyName: "update-key.",
		Key:     testTsigKey,
		Now:     func() uint32 { return uint32(time.Now().Unix()) },
		Send: func(wire []byte) error {
			sent = wire
			return nil
		},
	}
	solver := NSUpdateSolver(42, cfg)
	assert.True(t, solver.Handles(ChallengeDNS01))

	id := Identifier{Type: "dns", Value: "www.example.com"}
	chal := &Challenge{Token: "tok"}
	keyAuth := "tok.thumbprint"

	require.NoError(t, solver.Provision(context.Background(), id, chal, keyAuth))
	require.NotEmpty(t, sent)

	require.NoError(t, dns.TsigVerify(sent, testTsigKey, "", false))

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(sent))
	require.Len(t, m.Ns, 1)
	txt, ok := m.Ns[0].(*dns.TXT)
	require.True(t, ok)
	assert.Equal(t, "_acme-challenge.www.example.com.", txt.Hdr.Name)
	assert.Equal(t, []string{DNS01Content(keyAuth)}, txt.Txt)
}

func TestNSUpdateSolverCleanupSendsRemove(t *testing.T) {
	var sent []byte
	cfg := NSUpdateConfig{
		Zone:    "example.com.",
		KeyName: "update-key.",
		Key:     testTsigKey,
		Now:     func() uint32 { return 1000 },
		Send: func(wire []byte) error {
			sent = wire
			return nil
		},
	}
	solver := NSUpdateSolver(42, cfg)
	id := Identifier{Type: "dns", Value: "www.example.com"}
	chal := &Challenge{Token: "tok"}

	require.NoError(t, solver.Cleanup(context.Background(), id, chal, "tok.thumbprint"))
	m := new(dns.Msg)
	require.NoError(t, m.Unpack(sent))
	require.Len(t, m.Ns, 1)
	// A removal RR carries class NONE per RFC 2136 2.5.4, which
	// dns.Msg.Remove sets for us.
	assert.Equal(t, dns.ClassNONE, m.Ns[0].Header().Class)
}

func TestNSUpdateRejectsRejectedReply(t *testing.T) {
	cfg := NSUpdateConfig{
		Zone:    "example.com.",
		KeyName: "update-key.",
		Key:     testTsigKey,
		Now:     func() uint32 { return uint32(time.Now().Unix()) },
		Send:    func(wire []byte) error { return nil },
		Recv: func() ([]byte, error) {
			m := newUpdateMsg(42, "example.com.")
			m.Rcode = dns.RcodeRefused
			m.SetTsig(dns.Fqdn("update-key."), dns.HmacSHA256, 300, time.Now().Unix())
			wire, _, err := dns.TsigGenerate(m, testTsigKey, "", false)
			return wire, err
		},
	}
	solver := NSUpdateSolver(42, cfg)
	id := Identifier{Type: "dns", Value: "www.example.com"}
	chal := &Challenge{Token: "tok"}

	err := solver.Provision(context.Background(), id, chal, "tok.thumbprint")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestNSUpdateRequiresSendFunc(t *testing.T) {
	err := nsupdate(context.Background(), NSUpdateConfig{Zone: "example.com.", KeyName: "k.", Key: testTsigKey}, newUpdateMsg(1, "example.com."))
	require.Error(t, err)
}
