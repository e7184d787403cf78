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

	"github.com/miekg/dns"
)

// dnsUpdateTTL is the TTL, in seconds, used for the dns-01 TXT record added
// by nsupdate (spec.md 4.5).
const dnsUpdateTTL = 60

// SendFunc transmits an already TSIG-signed, wire-format DNS message to the
// zone's update target and is the caller-supplied half of nsupdate's I/O
// (spec.md 4.5/6). Implementations typically dial the authoritative
// nameserver over TCP or UDP and write the bytes as-is.
type SendFunc func(wire []byte) error

// RecvFunc awaits and returns the server's wire-format reply to a
// previously-sent update, for callers that want to confirm the record was
// accepted before returning from Provision (spec.md 4.5/6).
type RecvFunc func() ([]byte, error)

// NSUpdateConfig holds everything nsupdate needs to build and sign one
// DNS-01 UPDATE packet per challenge. Transport is entirely the caller's
// via Send, matching the teacher's pattern of keeping DNS I/O out of this
// package.
type NSUpdateConfig struct {
	// Proto is carried in the config but not read by nsupdate: the update
	// is always signed with HMAC-SHA256 and handed to Send as wire bytes.
	Proto string
	// Zone is the DNS zone the TXT record is added to, e.g. "example.com.".
	Zone string
	// KeyName and Key are the TSIG key name and base64-encoded secret used
	// to authenticate the update (RFC 2845).
	KeyName string
	Key     string
	// Send transmits the signed message. Required.
	Send SendFunc
	// Recv, if non-nil, awaits the server's reply and nsupdate validates
	// it was accepted (RcodeSuccess) before returning.
	Recv RecvFunc
	// Now returns the TSIG signing timestamp as a Unix second count.
	// Required in production (RFC 2845 requires the signer's clock; a zero
	// timestamp reads as 1970 and most servers reject it as stale); left
	// nil only in tests that don't care about the exact value.
	Now func() uint32
}

// NSUpdateSolver builds a dns-01 Solver that provisions the challenge by
// sending a TSIG-signed DNS UPDATE adding the TXT record, and tears it down
// with a corresponding delete (spec.md 4.5/6 "nsupdate(proto?, id, now,
// send, recv?, zone, keyname, key)"). id identifies this update for TSIG
// message signing (the Id field of the constructed dns.Msg).
func NSUpdateSolver(id uint16, cfg NSUpdateConfig) Solver {
	return &funcSolver{
		typ: ChallengeDNS01,
		provide: func(ctx context.Context, identifier Identifier, chal *Challenge, keyAuth string) error {
			name := DNS01Name(identifier.Value)
			content := DNS01Content(keyAuth)
			m := newUpdateMsg(id, cfg.Zone)
			rr := txtRR(name, dnsUpdateTTL, content)
			m.Insert([]dns.RR{rr})
			return nsupdate(ctx, cfg, m)
		},
		teardown: func(ctx context.Context, identifier Identifier, chal *Challenge, keyAuth string) error {
			name := DNS01Name(identifier.Value)
			content := DNS01Content(keyAuth)
			m := newUpdateMsg(id, cfg.Zone)
			rr := txtRR(name, dnsUpdateTTL, content)
			m.Remove([]dns.RR{rr})
			return nsupdate(ctx, cfg, m)
		},
	}
}

func newUpdateMsg(id uint16, zone string) *dns.Msg {
	m := new(dns.Msg)
	m.SetUpdate(dns.Fqdn(zone))
	m.Id = id
	return m
}

func txtRR(name string, ttl int, content string) dns.RR {
	return &dns.TXT{
		Hdr: dns.RR_Header{Name: dns.Fqdn(name), Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: uint32(ttl)},
		Txt: []string{content},
	}
}

// nsupdate packs m, signs it with TSIG per cfg, sends the wire bytes via
// cfg.Send, and, if cfg.Recv is set, awaits and validates the signed reply
// (spec.md 4.5). Signing, send, or receive failures propagate as Msg
// errors.
func nsupdate(ctx context.Context, cfg NSUpdateConfig, m *dns.Msg) error {
	if cfg.Send == nil {
		return msgError("nsupdate: no send function configured")
	}
	now := func() uint32 { return 0 }
	if cfg.Now != nil {
		now = cfg.Now
	}

	m.SetTsig(dns.Fqdn(cfg.KeyName), dns.HmacSHA256, 300, int64(now()))

	wire, _, err := dns.TsigGenerate(m, cfg.Key, "", false)
	if err != nil {
		return msgError("nsupdate: sign update: %v", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := cfg.Send(wire); err != nil {
		return msgError("nsupdate: send update: %v", err)
	}
	if cfg.Recv == nil {
		return nil
	}
	replyWire, err := cfg.Recv()
	if err != nil {
		return msgError("nsupdate: receive reply: %v", err)
	}
	reply := new(dns.Msg)
	if err := reply.Unpack(replyWire); err != nil {
		return msgError("nsupdate: unpack reply: %v", err)
	}
	if err := dns.TsigVerify(replyWire, cfg.Key, "", false); err != nil {
		return msgError("nsupdate: verify reply TSIG: %v", err)
	}
	if reply.Rcode != dns.RcodeSuccess {
		return msgError("nsupdate: server rejected update: %s", dns.RcodeToString[reply.Rcode])
	}
	return nil
}
